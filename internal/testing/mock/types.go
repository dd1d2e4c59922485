package mock

import "time"

// Account is an account known to the fake server.
type Account struct {
	AppleID  string
	Password string

	// HSAVersion is 0 for single factor accounts, 1 for two-step (device
	// code) and 2 for two-factor (pushed code) accounts.
	HSAVersion int

	// Protocol is the password protocol announced at sign-in. Defaults to s2k.
	Protocol string

	// Iterations is the PBKDF2 iteration count. Defaults to 1000.
	Iterations int

	// SecurityCode is the accepted two-factor code. Defaults to "123456".
	SecurityCode string

	// TrustedDevices are returned for two-step accounts. The first device
	// accepts VerificationCode.
	TrustedDevices []map[string]any

	// VerificationCode is the accepted two-step code. Defaults to "0".
	VerificationCode string

	// OneFactorApps lists app names that may sign in with the password only.
	OneFactorApps []string

	DSID     string
	FullName string
}

// Webservice is one entry of the service map.
type Webservice struct {
	URL       string `json:"url,omitempty"`
	Status    string `json:"status"`
	UploadURL string `json:"uploadUrl,omitempty"`
}

// ServerConfig configures the fake server.
type ServerConfig struct {
	Accounts []Account

	// Webservices overrides entries of the default service map. URLs may
	// use the {base} placeholder for the server URL.
	Webservices map[string]Webservice

	// SessionLifetime expires web sessions after the given duration on Clock.
	// Zero keeps them forever.
	SessionLifetime time.Duration

	// Clock defaults to the system clock.
	Clock Clock

	// SimulateErrors injects failures.
	SimulateErrors *ErrorSimulation
}

// ErrorSimulation injects failures into the fake endpoints.
type ErrorSimulation struct {
	// Overloaded answers the next N requests with 503.
	Overloaded int

	// FailTrust makes the trust endpoint fail.
	FailTrust bool

	// FailSendCode makes sendVerificationCode report failure.
	FailSendCode bool
}
