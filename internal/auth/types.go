package auth

import "fmt"

// Phase is the position of an Authenticator in the login handshake.
type Phase int

const (
	// PhaseUnauthenticated means no usable session exists yet.
	PhaseUnauthenticated Phase = iota

	// PhasePasswordVerified means the password exchange succeeded and the
	// account payload has not been fetched yet.
	PhasePasswordVerified

	// PhaseSecondFactorPending means a second factor must be supplied before
	// resources can be accessed.
	PhaseSecondFactorPending

	// PhaseTrusted means the second factor was resolved (or not needed) and
	// capabilities are being refreshed.
	PhaseTrusted

	// PhaseAuthenticated means the session is validated and capabilities are
	// current.
	PhaseAuthenticated

	// PhaseLoginFailed means the last attempt was rejected. A new attempt
	// starts over from PhaseUnauthenticated.
	PhaseLoginFailed
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhasePasswordVerified:
		return "password_verified"
	case PhaseSecondFactorPending:
		return "second_factor_pending"
	case PhaseTrusted:
		return "trusted"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseLoginFailed:
		return "login_failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ChallengeKind is the kind of second factor the account requires.
type ChallengeKind int

const (
	ChallengeNone ChallengeKind = iota
	// ChallengeTwoStep is the legacy flow: pick a trusted device, receive a
	// code on it, type it back.
	ChallengeTwoStep
	// ChallengeTwoFactor is the modern flow: a code is pushed to every
	// trusted device.
	ChallengeTwoFactor
)

func (k ChallengeKind) String() string {
	switch k {
	case ChallengeTwoStep:
		return "2SA"
	case ChallengeTwoFactor:
		return "2FA"
	default:
		return "none"
	}
}

// OutcomeKind tags a LoginOutcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeSecondFactorRequired
	OutcomeRejected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSecondFactorRequired:
		return "second_factor_required"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// LoginOutcome is the result of Authenticate.
type LoginOutcome struct {
	Kind OutcomeKind

	// Challenge and Devices are set for OutcomeSecondFactorRequired. Devices
	// is only populated for two-step challenges.
	Challenge ChallengeKind
	Devices   []Device

	// Reason is set for OutcomeRejected.
	Reason string
}

// Device is a trusted device or phone number offered for two-step
// verification. It is kept in the server's shape so it can be sent back
// unchanged.
type Device map[string]any

// ID returns the device id.
func (d Device) ID() string {
	return stringField(d, "deviceId")
}

// Type returns the device type, e.g. "SMS".
func (d Device) Type() string {
	return stringField(d, "deviceType")
}

// Label returns a human readable description of the device.
func (d Device) Label() string {
	if name := stringField(d, "deviceName"); name != "" {
		return name
	}
	if phone := stringField(d, "phoneNumber"); phone != "" {
		return "SMS to " + stringField(d, "areaCode") + phone
	}
	return d.Type()
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Capabilities is the account payload returned by login and validation.
type Capabilities struct {
	DSInfo               DSInfo                `json:"dsInfo"`
	HSAChallengeRequired bool                  `json:"hsaChallengeRequired"`
	HSATrustedBrowser    bool                  `json:"hsaTrustedBrowser"`
	Webservices          map[string]Webservice `json:"webservices"`
	Apps                 map[string]App        `json:"apps"`
}

// DSInfo describes the account.
type DSInfo struct {
	DSID       string `json:"dsid"`
	AppleID    string `json:"appleId"`
	FullName   string `json:"fullName"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	HSAVersion int    `json:"hsaVersion"`
	Locale     string `json:"locale,omitempty"`
}

// Webservice is one entry of the service map.
type Webservice struct {
	URL         string `json:"url"`
	Status      string `json:"status"`
	PCSRequired bool   `json:"pcsRequired,omitempty"`
	UploadURL   string `json:"uploadUrl,omitempty"`
}

// App describes an app's launch requirements.
type App struct {
	CanLaunchWithOneFactor bool `json:"canLaunchWithOneFactor"`
}

// RequiresTwoStep reports whether a second factor of either kind is still
// outstanding.
func (c *Capabilities) RequiresTwoStep() bool {
	return c != nil && c.DSInfo.HSAVersion >= 1 && (c.HSAChallengeRequired || !c.HSATrustedBrowser)
}

// RequiresTwoFactor reports whether a modern two-factor code is outstanding.
func (c *Capabilities) RequiresTwoFactor() bool {
	return c != nil && c.DSInfo.HSAVersion == 2 && (c.HSAChallengeRequired || !c.HSATrustedBrowser)
}

// Challenge returns the kind of outstanding second factor.
func (c *Capabilities) Challenge() ChallengeKind {
	switch {
	case c.RequiresTwoFactor():
		return ChallengeTwoFactor
	case c.RequiresTwoStep():
		return ChallengeTwoStep
	default:
		return ChallengeNone
	}
}

// CanLaunchWithOneFactor reports whether app may sign in with the password
// alone.
func (c *Capabilities) CanLaunchWithOneFactor(app string) bool {
	if c == nil {
		return false
	}
	return c.Apps[app].CanLaunchWithOneFactor
}
