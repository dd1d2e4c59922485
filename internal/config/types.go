package config

import "time"

// Config is the top-level configuration structure for icloudgo.
type Config struct {
	// Username is the account identifier used when no --username flag is given.
	Username string `yaml:"username,omitempty"`

	// CookieDirectory holds the per-account session and cookie files.
	// Defaults to ~/.config/icloudgo/session.
	CookieDirectory string `yaml:"cookieDirectory,omitempty"`

	// Region selects the endpoint set: "global" (default) or "china".
	Region Region `yaml:"region,omitempty"`

	// ClientID pins the client identifier instead of generating one.
	ClientID string `yaml:"clientId,omitempty"`

	// Timeout bounds every remote exchange.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Retry configures the transport retry policy.
	Retry RetryConfig `yaml:"retry,omitempty"`

	// WithFamily includes family members' devices in device lookups.
	WithFamily bool `yaml:"withFamily,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`
}

// RetryConfig configures retries of transient failures.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"maxAttempts,omitempty"`
	InitialInterval time.Duration `yaml:"initialInterval,omitempty"`
	MaxInterval     time.Duration `yaml:"maxInterval,omitempty"`
}

// Region identifies a set of service endpoints.
type Region string

const (
	RegionGlobal Region = "global"
	RegionChina  Region = "china"
)

// Endpoints are the fixed entry points of the remote service.
type Endpoints struct {
	Home  string
	Setup string
	Auth  string
}

// Endpoints returns the endpoint set for the region. Unknown regions resolve
// to the global endpoints.
func (r Region) Endpoints() Endpoints {
	if r == RegionChina {
		return Endpoints{
			Home:  "https://www.icloud.com.cn",
			Setup: "https://setup.icloud.com.cn/setup/ws/1",
			Auth:  "https://idmsa.apple.com.cn/appleauth/auth",
		}
	}
	return Endpoints{
		Home:  "https://www.icloud.com",
		Setup: "https://setup.icloud.com/setup/ws/1",
		Auth:  "https://idmsa.apple.com/appleauth/auth",
	}
}
