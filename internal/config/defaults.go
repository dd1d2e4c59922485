package config

import (
	"path/filepath"
	"time"
)

const (
	// DefaultTimeout bounds a single remote exchange.
	DefaultTimeout = 30 * time.Second

	// DefaultRetryMaxAttempts is the number of attempts for transient failures.
	DefaultRetryMaxAttempts = 3

	DefaultRetryInitialInterval = 500 * time.Millisecond
	DefaultRetryMaxInterval     = 10 * time.Second

	// DefaultSessionDirName is the subdirectory of the config directory that
	// stores session and cookie files.
	DefaultSessionDirName = "session"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		Region:  RegionGlobal,
		Timeout: DefaultTimeout,
		Retry: RetryConfig{
			MaxAttempts:     DefaultRetryMaxAttempts,
			InitialInterval: DefaultRetryInitialInterval,
			MaxInterval:     DefaultRetryMaxInterval,
		},
		WithFamily: true,
		LogLevel:   "info",
	}
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *Config, configPath string) {
	defaults := GetDefaultConfig()
	if cfg.Region == "" {
		cfg.Region = defaults.Region
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = defaults.Retry.InitialInterval
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = defaults.Retry.MaxInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.CookieDirectory == "" && configPath != "" {
		cfg.CookieDirectory = filepath.Join(configPath, DefaultSessionDirName)
	}
}
