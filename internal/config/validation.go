package config

import (
	"fmt"
	"strings"
)

// FieldError is a rejected configuration value.
type FieldError struct {
	Field   string
	Message string
}

func (fe FieldError) Error() string {
	return fmt.Sprintf("%s %s", fe.Field, fe.Message)
}

// ValidationErrors collects every rejected value of a configuration.
type ValidationErrors []FieldError

func (ve ValidationErrors) Error() string {
	parts := make([]string, len(ve))
	for i, fe := range ve {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

// HasErrors reports whether any value was rejected.
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

func (ve *ValidationErrors) add(field, format string, args ...any) {
	*ve = append(*ve, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a fully defaulted configuration.
func Validate(cfg Config) ValidationErrors {
	var errs ValidationErrors

	if cfg.Region != RegionGlobal && cfg.Region != RegionChina {
		errs.add("region", "is %q, must be %q or %q", cfg.Region, RegionGlobal, RegionChina)
	}
	if cfg.Timeout < 0 {
		errs.add("timeout", "must not be negative")
	}
	if cfg.Retry.MaxAttempts < 1 {
		errs.add("retry.maxAttempts", "is %d, must be at least 1", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.InitialInterval < 0 || cfg.Retry.MaxInterval < 0 {
		errs.add("retry", "intervals must not be negative")
	}
	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > cfg.Retry.MaxInterval {
		errs.add("retry.initialInterval", "%s exceeds retry.maxInterval %s", cfg.Retry.InitialInterval, cfg.Retry.MaxInterval)
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs.add("logLevel", "is %q, must be one of debug, info, warn, error", cfg.LogLevel)
	}

	return errs
}
