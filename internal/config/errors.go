package config

import (
	"fmt"
	"path/filepath"
)

// ConfigurationError reports a config file that could not be used.
type ConfigurationError struct {
	FilePath string
	FileName string
	// ErrorType is "parse" or "validation".
	ErrorType string
	Message   string
}

func (ce ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s (%s error): %s", ce.FileName, ce.ErrorType, ce.Message)
}

// NewConfigurationError builds a ConfigurationError for the file at filePath.
func NewConfigurationError(filePath, errorType, message string) ConfigurationError {
	return ConfigurationError{
		FilePath:  filePath,
		FileName:  filepath.Base(filePath),
		ErrorType: errorType,
		Message:   message,
	}
}
