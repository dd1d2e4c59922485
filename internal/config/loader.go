package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"icloudgo/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/icloudgo"
	configFileName = "config.yaml"
)

// GetDefaultConfigPath returns ~/.config/icloudgo.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath. A missing file yields the
// defaults; a malformed or invalid file is an error.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			applyDefaults(&config, configPath)
			return config, nil
		}
		return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, NewConfigurationError(configFilePath, "parse", err.Error())
	}
	applyDefaults(&config, configPath)

	if errs := Validate(config); errs.HasErrors() {
		return Config{}, NewConfigurationError(configFilePath, "validation", errs.Error())
	}

	logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// SaveConfig writes cfg to config.yaml under configPath.
func SaveConfig(configPath string, cfg Config) error {
	if err := os.MkdirAll(configPath, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configPath, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	configFilePath := filepath.Join(configPath, configFileName)
	if err := os.WriteFile(configFilePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configFilePath, err)
	}
	return nil
}
