package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, RegionGlobal, cfg.Region)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultRetryMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, filepath.Join(dir, DefaultSessionDirName), cfg.CookieDirectory)
	assert.True(t, cfg.WithFamily)
}

func TestLoadConfig_PartialFile(t *testing.T) {
	dir := t.TempDir()
	content := `username: someone@example.com
region: china
timeout: 5s
retry:
  maxAttempts: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "someone@example.com", cfg.Username)
	assert.Equal(t, RegionChina, cfg.Region)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, DefaultRetryInitialInterval, cfg.Retry.InitialInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte("region: [unclosed"), 0600))

	_, err := LoadConfig(dir)
	require.Error(t, err)

	var cfgErr ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "parse", cfgErr.ErrorType)
	assert.Equal(t, configFileName, cfgErr.FileName)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte("region: mars\nlogLevel: loud\n"), 0600))

	_, err := LoadConfig(dir)
	require.Error(t, err)

	var cfgErr ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "validation", cfgErr.ErrorType)
	assert.Contains(t, cfgErr.Message, "region")
	assert.Contains(t, cfgErr.Message, "logLevel")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	cfg := GetDefaultConfig()
	cfg.Username = "someone@example.com"
	cfg.Timeout = 12 * time.Second

	require.NoError(t, SaveConfig(dir, cfg))

	info, err := os.Stat(filepath.Join(dir, configFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "someone@example.com", loaded.Username)
	assert.Equal(t, 12*time.Second, loaded.Timeout)
}

func TestRegionEndpoints(t *testing.T) {
	tests := []struct {
		region Region
		home   string
		setup  string
		auth   string
	}{
		{RegionGlobal, "https://www.icloud.com", "https://setup.icloud.com/setup/ws/1", "https://idmsa.apple.com/appleauth/auth"},
		{RegionChina, "https://www.icloud.com.cn", "https://setup.icloud.com.cn/setup/ws/1", "https://idmsa.apple.com.cn/appleauth/auth"},
		{"", "https://www.icloud.com", "https://setup.icloud.com/setup/ws/1", "https://idmsa.apple.com/appleauth/auth"},
	}

	for _, tt := range tests {
		t.Run(string(tt.region), func(t *testing.T) {
			ep := tt.region.Endpoints()
			assert.Equal(t, tt.home, ep.Home)
			assert.Equal(t, tt.setup, ep.Setup)
			assert.Equal(t, tt.auth, ep.Auth)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.False(t, Validate(cfg).HasErrors())

	cfg.Retry.MaxAttempts = 0
	cfg.Retry.InitialInterval = time.Minute
	errs := Validate(cfg)
	require.Len(t, errs, 2)
	assert.Equal(t, "retry.maxAttempts", errs[0].Field)
	assert.Equal(t, "retry.initialInterval", errs[1].Field)
}
