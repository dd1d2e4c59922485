package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"icloudgo/internal/cli"
	"icloudgo/internal/config"
	"icloudgo/internal/credentials"
	"icloudgo/internal/icloud"
	"icloudgo/internal/session"
	"icloudgo/internal/testing/mock"
)

const testPassword = "correct-horse"

// answers replays scripted prompt input.
type answers struct {
	lines     []string
	passwords []string
}

func (a *answers) SetPrompt(string) {}

func (a *answers) Readline() (string, error) {
	if len(a.lines) == 0 {
		return "", io.EOF
	}
	line := a.lines[0]
	a.lines = a.lines[1:]
	return line, nil
}

func (a *answers) ReadPassword(string) ([]byte, error) {
	if len(a.passwords) == 0 {
		return nil, readline.ErrInterrupt
	}
	pw := a.passwords[0]
	a.passwords = a.passwords[1:]
	return []byte(pw), nil
}

func (a *answers) Close() error { return nil }

type harness struct {
	server    *mock.Server
	configDir string
	prompts   *answers
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	keyring.MockInit()

	server := mock.NewServer(mock.ServerConfig{
		Accounts: []mock.Account{
			{AppleID: "user@example.com", Password: testPassword},
			{AppleID: "2fa@example.com", Password: testPassword, HSAVersion: 2},
		},
	})
	server.Start()
	t.Cleanup(server.Close)

	h := &harness{server: server, configDir: t.TempDir(), prompts: &answers{}}

	policy := session.DefaultRetryPolicy()
	policy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	savedOptions, savedPrompter := clientOptions, newPrompter
	clientOptions = []icloud.Option{
		icloud.WithEndpoints(config.Endpoints{Home: server.HomeURL(), Setup: server.SetupURL(), Auth: server.AuthURL()}),
		icloud.WithRetryPolicy(policy),
	}
	newPrompter = func(cmd *cobra.Command) (*cli.Prompter, error) {
		return cli.NewPrompterWithReader(h.prompts, cmd.ErrOrStderr()), nil
	}
	t.Cleanup(func() { clientOptions, newPrompter = savedOptions, savedPrompter })
	return h
}

// run executes the root command with fresh flag values.
func (h *harness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	configDir, username, cookieDir, china, logLevel, quiet = "", "", "", false, "", false
	loginStorePassword, loginForce = false, false
	statusCheck, logoutAll, logoutForget = false, false, false

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", h.configDir}, args...))
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (h *harness) store(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.NewStore(filepath.Join(h.configDir, config.DefaultSessionDirName), nil)
	require.NoError(t, err)
	return store
}

func TestLogin_TwoFactorStoresTrust(t *testing.T) {
	h := newHarness(t)
	h.prompts.passwords = []string{testPassword}
	h.prompts.lines = []string{"123456"}

	_, stderr, err := h.run(t, "auth", "login", "-u", "2fa@example.com", "--store-password")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Two-factor authentication required.")
	assert.Contains(t, stderr, "Signed in as 2fa@example.com")
	assert.True(t, credentials.NewStore(nil).HasPassword("2fa@example.com"))

	state := h.store(t).Load("2fa@example.com")
	assert.NotEmpty(t, state.SessionToken)
	assert.NotEmpty(t, state.TrustToken)

	stdout, _, err := h.run(t, "auth", "status", "-u", "2fa@example.com")
	require.NoError(t, err)
	assert.Contains(t, stdout, "present")
	assert.NotContains(t, stdout, state.SessionToken)
	assert.NotContains(t, stdout, state.TrustToken)

	// A fresh sign in reuses the trust token instead of asking for a code.
	_, _, err = h.run(t, "auth", "logout", "-u", "2fa@example.com")
	require.NoError(t, err)
	assert.Empty(t, h.store(t).Load("2fa@example.com").SessionToken)

	stdout, _, err = h.run(t, "auth", "status", "--check", "-u", "2fa@example.com")
	require.NoError(t, err)
	assert.Contains(t, stdout, "authenticated")
	assert.Equal(t, 1, h.server.Count("verify/trusteddevice/securitycode"))
}

func TestLogin_WrongCode(t *testing.T) {
	h := newHarness(t)
	h.prompts.passwords = []string{testPassword}
	h.prompts.lines = []string{"000000"}

	_, _, err := h.run(t, "auth", "login", "-u", "2fa@example.com")
	require.Error(t, err)
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(err))
	assert.False(t, credentials.NewStore(nil).HasPassword("2fa@example.com"))
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newHarness(t)
	h.prompts.passwords = []string{"wrong"}

	_, _, err := h.run(t, "auth", "login", "-u", "user@example.com")
	require.Error(t, err)
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(err))
}

func TestResourceCommand_WithoutPassword(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "account", "devices", "-u", "user@example.com")
	require.Error(t, err)
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))
}

func TestResourceCommand_SecondFactorPending(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, credentials.NewStore(nil).StorePassword("2fa@example.com", testPassword))

	_, _, err := h.run(t, "devices", "-u", "2fa@example.com")
	require.Error(t, err)
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))
	assert.ErrorIs(t, err, &cli.AuthRequiredError{})
}

func TestAccountDevices(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, credentials.NewStore(nil).StorePassword("user@example.com", testPassword))
	h.server.Handle("GET /setup/web/device/getDevices", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.server.Authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"devices": []map[string]any{{"name": "Jane's MacBook", "modelDisplayName": "MacBook Pro", "serialNumber": "C02XYZ"}},
		})
	}))

	stdout, _, err := h.run(t, "account", "devices", "-u", "user@example.com")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Jane's MacBook")
	assert.Contains(t, stdout, "C02XYZ")

	// The stored session is reused by the next command.
	_, _, err = h.run(t, "account", "devices", "-u", "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, h.server.Count("signin/complete"))
}

func TestDevices(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, credentials.NewStore(nil).StorePassword("user@example.com", testPassword))
	h.server.Handle("POST /findme/fmipservice/client/web/refreshClient", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.server.Authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"id": "dev-1", "name": "Jane's iPhone", "deviceDisplayName": "iPhone 15", "batteryLevel": 0.5},
			},
		})
	}))

	stdout, _, err := h.run(t, "devices", "-u", "user@example.com")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Jane's iPhone")
	assert.Contains(t, stdout, "50%")
	assert.Contains(t, stdout, "dev-1")
}

func TestLogoutAllForget(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, credentials.NewStore(nil).StorePassword("user@example.com", testPassword))
	_, _, err := h.run(t, "auth", "status", "--check", "-u", "user@example.com")
	require.NoError(t, err)
	assert.FileExists(t, h.store(t).SessionPath("user@example.com"))

	_, _, err = h.run(t, "auth", "logout", "--all", "--forget", "-u", "user@example.com")
	require.NoError(t, err)
	assert.NoFileExists(t, h.store(t).SessionPath("user@example.com"))
	assert.NoFileExists(t, h.store(t).CookiePath("user@example.com"))
	assert.False(t, credentials.NewStore(nil).HasPassword("user@example.com"))
}

func TestMissingUsername(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run(t, "auth", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--username")
}
