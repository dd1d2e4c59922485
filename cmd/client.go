package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"icloudgo/internal/auth"
	"icloudgo/internal/cli"
	"icloudgo/internal/config"
	"icloudgo/internal/credentials"
	"icloudgo/internal/icloud"
	"icloudgo/internal/session"
	"icloudgo/pkg/logging"
)

// clientOptions are appended to every client the commands build.
var clientOptions []icloud.Option

// credentialStore returns the store holding account passwords.
var credentialStore = func() *credentials.Store {
	return credentials.NewStore(nil)
}

// newPrompter opens the interactive prompts for cmd.
var newPrompter = func(cmd *cobra.Command) (*cli.Prompter, error) {
	in, ok := cmd.InOrStdin().(io.ReadCloser)
	if !ok {
		in = io.NopCloser(cmd.InOrStdin())
	}
	return cli.NewPrompter(in, cmd.ErrOrStderr())
}

func initLogging(cmd *cobra.Command, fallback string) error {
	name := logLevel
	if name == "" {
		name = fallback
	}
	if name == "" {
		name = "warn"
	}
	level, err := logging.ParseLevel(name)
	if err != nil {
		return err
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())
	return nil
}

// loadConfig reads config.yaml and applies the global flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	dir := configDir
	if dir == "" {
		var err error
		if dir, err = config.GetDefaultConfigPath(); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return config.Config{}, err
	}

	if username != "" {
		cfg.Username = username
	}
	if cookieDir != "" {
		cfg.CookieDirectory = cookieDir
	}
	if china {
		cfg.Region = config.RegionChina
	}
	if cfg.Username == "" {
		return config.Config{}, errors.New("no Apple ID given: pass --username or set username in config.yaml")
	}
	if err := initLogging(cmd, cfg.LogLevel); err != nil {
		return config.Config{}, err
	}
	logging.Debug("CLI", "Using account %s with session directory %s", cfg.Username, cfg.CookieDirectory)
	return cfg, nil
}

// newClient builds a client for the configured account.
func newClient(cfg config.Config, opts ...icloud.Option) (*icloud.Client, error) {
	all := []icloud.Option{icloud.WithConfig(cfg), icloud.WithCredentials(credentialStore())}
	all = append(all, clientOptions...)
	all = append(all, opts...)

	client, err := icloud.New(cfg.Username, all...)
	if credentials.IsUnavailable(err) {
		return nil, &cli.AuthRequiredError{Identity: cfg.Username, Reason: err}
	}
	return client, err
}

// connect signs in without any interaction. An outstanding second factor
// is reported as an AuthRequiredError.
func connect(cmd *cobra.Command) (*icloud.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	out, err := authenticate(cmd, client, auth.Options{})
	if err != nil {
		return nil, err
	}
	if out.Kind == auth.OutcomeSecondFactorRequired {
		return nil, &cli.AuthRequiredError{
			Identity: cfg.Username,
			Reason:   &session.SecondFactorRequiredError{Reason: out.Challenge.String() + " verification required"},
		}
	}
	return client, nil
}

func authenticate(cmd *cobra.Command, client *icloud.Client, opts auth.Options) (*auth.LoginOutcome, error) {
	var out *auth.LoginOutcome
	err := cli.Progress(cmd.ErrOrStderr(), quiet, "Signing in to iCloud...", func() error {
		var err error
		out, err = client.Authenticate(commandContext(cmd), opts)
		return err
	})
	if err != nil {
		return nil, translateError(client.Identity(), err)
	}
	return out, nil
}

// translateError maps client errors onto the CLI error types.
func translateError(identity string, err error) error {
	switch {
	case session.IsLoginFailed(err):
		return &cli.AuthFailedError{Identity: identity, Reason: err}
	case session.IsSecondFactorRequired(err), errors.Is(err, auth.ErrNotAuthenticated):
		return &cli.AuthRequiredError{Identity: identity, Reason: err}
	case session.IsTransient(err):
		return cli.ClassifyConnectionError(err)
	}
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printSuccess(cmd *cobra.Command, format string, args ...any) {
	if !quiet {
		fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatSuccess(fmt.Sprintf(format, args...)))
	}
}

// createOutput opens path for writing, "-" meaning stdout.
func createOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{cmd.OutOrStdout()}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
