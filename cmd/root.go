package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"icloudgo/internal/auth"
	"icloudgo/internal/cli"
	"icloudgo/internal/credentials"
	"icloudgo/internal/session"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates a login or a second factor is needed.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the credentials or a code were rejected.
	ExitCodeAuthFailed = 3
)

// Global flags
var (
	configDir string
	username  string
	cookieDir string
	china     bool
	logLevel  string
	quiet     bool
)

// rootCmd represents the base command for the icloud application.
var rootCmd = &cobra.Command{
	Use:   "icloud",
	Short: "Access iCloud web services from the command line",
	Long: `icloud signs in to an Apple account, keeps the session and trust
tokens between runs and gives access to the account, iCloud Drive,
iCloud Photos and device locator services.

Run "icloud auth login" once to sign in and complete two-factor
authentication. Later commands reuse the stored session.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging(cmd, "")
	},
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "icloud version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var authRequired *cli.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}
	if session.IsSecondFactorRequired(err) || errors.Is(err, auth.ErrNotAuthenticated) || credentials.IsUnavailable(err) {
		return ExitCodeAuthRequired
	}

	var authFailed *cli.AuthFailedError
	if errors.As(err, &authFailed) || session.IsLoginFailed(err) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configDir, "config", "", "Configuration directory (default is $HOME/.config/icloudgo)")
	flags.StringVarP(&username, "username", "u", "", "Apple ID to use (overrides the configured username)")
	flags.StringVar(&cookieDir, "cookie-dir", "", "Directory for session and cookie files")
	flags.BoolVar(&china, "china", false, "Use the China mainland endpoints")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	rootCmd.AddCommand(newVersionCmd())
}
