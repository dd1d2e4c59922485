package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"icloudgo/internal/session"
	"icloudgo/pkg/logging"
)

// Logout-specific flags
var (
	logoutAll    bool
	logoutForget bool
)

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Drop the stored session",
	Long: `Drop the stored session so the next command signs in again.

By default the trust token and client id are kept so the next login does
not ask for a second factor. --all removes the session record entirely
and --forget also deletes the password from the system keyring.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogout,
}

func init() {
	authLogoutCmd.Flags().BoolVar(&logoutAll, "all", false, "Remove the session record including the trust token")
	authLogoutCmd.Flags().BoolVar(&logoutForget, "forget", false, "Also delete the password from the system keyring")
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	identity := cfg.Username
	store, err := session.NewStore(cfg.CookieDirectory, logging.Logger())
	if err != nil {
		return err
	}

	if logoutAll {
		if err := store.Remove(identity); err != nil {
			return fmt.Errorf("failed to remove session of %s: %w", identity, err)
		}
	} else {
		state := store.Load(identity)
		state.ClearSession()
		if err := store.Save(identity, state); err != nil {
			return fmt.Errorf("failed to clear session of %s: %w", identity, err)
		}
		if err := os.Remove(store.CookiePath(identity)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove cookies of %s: %w", identity, err)
		}
	}
	printSuccess(cmd, "Logged out %s", identity)

	if logoutForget {
		if err := credentialStore().DeletePassword(identity); err != nil {
			return err
		}
		printSuccess(cmd, "Password removed from the system keyring")
	}
	return nil
}
