package cmd

import (
	"github.com/spf13/cobra"
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the iCloud session",
	Long: `Manage the iCloud session of an Apple ID.

The auth command group signs in, completes two-factor or two-step
verification, reports the stored session and removes it again.

Examples:
  icloud auth login -u jane@example.com    # Sign in and verify interactively
  icloud auth login --store-password       # Also keep the password in the keyring
  icloud auth status                       # Show the stored session
  icloud auth status --check               # Also validate it against iCloud
  icloud auth trust                        # Request a trust token for this session
  icloud auth logout                       # Drop the session, keep the trust token
  icloud auth logout --all --forget        # Remove every stored record and the password`,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authTrustCmd)
}
