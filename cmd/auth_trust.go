package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

// authTrustCmd represents the auth trust command
var authTrustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Request a trust token for the current session",
	Long: `Request a trust token for the current session so later logins skip
the second factor. The session must already be signed in.`,
	Args: cobra.NoArgs,
	RunE: runAuthTrust,
}

func runAuthTrust(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	if !client.Auth().TrustSession(commandContext(cmd)) {
		return errors.New("the session could not be trusted")
	}
	printSuccess(cmd, "Session of %s is trusted", client.Identity())
	return nil
}
