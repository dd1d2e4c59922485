package cmd

import (
	"github.com/spf13/cobra"

	"icloudgo/internal/auth"
	"icloudgo/internal/cli"
	"icloudgo/internal/session"
	"icloudgo/pkg/logging"
)

var statusCheck bool

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	Long: `Show what is stored for the account: the session and trust tokens,
the client id, the file locations and whether the password is kept in
the system keyring. Token values are never printed.

With --check the stored session is validated against iCloud.`,
	Args: cobra.NoArgs,
	RunE: runAuthStatus,
}

func init() {
	authStatusCmd.Flags().BoolVar(&statusCheck, "check", false, "Validate the stored session against iCloud")
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := session.NewStore(cfg.CookieDirectory, logging.Logger())
	if err != nil {
		return err
	}
	state := store.Load(cfg.Username)

	pairs := [][2]string{
		{"Account", cfg.Username},
		{"Region", string(cfg.Region)},
		{"Session token", present(state.SessionToken)},
		{"Trust token", present(state.TrustToken)},
		{"Client ID", orDash(state.ClientID)},
		{"Account country", orDash(state.AccountCountry)},
		{"Password in keyring", yesNo(credentialStore().HasPassword(cfg.Username))},
		{"Session file", store.SessionPath(cfg.Username)},
		{"Cookie file", store.CookiePath(cfg.Username)},
	}

	if statusCheck {
		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		out, err := authenticate(cmd, client, auth.Options{})
		if err != nil {
			return err
		}
		pairs = append(pairs,
			[2]string{"Phase", client.Auth().Phase().String()},
			[2]string{"Outcome", out.Kind.String()},
			[2]string{"Trusted session", yesNo(client.Auth().IsTrustedSession())},
		)
	}

	cli.RenderKeyValues(cmd.OutOrStdout(), pairs)
	return nil
}

func present(token string) string {
	if token == "" {
		return "absent"
	}
	return "present"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
