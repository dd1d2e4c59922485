package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"icloudgo/internal/auth"
	"icloudgo/internal/cli"
	"icloudgo/internal/icloud"
)

// Login-specific flags
var (
	loginStorePassword bool
	loginForce         bool
)

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to iCloud",
	Long: `Sign in to iCloud and complete any second factor interactively.

The password is taken from the system keyring when stored there, and
prompted for otherwise. A two-factor code pushed to your devices, or a
two-step code sent to a trusted device you pick, is prompted for next.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginStorePassword, "store-password", false, "Store the password in the system keyring after a successful login")
	authLoginCmd.Flags().BoolVar(&loginForce, "force", false, "Ignore the stored session and sign in from scratch")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	identity := cfg.Username

	prompter, err := newPrompter(cmd)
	if err != nil {
		return err
	}
	defer prompter.Close()

	store := credentialStore()
	var opts []icloud.Option
	var password string
	if !store.HasPassword(identity) {
		if password, err = prompter.Password(identity); err != nil {
			return err
		}
		opts = append(opts, icloud.WithPassword(password))
	}

	client, err := newClient(cfg, opts...)
	if err != nil {
		return err
	}
	out, err := authenticate(cmd, client, auth.Options{ForceRefresh: loginForce})
	if err != nil {
		return err
	}

	if out.Kind == auth.OutcomeSecondFactorRequired {
		if err := completeChallenge(cmd, client, prompter, out); err != nil {
			return err
		}
	}

	if loginStorePassword && password != "" {
		if err := store.StorePassword(identity, password); err != nil {
			return fmt.Errorf("signed in, but storing the password failed: %w", err)
		}
		printSuccess(cmd, "Password stored in the system keyring")
	}
	printSuccess(cmd, "Signed in as %s", identity)
	return nil
}

// completeChallenge resolves the outstanding second factor of out.
func completeChallenge(cmd *cobra.Command, client *icloud.Client, prompter *cli.Prompter, out *auth.LoginOutcome) error {
	ctx := commandContext(cmd)
	authn := client.Auth()
	identity := client.Identity()

	switch out.Challenge {
	case auth.ChallengeTwoFactor:
		fmt.Fprintln(cmd.ErrOrStderr(), "Two-factor authentication required.")
		code, err := prompter.Code("Enter the code you received on one of your approved devices: ")
		if err != nil {
			return err
		}
		ok, err := authn.ValidateSecondFactorCode(ctx, code)
		if err != nil {
			return translateError(identity, err)
		}
		if !ok {
			return &cli.AuthFailedError{Identity: identity, Reason: errors.New("failed to verify security code")}
		}
		if !authn.IsTrustedSession() && !authn.TrustSession(ctx) {
			fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning("Failed to request trust. You will likely be prompted for the code again in the coming weeks"))
		}

	case auth.ChallengeTwoStep:
		fmt.Fprintln(cmd.ErrOrStderr(), "Two-step authentication required.")
		devices := out.Devices
		if len(devices) == 0 {
			var err error
			if devices, err = authn.TrustedDevices(ctx); err != nil {
				return translateError(identity, err)
			}
		}
		device, err := prompter.ChooseDevice(devices)
		if err != nil {
			return err
		}
		sent, err := authn.SendVerificationCode(ctx, device)
		if err != nil {
			return translateError(identity, err)
		}
		if !sent {
			return fmt.Errorf("failed to send verification code to %s", device.Label())
		}
		code, err := prompter.Code("Please enter validation code: ")
		if err != nil {
			return err
		}
		ok, err := authn.ValidateVerificationCode(ctx, device, code)
		if err != nil {
			return translateError(identity, err)
		}
		if !ok {
			return &cli.AuthFailedError{Identity: identity, Reason: errors.New("failed to verify verification code")}
		}

	default:
		return fmt.Errorf("unsupported second factor %s", out.Challenge)
	}
	return nil
}
