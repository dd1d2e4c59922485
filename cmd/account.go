package cmd

import (
	"github.com/spf13/cobra"

	"icloudgo/internal/account"
	"icloudgo/internal/cli"
)

// accountCmd represents the account command group
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show account information",
	Long: `Show information about the Apple account.

Examples:
  icloud account devices    # Devices registered to the account
  icloud account family     # Members of the family circle
  icloud account storage    # Storage quota and usage per media type`,
}

var accountDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices registered to the account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(cmd, func(c *account.Client) error {
			devices, err := c.Devices(commandContext(cmd))
			if err != nil {
				return err
			}
			cli.RenderAccountDevices(cmd.OutOrStdout(), devices)
			return nil
		})
	},
}

var accountFamilyCmd = &cobra.Command{
	Use:   "family",
	Short: "List the members of the family circle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(cmd, func(c *account.Client) error {
			members, err := c.Family(commandContext(cmd))
			if err != nil {
				return err
			}
			cli.RenderFamily(cmd.OutOrStdout(), members)
			return nil
		})
	},
}

var accountStorageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Show the storage quota and usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(cmd, func(c *account.Client) error {
			usage, err := c.Storage(commandContext(cmd))
			if err != nil {
				return err
			}
			cli.RenderStorage(cmd.OutOrStdout(), usage)
			return nil
		})
	},
}

func withAccount(cmd *cobra.Command, fn func(*account.Client) error) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	c, err := client.Account()
	if err != nil {
		return translateError(client.Identity(), err)
	}
	return translateError(client.Identity(), fn(c))
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountDevicesCmd)
	accountCmd.AddCommand(accountFamilyCmd)
	accountCmd.AddCommand(accountStorageCmd)
}
