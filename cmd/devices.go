package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"icloudgo/internal/cli"
	"icloudgo/internal/findmy"
)

// Device alert flags
var (
	alertSubject string
	alertMessage string
	alertSound   bool
	lostNumber   string
	lostPasscode string
)

// devicesCmd represents the devices command group
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List and locate devices",
	Long: `List the devices known to the device locator, including family
devices unless withFamily is disabled in config.yaml.

Devices are addressed by id or by name.

Examples:
  icloud devices                               # List devices
  icloud devices locate "Jane's iPhone"        # Show the last known position
  icloud devices sound "Jane's iPhone"         # Play an alert sound
  icloud devices message "Jane's iPhone" --message "Call home"
  icloud devices lost "Jane's iPhone" --number 555-0100`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(cmd)
		if err != nil {
			return err
		}
		var devices []*findmy.Device
		err = cli.Progress(cmd.ErrOrStderr(), quiet, "Locating devices...", func() error {
			devices, err = client.Devices(commandContext(cmd))
			return err
		})
		if err != nil {
			return translateError(client.Identity(), err)
		}
		cli.RenderLocatedDevices(cmd.OutOrStdout(), devices)
		return nil
	},
}

var devicesLocateCmd = &cobra.Command{
	Use:   "locate DEVICE",
	Short: "Show the last known position of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, args[0], func(d *findmy.Device) error {
			loc, err := d.Location(commandContext(cmd))
			if err != nil {
				return err
			}
			status, err := d.Status(commandContext(cmd))
			if err != nil {
				return err
			}
			pairs := [][2]string{
				{"Device", d.Name()},
				{"Model", d.DisplayName()},
				{"Latitude", fmt.Sprintf("%.6f", loc.Latitude)},
				{"Longitude", fmt.Sprintf("%.6f", loc.Longitude)},
				{"Accuracy", fmt.Sprintf("%.0f m", loc.HorizontalAccuracy)},
				{"Source", orDash(loc.PositionType)},
				{"Recorded", cli.FormatTime(loc.Time())},
			}
			keys := make([]string, 0, len(status))
			for k := range status {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				pairs = append(pairs, [2]string{k, fmt.Sprint(status[k])})
			}
			cli.RenderKeyValues(cmd.OutOrStdout(), pairs)
			return nil
		})
	},
}

var devicesSoundCmd = &cobra.Command{
	Use:   "sound DEVICE",
	Short: "Play an alert sound on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, args[0], func(d *findmy.Device) error {
			if err := d.PlaySound(commandContext(cmd), alertSubject); err != nil {
				return err
			}
			printSuccess(cmd, "Playing sound on %s", d.Name())
			return nil
		})
	},
}

var devicesMessageCmd = &cobra.Command{
	Use:   "message DEVICE",
	Short: "Display a message on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, args[0], func(d *findmy.Device) error {
			if err := d.DisplayMessage(commandContext(cmd), alertSubject, alertMessage, alertSound); err != nil {
				return err
			}
			printSuccess(cmd, "Message sent to %s", d.Name())
			return nil
		})
	},
}

var devicesLostCmd = &cobra.Command{
	Use:   "lost DEVICE",
	Short: "Put a device in lost mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, args[0], func(d *findmy.Device) error {
			if err := d.LostMode(commandContext(cmd), lostNumber, alertMessage, lostPasscode); err != nil {
				return err
			}
			printSuccess(cmd, "Lost mode enabled on %s", d.Name())
			return nil
		})
	},
}

func withDevice(cmd *cobra.Command, key string, fn func(*findmy.Device) error) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	locator, err := client.FindMy()
	if err != nil {
		return translateError(client.Identity(), err)
	}
	device, err := locator.Device(commandContext(cmd), key)
	if err != nil {
		return translateError(client.Identity(), err)
	}
	return translateError(client.Identity(), fn(device))
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(devicesLocateCmd, devicesSoundCmd, devicesMessageCmd, devicesLostCmd)

	for _, c := range []*cobra.Command{devicesSoundCmd, devicesMessageCmd} {
		c.Flags().StringVar(&alertSubject, "subject", "", "Alert subject (default \""+findmy.DefaultSubject+"\")")
	}
	devicesMessageCmd.Flags().StringVar(&alertMessage, "message", "", "Message text")
	devicesMessageCmd.Flags().BoolVar(&alertSound, "sound", false, "Also play a sound")
	devicesLostCmd.Flags().StringVar(&alertMessage, "message", "", "Text shown on the locked device")
	devicesLostCmd.Flags().StringVar(&lostNumber, "number", "", "Phone number shown on the locked device")
	devicesLostCmd.Flags().StringVar(&lostPasscode, "passcode", "", "New passcode for the device")
}
