package cmd

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"icloudgo/internal/cli"
	"icloudgo/internal/drive"
)

var (
	driveOutput       string
	driveAppLibraries bool
)

// driveCmd represents the drive command group
var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Browse and change iCloud Drive",
	Long: `Browse and change iCloud Drive. Paths are slash separated and start
at the drive root.

Examples:
  icloud drive ls                         # List the root folder
  icloud drive ls Documents/Taxes         # List a sub folder
  icloud drive get Documents/report.pdf   # Download into the current directory
  icloud drive mkdir Documents Archive    # Create Documents/Archive
  icloud drive rename Documents/a.txt b.txt
  icloud drive rm Documents/b.txt         # Move to Recently Deleted
  icloud drive upload ./notes.txt Documents`,
}

var driveLsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrive(cmd, func(c *drive.Client) error {
			ctx := commandContext(cmd)
			if driveAppLibraries {
				libraries, err := c.AppLibraries(ctx)
				if err != nil {
					return err
				}
				cli.RenderNodes(cmd.OutOrStdout(), libraries)
				return nil
			}
			node, err := c.Walk(ctx, argOrEmpty(args))
			if err != nil {
				return err
			}
			children, err := node.Children(ctx)
			if err != nil {
				return err
			}
			cli.RenderNodes(cmd.OutOrStdout(), children)
			return nil
		})
	},
}

var driveGetCmd = &cobra.Command{
	Use:   "get PATH",
	Short: "Download a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrive(cmd, func(c *drive.Client) error {
			ctx := commandContext(cmd)
			node, err := c.Walk(ctx, args[0])
			if err != nil {
				return err
			}
			if node.IsFolder() {
				return fmt.Errorf("%q is a folder", args[0])
			}
			target := driveOutput
			if target == "" {
				target = node.Name()
			}

			body, err := node.Open(ctx)
			if err != nil {
				return err
			}
			defer body.Close()
			out, err := createOutput(cmd, target)
			if err != nil {
				return err
			}
			n, err := io.Copy(out, body)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("failed to download %q: %w", args[0], err)
			}
			printSuccess(cmd, "Downloaded %s (%s)", node.Name(), cli.FormatBytes(n))
			return nil
		})
	},
}

var driveMkdirCmd = &cobra.Command{
	Use:   "mkdir PARENT NAME",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrive(cmd, func(c *drive.Client) error {
			ctx := commandContext(cmd)
			parent, err := c.Walk(ctx, args[0])
			if err != nil {
				return err
			}
			if err := parent.Mkdir(ctx, args[1]); err != nil {
				return err
			}
			printSuccess(cmd, "Created %s", path.Join(args[0], args[1]))
			return nil
		})
	},
}

var driveRenameCmd = &cobra.Command{
	Use:   "rename PATH NEWNAME",
	Short: "Rename a file or folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrive(cmd, func(c *drive.Client) error {
			ctx := commandContext(cmd)
			node, err := c.Walk(ctx, args[0])
			if err != nil {
				return err
			}
			if err := node.Rename(ctx, args[1]); err != nil {
				return err
			}
			printSuccess(cmd, "Renamed %s to %s", args[0], node.Name())
			return nil
		})
	},
}

var driveRmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Move a file or folder to Recently Deleted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDrive(cmd, func(c *drive.Client) error {
			ctx := commandContext(cmd)
			node, err := c.Walk(ctx, args[0])
			if err != nil {
				return err
			}
			if err := node.Delete(ctx); err != nil {
				return err
			}
			printSuccess(cmd, "Deleted %s", args[0])
			return nil
		})
	},
}

var driveUploadCmd = &cobra.Command{
	Use:   "upload FILE [FOLDER]",
	Short: "Upload a local file into a folder",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}

		return withDrive(cmd, func(c *drive.Client) error {
			ctx := commandContext(cmd)
			folder, err := c.Walk(ctx, argOrEmpty(args[1:]))
			if err != nil {
				return err
			}
			name := filepath.Base(args[0])
			err = cli.Progress(cmd.ErrOrStderr(), quiet, "Uploading "+name+"...", func() error {
				return folder.Upload(ctx, name, f, info.Size())
			})
			if err != nil {
				return err
			}
			printSuccess(cmd, "Uploaded %s (%s)", name, cli.FormatBytes(info.Size()))
			return nil
		})
	},
}

func withDrive(cmd *cobra.Command, fn func(*drive.Client) error) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	c, err := client.Drive()
	if err != nil {
		return translateError(client.Identity(), err)
	}
	return translateError(client.Identity(), fn(c))
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func init() {
	rootCmd.AddCommand(driveCmd)
	driveCmd.AddCommand(driveLsCmd, driveGetCmd, driveMkdirCmd, driveRenameCmd, driveRmCmd, driveUploadCmd)

	driveLsCmd.Flags().BoolVar(&driveAppLibraries, "app-libraries", false, "List the per-app document libraries instead")
	driveGetCmd.Flags().StringVarP(&driveOutput, "output", "o", "", "Output file, - for stdout (default is the file name)")
}
