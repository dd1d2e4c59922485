package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"icloudgo/internal/cli"
	"icloudgo/internal/photos"
)

var (
	photosLibrary string
	photosLimit   int
	photosVersion string
	photosOutput  string
)

// photosCmd represents the photos command group
var photosCmd = &cobra.Command{
	Use:   "photos",
	Short: "Browse and download iCloud Photos",
	Long: `Browse and download iCloud Photos.

Albums are addressed by name inside a library, the primary library
unless --library is given.

Examples:
  icloud photos libraries                       # List libraries
  icloud photos albums                          # List albums with their sizes
  icloud photos ls Favorites --limit 20         # List the first 20 assets
  icloud photos download "All Photos" IMG_0001.JPG --version original`,
}

var photosLibrariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "List the photo libraries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPhotos(cmd, func(ctx context.Context, svc *photos.Service) error {
			libraries, err := svc.Libraries(ctx)
			if err != nil {
				return err
			}
			cli.RenderLibraries(cmd.OutOrStdout(), libraries)
			return nil
		})
	},
}

var photosAlbumsCmd = &cobra.Command{
	Use:   "albums",
	Short: "List the albums of a library",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPhotos(cmd, func(ctx context.Context, svc *photos.Service) error {
			lib, err := resolveLibrary(ctx, svc)
			if err != nil {
				return err
			}
			albums, err := lib.Albums(ctx)
			if err != nil {
				return err
			}
			rows := make([]cli.AlbumRow, 0, len(albums))
			for _, album := range albums {
				n, err := album.Len(ctx)
				if err != nil {
					return err
				}
				rows = append(rows, cli.AlbumRow{Name: album.Name, Count: n})
			}
			cli.RenderAlbums(cmd.OutOrStdout(), rows)
			return nil
		})
	},
}

var photosLsCmd = &cobra.Command{
	Use:   "ls [ALBUM]",
	Short: "List the assets of an album",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPhotos(cmd, func(ctx context.Context, svc *photos.Service) error {
			album, err := resolveAlbum(ctx, svc, argOrEmpty(args))
			if err != nil {
				return err
			}
			var assets []*photos.Asset
			for asset, err := range album.Photos(ctx) {
				if err != nil {
					return err
				}
				assets = append(assets, asset)
				if photosLimit > 0 && len(assets) >= photosLimit {
					break
				}
			}
			cli.RenderAssets(cmd.OutOrStdout(), assets)
			return nil
		})
	},
}

var photosDownloadCmd = &cobra.Command{
	Use:   "download ALBUM ASSET",
	Short: "Download an asset by file name or id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPhotos(cmd, func(ctx context.Context, svc *photos.Service) error {
			album, err := resolveAlbum(ctx, svc, args[0])
			if err != nil {
				return err
			}
			var found *photos.Asset
			for asset, err := range album.Photos(ctx) {
				if err != nil {
					return err
				}
				if asset.ID() == args[1] || asset.Filename() == args[1] {
					found = asset
					break
				}
			}
			if found == nil {
				return fmt.Errorf("%w: no asset %q in %q", photos.ErrNotFound, args[1], args[0])
			}

			body, err := found.Download(ctx, photosVersion)
			if err != nil {
				return err
			}
			defer body.Close()
			target := photosOutput
			if target == "" {
				target = found.Filename()
			}
			out, err := createOutput(cmd, target)
			if err != nil {
				return err
			}
			n, err := io.Copy(out, body)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("failed to download %q: %w", found.Filename(), err)
			}
			printSuccess(cmd, "Downloaded %s (%s)", found.Filename(), cli.FormatBytes(n))
			return nil
		})
	},
}

func withPhotos(cmd *cobra.Command, fn func(context.Context, *photos.Service) error) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	svc, err := client.Photos(ctx)
	if err != nil {
		return translateError(client.Identity(), err)
	}
	return translateError(client.Identity(), fn(ctx, svc))
}

func resolveLibrary(ctx context.Context, svc *photos.Service) (*photos.Library, error) {
	if photosLibrary == "" {
		return svc.Primary(), nil
	}
	libraries, err := svc.Libraries(ctx)
	if err != nil {
		return nil, err
	}
	lib, ok := libraries[photosLibrary]
	if !ok {
		return nil, fmt.Errorf("%w: no library %q", photos.ErrNotFound, photosLibrary)
	}
	return lib, nil
}

// resolveAlbum resolves an album by name. An empty name is the whole library.
func resolveAlbum(ctx context.Context, svc *photos.Service, name string) (*photos.Album, error) {
	lib, err := resolveLibrary(ctx, svc)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return lib.All(ctx)
	}
	return lib.Album(ctx, name)
}

func init() {
	rootCmd.AddCommand(photosCmd)
	photosCmd.AddCommand(photosLibrariesCmd, photosAlbumsCmd, photosLsCmd, photosDownloadCmd)

	photosCmd.PersistentFlags().StringVar(&photosLibrary, "library", "", "Library zone name (default is the primary library)")
	photosLsCmd.Flags().IntVar(&photosLimit, "limit", 50, "Maximum number of assets to list, 0 for all")
	photosDownloadCmd.Flags().StringVar(&photosVersion, "version", "original", "Version to download: original, medium, thumb")
	photosDownloadCmd.Flags().StringVarP(&photosOutput, "output", "o", "", "Output file, - for stdout (default is the asset file name)")
}
