package photos

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"icloudgo/internal/session"
)

var photoVersions = map[string]string{
	"full":         "resJPEGFull",
	"large":        "resJPEGLarge",
	"medium":       "resJPEGMed",
	"thumb":        "resJPEGThumb",
	"sidecar":      "resSidecar",
	"original":     "resOriginal",
	"original_alt": "resOriginalAlt",
}

var videoVersions = map[string]string{
	"full":           "resVidFull",
	"medium":         "resVidMed",
	"thumb":          "resVidSmall",
	"original":       "resOriginal",
	"original_compl": "resOriginalVidCompl",
}

// Version is one rendition of an asset.
type Version struct {
	Filename string
	Width    int64
	Height   int64
	Size     int64
	URL      string
	Type     string
}

// Asset is a photo or video, backed by its master and asset records.
type Asset struct {
	library *Library
	master  Record
	asset   Record
}

func newAsset(l *Library, master, asset Record) *Asset {
	return &Asset{library: l, master: master, asset: asset}
}

// ID returns the master record name.
func (a *Asset) ID() string { return a.master.RecordName }

// Filename returns the original file name.
func (a *Asset) Filename() string { return a.master.encodedString("filenameEnc") }

// Size returns the size of the original in bytes.
func (a *Asset) Size() int64 {
	res, _ := a.master.resource("resOriginalRes")
	return res.Size
}

// AssetDate returns the capture time, or the Unix epoch when unknown.
func (a *Asset) AssetDate() time.Time {
	ms, ok := a.asset.intValue("assetDate")
	if !ok {
		return time.Unix(0, 0).UTC()
	}
	return time.UnixMilli(ms).UTC()
}

// Created is an alias of AssetDate.
func (a *Asset) Created() time.Time { return a.AssetDate() }

// AddedDate returns the time the asset was added to the library.
func (a *Asset) AddedDate() time.Time {
	ms, _ := a.asset.intValue("addedDate")
	return time.UnixMilli(ms).UTC()
}

// Dimensions returns the width and height of the original.
func (a *Asset) Dimensions() (width, height int64) {
	width, _ = a.master.intValue("resOriginalWidth")
	height, _ = a.master.intValue("resOriginalHeight")
	return width, height
}

// IsVideo reports whether the asset carries video renditions.
func (a *Asset) IsVideo() bool { return a.master.has("resVidSmallRes") }

// Versions returns the available renditions keyed by version name, such as
// "original" or "thumb".
func (a *Asset) Versions() map[string]Version {
	lookup := photoVersions
	if a.IsVideo() {
		lookup = videoVersions
	}
	filename := a.Filename()
	versions := make(map[string]Version)
	for key, prefix := range lookup {
		res, ok := a.master.resource(prefix + "Res")
		if !ok {
			continue
		}
		v := Version{Filename: filename, Size: res.Size, URL: res.DownloadURL, Type: a.master.stringValue(prefix + "FileType")}
		v.Width, _ = a.master.intValue(prefix + "Width")
		v.Height, _ = a.master.intValue(prefix + "Height")
		versions[key] = v
	}
	return versions
}

// Download streams the named version. The caller closes the reader.
func (a *Asset) Download(ctx context.Context, version string) (io.ReadCloser, error) {
	v, ok := a.Versions()[version]
	if !ok || v.URL == "" {
		return nil, fmt.Errorf("%w: asset %s has no %q version", ErrNotFound, a.ID(), version)
	}
	resp, err := a.library.service.doer.Do(ctx, &session.Request{Method: http.MethodGet, URL: v.URL, NoParams: true, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", a.ID(), err)
	}
	return resp.Stream, nil
}

// Delete moves the asset to Recently Deleted.
func (a *Asset) Delete(ctx context.Context) error {
	body := map[string]any{
		"operations": []any{map[string]any{
			"operationType": "update",
			"record": map[string]any{
				"recordName":      a.asset.RecordName,
				"recordType":      a.asset.RecordType,
				"recordChangeTag": a.master.RecordChangeTag,
				"fields":          map[string]any{"isDeleted": map[string]int{"value": 1}},
			},
		}},
		"zoneID": ZoneID{ZoneName: a.library.zone.ZoneName},
		"atomic": true,
	}
	if err := a.library.service.query(ctx, "/records/modify", body, nil); err != nil {
		return fmt.Errorf("failed to delete %s: %w", a.ID(), err)
	}
	return nil
}
