package photos

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
)

// Sort directions of a listing.
const (
	Ascending  = "ASCENDING"
	Descending = "DESCENDING"
)

// AllPhotos is the name of the album listing the whole library.
const AllPhotos = "All Photos"

// DefaultPageSize is the number of assets requested per page.
const DefaultPageSize = 100

const (
	rootFolder        = "----Root-Folder----"
	projectRootFolder = "----Project-Root-Folder----"
)

// ErrNotFound is returned for unknown albums and versions.
var ErrNotFound = errors.New("not found")

type smartFolder struct {
	name      string
	objType   string
	listType  string
	direction string
	filter    []Filter
}

func smartAlbum(value string) []Filter {
	return []Filter{equals("smartAlbum", "STRING", value)}
}

var smartFolders = []smartFolder{
	{AllPhotos, "CPLAssetByAddedDate", "CPLAssetAndMasterByAddedDate", Ascending, nil},
	{"Time-lapse", "CPLAssetInSmartAlbumByAssetDate:Timelapse", "CPLAssetAndMasterInSmartAlbumByAssetDate", Ascending, smartAlbum("TIMELAPSE")},
	{"Videos", "CPLAssetInSmartAlbumByAssetDate:Video", "CPLAssetAndMasterInSmartAlbumByAssetDate", Ascending, smartAlbum("VIDEO")},
	{"Slo-mo", "CPLAssetInSmartAlbumByAssetDate:Slomo", "CPLAssetAndMasterInSmartAlbumByAssetDate", Ascending, smartAlbum("SLOMO")},
	{"Bursts", "CPLAssetBurstStackAssetByAssetDate", "CPLBurstStackAssetAndMasterByAssetDate", Ascending, nil},
	{"Favorites", "CPLAssetInSmartAlbumByAssetDate:Favorite", "CPLAssetAndMasterInSmartAlbumByAssetDate", Ascending, smartAlbum("FAVORITE")},
	{"Panoramas", "CPLAssetInSmartAlbumByAssetDate:Panorama", "CPLAssetAndMasterInSmartAlbumByAssetDate", Ascending, smartAlbum("PANORAMA")},
	{"Screenshots", "CPLAssetInSmartAlbumByAssetDate:Screenshot", "CPLAssetAndMasterInSmartAlbumByAssetDate", Ascending, smartAlbum("SCREENSHOT")},
	{"Live", "CPLAssetInSmartAlbumByAssetDate:Live", "CPLAssetAndMasterInSmartAlbumByAssetDate", Ascending, smartAlbum("LIVE")},
	{"Recently Deleted", "CPLAssetDeletedByExpungedDate", "CPLAssetAndMasterDeletedByExpungedDate", Ascending, nil},
	{"Hidden", "CPLAssetHiddenByAssetDate", "CPLAssetAndMasterHiddenByAssetDate", Ascending, nil},
}

var desiredKeys = []string{
	"resJPEGFullWidth", "resJPEGFullHeight", "resJPEGFullFileType", "resJPEGFullFingerprint", "resJPEGFullRes",
	"resJPEGLargeWidth", "resJPEGLargeHeight", "resJPEGLargeFileType", "resJPEGLargeFingerprint", "resJPEGLargeRes",
	"resJPEGMedWidth", "resJPEGMedHeight", "resJPEGMedFileType", "resJPEGMedFingerprint", "resJPEGMedRes",
	"resJPEGThumbWidth", "resJPEGThumbHeight", "resJPEGThumbFileType", "resJPEGThumbFingerprint", "resJPEGThumbRes",
	"resVidFullWidth", "resVidFullHeight", "resVidFullFileType", "resVidFullFingerprint", "resVidFullRes",
	"resVidMedWidth", "resVidMedHeight", "resVidMedFileType", "resVidMedFingerprint", "resVidMedRes",
	"resVidSmallWidth", "resVidSmallHeight", "resVidSmallFileType", "resVidSmallFingerprint", "resVidSmallRes",
	"resSidecarWidth", "resSidecarHeight", "resSidecarFileType", "resSidecarFingerprint", "resSidecarRes",
	"itemType", "dataClassType", "filenameEnc", "originalOrientation",
	"resOriginalWidth", "resOriginalHeight", "resOriginalFileType", "resOriginalFingerprint", "resOriginalRes",
	"resOriginalAltWidth", "resOriginalAltHeight", "resOriginalAltFileType", "resOriginalAltFingerprint", "resOriginalAltRes",
	"resOriginalVidComplWidth", "resOriginalVidComplHeight", "resOriginalVidComplFileType", "resOriginalVidComplFingerprint", "resOriginalVidComplRes",
	"isDeleted", "isExpunged", "dateExpunged", "remappedRef", "recordName", "recordType", "recordChangeTag",
	"masterRef", "adjustmentRenderType", "assetDate", "addedDate", "isFavorite", "isHidden", "orientation",
	"duration", "assetSubtype", "assetSubtypeV2", "assetHDRType", "burstFlags", "burstFlagsExt", "burstId",
	"captionEnc", "extendedDescEnc", "locationEnc", "locationV2Enc", "locationLatitude", "locationLongitude",
	"adjustmentType", "timeZoneOffset", "vidComplDurValue", "vidComplDurScale", "vidComplDispValue",
	"vidComplDispScale", "vidComplVisibilityState", "customRenderedValue", "containerId", "itemId", "position",
	"isKeyAsset", "importedByBundleIdentifierEnc", "importedByDisplayNameEnc", "importedBy",
}

// Album is a smart folder or a user album.
type Album struct {
	library *Library

	Name      string
	ListType  string
	ObjType   string
	Direction string
	Filter    []Filter
	PageSize  int
	// FolderID is set for user albums only.
	FolderID string

	mu        sync.Mutex
	count     *int
	subalbums []*Album
}

func (l *Library) newAlbum(name, listType, objType, direction string, filter []Filter, folderID string) *Album {
	return &Album{
		library:   l,
		Name:      name,
		ListType:  listType,
		ObjType:   objType,
		Direction: direction,
		Filter:    filter,
		PageSize:  DefaultPageSize,
		FolderID:  folderID,
	}
}

func (a *Album) String() string { return a.Name }

// Len returns the number of assets in the album. The count is fetched once.
func (a *Album) Len(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count != nil {
		return *a.count, nil
	}

	body := map[string]any{
		"batch": []any{map[string]any{
			"resultsLimit": 1,
			"query": map[string]any{
				"filterBy": Filter{
					FieldName:  "indexCountID",
					Comparator: "IN",
					FieldValue: FieldValue{Type: "STRING_LIST", Value: []string{a.ObjType}},
				},
				"recordType": "HyperionIndexCountLookup",
			},
			"zoneWide": true,
			"zoneID":   ZoneID{ZoneName: a.library.zone.ZoneName},
		}},
	}
	var out struct {
		Batch []struct {
			Records []Record `json:"records"`
		} `json:"batch"`
	}
	if err := a.library.service.query(ctx, "/internal/records/query/batch", body, &out); err != nil {
		return 0, fmt.Errorf("failed to count album %q: %w", a.Name, err)
	}
	if len(out.Batch) == 0 || len(out.Batch[0].Records) == 0 {
		return 0, fmt.Errorf("failed to count album %q: empty response", a.Name)
	}
	n, _ := out.Batch[0].Records[0].intValue("itemCount")
	count := int(n)
	a.count = &count
	return count, nil
}

// Subalbums returns the albums nested in a user album. Smart folders have
// none.
func (a *Album) Subalbums(ctx context.Context) ([]*Album, error) {
	if a.FolderID == "" {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.subalbums != nil {
		return a.subalbums, nil
	}

	records, err := a.library.service.records(ctx, map[string]any{
		"query": map[string]any{
			"recordType": "CPLAlbumByPositionLive",
			"filterBy":   []Filter{equals("parentId", "STRING", a.FolderID)},
		},
		"zoneID": ZoneID{ZoneName: a.library.zone.ZoneName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subalbums of %q: %w", a.Name, err)
	}
	subalbums := make([]*Album, 0, len(records))
	for _, record := range records {
		if album := a.library.folderAlbum(record); album != nil {
			subalbums = append(subalbums, album)
		}
	}
	a.subalbums = subalbums
	return subalbums, nil
}

// Photos iterates over the album's assets page by page. Iteration stops at
// the first empty page or the first error.
func (a *Album) Photos(ctx context.Context) iter.Seq2[*Asset, error] {
	return func(yield func(*Asset, error) bool) {
		offset := 0
		if a.Direction == Descending {
			n, err := a.Len(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			offset = n - 1
		}

		for {
			records, err := a.library.service.records(ctx, a.listQuery(offset))
			if err != nil {
				yield(nil, fmt.Errorf("failed to list photos of %q: %w", a.Name, err))
				return
			}

			assets := make(map[string]Record)
			var masters []Record
			for _, record := range records {
				switch record.RecordType {
				case "CPLAsset":
					assets[record.reference("masterRef")] = record
				case "CPLMaster":
					masters = append(masters, record)
				}
			}
			if len(masters) == 0 {
				return
			}
			if a.Direction == Descending {
				offset -= len(masters)
			} else {
				offset += len(masters)
			}

			for _, master := range masters {
				asset, ok := assets[master.RecordName]
				if !ok {
					continue
				}
				if !yield(newAsset(a.library, master, asset), nil) {
					return
				}
			}
		}
	}
}

func (a *Album) listQuery(offset int) map[string]any {
	filters := []Filter{
		equals("startRank", "INT64", offset),
		equals("direction", "STRING", a.Direction),
	}
	filters = append(filters, a.Filter...)
	return map[string]any{
		"query": map[string]any{
			"filterBy":   filters,
			"recordType": a.ListType,
		},
		"resultsLimit": a.PageSize * 2,
		"desiredKeys":  desiredKeys,
		"zoneID":       a.library.zone,
	}
}
