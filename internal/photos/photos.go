// Package photos reads the photo library: record zones (libraries), smart
// and user albums, paged asset listings and asset content.
package photos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"icloudgo/internal/session"
)

const (
	databasePath = "/database/1/com.apple.photos.cloud/production/private"

	// PrimaryZone is the zone of the user's own library.
	PrimaryZone = "PrimarySync"

	// ServiceName labels errors raised by this package.
	ServiceName = "photos"

	indexingReason = "iCloud Photo Library not finished indexing.  Please try again in a few minutes"
)

// Service is the photo library service. Its primary library is checked for
// indexing on construction.
type Service struct {
	doer     session.Doer
	endpoint string
	params   url.Values

	primary *Library

	mu        sync.Mutex
	libraries map[string]*Library
}

// New connects to the photo database under serviceRoot and verifies that the
// primary library finished indexing.
func New(ctx context.Context, doer session.Doer, serviceRoot string) (*Service, error) {
	s := &Service{
		doer:     doer,
		endpoint: strings.TrimRight(serviceRoot, "/") + databasePath,
		params: url.Values{
			"remapEnums":          []string{"true"},
			"getCurrentSyncToken": []string{"true"},
		},
	}
	primary, err := s.newLibrary(ctx, ZoneID{ZoneName: PrimaryZone})
	if err != nil {
		return nil, err
	}
	s.primary = primary
	return s, nil
}

// Endpoint returns the private database URL.
func (s *Service) Endpoint() string { return s.endpoint }

// Primary returns the user's own library.
func (s *Service) Primary() *Library { return s.primary }

// Libraries returns every live record zone by name. The zone list is fetched
// once.
func (s *Service) Libraries(ctx context.Context) (map[string]*Library, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.libraries != nil {
		return s.libraries, nil
	}

	var out struct {
		Zones []struct {
			ZoneID  ZoneID `json:"zoneID"`
			Deleted bool   `json:"deleted"`
		} `json:"zones"`
	}
	if err := s.query(ctx, "/zones/list", map[string]any{}, &out); err != nil {
		return nil, fmt.Errorf("failed to list photo libraries: %w", err)
	}
	libraries := make(map[string]*Library, len(out.Zones))
	for _, zone := range out.Zones {
		if zone.Deleted {
			continue
		}
		lib, err := s.newLibrary(ctx, zone.ZoneID)
		if err != nil {
			return nil, err
		}
		libraries[zone.ZoneID.ZoneName] = lib
	}
	s.libraries = libraries
	return libraries, nil
}

// query posts body as a text/plain JSON payload to the database path.
func (s *Service) query(ctx context.Context, path string, body, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}
	resp, err := s.doer.Do(ctx, &session.Request{
		Method: http.MethodPost,
		URL:    s.endpoint + path,
		Params: s.params,
		Body:   data,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
	})
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return resp.DecodeJSON(v)
}

func (s *Service) records(ctx context.Context, body any) ([]Record, error) {
	var out struct {
		Records []Record `json:"records"`
	}
	if err := s.query(ctx, "/records/query", body, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Library is one record zone with its albums.
type Library struct {
	service *Service
	zone    ZoneID

	mu     sync.Mutex
	albums []*Album
}

func (s *Service) newLibrary(ctx context.Context, zone ZoneID) (*Library, error) {
	records, err := s.records(ctx, map[string]any{
		"query":  map[string]string{"recordType": "CheckIndexingState"},
		"zoneID": zone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check indexing state of %s: %w", zone.ZoneName, err)
	}
	if len(records) == 0 || records[0].stringValue("state") != "FINISHED" {
		return nil, &session.ServiceNotActivatedError{Reason: indexingReason, Service: ServiceName}
	}
	return &Library{service: s, zone: zone}, nil
}

// Zone returns the library's zone.
func (l *Library) Zone() ZoneID { return l.zone }

// Albums returns the smart folders followed by the user's albums. The folder
// list is fetched once.
func (l *Library) Albums(ctx context.Context) ([]*Album, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.albums != nil {
		return l.albums, nil
	}

	albums := make([]*Album, 0, len(smartFolders))
	for _, folder := range smartFolders {
		albums = append(albums, l.newAlbum(folder.name, folder.listType, folder.objType, folder.direction, folder.filter, ""))
	}

	folders, err := l.service.records(ctx, map[string]any{
		"query":  map[string]string{"recordType": "CPLAlbumByPositionLive"},
		"zoneID": l.zone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list albums: %w", err)
	}
	for _, folder := range folders {
		if folder.RecordName == rootFolder || folder.RecordName == projectRootFolder {
			continue
		}
		if album := l.folderAlbum(folder); album != nil {
			albums = append(albums, album)
		}
	}
	l.albums = albums
	return albums, nil
}

// Album returns the album called name.
func (l *Library) Album(ctx context.Context, name string) (*Album, error) {
	albums, err := l.Albums(ctx)
	if err != nil {
		return nil, err
	}
	for _, album := range albums {
		if album.Name == name {
			return album, nil
		}
	}
	return nil, fmt.Errorf("%w: no album named %q", ErrNotFound, name)
}

// All returns the album holding every photo.
func (l *Library) All(ctx context.Context) (*Album, error) {
	return l.Album(ctx, AllPhotos)
}

// folderAlbum turns a folder record into an album. Deleted folders yield nil.
func (l *Library) folderAlbum(folder Record) *Album {
	if folder.flag("isDeleted") {
		return nil
	}
	id := folder.RecordName
	return l.newAlbum(
		folder.encodedString("albumNameEnc"),
		"CPLContainerRelationLiveByAssetDate",
		"CPLContainerRelationNotDeletedByAssetDate:"+id,
		Ascending,
		[]Filter{equals("parentId", "STRING", id)},
		id,
	)
}
