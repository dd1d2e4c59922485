// Package drive browses and modifies the file storage service. Folders are
// loaded lazily: a node fetches its children on first listing and caches them
// until a change made through the same node invalidates the cache.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"icloudgo/internal/session"
)

const (
	// RootID is the drivewsid of the top level folder.
	RootID = "FOLDER::com.apple.CloudDocs::root"
	// DefaultZone is the zone of regular documents.
	DefaultZone = "com.apple.CloudDocs"

	validateCookie = "X-APPLE-WEBAUTH-VALIDATE"
)

// ErrNotFound is returned when a named child does not exist.
var ErrNotFound = errors.New("not found")

// CookieSource exposes cookie values by name.
type CookieSource interface {
	Value(name string) (string, bool)
}

// Options configures a Client.
type Options struct {
	// ServiceRoot is the drivews service URL.
	ServiceRoot string
	// DocumentRoot is the docws service URL used for content transfer.
	DocumentRoot string
	// ClientID is echoed in mutation requests.
	ClientID string
	// Cookies supplies the upload token. Uploads fail without it.
	Cookies CookieSource
}

// Client talks to the drive services.
type Client struct {
	doer         session.Doer
	serviceRoot  string
	documentRoot string
	clientID     string
	cookies      CookieSource

	mu   sync.Mutex
	root *Node
}

// New returns a drive client.
func New(doer session.Doer, opts Options) *Client {
	return &Client{
		doer:         doer,
		serviceRoot:  strings.TrimRight(opts.ServiceRoot, "/"),
		documentRoot: strings.TrimRight(opts.DocumentRoot, "/"),
		clientID:     opts.ClientID,
		cookies:      opts.Cookies,
	}
}

// Root returns the top level folder. It is fetched once per client.
func (c *Client) Root(ctx context.Context) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.root != nil {
		return c.root, nil
	}
	data, err := c.nodeData(ctx, RootID)
	if err != nil {
		return nil, err
	}
	c.root = newNode(c, data)
	return c.root, nil
}

// Get returns the root's child called name.
func (c *Client) Get(ctx context.Context, name string) (*Node, error) {
	root, err := c.Root(ctx)
	if err != nil {
		return nil, err
	}
	return root.Get(ctx, name)
}

// Walk resolves a slash separated path from the root. An empty path yields
// the root itself.
func (c *Client) Walk(ctx context.Context, path string) (*Node, error) {
	node, err := c.Root(ctx)
	if err != nil {
		return nil, err
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		if node, err = node.Get(ctx, part); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// AppLibraries lists the per-app document libraries.
func (c *Client) AppLibraries(ctx context.Context) ([]*Node, error) {
	resp, err := c.doer.Do(ctx, &session.Request{Method: http.MethodGet, URL: c.serviceRoot + "/retrieveAppLibraries"})
	if err != nil {
		return nil, fmt.Errorf("failed to list app libraries: %w", err)
	}
	var out struct {
		Items []nodeData `json:"items"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, err
	}
	nodes := make([]*Node, 0, len(out.Items))
	for _, item := range out.Items {
		nodes = append(nodes, newNode(c, item))
	}
	return nodes, nil
}

func (c *Client) nodeData(ctx context.Context, id string) (nodeData, error) {
	var items []nodeData
	body := []map[string]any{{"drivewsid": id, "partialData": false}}
	if err := c.post(ctx, c.serviceRoot+"/retrieveItemDetailsInFolders", body, &items); err != nil {
		return nodeData{}, fmt.Errorf("failed to retrieve %s: %w", id, err)
	}
	if len(items) == 0 {
		return nodeData{}, fmt.Errorf("failed to retrieve %s: empty response", id)
	}
	return items[0], nil
}

func (c *Client) createFolder(ctx context.Context, parentID, name string) error {
	body := map[string]any{
		"destinationDrivewsId": parentID,
		"folders":              []map[string]string{{"clientId": c.clientID, "name": name}},
	}
	return c.post(ctx, c.serviceRoot+"/createFolders", body, nil)
}

func (c *Client) renameItem(ctx context.Context, id, etag, name string) (nodeData, error) {
	var out struct {
		Items []nodeData `json:"items"`
	}
	body := map[string]any{"items": []map[string]string{{"drivewsid": id, "etag": etag, "name": name}}}
	if err := c.post(ctx, c.serviceRoot+"/renameItems", body, &out); err != nil {
		return nodeData{}, err
	}
	if len(out.Items) == 0 {
		return nodeData{}, errors.New("rename returned no items")
	}
	return out.Items[0], nil
}

func (c *Client) trashItem(ctx context.Context, id, etag string) error {
	var out struct {
		Items []struct {
			Status string `json:"status"`
		} `json:"items"`
	}
	body := map[string]any{"items": []map[string]string{{"drivewsid": id, "etag": etag, "clientId": c.clientID}}}
	if err := c.post(ctx, c.serviceRoot+"/moveItemsToTrash", body, &out); err != nil {
		return err
	}
	if len(out.Items) > 0 && out.Items[0].Status != "" && out.Items[0].Status != "OK" {
		return fmt.Errorf("trash status: %s", out.Items[0].Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, target string, body, v any) error {
	resp, err := c.doer.Do(ctx, &session.Request{Method: http.MethodPost, URL: target, Body: body})
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return resp.DecodeJSON(v)
}

// postText sends a JSON payload declared as text/plain, the way the document
// service expects it.
func (c *Client) postText(ctx context.Context, target string, params url.Values, body, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	req := &session.Request{
		Method: http.MethodPost,
		URL:    target,
		Params: params,
		Body:   data,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
	}
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return resp.DecodeJSON(v)
}
