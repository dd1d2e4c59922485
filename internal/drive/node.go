package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"icloudgo/internal/session"
)

// Node types as reported by Type.
const (
	TypeFolder     = "folder"
	TypeFile       = "file"
	TypeAppLibrary = "app_library"
)

type nodeData struct {
	DrivewsID    string `json:"drivewsid"`
	DocwsID      string `json:"docwsid"`
	Zone         string `json:"zone"`
	Name         string `json:"name"`
	Extension    string `json:"extension"`
	ParentID     string `json:"parentId"`
	Etag         string `json:"etag"`
	Type         string `json:"type"`
	Size         *int64 `json:"size"`
	DateCreated  string `json:"dateCreated"`
	DateChanged  string `json:"dateChanged"`
	DateModified string `json:"dateModified"`
	DateLastOpen string `json:"lastOpenTime"`
	Status       string `json:"status"`

	// Items is nil for partial records that omit the listing.
	Items []nodeData `json:"items"`
}

type transferToken struct {
	URL string `json:"url"`
}

// Node is a file, folder or app library.
type Node struct {
	client *Client

	mu       sync.Mutex
	data     nodeData
	children []*Node
}

func newNode(c *Client, data nodeData) *Node {
	return &Node{client: c, data: data}
}

// ID returns the drivewsid.
func (n *Node) ID() string { return n.snapshot().DrivewsID }

// DocumentID returns the docwsid used for content transfer.
func (n *Node) DocumentID() string { return n.snapshot().DocwsID }

// Zone returns the node's zone, defaulting to DefaultZone.
func (n *Node) Zone() string {
	if z := n.snapshot().Zone; z != "" {
		return z
	}
	return DefaultZone
}

// Etag returns the server version tag.
func (n *Node) Etag() string { return n.snapshot().Etag }

// Name returns the display name including the extension.
func (n *Node) Name() string {
	d := n.snapshot()
	if d.Extension != "" {
		return d.Name + "." + d.Extension
	}
	return d.Name
}

// Type returns TypeFolder, TypeFile or TypeAppLibrary.
func (n *Node) Type() string { return strings.ToLower(n.snapshot().Type) }

// IsFolder reports whether the node can have children.
func (n *Node) IsFolder() bool {
	t := n.Type()
	return t == TypeFolder || t == TypeAppLibrary
}

// Size returns the file size and whether one was reported.
func (n *Node) Size() (int64, bool) {
	d := n.snapshot()
	if d.Size == nil {
		return 0, false
	}
	return *d.Size, true
}

// DateChanged returns the change time, or the zero time when unknown.
func (n *Node) DateChanged() time.Time { return parseDate(n.snapshot().DateChanged) }

// DateModified returns the modification time, or the zero time when unknown.
func (n *Node) DateModified() time.Time { return parseDate(n.snapshot().DateModified) }

// DateLastOpen returns the last open time, or the zero time when unknown.
func (n *Node) DateLastOpen() time.Time { return parseDate(n.snapshot().DateLastOpen) }

func (n *Node) snapshot() nodeData {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.data
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Children returns the node's children, fetching the listing on first use.
func (n *Node) Children(ctx context.Context) ([]*Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.children != nil {
		return n.children, nil
	}
	if n.data.Items == nil {
		data, err := n.client.nodeData(ctx, n.data.DrivewsID)
		if err != nil {
			return nil, err
		}
		if data.Items == nil {
			return nil, fmt.Errorf("no items in folder, status: %s", data.Status)
		}
		n.data.Items = data.Items
		if n.data.Etag == "" {
			n.data.Etag = data.Etag
		}
	}
	children := make([]*Node, 0, len(n.data.Items))
	for _, item := range n.data.Items {
		children = append(children, newNode(n.client, item))
	}
	n.children = children
	return children, nil
}

// Dir lists child names. Files have no listing and yield nil.
func (n *Node) Dir(ctx context.Context) ([]string, error) {
	if n.Type() == TypeFile {
		return nil, nil
	}
	children, err := n.Children(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(children))
	for _, child := range children {
		names = append(names, child.Name())
	}
	return names, nil
}

// Get returns the child called name.
func (n *Node) Get(ctx context.Context, name string) (*Node, error) {
	children, err := n.Children(ctx)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.Name() == name {
			return child, nil
		}
	}
	return nil, fmt.Errorf("%w: no child named %q exists", ErrNotFound, name)
}

// invalidate drops the cached listing so the next Children call refetches.
func (n *Node) invalidate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = nil
	n.data.Items = nil
}

// Mkdir creates a folder below n.
func (n *Node) Mkdir(ctx context.Context, name string) error {
	if err := n.client.createFolder(ctx, n.ID(), name); err != nil {
		return fmt.Errorf("failed to create folder %q: %w", name, err)
	}
	n.invalidate()
	return nil
}

// Rename changes the node's name. For files the extension is part of name.
func (n *Node) Rename(ctx context.Context, name string) error {
	d := n.snapshot()
	updated, err := n.client.renameItem(ctx, d.DrivewsID, d.Etag, name)
	if err != nil {
		return fmt.Errorf("failed to rename %q: %w", n.Name(), err)
	}
	n.mu.Lock()
	if updated.Name != "" {
		n.data.Name = updated.Name
		n.data.Extension = updated.Extension
	}
	if updated.Etag != "" {
		n.data.Etag = updated.Etag
	}
	n.mu.Unlock()
	return nil
}

// Delete moves the node to the trash.
func (n *Node) Delete(ctx context.Context) error {
	d := n.snapshot()
	if err := n.client.trashItem(ctx, d.DrivewsID, d.Etag); err != nil {
		return fmt.Errorf("failed to trash %q: %w", n.Name(), err)
	}
	return nil
}

// Open streams the file content. The caller closes the reader.
func (n *Node) Open(ctx context.Context) (io.ReadCloser, error) {
	if n.Type() != TypeFile {
		return nil, fmt.Errorf("%q is not a file", n.Name())
	}
	return n.client.download(ctx, n.DocumentID(), n.Zone())
}

func (c *Client) download(ctx context.Context, documentID, zone string) (io.ReadCloser, error) {
	resp, err := c.doer.Do(ctx, &session.Request{
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/ws/%s/download/by_id", c.documentRoot, zone),
		Params: url.Values{"document_id": []string{documentID}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request download of %s: %w", documentID, err)
	}
	var tokens struct {
		DataToken    *transferToken `json:"data_token"`
		PackageToken *transferToken `json:"package_token"`
	}
	if err := resp.DecodeJSON(&tokens); err != nil {
		return nil, err
	}

	var target string
	switch {
	case tokens.DataToken != nil && tokens.DataToken.URL != "":
		target = tokens.DataToken.URL
	case tokens.PackageToken != nil && tokens.PackageToken.URL != "":
		target = tokens.PackageToken.URL
	default:
		return nil, fmt.Errorf("download of %s returned neither data_token nor package_token", documentID)
	}

	content, err := c.doer.Do(ctx, &session.Request{Method: http.MethodGet, URL: target, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", documentID, err)
	}
	return content.Stream, nil
}
