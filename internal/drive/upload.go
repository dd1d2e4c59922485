package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"time"

	"icloudgo/internal/session"
)

var tokenPattern = regexp.MustCompile(`\bt=([^:]+)`)

// ErrNoUploadToken is returned when the validation cookie is missing.
var ErrNoUploadToken = errors.New("upload token cookie not found")

type uploadTarget struct {
	DocumentID string `json:"document_id"`
	URL        string `json:"url"`
}

type uploadReceipt struct {
	SingleFile struct {
		FileChecksum      string `json:"fileChecksum"`
		WrappingKey       string `json:"wrappingKey"`
		ReferenceChecksum string `json:"referenceChecksum"`
		Size              int64  `json:"size"`
		Receipt           string `json:"receipt"`
	} `json:"singleFile"`
}

func (c *Client) uploadToken() (string, error) {
	if c.cookies == nil {
		return "", ErrNoUploadToken
	}
	value, ok := c.cookies.Value(validateCookie)
	if !ok {
		return "", ErrNoUploadToken
	}
	m := tokenPattern.FindStringSubmatch(value)
	if m == nil {
		return "", ErrNoUploadToken
	}
	return m[1], nil
}

// Upload stores content as a new file called name inside folder n.
func (n *Node) Upload(ctx context.Context, name string, content io.Reader, size int64) error {
	if !n.IsFolder() {
		return fmt.Errorf("%q is not a folder", n.Name())
	}
	if err := n.client.upload(ctx, n.DocumentID(), n.Zone(), name, content, size); err != nil {
		return fmt.Errorf("failed to upload %q: %w", name, err)
	}
	n.invalidate()
	return nil
}

func (c *Client) upload(ctx context.Context, folderID, zone, name string, content io.Reader, size int64) error {
	token, err := c.uploadToken()
	if err != nil {
		return err
	}
	params := url.Values{"token": []string{token}}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var raw json.RawMessage
	err = c.postText(ctx, fmt.Sprintf("%s/ws/%s/upload/web", c.documentRoot, zone), params, map[string]any{
		"filename":     name,
		"type":         "FILE",
		"content_type": contentType,
		"size":         size,
	}, &raw)
	if err != nil {
		return err
	}
	target, err := decodeUploadTarget(raw)
	if err != nil {
		return err
	}

	receipt, err := c.sendContent(ctx, target.URL, name, content)
	if err != nil {
		return err
	}

	data := map[string]any{
		"signature":           receipt.SingleFile.FileChecksum,
		"wrapping_key":        receipt.SingleFile.WrappingKey,
		"reference_signature": receipt.SingleFile.ReferenceChecksum,
		"size":                receipt.SingleFile.Size,
	}
	if receipt.SingleFile.Receipt != "" {
		data["receipt"] = receipt.SingleFile.Receipt
	}
	now := time.Now().UnixMilli()
	return c.postText(ctx, fmt.Sprintf("%s/ws/%s/update/documents", c.documentRoot, zone), params, map[string]any{
		"data":              data,
		"command":           "add_file",
		"create_short_guid": true,
		"document_id":       target.DocumentID,
		"path":              map[string]string{"starting_document_id": folderID, "path": name},
		"allow_conflict":    true,
		"file_flags":        map[string]bool{"is_writable": true, "is_executable": false, "is_hidden": false},
		"mtime":             now,
		"btime":             now,
	}, nil)
}

// decodeUploadTarget accepts both the list and the object form of the
// upload URL response.
func decodeUploadTarget(raw json.RawMessage) (uploadTarget, error) {
	var target uploadTarget
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []uploadTarget
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return target, fmt.Errorf("invalid upload URL response: %w", err)
		}
		if len(list) == 0 {
			return target, errors.New("empty upload URL response")
		}
		target = list[0]
	} else if err := json.Unmarshal(trimmed, &target); err != nil {
		return target, fmt.Errorf("invalid upload URL response: %w", err)
	}
	if target.URL == "" || target.DocumentID == "" {
		return target, errors.New("upload URL response lacks url or document_id")
	}
	return target, nil
}

func (c *Client) sendContent(ctx context.Context, target, name string, content io.Reader) (*uploadReceipt, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(name, name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	resp, err := c.doer.Do(ctx, &session.Request{
		Method:   http.MethodPost,
		URL:      target,
		Body:     buf.Bytes(),
		Header:   http.Header{"Content-Type": []string{w.FormDataContentType()}},
		NoParams: true,
	})
	if err != nil {
		return nil, err
	}
	var receipt uploadReceipt
	if err := resp.DecodeJSON(&receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}
