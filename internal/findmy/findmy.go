// Package findmy locates devices and sends them alerts through the device
// locator service.
package findmy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"icloudgo/internal/session"
)

// Defaults for the alert operations.
const (
	DefaultSubject     = "Find My iPhone Alert"
	DefaultMessage     = "This is a note"
	DefaultLostMessage = "This iPhone has been lost. Please call me."
)

// ErrNoDevices is returned when the account has no locatable devices.
var ErrNoDevices = errors.New("no devices found for this account")

// ErrNoLocation is returned when a device reports no position.
var ErrNoLocation = errors.New("device location unavailable")

// Client talks to the device locator service. Devices are keyed by id and
// keep their identity across refreshes.
type Client struct {
	doer       session.Doer
	endpoint   string
	withFamily bool

	mu      sync.Mutex
	devices map[string]*Device
	order   []string
}

// New returns a client rooted at serviceRoot. Family devices are included
// when withFamily is set.
func New(doer session.Doer, serviceRoot string, withFamily bool) *Client {
	return &Client{
		doer:       doer,
		endpoint:   strings.TrimRight(serviceRoot, "/") + "/fmipservice/client/web",
		withFamily: withFamily,
		devices:    make(map[string]*Device),
	}
}

// Refresh reloads every device from the service.
func (c *Client) Refresh(ctx context.Context) error {
	body := map[string]any{
		"clientContext": map[string]any{
			"fmly":              c.withFamily,
			"shouldLocate":      true,
			"selectedDevice":    "all",
			"deviceListVersion": 1,
		},
	}
	resp, err := c.doer.Do(ctx, &session.Request{Method: http.MethodPost, URL: c.endpoint + "/refreshClient", Body: body})
	if err != nil {
		return fmt.Errorf("failed to refresh devices: %w", err)
	}
	var out struct {
		Content []map[string]any `json:"content"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, content := range out.Content {
		id, _ := content["id"].(string)
		if id == "" {
			continue
		}
		if d, ok := c.devices[id]; ok {
			d.update(content)
			continue
		}
		c.devices[id] = &Device{client: c, content: content}
		c.order = append(c.order, id)
	}
	if len(c.devices) == 0 {
		return ErrNoDevices
	}
	return nil
}

// Devices returns the known devices in first-seen order, refreshing once if
// none have been loaded yet.
func (c *Client) Devices(ctx context.Context) ([]*Device, error) {
	c.mu.Lock()
	loaded := len(c.devices) > 0
	c.mu.Unlock()
	if !loaded {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	devices := make([]*Device, 0, len(c.order))
	for _, id := range c.order {
		devices = append(devices, c.devices[id])
	}
	return devices, nil
}

// Device returns the device with the given id or, failing that, the first
// device whose name matches.
func (c *Client) Device(ctx context.Context, key string) (*Device, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.ID() == key {
			return d, nil
		}
	}
	for _, d := range devices {
		if d.Name() == key {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no device %q", key)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	if _, err := c.doer.Do(ctx, &session.Request{Method: http.MethodPost, URL: c.endpoint + path, Body: body}); err != nil {
		return err
	}
	return nil
}

// Location is a reported device position.
type Location struct {
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	HorizontalAccuracy float64 `json:"horizontalAccuracy"`
	PositionType       string  `json:"positionType"`
	TimeStamp          int64   `json:"timeStamp"`
	IsOld              bool    `json:"isOld"`
	IsInaccurate       bool    `json:"isInaccurate"`
	LocationFinished   bool    `json:"locationFinished"`
}

// Time returns the time the position was recorded.
func (l *Location) Time() time.Time { return time.UnixMilli(l.TimeStamp).UTC() }

// Device is a locatable device. Its content is replaced on every refresh.
type Device struct {
	client *Client

	mu      sync.Mutex
	content map[string]any
}

func (d *Device) update(content map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = content
}

// Content returns a copy of the raw device record.
func (d *Device) Content() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.content)
}

func (d *Device) str(key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, _ := d.content[key].(string)
	return s
}

// ID returns the device id.
func (d *Device) ID() string { return d.str("id") }

// Name returns the user assigned name.
func (d *Device) Name() string { return d.str("name") }

// DisplayName returns the model name, e.g. "iPhone 11".
func (d *Device) DisplayName() string { return d.str("deviceDisplayName") }

// Location refreshes the device list and returns the device's position.
func (d *Device) Location(ctx context.Context) (*Location, error) {
	if err := d.client.Refresh(ctx); err != nil {
		return nil, err
	}
	raw, ok := d.Content()["location"]
	if !ok || raw == nil {
		return nil, ErrNoLocation
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, fmt.Errorf("invalid location: %w", err)
	}
	return &loc, nil
}

// Status refreshes the device list and returns the battery level, display
// name, status and name of the device plus any additional fields asked for.
func (d *Device) Status(ctx context.Context, additional ...string) (map[string]any, error) {
	if err := d.client.Refresh(ctx); err != nil {
		return nil, err
	}
	content := d.Content()
	fields := append([]string{"batteryLevel", "deviceDisplayName", "deviceStatus", "name"}, additional...)
	status := make(map[string]any, len(fields))
	for _, f := range fields {
		status[f] = content[f]
	}
	return status, nil
}

// PlaySound makes the device play an alert. An empty subject uses
// DefaultSubject.
func (d *Device) PlaySound(ctx context.Context, subject string) error {
	if subject == "" {
		subject = DefaultSubject
	}
	err := d.client.post(ctx, "/playSound", map[string]any{
		"device":        d.ID(),
		"subject":       subject,
		"clientContext": map[string]any{"fmly": true},
	})
	if err != nil {
		return fmt.Errorf("failed to play sound on %s: %w", d.Name(), err)
	}
	return nil
}

// DisplayMessage shows a message on the device, optionally with a sound.
func (d *Device) DisplayMessage(ctx context.Context, subject, message string, sound bool) error {
	if subject == "" {
		subject = DefaultSubject
	}
	if message == "" {
		message = DefaultMessage
	}
	err := d.client.post(ctx, "/sendMessage", map[string]any{
		"device":   d.ID(),
		"subject":  subject,
		"sound":    sound,
		"userText": true,
		"text":     message,
	})
	if err != nil {
		return fmt.Errorf("failed to display message on %s: %w", d.Name(), err)
	}
	return nil
}

// LostMode locks the device and shows text with a number to call. A new
// passcode is set when one is given.
func (d *Device) LostMode(ctx context.Context, number, text, passcode string) error {
	if text == "" {
		text = DefaultLostMessage
	}
	err := d.client.post(ctx, "/lostDevice", map[string]any{
		"text":            text,
		"userText":        true,
		"ownerNbr":        number,
		"lostModeEnabled": true,
		"trackingEnabled": true,
		"device":          d.ID(),
		"passcode":        passcode,
	})
	if err != nil {
		return fmt.Errorf("failed to enable lost mode on %s: %w", d.Name(), err)
	}
	return nil
}
