package findmy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icloudgo/internal/session"
)

type fakeLocator struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	devices  []map[string]any
	requests map[string][]map[string]any
}

func newFakeLocator(t *testing.T) *fakeLocator {
	f := &fakeLocator{
		t:        t,
		requests: make(map[string][]map[string]any),
		devices: []map[string]any{
			{
				"id": "dev-1", "name": "Jane's iPhone", "deviceDisplayName": "iPhone 11",
				"deviceStatus": "200", "batteryLevel": 0.5, "modelDisplayName": "iPhone",
				"location": map[string]any{
					"latitude": 48.85, "longitude": 2.35, "horizontalAccuracy": 65.0,
					"positionType": "Wifi", "timeStamp": 1600000000000, "isOld": false, "locationFinished": true,
				},
			},
			{"id": "dev-2", "name": "MacBook", "deviceDisplayName": "MacBook Pro 15\"", "deviceStatus": "201", "location": nil},
		},
	}
	mux := http.NewServeMux()
	for _, path := range []string{"refreshClient", "playSound", "sendMessage", "lostDevice"} {
		mux.HandleFunc("POST /findme/fmipservice/client/web/"+path, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.mu.Lock()
			f.requests[path] = append(f.requests[path], body)
			devices := f.devices
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			if path == "refreshClient" {
				_ = json.NewEncoder(w).Encode(map[string]any{"content": devices})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"statusCode": "200"})
		})
	}
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeLocator) last(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.requests[path]
	require.NotEmpty(f.t, list, path)
	return list[len(list)-1]
}

func (f *fakeLocator) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests[path])
}

func newClient(t *testing.T, f *fakeLocator, withFamily bool) *Client {
	t.Helper()
	store, err := session.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	tr, err := session.New("user@example.com", store)
	require.NoError(t, err)
	return New(tr, f.server.URL+"/findme", withFamily)
}

func TestRefresh_SendsClientContext(t *testing.T) {
	f := newFakeLocator(t)
	client := newClient(t, f, true)

	require.NoError(t, client.Refresh(context.Background()))
	cc := f.last("refreshClient")["clientContext"].(map[string]any)
	assert.Equal(t, true, cc["fmly"])
	assert.Equal(t, true, cc["shouldLocate"])
	assert.Equal(t, "all", cc["selectedDevice"])
	assert.Equal(t, float64(1), cc["deviceListVersion"])

	client = newClient(t, f, false)
	require.NoError(t, client.Refresh(context.Background()))
	cc = f.last("refreshClient")["clientContext"].(map[string]any)
	assert.Equal(t, false, cc["fmly"])
}

func TestDevices_KeepIdentityAcrossRefresh(t *testing.T) {
	f := newFakeLocator(t)
	client := newClient(t, f, true)
	ctx := context.Background()

	devices, err := client.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "dev-1", devices[0].ID())
	assert.Equal(t, "Jane's iPhone", devices[0].Name())
	assert.Equal(t, "iPhone 11", devices[0].DisplayName())

	f.mu.Lock()
	f.devices[0]["name"] = "Renamed"
	f.mu.Unlock()
	require.NoError(t, client.Refresh(ctx))

	again, err := client.Devices(ctx)
	require.NoError(t, err)
	assert.Same(t, devices[0], again[0])
	assert.Equal(t, "Renamed", again[0].Name())
	assert.Equal(t, 2, f.count("refreshClient"))
}

func TestDevices_NoDevices(t *testing.T) {
	f := newFakeLocator(t)
	f.devices = nil
	client := newClient(t, f, true)

	_, err := client.Devices(context.Background())
	assert.ErrorIs(t, err, ErrNoDevices)
}

func TestDevice_Lookup(t *testing.T) {
	f := newFakeLocator(t)
	client := newClient(t, f, true)
	ctx := context.Background()

	d, err := client.Device(ctx, "dev-2")
	require.NoError(t, err)
	assert.Equal(t, "MacBook", d.Name())

	d, err = client.Device(ctx, "Jane's iPhone")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", d.ID())

	_, err = client.Device(ctx, "nope")
	assert.Error(t, err)
}

func TestDevice_Location(t *testing.T) {
	f := newFakeLocator(t)
	client := newClient(t, f, true)
	ctx := context.Background()

	phone, err := client.Device(ctx, "dev-1")
	require.NoError(t, err)
	loc, err := phone.Location(ctx)
	require.NoError(t, err)
	assert.Equal(t, 48.85, loc.Latitude)
	assert.Equal(t, 2.35, loc.Longitude)
	assert.Equal(t, "Wifi", loc.PositionType)
	assert.Equal(t, time.UnixMilli(1600000000000).UTC(), loc.Time())
	assert.Equal(t, 2, f.count("refreshClient"))

	mac, err := client.Device(ctx, "dev-2")
	require.NoError(t, err)
	_, err = mac.Location(ctx)
	assert.ErrorIs(t, err, ErrNoLocation)
}

func TestDevice_Status(t *testing.T) {
	f := newFakeLocator(t)
	client := newClient(t, f, true)
	ctx := context.Background()

	phone, err := client.Device(ctx, "dev-1")
	require.NoError(t, err)
	status, err := phone.Status(ctx, "modelDisplayName")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"batteryLevel":      0.5,
		"deviceDisplayName": "iPhone 11",
		"deviceStatus":      "200",
		"name":              "Jane's iPhone",
		"modelDisplayName":  "iPhone",
	}, status)
}

func TestDevice_Alerts(t *testing.T) {
	f := newFakeLocator(t)
	client := newClient(t, f, true)
	ctx := context.Background()

	phone, err := client.Device(ctx, "dev-1")
	require.NoError(t, err)

	require.NoError(t, phone.PlaySound(ctx, ""))
	sound := f.last("playSound")
	assert.Equal(t, "dev-1", sound["device"])
	assert.Equal(t, DefaultSubject, sound["subject"])
	assert.Equal(t, map[string]any{"fmly": true}, sound["clientContext"])

	require.NoError(t, phone.DisplayMessage(ctx, "Hi", "Call home", true))
	msg := f.last("sendMessage")
	assert.Equal(t, "Hi", msg["subject"])
	assert.Equal(t, "Call home", msg["text"])
	assert.Equal(t, true, msg["sound"])
	assert.Equal(t, true, msg["userText"])

	require.NoError(t, phone.LostMode(ctx, "555-0100", "", "1234"))
	lost := f.last("lostDevice")
	assert.Equal(t, "555-0100", lost["ownerNbr"])
	assert.Equal(t, DefaultLostMessage, lost["text"])
	assert.Equal(t, "1234", lost["passcode"])
	assert.Equal(t, true, lost["lostModeEnabled"])
	assert.Equal(t, true, lost["trackingEnabled"])
}
