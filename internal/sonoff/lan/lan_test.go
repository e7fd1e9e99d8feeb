package lan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/transformer"
)

type fakeBrowser struct {
	mu      sync.Mutex
	entries []*zeroconf.ServiceEntry
	calls   int
}

func (b *fakeBrowser) Browse(ctx context.Context, _, _ string, ch chan<- *zeroconf.ServiceEntry) error {
	b.mu.Lock()
	b.calls++
	entries := append([]*zeroconf.ServiceEntry(nil), b.entries...)
	b.mu.Unlock()

	go func() {
		for _, e := range entries {
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func entry(instance, ip string, text ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: ServiceName, Domain: "local"},
		HostName:      instance + ".local.",
		Port:          8081,
		Text:          text,
	}
	if ip != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	}
	return e
}

func TestParseEntry(t *testing.T) {
	c := New(Options{})
	c.RegisterDeviceKey("1000aaa002", "secret")

	iv, err := transformer.RandomIV()
	require.NoError(t, err)
	cipher, err := transformer.Encrypt(`{"switch":"on"}`, "secret", iv)
	require.NoError(t, err)

	tests := []struct {
		name      string
		entry     *zeroconf.ServiceEntry
		wantOK    bool
		wantData  map[string]any
		encrypted bool
	}{
		{
			name:     "plain",
			entry:    entry("eWeLink_1000aaa001", "192.168.1.20", "id=1000aaa001", "type=plug", "seq=3", `data1={"switch":"off"}`),
			wantOK:   true,
			wantData: map[string]any{"switch": "off"},
		},
		{
			name: "split data",
			entry: entry("eWeLink_1000aaa001", "192.168.1.20", "id=1000aaa001", "type=plug", "seq=3",
				`data1={"switch":`, `data2="on"}`),
			wantOK:   true,
			wantData: map[string]any{"switch": "on"},
		},
		{
			name: "encrypted with key",
			entry: entry("eWeLink_1000aaa002", "192.168.1.21", "id=1000aaa002", "type=plug", "seq=1",
				"encrypt=true", "iv="+iv, "data1="+cipher),
			wantOK:    true,
			wantData:  map[string]any{"switch": "on"},
			encrypted: true,
		},
		{
			name: "encrypted without key",
			entry: entry("eWeLink_1000aaa003", "192.168.1.22", "id=1000aaa003", "type=plug", "seq=1",
				"encrypt=true", "iv="+iv, "data1="+cipher),
			wantOK:    true,
			encrypted: true,
		},
		{
			name:  "foreign instance",
			entry: entry("printer on desk", "192.168.1.30", "id=x", "type=x", "seq=1", "data1={}"),
		},
		{
			name:  "missing id",
			entry: entry("eWeLink_1000aaa004", "192.168.1.23", "type=plug", "seq=1", "data1={}"),
		},
		{
			name:  "no address",
			entry: entry("eWeLink_1000aaa005", "", "id=1000aaa005", "type=plug", "seq=1", "data1={}"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := c.parseEntry(tt.entry)
			assert.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.encrypted, ev.Encrypted)
			assert.Equal(t, tt.wantData, ev.Data)
			assert.Equal(t, 8081, ev.Port)
		})
	}
}

func TestDiscover(t *testing.T) {
	b := &fakeBrowser{entries: []*zeroconf.ServiceEntry{
		entry("eWeLink_1000aaa001", "192.168.1.20", "id=1000aaa001", "type=plug", "seq=1", "data1={}"),
		entry("eWeLink_1000aaa002", "192.168.1.21", "id=1000aaa002", "type=strip", "seq=1", "data1={}"),
	}}
	c := New(Options{Browser: b})

	found, err := c.Discover(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, Address{IPAddress: "192.168.1.21", Domain: "eWeLink_1000aaa002.local.", Port: 8081}, found["1000aaa002"])
}

func TestConnectDeliversEvents(t *testing.T) {
	b := &fakeBrowser{entries: []*zeroconf.ServiceEntry{
		entry("eWeLink_1000aaa001", "192.168.1.20", "id=1000aaa001", "type=plug", "seq=7", `data1={"switch":"on"}`),
	}}
	c := New(Options{Browser: b, BrowseInterval: 50 * time.Millisecond})

	events := make(chan Event, 8)
	c.SetOnMessage(func(ev Event) { events <- ev })

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())

	select {
	case ev := <-events:
		assert.Equal(t, "1000aaa001", ev.ID)
		assert.Equal(t, "7", ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	c.Disconnect()
	assert.False(t, c.IsConnected())
}

func deviceServer(t *testing.T, handler http.HandlerFunc) (string, int) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func readRequest(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload
}

func TestGetDeviceInfo(t *testing.T) {
	var got map[string]any
	ip, port := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/zeroconf/info", r.URL.Path)
		got = readRequest(t, r)
		_, _ = w.Write([]byte(`{"seq":2,"error":0,"data":{"switch":"on","deviceid":"1000aaa001","signalStrength":-55,"fwVersion":"3.5.0"}}`))
	})

	c := New(Options{})
	info, err := c.GetDeviceInfo(context.Background(), "1000aaa001", ip, port)
	require.NoError(t, err)

	assert.Equal(t, "1000aaa001", got["deviceid"])
	assert.Equal(t, "123", got["selfApikey"])
	assert.NotContains(t, got, "encrypt")

	assert.Equal(t, "1000aaa001", info.DeviceID)
	assert.Equal(t, "3.5.0", info.FirmwareVersion)
	require.NotNil(t, info.RSSI)
	assert.Equal(t, -55, *info.RSSI)
	assert.Equal(t, float64(-55), info.Params["rssi"])
	assert.NotContains(t, info.Params, "signalStrength")
}

func TestGetDeviceInfoEncrypted(t *testing.T) {
	ip, port := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := readRequest(t, r)
		assert.Equal(t, true, req["encrypt"])

		plain, err := transformer.Decrypt(req["data"].(string), "secret", req["iv"].(string))
		assert.NoError(t, err)
		assert.Equal(t, "{}", plain)

		iv, _ := transformer.RandomIV()
		data, _ := transformer.Encrypt(`{"switch":"off"}`, "secret", iv)
		_ = json.NewEncoder(w).Encode(map[string]any{"seq": 1, "error": 0, "encrypt": true, "iv": iv, "data": data})
	})

	c := New(Options{})
	c.RegisterDeviceKey("1000aaa002", "secret")

	info, err := c.GetDeviceInfo(context.Background(), "1000aaa002", ip, port)
	require.NoError(t, err)
	assert.Equal(t, "off", info.Params["switch"])
}

func TestSetDeviceState(t *testing.T) {
	outlet := 2

	tests := []struct {
		name     string
		group    string
		outlet   *int
		wantPath string
		wantData map[string]any
	}{
		{
			name:     "single parameter",
			wantPath: "/zeroconf/switch",
			wantData: map[string]any{"switch": "on"},
		},
		{
			name:     "outlet group",
			group:    "switches",
			outlet:   &outlet,
			wantPath: "/zeroconf/switches",
			wantData: map[string]any{"switches": []any{map[string]any{"switch": "on", "outlet": float64(2)}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, port := deviceServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wantPath, r.URL.Path)
				assert.True(t, r.Close)
				assert.Equal(t, tt.wantData, readRequest(t, r)["data"])
				_, _ = w.Write([]byte(`{"seq":3,"error":0}`))
			})

			c := New(Options{})
			err := c.SetDeviceState(context.Background(), "1000aaa001", ip, port, "switch", "on", tt.group, tt.outlet)
			require.NoError(t, err)
		})
	}
}

func TestDeviceErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantAPI  bool
	}{
		{"unauthorized", `{"seq":1,"error":401}`, 401, false},
		{"invalid parameter", `{"seq":1,"error":422}`, 422, false},
		{"malformed", `{"seq":"x"}`, 0, true},
		{"not json", `<html>`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, port := deviceServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			c := New(Options{})
			_, err := c.GetDeviceInfo(context.Background(), "1000aaa001", ip, port)
			require.Error(t, err)

			if tt.wantAPI {
				var apiErr *APIError
				assert.True(t, errors.As(err, &apiErr), "error %v is not *APIError", err)
				return
			}

			var callErr *APICallError
			require.True(t, errors.As(err, &callErr), "error %v is not *APICallError", err)
			assert.Equal(t, tt.wantCode, callErr.Code)
			assert.True(t, IsIgnorable(callErr.Code))
		})
	}
}

func TestTransportError(t *testing.T) {
	c := New(Options{HTTPClient: &http.Client{Timeout: 200 * time.Millisecond}})
	_, err := c.GetDeviceInfo(context.Background(), "1000aaa001", "127.0.0.1", 1)

	var callErr *APICallError
	require.True(t, errors.As(err, &callErr))
	assert.Zero(t, callErr.Code)
	assert.False(t, IsIgnorable(callErr.Code))
}

func TestIsIgnorable(t *testing.T) {
	for code, want := range map[int]bool{400: true, 401: true, 404: true, 422: true, 0: false, 500: false, 403: false} {
		assert.Equal(t, want, IsIgnorable(code), "code %d", code)
	}
}
