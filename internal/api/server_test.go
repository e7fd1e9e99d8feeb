package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/connector"
	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/device/devicetest"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/config"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/influxdb"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/logging"
)

// stubConnector serves a fixed entity and statistics.
type stubConnector struct {
	entity *device.Connector
	stats  connector.HealthStats
}

func (c *stubConnector) Entity(context.Context) (*device.Connector, error) { return c.entity, nil }

func (c *stubConnector) Stats(context.Context) connector.HealthStats { return c.stats }

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	srv    *Server
	router http.Handler
	repo   *device.SQLiteRepository
	states *device.StateStore
	dev    *device.Device
	relay  *device.Property
	rssi   *device.Property
}

// newTestEnv seeds a connector with one device, a settable relay channel
// property and a read-only rssi property.
func newTestEnv(t *testing.T, checks map[string]HealthChecker) *testEnv {
	t.Helper()

	repo := devicetest.OpenRepository(t)
	states := device.NewStateStore()
	entity := devicetest.SeedConnector(t, repo, "sonoff")
	entity.Mode = "lan"

	dev := devicetest.SeedDevice(t, repo, entity.ID, "1000aa")
	ch := devicetest.SeedChannel(t, repo, dev.ID, "switch_0")
	relay := devicetest.SeedProperty(t, repo, &device.Property{
		DeviceID: dev.ID, ChannelID: ch.ID, Identifier: "switch",
		Kind: device.KindDynamic, DataType: device.DataTypeSwitch, Settable: true, Queryable: true,
	})
	rssi := devicetest.SeedProperty(t, repo, &device.Property{
		DeviceID: dev.ID, Identifier: "rssi",
		Kind: device.KindDynamic, DataType: device.DataTypeInt, Queryable: true,
	})

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:     logging.Discard(),
		Connector:  &stubConnector{entity: entity, stats: connector.HealthStats{Running: true, Devices: 1}},
		Repository: repo,
		States:     states,
		Checks:     checks,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:    srv,
		router: srv.Handler(),
		repo:   repo,
		states: states,
		dev:    dev,
		relay:  relay,
		rssi:   rssi,
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t, map[string]HealthChecker{
		"database": checkFunc(func(context.Context) error { return nil }),
	})

	w := env.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	decode(t, w, &resp)

	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if resp.Connector != "sonoff" || resp.Mode != "lan" {
		t.Errorf("connector = %q/%q, want sonoff/lan", resp.Connector, resp.Mode)
	}
	if !resp.Statistics.Running || resp.Statistics.Devices != 1 {
		t.Errorf("statistics = %+v", resp.Statistics)
	}
	if resp.Components["database"] != "ok" {
		t.Errorf("database component = %q, want ok", resp.Components["database"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t, map[string]HealthChecker{
		"database": checkFunc(func(context.Context) error { return nil }),
		"mqtt":     checkFunc(func(context.Context) error { return errors.New("mqtt health check: not connected") }),
	})

	w := env.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Components["mqtt"] != "mqtt health check: not connected" {
		t.Errorf("mqtt component = %q", resp.Components["mqtt"])
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestErrorBodyCarriesRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/missing", nil)
	req.Header.Set("X-Request-ID", "client-456")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	var apiErr Error
	decode(t, w, &apiErr)
	if apiErr.Code != "device_not_found" || apiErr.RequestID != "client-456" {
		t.Errorf("error body = %+v", apiErr)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	env := newTestEnv(t, nil)

	h := env.srv.requestIDMiddleware(env.srv.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var apiErr Error
	decode(t, w, &apiErr)
	if apiErr.Code != "internal_error" || apiErr.RequestID == "" {
		t.Errorf("error body = %+v", apiErr)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Device Endpoint Tests ─────────────────────────────────────────

func TestListDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.states.SetConnectionState(context.Background(), env.dev.ID, device.StateConnected); err != nil {
		t.Fatalf("SetConnectionState: %v", err)
	}

	w := env.do(http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Devices []DeviceSummary `json:"devices"`
		Count   int             `json:"count"`
	}
	decode(t, w, &resp)

	if resp.Count != 1 || len(resp.Devices) != 1 {
		t.Fatalf("count = %d, devices = %d, want 1", resp.Count, len(resp.Devices))
	}
	if resp.Devices[0].Identifier != "1000aa" {
		t.Errorf("identifier = %q, want 1000aa", resp.Devices[0].Identifier)
	}
	if resp.Devices[0].State != device.StateConnected {
		t.Errorf("state = %q, want connected", resp.Devices[0].State)
	}
}

func TestGetDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.states.WriteState(context.Background(), env.relay.ID,
		device.WithActual(true), device.WithValid(true)); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	w := env.do(http.MethodGet, "/api/v1/devices/"+env.dev.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var detail DeviceDetail
	decode(t, w, &detail)

	if detail.ID != env.dev.ID {
		t.Errorf("id = %q, want %q", detail.ID, env.dev.ID)
	}
	if len(detail.Properties) != 1 || detail.Properties[0].Identifier != "rssi" {
		t.Fatalf("device properties = %+v, want rssi", detail.Properties)
	}
	if len(detail.Channels) != 1 || len(detail.Channels[0].Properties) != 1 {
		t.Fatalf("channels = %+v, want one channel with one property", detail.Channels)
	}

	relay := detail.Channels[0].Properties[0]
	if relay.State == nil || relay.State.Actual != true || !relay.State.Valid {
		t.Errorf("relay state = %+v, want valid actual=true", relay.State)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/v1/devices/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetDevice_ForeignConnector(t *testing.T) {
	env := newTestEnv(t, nil)
	other := devicetest.SeedConnector(t, env.repo, "other")
	foreign := devicetest.SeedDevice(t, env.repo, other.ID, "2000aa")

	w := env.do(http.MethodGet, "/api/v1/devices/"+foreign.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Write Request Tests ───────────────────────────────────────────

func TestSetExpected(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPut, "/api/v1/properties/"+env.relay.ID+"/expected", `{"value": "on"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	st, err := env.states.ReadState(context.Background(), env.relay.ID)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if st.Expected != "on" {
		t.Errorf("expected = %v, want on", st.Expected)
	}
	if !st.Pending.IsTrue() {
		t.Errorf("pending = %v, want true", st.Pending)
	}
}

func TestSetExpected_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		property func(e *testEnv) string
		body     string
		want     int
	}{
		{"unknown property", func(*testEnv) string { return "nonexistent" }, `{"value": 1}`, http.StatusNotFound},
		{"read-only property", func(e *testEnv) string { return e.rssi.ID }, `{"value": 1}`, http.StatusConflict},
		{"invalid json", func(e *testEnv) string { return e.relay.ID }, `{"value":`, http.StatusBadRequest},
		{"missing value", func(e *testEnv) string { return e.relay.ID }, `{}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			w := env.do(http.MethodPut, "/api/v1/properties/"+tt.property(env)+"/expected", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}

			var apiErr Error
			decode(t, w, &apiErr)
			if apiErr.Status != tt.want || apiErr.Message == "" {
				t.Errorf("error body = %+v", apiErr)
			}

			st, _ := env.states.ReadState(context.Background(), env.relay.ID)
			if st.Expected != nil {
				t.Errorf("expected = %v, want untouched state", st.Expected)
			}
		})
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.pool = func() sql.DBStats { return sql.DBStats{OpenConnections: 1, WaitCount: 3} }
	env.srv.history = func() influxdb.Stats { return influxdb.Stats{Queued: 7, Dropped: 1} }

	w := env.do(http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var metrics Metrics
	decode(t, w, &metrics)
	if metrics.Version != "test" {
		t.Errorf("version = %q, want test", metrics.Version)
	}
	if metrics.Runtime.Goroutines == 0 {
		t.Error("expected goroutine count")
	}
	if metrics.Runtime.GoVersion == "" || metrics.Uptime == "" {
		t.Errorf("runtime = %+v, uptime = %q", metrics.Runtime, metrics.Uptime)
	}
	if metrics.Database == nil || metrics.Database.Open != 1 || metrics.Database.WaitCount != 3 {
		t.Errorf("database = %+v", metrics.Database)
	}
	if metrics.History == nil || metrics.History.Queued != 7 || metrics.History.Dropped != 1 {
		t.Errorf("history = %+v", metrics.History)
	}
	if !metrics.Connector.Running {
		t.Error("expected running connector")
	}
}

func TestMetrics_WithoutOptionalSections(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if strings.Contains(body, `"database"`) || strings.Contains(body, `"history"`) {
		t.Errorf("optional sections present without sources: %s", body)
	}
}

// ─── Server Lifecycle Tests ────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	addr := env.srv.Addr()
	if addr == "" {
		t.Fatal("expected listen address")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	if _, err := client.Get("http://" + addr + "/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestNew_MissingDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("expected error without logger")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("expected error without connector")
	}
}
