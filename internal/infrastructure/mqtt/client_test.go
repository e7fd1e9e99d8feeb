package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration pointing at a port nothing
// listens on, so tests never need a broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "sonoff-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestConnectRequiresConnector(t *testing.T) {
	_, err := Connect(testConfig(), "")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClientID(t *testing.T) {
	cfg := testConfig()
	if got := clientID(cfg, "living-room"); got != "sonoff-test" {
		t.Errorf("clientID() = %q, want configured sonoff-test", got)
	}

	cfg.Broker.ClientID = ""
	if got := clientID(cfg, "living-room"); got != "sonoff-living-room" {
		t.Errorf("clientID() = %q, want sonoff-living-room", got)
	}
}

func TestZeroClient(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for an unconnected client")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() with cancelled context error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{subs: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidMessage},
		{"invalid qos", "sonoff/v1/test", []byte("x"), 3, ErrInvalidMessage},
		{"payload too large", "sonoff/v1/test", make([]byte, maxPayloadSize+1), 1, ErrInvalidMessage},
		{"not connected", "sonoff/v1/test", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{subs: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, handler, ErrInvalidMessage},
		{"invalid qos", "sonoff/v1/#", 3, handler, ErrInvalidMessage},
		{"nil handler", "sonoff/v1/#", 1, nil, ErrInvalidMessage},
		{"not connected", "sonoff/v1/#", 1, handler, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if subs := client.Subscriptions(); len(subs) != 0 {
		t.Errorf("Subscriptions() = %v, want none after failed subscribes", subs)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := &Client{subs: make(map[string]subscription)}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidMessage", err)
	}
	if err := client.Unsubscribe("sonoff/v1/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestForget(t *testing.T) {
	client := &Client{subs: map[string]subscription{
		"sonoff/v1/a": {qos: 1},
		"sonoff/v1/b": {qos: 0},
	}}

	client.forget("sonoff/v1/a")
	client.forget("sonoff/v1/missing")

	subs := client.Subscriptions()
	if len(subs) != 1 || subs[0] != "sonoff/v1/b" {
		t.Errorf("Subscriptions() = %v, want [sonoff/v1/b]", subs)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "user", Password: "pass"}
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.Username != "user" || opts.Password != "pass" {
		t.Errorf("credentials = %q/%q, want user/pass", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Error("TLS config not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Errorf("AutoReconnect = %v, CleanSession = %v, want both true", opts.AutoReconnect, opts.CleanSession)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
}

func TestBrokerURL(t *testing.T) {
	if got := brokerURL(config.MQTTBrokerConfig{Host: "broker", Port: 1883}); got != "tcp://broker:1883" {
		t.Errorf("brokerURL() = %q, want tcp://broker:1883", got)
	}
}

func TestStatusPayload(t *testing.T) {
	client := &Client{connector: "living-room", clientID: "client-\"1"}

	var status Status
	if err := json.Unmarshal(client.status(StatusOnline, ""), &status); err != nil {
		t.Fatalf("status payload is not JSON: %v", err)
	}
	if status.State != StatusOnline || status.Connector != "living-room" || status.ClientID != "client-\"1" {
		t.Errorf("status = %+v", status)
	}
	if status.Timestamp.IsZero() {
		t.Error("status timestamp not set")
	}

	var raw map[string]any
	if err := json.Unmarshal(client.status(StatusOnline, ""), &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["reason"]; ok {
		t.Error("empty reason should be omitted")
	}
}

func TestConfigureLWT(t *testing.T) {
	client := &Client{connector: "living-room", clientID: "sonoff-test"}
	opts := buildClientOptions(testConfig())
	topic := Topics{}.ConnectorStatus("living-room")

	configureLWT(opts, topic, client.status(StatusOffline, "connection_lost"))

	if !opts.WillEnabled || opts.WillTopic != topic || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will = enabled:%v topic:%q retained:%v qos:%d", opts.WillEnabled, opts.WillTopic, opts.WillRetained, opts.WillQos)
	}

	var status Status
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if status.State != StatusOffline || status.Reason != "connection_lost" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestConnectionLostCallback(t *testing.T) {
	client := &Client{}
	client.connected.Store(true)

	var got error
	client.SetOnDisconnect(func(err error) { got = err })

	lost := errors.New("broker went away")
	client.handleConnectionLost(lost)

	if client.connected.Load() {
		t.Error("connection flag still set after connection loss")
	}
	if !errors.Is(got, lost) {
		t.Errorf("disconnect callback error = %v, want %v", got, lost)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ConnectorStatus", topics.ConnectorStatus("living-room"), "sonoff/v1/connector/living-room/status"},
		{"ConnectorHealth", topics.ConnectorHealth("living-room"), "sonoff/v1/connector/living-room/health"},
		{"PropertyExchange", topics.PropertyExchange("living-room", "p-1"), "sonoff/v1/exchange/property/living-room/p-1"},
		{"AllPropertyExchange", topics.AllPropertyExchange(), "sonoff/v1/exchange/property/#"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestParsePropertyExchange(t *testing.T) {
	tests := []struct {
		topic         string
		wantConnector string
		wantProperty  string
		wantOK        bool
	}{
		{"sonoff/v1/exchange/property/living-room/p-1", "living-room", "p-1", true},
		{"sonoff/v1/exchange/property/living-room", "", "", false},
		{"sonoff/v1/exchange/property/living-room/p-1/extra", "", "", false},
		{"sonoff/v1/connector/living-room/status", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			connector, property, ok := Topics{}.ParsePropertyExchange(tt.topic)
			if connector != tt.wantConnector || property != tt.wantProperty || ok != tt.wantOK {
				t.Errorf("ParsePropertyExchange(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, connector, property, ok, tt.wantConnector, tt.wantProperty, tt.wantOK)
			}
		})
	}
}

func TestWrapHandlerRecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	client := &Client{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error { panic("boom") })
	wrapped(nil, fakeMessage{topic: "sonoff/v1/test"})

	if logger.errors != 1 {
		t.Errorf("logged errors = %d, want 1", logger.errors)
	}

	wrapped = client.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })
	wrapped(nil, fakeMessage{topic: "sonoff/v1/test"})

	if logger.warns != 1 {
		t.Errorf("logged warnings = %d, want 1", logger.warns)
	}
}

type recordingLogger struct {
	errors int
	warns  int
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Error(string, ...any) { l.errors++ }
func (l *recordingLogger) Warn(string, ...any)  { l.warns++ }

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
