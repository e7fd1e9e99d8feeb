package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Cloud.Username = "user@example.com"
	cfg.Cloud.Password = "secret"
	cfg.Cloud.AppID = "app-id"
	cfg.Cloud.AppSecret = "app-secret"
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
connector:
  id: "living-room"
  mode: "cloud"
cloud:
  username: "user@example.com"
  password: "secret"
  app_id: "app-id"
  app_secret: "app-secret"
  region: "us"
  transport_error_codes: [500, 503]
polling:
  heartbeat_delay: 4000
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
writer:
  kind: "exchange"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Connector.ID != "living-room" {
		t.Errorf("Connector.ID = %q, want %q", cfg.Connector.ID, "living-room")
	}
	if cfg.Cloud.Region != "us" {
		t.Errorf("Cloud.Region = %q, want %q", cfg.Cloud.Region, "us")
	}
	if len(cfg.Cloud.TransportErrorCodes) != 2 {
		t.Errorf("Cloud.TransportErrorCodes = %v, want 2 codes", cfg.Cloud.TransportErrorCodes)
	}
	if got := cfg.GetHeartbeatDelay(); got != 4*time.Second {
		t.Errorf("GetHeartbeatDelay() = %v, want 4s", got)
	}
	// Unset values keep their defaults.
	if got := cfg.GetStateReadingDelay(); got != 5*time.Second {
		t.Errorf("GetStateReadingDelay() = %v, want 5s", got)
	}
	if cfg.Writer.Kind != "exchange" {
		t.Errorf("Writer.Kind = %q, want %q", cfg.Writer.Kind, "exchange")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
connector:
  id: "living-room"
  mode: "cloud"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for missing cloud credentials, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing connector ID", mutate: func(c *Config) { c.Connector.ID = "" }, wantErr: true},
		{name: "unknown mode", mutate: func(c *Config) { c.Connector.Mode = "zigbee" }, wantErr: true},
		{name: "gateway mode accepted", mutate: func(c *Config) { c.Connector.Mode = "gateway" }, wantErr: false},
		{
			name: "lan mode without cloud credentials",
			mutate: func(c *Config) {
				c.Connector.Mode = "lan"
				c.Cloud = CloudConfig{Region: "eu"}
			},
			wantErr: false,
		},
		{name: "cloud mode without password", mutate: func(c *Config) { c.Cloud.Password = "" }, wantErr: true},
		{name: "cloud mode without app secret", mutate: func(c *Config) { c.Cloud.AppSecret = "" }, wantErr: true},
		{name: "invalid region", mutate: func(c *Config) { c.Cloud.Region = "mars" }, wantErr: true},
		{name: "zero heartbeat delay", mutate: func(c *Config) { c.Polling.HeartbeatDelay = 0 }, wantErr: true},
		{name: "unknown writer", mutate: func(c *Config) { c.Writer.Kind = "event" }, wantErr: true},
		{name: "exchange writer without MQTT", mutate: func(c *Config) { c.Writer.Kind = "exchange" }, wantErr: true},
		{
			name: "exchange writer with MQTT",
			mutate: func(c *Config) {
				c.Writer.Kind = "exchange"
				c.MQTT.Enabled = true
			},
			wantErr: false,
		},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{
			name: "invalid port when API enabled",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 70000
			},
			wantErr: true,
		},
		{name: "port ignored when API disabled", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := defaultConfig()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"heartbeat delay", cfg.GetHeartbeatDelay(), 2500 * time.Millisecond},
		{"state reading delay", cfg.GetStateReadingDelay(), 5 * time.Second},
		{"call timeout", cfg.GetCallTimeout(), 10 * time.Second},
		{"lan http timeout", cfg.GetLanHTTPTimeout(), 10 * time.Second},
		{"browse interval", cfg.GetBrowseInterval(), 30 * time.Second},
		{"discovery lan timeout", cfg.GetDiscoveryLanTimeout(), 60 * time.Second},
		{"read timeout", cfg.GetReadTimeout(), 30 * time.Second},
		{"write timeout", cfg.GetWriteTimeout(), 30 * time.Second},
		{"idle timeout", cfg.GetIdleTimeout(), 60 * time.Second},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("SONOFF_CONNECTOR_MODE", "lan")
	t.Setenv("SONOFF_CLOUD_USERNAME", "env-user")
	t.Setenv("SONOFF_CLOUD_PASSWORD", "env-pass")
	t.Setenv("SONOFF_CLOUD_REGION", "as")
	t.Setenv("SONOFF_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SONOFF_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SONOFF_API_PORT", "9000")
	t.Setenv("SONOFF_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Connector.Mode != "lan" {
		t.Errorf("Connector.Mode = %q, want %q", cfg.Connector.Mode, "lan")
	}
	if cfg.Cloud.Username != "env-user" || cfg.Cloud.Password != "env-pass" {
		t.Errorf("Cloud credentials = %q/%q, want env-user/env-pass", cfg.Cloud.Username, cfg.Cloud.Password)
	}
	if cfg.Cloud.Region != "as" {
		t.Errorf("Cloud.Region = %q, want %q", cfg.Cloud.Region, "as")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Connector.Mode != "auto" {
		t.Errorf("defaultConfig Connector.Mode = %q, want auto", cfg.Connector.Mode)
	}
	if cfg.Writer.Kind != "periodic" {
		t.Errorf("defaultConfig Writer.Kind = %q, want periodic", cfg.Writer.Kind)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Enabled {
		t.Error("defaultConfig should not enable MQTT")
	}
}
