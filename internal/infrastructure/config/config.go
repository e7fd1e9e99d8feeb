package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Sonoff connector.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Connector ConnectorConfig `yaml:"connector"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Lan       LanConfig       `yaml:"lan"`
	Polling   PollingConfig   `yaml:"polling"`
	Writer    WriterConfig    `yaml:"writer"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ConnectorConfig identifies the connector instance and its transport.
type ConnectorConfig struct {
	// ID is the connector identifier. Devices are stored under it.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Mode is one of "lan", "cloud", "auto" or "gateway".
	Mode string `yaml:"mode"`
}

// CloudConfig contains eWeLink account and application credentials.
type CloudConfig struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`

	// Region is one of "cn", "us", "eu" or "as".
	Region string `yaml:"region"`

	// CallTimeout bounds socket request/response round trips (seconds).
	CallTimeout int `yaml:"call_timeout"`

	// TransportErrorCodes lists cloud error codes treated as transport
	// failures (device goes disconnected) rather than protocol errors
	// (device goes to alert). Empty uses the built-in table.
	TransportErrorCodes []int `yaml:"transport_error_codes"`
}

// LanConfig contains local network settings.
type LanConfig struct {
	// HTTPTimeout bounds /zeroconf calls (seconds).
	HTTPTimeout int `yaml:"http_timeout"`

	// BrowseInterval restarts the mDNS browse so re-announced devices are
	// reported again (seconds).
	BrowseInterval int `yaml:"browse_interval"`
}

// PollingConfig contains default per-device read intervals in milliseconds.
// Devices can override them with the heartbeat_delay and
// state_reading_delay variable properties.
type PollingConfig struct {
	HeartbeatDelay    int `yaml:"heartbeat_delay"`
	StateReadingDelay int `yaml:"state_reading_delay"`
}

// WriterConfig selects how pending property writes are detected in
// standalone mode.
type WriterConfig struct {
	// Kind is "periodic" or "exchange". Daemon mode always uses "event".
	Kind string `yaml:"kind"`
}

// DiscoveryConfig contains discovery settings.
type DiscoveryConfig struct {
	// LanTimeout is how long local broadcasts are collected (seconds).
	LanTimeout int `yaml:"lan_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the operations HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SONOFF_SECTION_KEY
// For example: SONOFF_CLOUD_PASSWORD, SONOFF_CONNECTOR_MODE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Connector: ConnectorConfig{
			ID:   "sonoff",
			Name: "Sonoff",
			Mode: "auto",
		},
		Cloud: CloudConfig{
			Region:      "eu",
			CallTimeout: 10,
		},
		Lan: LanConfig{
			HTTPTimeout:    10,
			BrowseInterval: 30,
		},
		Polling: PollingConfig{
			HeartbeatDelay:    2500,
			StateReadingDelay: 5000,
		},
		Writer: WriterConfig{
			Kind: "periodic",
		},
		Discovery: DiscoveryConfig{
			LanTimeout: 60,
		},
		Database: DatabaseConfig{
			Path:        "./data/sonoff.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sonoff-connector",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SONOFF_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Connector
	if v := os.Getenv("SONOFF_CONNECTOR_ID"); v != "" {
		cfg.Connector.ID = v
	}
	if v := os.Getenv("SONOFF_CONNECTOR_MODE"); v != "" {
		cfg.Connector.Mode = v
	}

	// Cloud credentials (keep secrets out of the file)
	if v := os.Getenv("SONOFF_CLOUD_USERNAME"); v != "" {
		cfg.Cloud.Username = v
	}
	if v := os.Getenv("SONOFF_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("SONOFF_CLOUD_APP_ID"); v != "" {
		cfg.Cloud.AppID = v
	}
	if v := os.Getenv("SONOFF_CLOUD_APP_SECRET"); v != "" {
		cfg.Cloud.AppSecret = v
	}
	if v := os.Getenv("SONOFF_CLOUD_REGION"); v != "" {
		cfg.Cloud.Region = v
	}

	// Database
	if v := os.Getenv("SONOFF_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SONOFF_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SONOFF_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SONOFF_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SONOFF_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SONOFF_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("SONOFF_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Connector.ID == "" {
		errs = append(errs, "connector.id is required")
	}
	switch c.Connector.Mode {
	case "lan", "cloud", "auto", "gateway":
	default:
		errs = append(errs, "connector.mode must be lan, cloud, auto or gateway")
	}

	// Every mode but lan talks to the cloud, and discovery always does.
	if c.Connector.Mode != "lan" {
		if c.Cloud.Username == "" || c.Cloud.Password == "" {
			errs = append(errs, "cloud.username and cloud.password are required (set SONOFF_CLOUD_USERNAME / SONOFF_CLOUD_PASSWORD)")
		}
		if c.Cloud.AppID == "" || c.Cloud.AppSecret == "" {
			errs = append(errs, "cloud.app_id and cloud.app_secret are required")
		}
	}
	switch c.Cloud.Region {
	case "cn", "us", "eu", "as":
	default:
		errs = append(errs, "cloud.region must be cn, us, eu or as")
	}

	if c.Polling.HeartbeatDelay <= 0 || c.Polling.StateReadingDelay <= 0 {
		errs = append(errs, "polling delays must be positive")
	}

	switch c.Writer.Kind {
	case "periodic":
	case "exchange":
		if !c.MQTT.Enabled {
			errs = append(errs, "writer.kind exchange requires mqtt.enabled")
		}
	default:
		errs = append(errs, "writer.kind must be periodic or exchange")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHeartbeatDelay returns the default information read interval.
func (c *Config) GetHeartbeatDelay() time.Duration {
	return time.Duration(c.Polling.HeartbeatDelay) * time.Millisecond
}

// GetStateReadingDelay returns the default state read interval.
func (c *Config) GetStateReadingDelay() time.Duration {
	return time.Duration(c.Polling.StateReadingDelay) * time.Millisecond
}

// GetCallTimeout returns the cloud socket call timeout.
func (c *Config) GetCallTimeout() time.Duration {
	return time.Duration(c.Cloud.CallTimeout) * time.Second
}

// GetLanHTTPTimeout returns the LAN HTTP client timeout.
func (c *Config) GetLanHTTPTimeout() time.Duration {
	return time.Duration(c.Lan.HTTPTimeout) * time.Second
}

// GetBrowseInterval returns the mDNS browse round length.
func (c *Config) GetBrowseInterval() time.Duration {
	return time.Duration(c.Lan.BrowseInterval) * time.Second
}

// GetDiscoveryLanTimeout returns how long discovery listens for broadcasts.
func (c *Config) GetDiscoveryLanTimeout() time.Duration {
	return time.Duration(c.Discovery.LanTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
