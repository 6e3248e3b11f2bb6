package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration is missing required values
// or contains contradictory settings. It is fatal at startup.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the root configuration structure for the PDU bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`

	// PDUs lists every power-distribution device to expose.
	PDUs []PDUConfig `yaml:"pdus"`

	// Single-device shorthand, normalised into PDUs by Normalise.
	PDUMac       string `yaml:"pdu_mac"`
	PDUName      string `yaml:"pdu_name"`
	OutletFilter []int  `yaml:"outlet_filter"`

	Polling  PollingConfig  `yaml:"polling"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ControllerConfig contains UniFi Network controller connection settings.
type ControllerConfig struct {
	// URL is the controller base URL, e.g. "https://192.168.1.1".
	URL string `yaml:"url"`

	// APIKey enables key-based authentication. When set it takes precedence
	// over Username/Password and no login is ever performed.
	APIKey string `yaml:"api_key"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Site is the controller site name. Default: "default"
	Site string `yaml:"site"`

	// VerifyTLS toggles certificate verification. Default: true
	VerifyTLS bool `yaml:"verify_tls"`

	// Timeout bounds every controller request (seconds). Default: 10
	Timeout int `yaml:"timeout"`
}

// String returns a string representation with secrets masked.
func (c ControllerConfig) String() string {
	apiKey := ""
	if c.APIKey != "" {
		apiKey = "[REDACTED]"
	}
	password := ""
	if c.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("ControllerConfig{URL:%q, Site:%q, Username:%q, Password:%s, APIKey:%s, VerifyTLS:%t}",
		c.URL, c.Site, c.Username, password, apiKey, c.VerifyTLS)
}

// PDUConfig describes one power-distribution device.
type PDUConfig struct {
	// MAC is the device hardware address as known to the controller.
	MAC string `yaml:"mac"`

	// Name is an optional label used to prefix outlet names when more than
	// one PDU is configured.
	Name string `yaml:"name"`

	// OutletFilter is an optional allow-list of outlet indices.
	// Empty means every outlet is exposed.
	OutletFilter []int `yaml:"outlet_filter"`
}

// PollingConfig contains fixed scheduling intervals (seconds).
type PollingConfig struct {
	// TelemetryInterval is the power monitor cadence. Default: 30
	TelemetryInterval int `yaml:"telemetry_interval"`

	// DiscoveryRetry is the delay before retrying a failed discovery. Default: 5
	DiscoveryRetry int `yaml:"discovery_retry"`

	// ConfirmDelay is the wait before re-reading an outlet after a power cycle. Default: 2
	ConfirmDelay int `yaml:"confirm_delay"`

	// RediscoverInterval re-runs discovery periodically after the first
	// success. 0 disables periodic rediscovery.
	RediscoverInterval int `yaml:"rediscover_interval"`
}

// DatabaseConfig contains SQLite settings for the accessory cache.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// AuditRetention is how many days audit entries are kept. 0 keeps
	// them forever.
	AuditRetention int `yaml:"audit_retention"`
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

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	Auth      APIAuthConfig    `yaml:"auth"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APIAuthConfig contains bearer token settings. An empty secret leaves the
// API open, which suits a bridge on an isolated management network.
type APIAuthConfig struct {
	// JWTSecret signs and verifies HS256 tokens (min 32 characters).
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTL is the lifetime of issued tokens in minutes. Default: 1440
	TokenTTL int `yaml:"token_ttl"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
//  4. Normalisation of the single-PDU shorthand
//
// Environment variables follow the pattern: PDUBRIDGE_SECTION_KEY
// For example: PDUBRIDGE_CONTROLLER_API_KEY, PDUBRIDGE_MQTT_HOST
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
	cfg.Normalise()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			URL:       "https://192.168.1.1",
			Site:      "default",
			VerifyTLS: true,
			Timeout:   10,
		},
		Polling: PollingConfig{
			TelemetryInterval: 30,
			DiscoveryRetry:    5,
			ConfirmDelay:      2,
		},
		Database: DatabaseConfig{
			Path:           "./data/pdubridge.db",
			WALMode:        true,
			BusyTimeout:    5,
			AuditRetention: 90,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pdubridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8088,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: APIAuthConfig{
				TokenTTL: 1440,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
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
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("PDUBRIDGE_CONTROLLER_URL"); v != "" {
		cfg.Controller.URL = v
	}
	if v := os.Getenv("PDUBRIDGE_CONTROLLER_API_KEY"); v != "" {
		cfg.Controller.APIKey = v
	}
	if v := os.Getenv("PDUBRIDGE_CONTROLLER_USERNAME"); v != "" {
		cfg.Controller.Username = v
	}
	if v := os.Getenv("PDUBRIDGE_CONTROLLER_PASSWORD"); v != "" {
		cfg.Controller.Password = v
	}

	// Database
	if v := os.Getenv("PDUBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PDUBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PDUBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PDUBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PDUBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PDUBRIDGE_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	// InfluxDB
	if v := os.Getenv("PDUBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Normalise folds the single-PDU shorthand fields into the PDUs list and
// trims the controller URL. An explicit pdus list always wins.
func (c *Config) Normalise() {
	c.Controller.URL = strings.TrimRight(strings.TrimSpace(c.Controller.URL), "/")

	if len(c.PDUs) == 0 && c.PDUMac != "" {
		c.PDUs = []PDUConfig{{
			MAC:          c.PDUMac,
			Name:         c.PDUName,
			OutletFilter: c.OutletFilter,
		}}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: wraps ErrInvalidConfig describing every failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Controller.URL == "" {
		errs = append(errs, "controller.url is required")
	}
	if c.Controller.Site == "" {
		errs = append(errs, "controller.site is required")
	}

	// Credentials: an API key alone, or both username and password.
	if c.Controller.APIKey == "" {
		switch {
		case c.Controller.Username == "" && c.Controller.Password == "":
			errs = append(errs, "either controller.api_key or controller.username/password is required")
		case c.Controller.Username == "" || c.Controller.Password == "":
			errs = append(errs, "controller.username and controller.password must be set together")
		}
	}

	if len(c.PDUs) == 0 {
		errs = append(errs, "either pdu_mac or pdus is required")
	}
	seen := make(map[string]bool, len(c.PDUs))
	for i, pdu := range c.PDUs {
		if strings.TrimSpace(pdu.MAC) == "" {
			errs = append(errs, fmt.Sprintf("pdus[%d].mac is required", i))
			continue
		}
		key := strings.ToLower(pdu.MAC)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("pdus[%d].mac %q is duplicated", i, pdu.MAC))
		}
		seen[key] = true
		for _, idx := range pdu.OutletFilter {
			if idx < 1 {
				errs = append(errs, fmt.Sprintf("pdus[%d].outlet_filter contains invalid index %d", i, idx))
			}
		}
	}

	if c.Polling.TelemetryInterval < 1 {
		errs = append(errs, "polling.telemetry_interval must be at least 1")
	}
	if c.Polling.DiscoveryRetry < 1 {
		errs = append(errs, "polling.discovery_retry must be at least 1")
	}
	if c.Polling.ConfirmDelay < 1 {
		errs = append(errs, "polling.confirm_delay must be at least 1")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.AuditRetention < 0 {
		errs = append(errs, "database.audit_retention must not be negative")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A weak secret lets anyone forge tokens that switch outlets.
	const minJWTSecretLength = 32
	if c.API.Auth.JWTSecret != "" && len(c.API.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "api.auth.jwt_secret must be at least 32 characters")
	}
	if c.API.Auth.TokenTTL < 1 {
		errs = append(errs, "api.auth.token_ttl must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// RequestTimeout returns the controller request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Controller.Timeout) * time.Second
}

// TelemetryInterval returns the power monitor cadence as a Duration.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Polling.TelemetryInterval) * time.Second
}

// DiscoveryRetry returns the discovery retry delay as a Duration.
func (c *Config) DiscoveryRetry() time.Duration {
	return time.Duration(c.Polling.DiscoveryRetry) * time.Second
}

// ConfirmDelay returns the post-cycle confirmation delay as a Duration.
func (c *Config) ConfirmDelay() time.Duration {
	return time.Duration(c.Polling.ConfirmDelay) * time.Second
}

// RediscoverInterval returns the periodic rediscovery interval (0 = disabled).
func (c *Config) RediscoverInterval() time.Duration {
	return time.Duration(c.Polling.RediscoverInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// TokenTTL returns the lifetime of issued API tokens as a Duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.API.Auth.TokenTTL) * time.Minute
}

// AuditRetention returns how long audit entries are kept. Zero means
// forever.
func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.Database.AuditRetention) * 24 * time.Hour
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
