package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the serial bus service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig      `yaml:"site"`
	Database DatabaseConfig  `yaml:"database"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	InfluxDB InfluxDBConfig  `yaml:"influxdb"`
	Logging  LoggingConfig   `yaml:"logging"`
	Serial   SerialConfig    `yaml:"serial"`
	Handlers []HandlerConfig `yaml:"handlers"`
	Security SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	// HistoryRetentionDays bounds the state history table. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SerialConfig contains settings shared by all serial handlers.
type SerialConfig struct {
	// Pattern is the glob used to discover endpoints, e.g. "/dev/*ACM*".
	Pattern  string `yaml:"pattern"`
	BaudRate int    `yaml:"baud_rate"`

	// FrameTimeoutMS is the budget for one complete reply.
	FrameTimeoutMS int `yaml:"frame_timeout_ms"`
	// PollIntervalMS is the backoff between empty reads.
	PollIntervalMS int `yaml:"poll_interval_ms"`
	// DrainTimeoutMS bounds input draining before a retry.
	DrainTimeoutMS int `yaml:"drain_timeout_ms"`
	// Retries bounds the handshake and each command exchange.
	Retries int `yaml:"retries"`
}

// HandlerConfig declares one device handler.
type HandlerConfig struct {
	ID      string `yaml:"id"`
	Profile string `yaml:"profile"`
	// Pattern overrides serial.pattern for this handler.
	Pattern string `yaml:"pattern,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	Sensitivity SensitivityConfig `yaml:"sensitivity"`
}

// SensitivityConfig holds the trust thresholds for command classes.
// A threshold of 0 disables the class.
type SensitivityConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	// DefaultTrust is used for requests that carry no trust level.
	DefaultTrust int `yaml:"default_trust"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_SERIAL_PATTERN
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
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:                 "./data/serialbus.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-serialbus",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Serial: SerialConfig{
			Pattern:        "/dev/*ACM*",
			BaudRate:       9600,
			FrameTimeoutMS: 1000,
			PollIntervalMS: 50,
			DrainTimeoutMS: 100,
			Retries:        5,
		},
		Security: SecurityConfig{
			Sensitivity: SensitivityConfig{
				Read:  1,
				Write: 1,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Serial
	if v := os.Getenv("GRAYLOGIC_SERIAL_PATTERN"); v != "" {
		cfg.Serial.Pattern = v
	}
}

// knownProfiles lists the handler profiles the service can build.
var knownProfiles = map[string]bool{
	"uk1104": true,
	"piko55": true,
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	errs = append(errs, c.Serial.validate("serial.pattern")...)

	seen := make(map[string]bool)
	for i, h := range c.Handlers {
		field := fmt.Sprintf("handlers[%d]", i)
		switch {
		case h.ID == "":
			errs = append(errs, field+".id is required")
		case strings.ContainsAny(h.ID, "/#+"):
			errs = append(errs, field+".id must not contain MQTT wildcards or '/'")
		case seen[h.ID]:
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", field, h.ID))
		}
		seen[h.ID] = true

		if !knownProfiles[h.Profile] {
			errs = append(errs, fmt.Sprintf("%s.profile %q is not a known profile", field, h.Profile))
		}
		if h.Pattern != "" {
			if _, err := filepath.Match(h.Pattern, ""); err != nil {
				errs = append(errs, field+".pattern is not a valid glob")
			}
		}
	}

	if c.Security.Sensitivity.Read < 0 || c.Security.Sensitivity.Write < 0 {
		errs = append(errs, "security.sensitivity thresholds must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (s SerialConfig) validate(field string) []string {
	var errs []string
	if s.Pattern == "" {
		errs = append(errs, field+" is required")
	} else if _, err := filepath.Match(s.Pattern, ""); err != nil {
		errs = append(errs, field+" is not a valid glob")
	}
	if s.BaudRate <= 0 {
		errs = append(errs, "serial.baud_rate must be positive")
	}
	if s.FrameTimeoutMS <= 0 || s.PollIntervalMS <= 0 {
		errs = append(errs, "serial.frame_timeout_ms and serial.poll_interval_ms must be positive")
	} else if s.PollIntervalMS > s.FrameTimeoutMS {
		errs = append(errs, "serial.poll_interval_ms must not exceed serial.frame_timeout_ms")
	}
	if s.Retries < 1 {
		errs = append(errs, "serial.retries must be at least 1")
	}
	return errs
}

// EnabledHandlers returns the handlers with enabled set.
func (c *Config) EnabledHandlers() []HandlerConfig {
	var out []HandlerConfig
	for _, h := range c.Handlers {
		if h.Enabled {
			out = append(out, h)
		}
	}
	return out
}

// PatternFor returns the discovery pattern for a handler.
func (c *Config) PatternFor(h HandlerConfig) string {
	if h.Pattern != "" {
		return h.Pattern
	}
	return c.Serial.Pattern
}

// FrameTimeout returns the frame budget as a Duration.
func (s SerialConfig) FrameTimeout() time.Duration {
	return time.Duration(s.FrameTimeoutMS) * time.Millisecond
}

// PollInterval returns the read backoff as a Duration.
func (s SerialConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

// DrainTimeout returns the drain budget as a Duration.
func (s SerialConfig) DrainTimeout() time.Duration {
	return time.Duration(s.DrainTimeoutMS) * time.Millisecond
}
