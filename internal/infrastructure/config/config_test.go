package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
serial:
  pattern: "/dev/ttyACM*"
  frame_timeout_ms: 800
handlers:
  - id: relays
    profile: uk1104
    enabled: true
  - id: inverter
    profile: piko55
    pattern: "/dev/ttyUSB*"
    enabled: false
security:
  sensitivity:
    read: 10
    write: 50
    default_trust: 20
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Serial.Pattern != "/dev/ttyACM*" {
		t.Errorf("Serial.Pattern = %q", cfg.Serial.Pattern)
	}
	if cfg.Serial.FrameTimeout() != 800*time.Millisecond {
		t.Errorf("FrameTimeout() = %v, want 800ms", cfg.Serial.FrameTimeout())
	}
	// Unset serial keys keep their defaults.
	if cfg.Serial.PollInterval() != 50*time.Millisecond {
		t.Errorf("PollInterval() = %v, want default 50ms", cfg.Serial.PollInterval())
	}
	if cfg.Serial.Retries != 5 {
		t.Errorf("Serial.Retries = %d, want default 5", cfg.Serial.Retries)
	}
	if len(cfg.Handlers) != 2 {
		t.Fatalf("Handlers = %d, want 2", len(cfg.Handlers))
	}
	enabled := cfg.EnabledHandlers()
	if len(enabled) != 1 || enabled[0].ID != "relays" {
		t.Errorf("EnabledHandlers() = %+v", enabled)
	}
	if got := cfg.PatternFor(cfg.Handlers[1]); got != "/dev/ttyUSB*" {
		t.Errorf("PatternFor(inverter) = %q", got)
	}
	if got := cfg.PatternFor(cfg.Handlers[0]); got != "/dev/ttyACM*" {
		t.Errorf("PatternFor(relays) = %q", got)
	}
	if cfg.Security.Sensitivity.Write != 50 || cfg.Security.Sensitivity.DefaultTrust != 20 {
		t.Errorf("Sensitivity = %+v", cfg.Security.Sensitivity)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
database:
  path: "/tmp/test.db"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Handlers = []HandlerConfig{{ID: "relays", Profile: "uk1104", Enabled: true}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site.id"},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "influx without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: "influxdb.url"},
		{name: "empty pattern", mutate: func(c *Config) { c.Serial.Pattern = "" }, wantErr: "serial.pattern"},
		{name: "bad pattern", mutate: func(c *Config) { c.Serial.Pattern = "/dev/[" }, wantErr: "valid glob"},
		{name: "zero retries", mutate: func(c *Config) { c.Serial.Retries = 0 }, wantErr: "serial.retries"},
		{name: "poll above timeout", mutate: func(c *Config) { c.Serial.PollIntervalMS = 2000 }, wantErr: "poll_interval_ms"},
		{name: "zero baud", mutate: func(c *Config) { c.Serial.BaudRate = 0 }, wantErr: "baud_rate"},
		{
			name:    "unknown profile",
			mutate:  func(c *Config) { c.Handlers[0].Profile = "x10" },
			wantErr: "not a known profile",
		},
		{
			name:    "missing handler id",
			mutate:  func(c *Config) { c.Handlers[0].ID = "" },
			wantErr: "handlers[0].id",
		},
		{
			name:    "wildcard handler id",
			mutate:  func(c *Config) { c.Handlers[0].ID = "relays/#" },
			wantErr: "wildcards",
		},
		{
			name: "duplicate handler id",
			mutate: func(c *Config) {
				c.Handlers = append(c.Handlers, HandlerConfig{ID: "relays", Profile: "piko55"})
			},
			wantErr: "duplicated",
		},
		{
			name:    "negative threshold",
			mutate:  func(c *Config) { c.Security.Sensitivity.Write = -1 },
			wantErr: "sensitivity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_SERIAL_PATTERN", "/dev/ttyUSB*")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Serial.Pattern != "/dev/ttyUSB*" {
		t.Errorf("Serial.Pattern = %q, want %q", cfg.Serial.Pattern, "/dev/ttyUSB*")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate: %v", err)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Serial.Pattern != "/dev/*ACM*" {
		t.Errorf("defaultConfig Serial.Pattern = %q", cfg.Serial.Pattern)
	}
	if cfg.Serial.FrameTimeout() != time.Second || cfg.Serial.DrainTimeout() != 100*time.Millisecond {
		t.Errorf("defaultConfig serial timings = %+v", cfg.Serial)
	}
}
