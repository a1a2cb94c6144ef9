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
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
session:
  ack_timeout: 2s
  backoff:
    max_attempts: 8
consoles:
  - id: living-room
    name: "Living Room"
    host: 192.168.1.50
    live_id: FD00112233445566
    enable_debug_mode: true
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
	if cfg.Session.AckTimeout != 2*time.Second {
		t.Errorf("Session.AckTimeout = %v, want 2s", cfg.Session.AckTimeout)
	}
	if cfg.Session.Backoff.MaxAttempts != 8 {
		t.Errorf("Session.Backoff.MaxAttempts = %d, want 8", cfg.Session.Backoff.MaxAttempts)
	}
	// Unset session fields keep their defaults.
	if cfg.Session.PowerOnTimeout != 30*time.Second {
		t.Errorf("Session.PowerOnTimeout = %v, want default 30s", cfg.Session.PowerOnTimeout)
	}

	con, ok := cfg.Console("living-room")
	if !ok {
		t.Fatal("Console(living-room) not found")
	}
	if con.Host != "192.168.1.50" || con.LiveID != "FD00112233445566" || !con.EnableDebugMode {
		t.Errorf("console = %+v", con)
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

func TestLoad_ConsoleTokenFromEnv(t *testing.T) {
	content := `
consoles:
  - id: den-xbox
    host: 10.0.0.9
    live_id: FD0099
`
	t.Setenv("GRAYLOGIC_CONSOLE_DEN_XBOX_USER_TOKEN", "xsts-token")
	t.Setenv("GRAYLOGIC_CONSOLE_DEN_XBOX_USER_HASH", "uhs")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	con, _ := cfg.Console("den-xbox")
	if con.UserToken != "xsts-token" || con.UserHash != "uhs" {
		t.Errorf("credentials = %q/%q, want values from environment", con.UserHash, con.UserToken)
	}
}

func validBase() *Config {
	cfg := defaultConfig()
	cfg.Consoles = []ConsoleConfig{{ID: "living-room", Host: "192.168.1.50", LiveID: "FD00"}}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "valid with jwt", mutate: func(c *Config) { c.Security.JWT.Secret = validJWTSecret }},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site.id"},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: "api.port"},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "api disabled ignores port", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: "security.jwt.secret"},
		{
			name:    "operator without hash",
			mutate:  func(c *Config) { c.Security.Operators = []OperatorConfig{{Username: "installer"}} },
			wantErr: "security.operators[0]",
		},
		{name: "nats enabled without url", mutate: func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, wantErr: "nats.url"},
		{name: "backoff multiplier below one", mutate: func(c *Config) { c.Session.Backoff.Multiplier = 0.5 }, wantErr: "multiplier"},
		{
			name: "backoff initial above max",
			mutate: func(c *Config) {
				c.Session.Backoff.InitialDelay = time.Minute
				c.Session.Backoff.MaxDelay = time.Second
			},
			wantErr: "initial_delay",
		},
		{name: "negative ack timeout", mutate: func(c *Config) { c.Session.AckTimeout = -time.Second }, wantErr: "ack_timeout"},
		{name: "console id with spaces", mutate: func(c *Config) { c.Consoles[0].ID = "Living Room" }, wantErr: "consoles[0]: id"},
		{name: "console without host", mutate: func(c *Config) { c.Consoles[0].Host = "" }, wantErr: "host is required"},
		{name: "console without live id", mutate: func(c *Config) { c.Consoles[0].LiveID = "" }, wantErr: "live_id"},
		{name: "console token without hash", mutate: func(c *Config) { c.Consoles[0].UserToken = "tok" }, wantErr: "set together"},
		{
			name:    "duplicate console id",
			mutate:  func(c *Config) { c.Consoles = append(c.Consoles, c.Consoles[0]) },
			wantErr: "duplicate id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetHealthInterval(); got != 30*time.Second {
		t.Errorf("GetHealthInterval() with unset interval = %v, want 30s", got)
	}
	cfg.MQTT.HealthInterval = 10
	if got := cfg.GetHealthInterval(); got != 10*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 10s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_API_HOST", "192.168.1.1")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_NATS_URL", "nats://bus:4222")
	t.Setenv("GRAYLOGIC_LOG_LEVEL", "debug")
	t.Setenv("GRAYLOGIC_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		name, got, want string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"NATS.URL", cfg.NATS.URL, "nats://bus:4222"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
}

func TestConsoleEnvKey(t *testing.T) {
	if got := ConsoleEnvKey("living-room"); got != "GRAYLOGIC_CONSOLE_LIVING_ROOM" {
		t.Errorf("ConsoleEnvKey() = %q", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("defaultConfig API.Port = %d, want 8090", cfg.API.Port)
	}
	if cfg.Session.Backoff.Multiplier != 1.5 || cfg.Session.Backoff.MaxAttempts != 5 {
		t.Errorf("defaultConfig backoff = %+v", cfg.Session.Backoff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
}
