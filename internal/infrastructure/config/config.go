package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the console bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	NATS      NATSConfig      `yaml:"nats"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Session   SessionConfig   `yaml:"session"`
	Consoles  []ConsoleConfig `yaml:"consoles"`
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

	// HistoryRetentionDays bounds the console state history. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// HealthInterval is how often the bridge health report is published, in seconds.
	HealthInterval int `yaml:"health_interval"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains the live event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// NATSConfig contains the NATS event stream settings.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Name          string `yaml:"name"`
	CredsFile     string `yaml:"creds_file"`
	MaxReconnects int    `yaml:"max_reconnects"`
	ReconnectWait int    `yaml:"reconnect_wait"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig        `yaml:"jwt"`
	Operators []OperatorConfig `yaml:"operators"`
}

// JWTConfig contains JWT token settings. An empty secret disables API auth.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// OperatorConfig is an API account allowed to log in.
// PasswordHash is an Argon2id PHC string.
type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// SessionConfig holds the protocol timings shared by every console session.
type SessionConfig struct {
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	PowerOnTimeout     time.Duration `yaml:"power_on_timeout"`
	WakeRepeats        int           `yaml:"wake_repeats"`
	WakeInterval       time.Duration `yaml:"wake_interval"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	AckTimeout         time.Duration `yaml:"ack_timeout"`
	ChannelOpenTimeout time.Duration `yaml:"channel_open_timeout"`
	DeviceInfoTimeout  time.Duration `yaml:"device_info_timeout"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`

	// PresenceInterval is how often an idle console is retried so that a
	// console switched on by hand is picked up without a power-on request.
	PresenceInterval time.Duration `yaml:"presence_interval"`

	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig controls reconnection after a lost session.
type BackoffConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// ConsoleConfig describes one managed console.
type ConsoleConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	LiveID string `yaml:"live_id"`

	// UserHash and UserToken authenticate the session. Both empty means anonymous.
	UserHash  string `yaml:"user_hash"`
	UserToken string `yaml:"user_token"`

	DisableLogInfo  bool `yaml:"disable_log_info"`
	EnableDebugMode bool `yaml:"enable_debug_mode"`

	// MQTTPrefix replaces the default telemetry topic prefix for this console.
	MQTTPrefix string `yaml:"mqtt_prefix"`
}

// consoleIDPattern keeps ids usable as MQTT topic levels and URL segments.
var consoleIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_NATS_URL.
// Console credentials use GRAYLOGIC_CONSOLE_<ID>_USER_TOKEN and _USER_HASH,
// with the id upper-cased and dashes replaced by underscores.
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
			Path:                 "./data/graylogic-xbox.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-xbox",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			// Write must outlast a synchronous power-on request.
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 90,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "graylogic.xbox",
			Name:          "graylogic-xbox",
			MaxReconnects: -1,
			ReconnectWait: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
		Session: SessionConfig{
			ConnectTimeout:     10 * time.Second,
			PowerOnTimeout:     30 * time.Second,
			WakeRepeats:        5,
			WakeInterval:       200 * time.Millisecond,
			PollInterval:       time.Second,
			AckTimeout:         3 * time.Second,
			ChannelOpenTimeout: 5 * time.Second,
			DeviceInfoTimeout:  5 * time.Second,
			HeartbeatInterval:  5 * time.Second,
			IdleTimeout:        15 * time.Second,
			PresenceInterval:   30 * time.Second,
			Backoff: BackoffConfig{
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   1.5,
				MaxAttempts:  5,
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

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// NATS
	if v := os.Getenv("GRAYLOGIC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Console credentials never need to live in the file.
	for i := range cfg.Consoles {
		c := &cfg.Consoles[i]
		key := ConsoleEnvKey(c.ID)
		if v := os.Getenv(key + "_USER_TOKEN"); v != "" {
			c.UserToken = v
		}
		if v := os.Getenv(key + "_USER_HASH"); v != "" {
			c.UserHash = v
		}
	}
}

// ConsoleEnvKey returns the environment variable prefix for a console id.
func ConsoleEnvKey(id string) string {
	return "GRAYLOGIC_CONSOLE_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

// Validate checks the configuration for errors and security issues.
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

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required when nats is enabled")
	}

	// An empty secret leaves the API open on a trusted network; a short one
	// would let tokens for console power control be forged.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	for i, op := range c.Security.Operators {
		if op.Username == "" || op.PasswordHash == "" {
			errs = append(errs, fmt.Sprintf("security.operators[%d]: username and password_hash are required", i))
		}
	}

	errs = append(errs, c.Session.validate()...)

	seen := make(map[string]bool, len(c.Consoles))
	for i, con := range c.Consoles {
		errs = append(errs, con.validate(i)...)
		if seen[con.ID] {
			errs = append(errs, fmt.Sprintf("consoles[%d]: duplicate id %q", i, con.ID))
		}
		seen[con.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (s SessionConfig) validate() []string {
	var errs []string
	durations := map[string]time.Duration{
		"connect_timeout":      s.ConnectTimeout,
		"power_on_timeout":     s.PowerOnTimeout,
		"ack_timeout":          s.AckTimeout,
		"channel_open_timeout": s.ChannelOpenTimeout,
		"device_info_timeout":  s.DeviceInfoTimeout,
	}
	for name, d := range durations {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("session.%s must not be negative", name))
		}
	}
	if s.Backoff.Multiplier != 0 && s.Backoff.Multiplier < 1 {
		errs = append(errs, "session.backoff.multiplier must be at least 1")
	}
	if s.Backoff.MaxDelay > 0 && s.Backoff.InitialDelay > s.Backoff.MaxDelay {
		errs = append(errs, "session.backoff.initial_delay must not exceed max_delay")
	}
	return errs
}

func (c ConsoleConfig) validate(i int) []string {
	var errs []string
	if !consoleIDPattern.MatchString(c.ID) {
		errs = append(errs, fmt.Sprintf("consoles[%d]: id %q must be lowercase alphanumeric with - or _", i, c.ID))
	}
	if c.Host == "" {
		errs = append(errs, fmt.Sprintf("consoles[%d]: host is required", i))
	}
	if c.LiveID == "" {
		errs = append(errs, fmt.Sprintf("consoles[%d]: live_id is required", i))
	}
	if (c.UserHash == "") != (c.UserToken == "") {
		errs = append(errs, fmt.Sprintf("consoles[%d]: user_hash and user_token must be set together", i))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("consoles[%d]: port must be between 1 and 65535", i))
	}
	return errs
}

// Console returns the console with the given id.
func (c *Config) Console(id string) (ConsoleConfig, bool) {
	for _, con := range c.Consoles {
		if con.ID == id {
			return con, true
		}
	}
	return ConsoleConfig{}, false
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

// GetHealthInterval returns the bridge health report interval.
func (c *Config) GetHealthInterval() time.Duration {
	if c.MQTT.HealthInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.MQTT.HealthInterval) * time.Second
}
