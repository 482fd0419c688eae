package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Emberlink Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Security  SecurityConfig  `yaml:"security"`
	Audit     AuditConfig     `yaml:"audit"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AuditConfig contains audit trail retention settings.
type AuditConfig struct {
	// RetentionDays is how long audit entries are kept before the
	// retention sweep deletes them. Zero keeps them forever.
	RetentionDays int `yaml:"retention_days"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBufferSize int    `yaml:"send_buffer_size"`
}

// PairingConfig contains device pairing session settings.
type PairingConfig struct {
	// SessionTTL is how long a pairing PIN stays valid (minutes).
	SessionTTL int `yaml:"session_ttl"`

	// MaxAttempts is how many wrong PIN entries lock a session (3-5).
	MaxAttempts int `yaml:"max_attempts"`

	// SweepInterval is how often the expiry sweep runs (seconds).
	SweepInterval int `yaml:"sweep_interval"`

	// RetentionHours is how long expired/completed sessions are kept
	// before the sweep deletes them.
	RetentionHours int `yaml:"retention_hours"`
}

// SecurityConfig contains credential and rate limiting settings.
type SecurityConfig struct {
	JWT       JWTConfig         `yaml:"jwt"`
	Client    ClientTokenConfig `yaml:"client_tokens"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
}

// JWTConfig contains admin access token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// ClientTokenConfig contains paired-client credential settings.
type ClientTokenConfig struct {
	// TTLHours is the lifetime of a client credential. Paired devices keep
	// their credential until revoked, so this is long (default ~10 years).
	TTLHours int `yaml:"ttl_hours"`

	// RetentionDays is how long revoked/expired credential rows are kept
	// before the retention sweep deletes them.
	RetentionDays int `yaml:"retention_days"`
}

// RateLimitConfig contains rate limiting for the public PIN verification endpoint.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// VerifyPerHour is the maximum PIN verification attempts per source IP per hour.
	VerifyPerHour int `yaml:"verify_per_hour"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for security telemetry.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EMBERLINK_SECTION_KEY
// For example: EMBERLINK_DATABASE_PATH, EMBERLINK_JWT_SECRET
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
		Database: DatabaseConfig{
			Path:        "./data/emberlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBufferSize: 256,
		},
		Pairing: PairingConfig{
			SessionTTL:     5,
			MaxAttempts:    5,
			SweepInterval:  60,
			RetentionHours: 24,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 720, // 12 hours
			},
			Client: ClientTokenConfig{
				TTLHours:      87600, // ~10 years
				RetentionDays: 90,
			},
			RateLimit: RateLimitConfig{
				Enabled:       true,
				VerifyPerHour: 5,
			},
		},
		Audit: AuditConfig{
			RetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "emberlink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
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
// Environment variables follow the pattern: EMBERLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EMBERLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("EMBERLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("EMBERLINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("EMBERLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("EMBERLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("EMBERLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("EMBERLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Signing secret for admin tokens (IMPORTANT: always set in production)
	if v := os.Getenv("EMBERLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// minJWTSecretLength is the minimum length for the admin token signing secret.
// Credentials gate access to physical spaces, so a missing or weak secret is
// a fatal startup error, never a silent default.
const minJWTSecretLength = 32

// Pairing attempt limits. Values outside this range are a configuration error.
const (
	minPairingAttempts = 3
	maxPairingAttempts = 5
)

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Pairing.SessionTTL < 1 {
		errs = append(errs, "pairing.session_ttl must be at least 1 minute")
	}
	if c.Pairing.MaxAttempts < minPairingAttempts || c.Pairing.MaxAttempts > maxPairingAttempts {
		errs = append(errs, "pairing.max_attempts must be between 3 and 5")
	}

	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set EMBERLINK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Security.Client.TTLHours < 1 {
		errs = append(errs, "security.client_tokens.ttl_hours must be at least 1")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TTL returns the pairing session lifetime as a Duration.
func (c *PairingConfig) TTL() time.Duration {
	return time.Duration(c.SessionTTL) * time.Minute
}

// SweepEvery returns the sweep interval as a Duration.
func (c *PairingConfig) SweepEvery() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// TTL returns the admin token lifetime as a Duration.
func (c *JWTConfig) TTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Minute
}

// TTL returns the client credential lifetime as a Duration.
func (c *ClientTokenConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
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
