package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SessionConfig represents queue and session coordination configuration
type SessionConfig struct {
	// CostCredits is debited per session; 1 credit = $0.01
	CostCredits int64 `yaml:"cost_credits"`

	// DurationSeconds is the session length once movement is detected
	DurationSeconds int `yaml:"duration_seconds"`

	// HeartbeatOnline is the maximum heartbeat age for a rig to count as online
	HeartbeatOnline time.Duration `yaml:"heartbeat_online"`

	// MovementGrace is how long a seated session may wait for movement
	// before it is force-completed with a refund
	MovementGrace time.Duration `yaml:"movement_grace"`

	// HeartbeatGrace is how long a stale heartbeat is tolerated while a
	// session is outstanding before the session is failed
	HeartbeatGrace time.Duration `yaml:"heartbeat_grace"`

	// SweepInterval is how often the timeout sweep runs
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// CommandPollBatch bounds how many pending commands one agent poll returns
	CommandPollBatch int `yaml:"command_poll_batch"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// setDefaults fills in defaults for unset values
func (c *Config) setDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}

	if c.Session.CostCredits == 0 {
		c.Session.CostCredits = 100
	}
	if c.Session.DurationSeconds == 0 {
		c.Session.DurationSeconds = 60
	}
	if c.Session.HeartbeatOnline == 0 {
		c.Session.HeartbeatOnline = 60 * time.Second
	}
	if c.Session.MovementGrace == 0 {
		c.Session.MovementGrace = 30 * time.Second
	}
	if c.Session.HeartbeatGrace == 0 {
		c.Session.HeartbeatGrace = 90 * time.Second
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = 5 * time.Second
	}
	if c.Session.CommandPollBatch == 0 {
		c.Session.CommandPollBatch = 10
	}
}
