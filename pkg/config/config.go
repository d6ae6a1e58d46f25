// Package config loads relay configuration from the environment and
// optionally from a YAML file. Environment variables always win over
// file values.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by all validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Defaults.
const (
	DefaultDBPath        = "simbridge.db"
	DefaultListenAddr    = ":8080"
	DefaultRetentionDays = 90
)

// Config holds the relay process configuration.
type Config struct {
	// TokenSecret signs bearer tokens. Required; the process refuses
	// to start without it.
	TokenSecret string `yaml:"token_secret"`

	// FederatedClientID is the Google OAuth client id. When empty,
	// federated login is disabled and /auth/google returns 501.
	FederatedClientID string `yaml:"federated_client_id"`

	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`

	// LogRetentionDays bounds message-log age; older rows are purged
	// at startup.
	LogRetentionDays int `yaml:"log_retention_days"`

	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// TraceFile is the CBOR frame-trace output path. Empty disables
	// tracing.
	TraceFile string `yaml:"trace_file"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		DBPath:           DefaultDBPath,
		LogRetentionDays: DefaultRetentionDays,
		ListenAddr:       DefaultListenAddr,
	}
}

// Load builds a configuration from defaults overridden by the
// environment.
func Load() (Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile builds a configuration from defaults, the YAML file at
// path, then the environment, in that precedence order.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("TOKEN_SECRET"); v != "" {
		c.TokenSecret = v
	}
	if v := os.Getenv("FEDERATED_CLIENT_ID"); v != "" {
		c.FederatedClientID = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("TRACE_FILE"); v != "" {
		c.TraceFile = v
	}
	if v := os.Getenv("LOG_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: LOG_RETENTION_DAYS: %v", ErrInvalidConfig, err)
		}
		c.LogRetentionDays = days
	}
	return nil
}

// Validate checks the configuration for startup.
func (c Config) Validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("%w: TOKEN_SECRET is required", ErrInvalidConfig)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: DB_PATH must not be empty", ErrInvalidConfig)
	}
	if c.LogRetentionDays <= 0 {
		return fmt.Errorf("%w: LOG_RETENTION_DAYS must be positive", ErrInvalidConfig)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: LISTEN_ADDR %q: %v", ErrInvalidConfig, c.ListenAddr, err)
	}
	return nil
}

// FederatedEnabled reports whether federated login is configured.
func (c Config) FederatedEnabled() bool {
	return c.FederatedClientID != ""
}
