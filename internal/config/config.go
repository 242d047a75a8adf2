// Package config loads and validates the gate client bootstrap config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultBaseURL is the backend the client talks to when nothing else is configured.
const DefaultBaseURL = "https://events-backend-zug5.onrender.com"

// Store backends accepted by GATE_STORE.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config holds bootstrap configuration. BaseURL and Tenant only seed the persisted
// session on first run; after that the persisted values win.
type Config struct {
	// BaseURL is the backend scheme+host (e.g. https://events.example.com).
	BaseURL string `mapstructure:"GATE_BASE_URL"`
	// Tenant is the organization path segment used in every request URL.
	Tenant string `mapstructure:"GATE_TENANT"`
	// DataDir holds the SQLite database or the JSON settings file.
	DataDir string `mapstructure:"GATE_DATA_DIR"`
	// Store selects the persistence backend: sqlite, file or redis.
	Store string `mapstructure:"GATE_STORE"`
	// RedisURL is the redis:// URL used when Store is redis.
	RedisURL string `mapstructure:"GATE_REDIS_URL"`
	// DeviceID tags every scan produced by this station (e.g. gate-01). Empty means
	// a generated id persisted in the store.
	DeviceID string `mapstructure:"GATE_DEVICE_ID"`
	// HTTPTimeout bounds a single direct-route call (e.g. "30s").
	HTTPTimeout string `mapstructure:"GATE_HTTP_TIMEOUT"`
	// FallbackTimeout bounds a single fallback-route call (e.g. "60s").
	FallbackTimeout string `mapstructure:"GATE_FALLBACK_TIMEOUT"`
	// ListenAddr is where the desktop bridge serves the kiosk screen.
	ListenAddr string `mapstructure:"GATE_LISTEN_ADDR"`
	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `mapstructure:"GATE_LOG_LEVEL"`
	// FlushInterval enables periodic auto-flush of the offline queue when > 0 (e.g. "2m").
	FlushInterval string `mapstructure:"GATE_FLUSH_INTERVAL"`
	// Secret seals tokens at rest. Empty stores tokens as plain text.
	Secret string `mapstructure:"GATE_SECRET"`
	// OTelEndpoint is the OTLP gRPC collector for metrics. Empty disables export.
	OTelEndpoint string `mapstructure:"GATE_OTEL_ENDPOINT"`
	// ScannerDevice is the serial device of a hardware scanner (e.g. /dev/ttyACM0).
	ScannerDevice string `mapstructure:"GATE_SCANNER_DEVICE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GATE_BASE_URL", DefaultBaseURL)
	v.SetDefault("GATE_TENANT", "demo")
	v.SetDefault("GATE_DATA_DIR", "./data")
	v.SetDefault("GATE_STORE", StoreSQLite)
	v.SetDefault("GATE_REDIS_URL", "")
	v.SetDefault("GATE_DEVICE_ID", "")
	v.SetDefault("GATE_HTTP_TIMEOUT", "30s")
	v.SetDefault("GATE_FALLBACK_TIMEOUT", "60s")
	v.SetDefault("GATE_LISTEN_ADDR", "127.0.0.1:8090")
	v.SetDefault("GATE_LOG_LEVEL", "INFO")
	v.SetDefault("GATE_FLUSH_INTERVAL", "0")
	v.SetDefault("GATE_SECRET", "")
	v.SetDefault("GATE_OTEL_ENDPOINT", "")
	v.SetDefault("GATE_SCANNER_DEVICE", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields that would otherwise fail late at request time.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("config: GATE_BASE_URL must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("config: GATE_BASE_URL must use http or https")
	}
	if strings.TrimSpace(c.Tenant) == "" {
		return errors.New("config: GATE_TENANT must be set")
	}
	if strings.Contains(c.Tenant, "/") {
		return errors.New("config: GATE_TENANT must be a single path segment")
	}
	switch c.Store {
	case StoreSQLite, StoreFile:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("config: GATE_REDIS_URL must be set when GATE_STORE=redis")
		}
	default:
		return errors.New("config: GATE_STORE must be one of sqlite, file, redis")
	}
	return nil
}

// HTTPTimeoutDuration parses HTTPTimeout. Returns 30s if unset or invalid.
func (c *Config) HTTPTimeoutDuration() time.Duration {
	return parseDuration(c.HTTPTimeout, 30*time.Second)
}

// FallbackTimeoutDuration parses FallbackTimeout. Returns 60s if unset or invalid.
func (c *Config) FallbackTimeoutDuration() time.Duration {
	return parseDuration(c.FallbackTimeout, 60*time.Second)
}

// FlushIntervalDuration parses FlushInterval. Returns 0 (disabled) if unset or invalid.
func (c *Config) FlushIntervalDuration() time.Duration {
	return parseDuration(c.FlushInterval, 0)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
