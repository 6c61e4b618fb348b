// Package config loads the server configuration: built-in defaults, then an
// optional YAML file, then SHOP_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// EnvConfigPath names the variable holding the YAML config path
const EnvConfigPath = "SHOP_CONFIG"

// Config is the full server configuration
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	HTTP    HTTPConfig    `yaml:"http"`
	Economy EconomyConfig `yaml:"economy"`
	Storage StorageConfig `yaml:"storage"`

	// CatalogPath is a YAML item list; empty uses the built-in catalog
	CatalogPath string `yaml:"catalog_path"`
	LogLevel    string `yaml:"log_level"`
}

// ListenConfig configures the client protocol listener
type ListenConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	MaxFrameSize      int           `yaml:"max_frame_size"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RequestBurst      int           `yaml:"request_burst"`
}

// HTTPConfig configures the read-only HTTP surface. Port 0 disables it.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EconomyConfig holds the economy rules
type EconomyConfig struct {
	StartingCredits int64 `yaml:"starting_credits"`
	WinPercent      int   `yaml:"win_percent"`
	CreditFloor     int64 `yaml:"credit_floor"`
}

// StorageConfig selects and configures the ledger backend
type StorageConfig struct {
	Type         string `yaml:"type"`
	Path         string `yaml:"path"`
	RedisURL     string `yaml:"redis_url"`
	MaxTxRetries int    `yaml:"max_tx_retries"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Listen: ListenConfig{
			Host:            "127.0.0.1",
			Port:            9099,
			MaxFrameSize:    4096,
			ShutdownTimeout: 10 * time.Second,
			WriteTimeout:    10 * time.Second,
			RequestBurst:    10,
		},
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 9100,
		},
		Economy: EconomyConfig{
			StartingCredits: 500,
			WinPercent:      80,
			CreditFloor:     50,
		},
		Storage: StorageConfig{
			Type:         StorageSQLite,
			Path:         "game_storage.sqlite3",
			RedisURL:     "redis://localhost:6379",
			MaxTxRetries: 100,
		},
		LogLevel: "info",
	}
}

// FromEnv loads the file named by SHOP_CONFIG (if any) and applies the
// process environment
func FromEnv() (Config, error) {
	return Load(os.Getenv(EnvConfigPath), os.Getenv)
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty) and the variables returned by getenv
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer64 := func(key string, dst *int64) {
		if v := getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("SHOP_HOST", &c.Listen.Host)
	integer("SHOP_PORT", &c.Listen.Port)
	integer("SHOP_MAX_FRAME_SIZE", &c.Listen.MaxFrameSize)
	integer("SHOP_RATE_BURST", &c.Listen.RequestBurst)
	duration("SHOP_SHUTDOWN_TIMEOUT", &c.Listen.ShutdownTimeout)
	duration("SHOP_WRITE_TIMEOUT", &c.Listen.WriteTimeout)
	if v := getenv("SHOP_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SHOP_RATE_LIMIT: %w", err))
		} else {
			c.Listen.RequestsPerSecond = f
		}
	}

	str("SHOP_HTTP_HOST", &c.HTTP.Host)
	integer("SHOP_HTTP_PORT", &c.HTTP.Port)

	integer64("SHOP_STARTING_CREDITS", &c.Economy.StartingCredits)
	integer("SHOP_WIN_PERCENT", &c.Economy.WinPercent)
	integer64("SHOP_CREDIT_FLOOR", &c.Economy.CreditFloor)

	str("SHOP_STORAGE", &c.Storage.Type)
	str("SHOP_DB_PATH", &c.Storage.Path)
	str("SHOP_REDIS_URL", &c.Storage.RedisURL)
	integer("SHOP_REDIS_MAX_TX_RETRIES", &c.Storage.MaxTxRetries)

	str("SHOP_CATALOG", &c.CatalogPath)
	str("SHOP_LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once
func (c Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Listen.MaxFrameSize < 64 {
		errs = append(errs, fmt.Errorf("listen.max_frame_size must be at least 64"))
	}
	if c.Listen.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("listen.write_timeout must not be negative"))
	}
	if c.Listen.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("listen.requests_per_second must not be negative"))
	}
	if c.Economy.StartingCredits < 0 {
		errs = append(errs, fmt.Errorf("economy.starting_credits must not be negative"))
	}
	if c.Economy.CreditFloor < 0 {
		errs = append(errs, fmt.Errorf("economy.credit_floor must not be negative"))
	}
	if c.Economy.WinPercent < 0 || c.Economy.WinPercent > 101 {
		errs = append(errs, fmt.Errorf("economy.win_percent must be within [0, 101]"))
	}
	switch c.Storage.Type {
	case StorageSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path required for sqlite"))
		}
	case StorageRedis:
		if strings.TrimSpace(c.Storage.RedisURL) == "" {
			errs = append(errs, fmt.Errorf("storage.redis_url required for redis"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps debug, info, warn and error to slog levels
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
