// Package config loads the pipeline configuration from a YAML file and
// applies environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SinkStore  = "store"
	SinkUpload = "upload"
)

type Config struct {
	SiteID          string        `yaml:"site_id"`
	DefaultDeviceID string        `yaml:"default_device_id"`
	Timezone        string        `yaml:"timezone"`
	Store           StoreConfig   `yaml:"store"`
	Upload          UploadConfig  `yaml:"upload"`
	Retry           RetryConfig   `yaml:"retry"`
	Serial          SerialConfig  `yaml:"serial"`
	Stream          StreamConfig  `yaml:"stream"`
	Logging         LoggingConfig `yaml:"logging"`
}

type StoreConfig struct {
	Driver   string        `yaml:"driver"` // sqlite | postgres
	DSN      string        `yaml:"dsn"`
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"page_size"`
}

type UploadConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type StreamConfig struct {
	Sink      string        `yaml:"sink"` // store | upload
	FlushIdle time.Duration `yaml:"flush_idle"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
	Output string `yaml:"output"` // stdout or stderr
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// LoadYAML reads path (when non-empty), applies environment overrides,
// then defaults, then validates.
func LoadYAML(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv loads .env if present and overrides fields from the environment.
func (c *Config) ApplyEnv() {
	// A missing .env is normal; variables may be set directly.
	_ = godotenv.Load()

	if dsn := getEnv("DATABASE_URL", ""); dsn != "" {
		c.Store.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			c.Store.Driver = "postgres"
		}
	}
	c.Upload.APIKey = getEnv("API_KEY", c.Upload.APIKey)
	c.Upload.URL = getEnv("UPLOAD_URL", c.Upload.URL)
	c.Serial.Port = getEnv("SERIAL_PORT", c.Serial.Port)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Timezone = getEnv("TZ_RULE", c.Timezone)
}

func (c *Config) applyDefaults() {
	if c.SiteID == "" {
		c.SiteID = "industrial_site_01"
	}
	if c.DefaultDeviceID == "" {
		c.DefaultDeviceID = "arduino_node_01"
	}
	if c.Timezone == "" {
		c.Timezone = "America/New_York"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "telemetry.sqlite"
	}
	if c.Store.Timeout <= 0 {
		c.Store.Timeout = 10 * time.Second
	}
	if c.Store.PageSize <= 0 {
		c.Store.PageSize = 500
	}
	if c.Upload.Timeout <= 0 {
		c.Upload.Timeout = 10 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = time.Second
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = 10 * time.Second
	}
	if c.Serial.BaudRate <= 0 {
		c.Serial.BaudRate = 115200
	}
	if c.Serial.ReadTimeout <= 0 {
		c.Serial.ReadTimeout = 2 * time.Second
	}
	if c.Stream.Sink == "" {
		if c.Upload.Enabled {
			c.Stream.Sink = SinkUpload
		} else {
			c.Stream.Sink = SinkStore
		}
	}
	if c.Stream.FlushIdle <= 0 {
		c.Stream.FlushIdle = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver: unsupported %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return errors.New("store.dsn: required")
	}
	switch c.Stream.Sink {
	case SinkStore:
	case SinkUpload:
		if c.Upload.URL == "" {
			return errors.New("upload.url: required when stream.sink is upload")
		}
	default:
		return fmt.Errorf("stream.sink: unsupported %q", c.Stream.Sink)
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return errors.New("retry.max_backoff: must not be below initial_backoff")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
