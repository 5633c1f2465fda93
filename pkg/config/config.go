// Package config reads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/media"
)

// Store drivers for entitlements and usage.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds server configuration.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	EventStream   string `env:"EVENT_STREAM" envDefault:"astro:events"`
	EventMaxLen   int64  `env:"EVENT_STREAM_MAXLEN" envDefault:"100000"`

	Media media.Config `envPrefix:"MEDIA_"`

	ParallelLimit int `env:"QUOTA_PARALLEL_LIMIT" envDefault:"2"`
	// MinInterval of 0 disables the flood guard.
	MinInterval  time.Duration `env:"QUOTA_MIN_INTERVAL" envDefault:"3s"`
	Timezone     string        `env:"QUOTA_TIMEZONE" envDefault:"UTC"`
	ProductsFile string        `env:"PRODUCTS_FILE"`

	WriterAttempts int    `env:"WRITER_MAX_ATTEMPTS" envDefault:"2"`
	LLMBaseURL     string `env:"LLM_BASE_URL"`
	LLMAPIKey      string `env:"LLM_API_KEY"`
	LLMModel       string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTLP_INSECURE" envDefault:"true"`
	Environment  string `env:"ENVIRONMENT" envDefault:"development"`

	AssetsDir   string `env:"ASSETS_DIR"`
	LocalesFile string `env:"LOCALES_FILE"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the %s store", c.StoreDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("unsupported LOG_FORMAT %q", c.LogFormat))
	}
	if c.MinInterval < 0 {
		errs = append(errs, errors.New("QUOTA_MIN_INTERVAL must not be negative; use 0s to disable the flood guard"))
	}
	if c.ParallelLimit < 1 {
		errs = append(errs, errors.New("QUOTA_PARALLEL_LIMIT must be at least 1"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// Location is the zone that defines local midnight for daily caps.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger builds the process logger.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// LLMEnabled reports whether answers are phrased by a language model.
func (c *Config) LLMEnabled() bool {
	return c.LLMBaseURL != ""
}
