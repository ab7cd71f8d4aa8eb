// Package config loads the server configuration from PAYROLL_* environment
// variables and validates it.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix.
const Prefix = "PAYROLL"

const (
	EnvironmentProduction = "production"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config holds the complete application configuration.
//
// Leaf fields derive their variable names from the field name with
// split_words rather than an envconfig tag. A tagged field falls back to the
// bare tag name when the prefixed variable is unset, so a tag such as PATH or
// PORT would silently pick up the process environment.
type Config struct {
	App    AppConfig    `envconfig:"APP"`
	Server ServerConfig `envconfig:"SERVER"`
	Store  StoreConfig  `envconfig:"STORE"`
	Engine EngineConfig `envconfig:"ENGINE"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name            string        `split_words:"true" default:"payroll-engine"`
	Version         string        `split_words:"true" default:"dev"`
	Environment     string        `split_words:"true" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `split_words:"true" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `split_words:"true" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `split_words:"true" default:"15s" validate:"gt=0"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         string        `split_words:"true" default:"8080" validate:"required,numeric"`
	ReadTimeout  time.Duration `split_words:"true" default:"10s" validate:"gt=0"`
	WriteTimeout time.Duration `split_words:"true" default:"30s" validate:"gt=0"`
	CORSOrigins  []string      `split_words:"true" default:"http://localhost:3000,http://localhost:5173"`
}

// StoreConfig selects the rule store.
type StoreConfig struct {
	Driver string `split_words:"true" default:"sqlite" validate:"oneof=memory sqlite"`
	Path   string `split_words:"true" default:"./payroll.db" validate:"required_if=Driver sqlite"`
}

// EngineConfig tunes the evaluator.
type EngineConfig struct {
	Workers       int  `split_words:"true" default:"8" validate:"min=1,max=256"`
	CacheCapacity int  `split_words:"true" default:"10000" validate:"min=1"`
	Precision     int  `split_words:"true" default:"2" validate:"min=0,max=6"`
	SeedDefaults  bool `split_words:"true" default:"true"`
}

// Load reads configuration from environment variables with the PAYROLL prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// IsProduction reports whether the app runs in production.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// LogConfig logs the current configuration.
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("port", c.Server.Port),
		slog.String("store_driver", c.Store.Driver),
		slog.String("store_path", c.Store.Path),
		slog.Int("workers", c.Engine.Workers),
		slog.Int("cache_capacity", c.Engine.CacheCapacity),
		slog.Int("precision", c.Engine.Precision),
		slog.Bool("seed_defaults", c.Engine.SeedDefaults),
	)
}
