// Package config loads GuideVault settings from the environment or a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrMissingDatabaseURL is returned when no database URL is configured.
var ErrMissingDatabaseURL = errors.New("database_url (DATABASE_URL) is required")

var validate = validator.New()

// Config holds application configuration.
type Config struct {
	DatabaseURL string   `yaml:"database_url" validate:"required"`
	RedisURL    string   `yaml:"redis_url" validate:"omitempty,url"`
	ServerPort  string   `yaml:"server_port" validate:"required,numeric"`
	CORSEnabled bool     `yaml:"cors_enabled"`
	CORSOrigins []string `yaml:"cors_origins" validate:"dive,required"`
	// AdminRateLimit is requests per minute per client on trigger and admin
	// routes. 0 disables the limit.
	AdminRateLimit int `yaml:"admin_rate_limit" validate:"min=0"`

	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	ScratchDir string        `yaml:"scratch_dir"`
	BatchSize  int           `yaml:"batch_size" validate:"min=1"`

	RetentionDays int    `yaml:"retention_days" validate:"min=0"`
	ImportTime    string `yaml:"import_time" validate:"required,datetime=15:04"`
	Timezone      string `yaml:"timezone" validate:"required,timezone"`

	DedupAfterImport    bool    `yaml:"dedup_after_import"`
	DedupTimeTolerance  int     `yaml:"dedup_time_tolerance" validate:"min=0"` // minutes
	DedupTitleThreshold float64 `yaml:"dedup_title_threshold" validate:"gt=0,lte=1"`

	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=json console"`
}

// Default returns a Config with every optional key at its default.
func Default() *Config {
	return &Config{
		ServerPort:          "8080",
		UserAgent:           "GuideVault/1.0",
		Timeout:             5 * time.Minute,
		BatchSize:           1000,
		RetentionDays:       7,
		ImportTime:          "03:00",
		Timezone:            "UTC",
		DedupTimeTolerance:  5,
		DedupTitleThreshold: 0.9,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load builds config from environment variables.
// If DATABASE_URL is not set, Load tries to load .env.local and .env first.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := Default()
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return ErrMissingDatabaseURL
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// DedupTolerance is DedupTimeTolerance as a duration.
func (c *Config) DedupTolerance() time.Duration {
	return time.Duration(c.DedupTimeTolerance) * time.Minute
}
