// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	apperrors "marketpulse/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	ETL      ETLConfig      `mapstructure:"etl"`
	Fees     FeesConfig     `mapstructure:"fees"`
	Sim      SimConfig      `mapstructure:"sim"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig selects and locates the store backend.
type DatabaseConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `mapstructure:"backend"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
	// URL is the Postgres connection string.
	URL string `mapstructure:"url"`
}

// ETLConfig holds quote ingestion settings.
type ETLConfig struct {
	// Provider is "yahoo" or "csv".
	Provider string `mapstructure:"provider"`
	CSVDir   string `mapstructure:"csv_dir"`
	Workers  int    `mapstructure:"workers"`
	// Days is the default lookback window for etl run.
	Days int `mapstructure:"days"`
}

// FeesConfig holds the brokerage fee schedule.
type FeesConfig struct {
	FeeRate float64 `mapstructure:"fee_rate"`
	MinFee  float64 `mapstructure:"min_fee"`
	TaxRate float64 `mapstructure:"tax_rate"`
}

// SimConfig holds simulation defaults.
type SimConfig struct {
	DefaultUser string  `mapstructure:"default_user"`
	InitialCash float64 `mapstructure:"initial_cash"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
	Path    string `mapstructure:"path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/marketpulse"
	}
	return filepath.Join(home, ".config", "marketpulse")
}

// Load loads configuration from the specified directory, creating a
// template config file when none exists. Environment variables override
// file values. If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config template: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("database.backend", "sqlite")
	v.SetDefault("database.path", filepath.Join(configDir, "marketpulse.db"))
	v.SetDefault("etl.provider", "yahoo")
	v.SetDefault("etl.csv_dir", filepath.Join(configDir, "quotes"))
	v.SetDefault("etl.workers", 4)
	v.SetDefault("etl.days", 90)
	v.SetDefault("fees.fee_rate", 0.001425)
	v.SetDefault("fees.min_fee", 20.0)
	v.SetDefault("fees.tax_rate", 0.003)
	v.SetDefault("sim.default_user", "default")
	v.SetDefault("sim.initial_cash", 1000000.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.path", filepath.Join(configDir, "logs", "marketpulse.log"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Backend = "postgres"
		cfg.Database.URL = v
	}
	if v := os.Getenv("MARKETPULSE_DB"); v != "" {
		cfg.Database.Backend = "sqlite"
		cfg.Database.Path = v
	}
	if v := os.Getenv("MARKETPULSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MARKETPULSE_USER"); v != "" {
		cfg.Sim.DefaultUser = v
	}
	if v := os.Getenv("MARKETPULSE_PROVIDER"); v != "" {
		cfg.ETL.Provider = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "sqlite":
		if c.Database.Path == "" {
			return apperrors.Wrap(apperrors.ErrConfigInvalid, "database.path required for sqlite backend")
		}
	case "postgres":
		if c.Database.URL == "" {
			return apperrors.Wrap(apperrors.ErrConfigInvalid, "database.url required for postgres backend")
		}
	default:
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, "unknown database backend %q", c.Database.Backend)
	}

	switch c.ETL.Provider {
	case "yahoo", "csv":
	default:
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, "unknown quote provider %q", c.ETL.Provider)
	}

	if c.Fees.FeeRate < 0 || c.Fees.TaxRate < 0 || c.Fees.MinFee < 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "fee rates must not be negative")
	}
	if c.Sim.InitialCash < 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "sim.initial_cash must not be negative")
	}

	return nil
}
