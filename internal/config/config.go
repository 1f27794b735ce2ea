// Package config loads and validates the clustermeter configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for clustermeter.
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Database  DatabaseConfig  `yaml:"database"`
	APIServer APIServerConfig `yaml:"apiServer"`
}

// PipelineConfig controls the batch window defaults and the cross-window
// seed lookback.
type PipelineConfig struct {
	// WindowHours is the default window length when no explicit range is
	// given on the command line.
	WindowHours int `yaml:"windowHours"`
	// SeedLookbackDays bounds how far back the pre-window event scan reaches
	// when carrying forward the prior state of each cluster.
	SeedLookbackDays int `yaml:"seedLookbackDays"`
	// RunTimeout caps a single window computation.
	RunTimeout time.Duration `yaml:"runTimeout"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retentionDays"`
}

type APIServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// DefaultConfig returns a Config with sensible defaults. The database path
// can be overridden via the CLUSTERMETER_DB env var.
func DefaultConfig() *Config {
	cfg := &Config{
		Pipeline: PipelineConfig{
			WindowHours:      24,
			SeedLookbackDays: 30,
			RunTimeout:       30 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:          "/data/clustermeter.db",
			RetentionDays: 90,
		},
		APIServer: APIServerConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    8080,
		},
	}
	cfg.applyEnvOverrides()
	return cfg
}

// LoadFromFile loads config from a YAML file, overlaying on defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides fills in fields from environment variables so the same
// image runs unmodified across deployments.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CLUSTERMETER_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CLUSTERMETER_API_ADDR"); v != "" {
		c.APIServer.Address = v
	}
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required: set in config file or CLUSTERMETER_DB env var")
	}
	if c.Pipeline.WindowHours <= 0 {
		return fmt.Errorf("pipeline.windowHours must be > 0, got %d", c.Pipeline.WindowHours)
	}
	if c.Pipeline.SeedLookbackDays < 0 {
		return fmt.Errorf("pipeline.seedLookbackDays must be >= 0, got %d", c.Pipeline.SeedLookbackDays)
	}
	if c.APIServer.Enabled {
		if c.APIServer.Port < 1 || c.APIServer.Port > 65535 {
			return fmt.Errorf("apiServer.port must be between 1 and 65535, got %d", c.APIServer.Port)
		}
	}
	return nil
}
