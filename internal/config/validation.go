package config

import (
	"fmt"
	"strings"
)

// ValidationError collects multiple validation errors.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateDetailed performs comprehensive config validation, collecting every
// problem instead of stopping at the first.
func ValidateDetailed(cfg *Config) *ValidationError {
	ve := &ValidationError{}

	if cfg.Database.Path == "" {
		ve.Add("database.path is required")
	}
	if cfg.Database.RetentionDays < 0 {
		ve.Add("database.retentionDays must be >= 0")
	}

	if cfg.Pipeline.WindowHours <= 0 {
		ve.Add(fmt.Sprintf("pipeline.windowHours must be > 0, got %d", cfg.Pipeline.WindowHours))
	}
	if cfg.Pipeline.WindowHours > 24*7 {
		ve.Add("pipeline.windowHours must not exceed one week")
	}
	if cfg.Pipeline.SeedLookbackDays < 0 {
		ve.Add("pipeline.seedLookbackDays must be >= 0")
	}
	if cfg.Pipeline.RunTimeout < 0 {
		ve.Add("pipeline.runTimeout must be >= 0")
	}

	if cfg.APIServer.Enabled {
		if cfg.APIServer.Port < 1 || cfg.APIServer.Port > 65535 {
			ve.Add("apiServer.port must be between 1 and 65535")
		}
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
