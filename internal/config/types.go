// Package config loads cardcalc configuration from defaults, an optional
// YAML file, CARDCALC_ environment variables and command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config holds all configuration options.
type Config struct {
	StatePath    string        `koanf:"state_path"`
	LogLevel     string        `koanf:"log_level"`
	Verbose      bool          `koanf:"verbose"`
	OutputFormat string        `koanf:"output"`
	Formula      FormulaConfig `koanf:"formula"`
	Batch        BatchConfig   `koanf:"batch"`

	// ConfigFile is the file the configuration was read from, if any
	ConfigFile string `koanf:"-"`
}

// FormulaConfig bounds formula parsing.
type FormulaConfig struct {
	MaxLength int `koanf:"max_length"`
	CacheSize int `koanf:"cache_size"`
}

// BatchConfig controls batch runs.
type BatchConfig struct {
	Parallel int           `koanf:"parallel"`
	Timeout  time.Duration `koanf:"timeout"`
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.StatePath == "" {
		return fmt.Errorf("state_path is required")
	}
	if c.Formula.MaxLength <= 0 {
		return fmt.Errorf("formula.max_length must be positive, got %d", c.Formula.MaxLength)
	}
	if c.Formula.CacheSize <= 0 {
		return fmt.Errorf("formula.cache_size must be positive, got %d", c.Formula.CacheSize)
	}
	if c.Batch.Parallel <= 0 {
		return fmt.Errorf("batch.parallel must be positive, got %d", c.Batch.Parallel)
	}
	if c.Batch.Timeout < 0 {
		return fmt.Errorf("batch.timeout must not be negative, got %s", c.Batch.Timeout)
	}
	switch c.OutputFormat {
	case OutputAuto, OutputText, OutputJSON, OutputMarkdown:
	default:
		return fmt.Errorf("unknown output format %q", c.OutputFormat)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the effective log level. Verbose forces debug.
func (c *Config) Level() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return level, nil
}
