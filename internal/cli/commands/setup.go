// Package commands implements the cardcalc subcommands.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/internal/config"
	"github.com/leapstack-labs/cardcalc/internal/engine"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with engine and renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc := NewCommandContextWithoutEngine(cmd)

	eng, err := createEngine(cc.Cfg, cc.Logger)
	if err != nil {
		return nil, nil, err
	}
	cc.Engine = eng

	cleanup := func() {
		if err := eng.Close(); err != nil {
			cc.Logger.Error("failed to close engine", "error", err)
		}
	}
	return cc, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
// Useful for commands that don't need the state store.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := getConfig(cmd)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: r,
	}
}

// getConfig returns the configuration stored by the root command, or the
// defaults when the command runs standalone.
func getConfig(cmd *cobra.Command) *config.Config {
	if cfg := config.FromContext(cmd.Context()); cfg != nil {
		return cfg
	}
	cfg, err := config.Load("", nil)
	if err != nil {
		return &config.Config{
			StatePath:    config.DefaultStateFile,
			LogLevel:     config.DefaultLogLevel,
			OutputFormat: config.OutputAuto,
			Formula:      config.FormulaConfig{MaxLength: config.DefaultMaxLength, CacheSize: config.DefaultCacheSize},
			Batch:        config.BatchConfig{Parallel: config.DefaultParallel},
		}
	}
	return cfg
}

func createEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	// Ensure state directory exists
	if cfg.StatePath != ":memory:" {
		stateDir := filepath.Dir(cfg.StatePath)
		if stateDir != "." && stateDir != "" {
			if err := os.MkdirAll(stateDir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	return engine.New(engine.Config{
		StatePath:        cfg.StatePath,
		MaxFormulaLength: cfg.Formula.MaxLength,
		CacheSize:        cfg.Formula.CacheSize,
		Parallel:         cfg.Batch.Parallel,
		Timeout:          cfg.Batch.Timeout,
		Logger:           logger,
	})
}

// errSilent is returned after a command has already reported its failure
// through the renderer; the root command only sets the exit code.
var errSilent = errors.New("command failed")

// IsSilent reports whether err was already reported to the user.
func IsSilent(err error) bool {
	return errors.Is(err, errSilent)
}
