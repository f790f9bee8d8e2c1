package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("state", "", "")
	fs.String("output", "", "")
	fs.String("log-level", "", "")
	fs.Bool("verbose", false, "")
	fs.Int("parallel", 0, "")
	fs.Duration("timeout", 0, "")
	fs.Int("max-length", 0, "")
	return fs
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cardcalc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultStateFile, cfg.StatePath)
	assert.Equal(t, OutputAuto, cfg.OutputFormat)
	assert.Equal(t, DefaultMaxLength, cfg.Formula.MaxLength)
	assert.Equal(t, DefaultCacheSize, cfg.Formula.CacheSize)
	assert.Equal(t, DefaultParallel, cfg.Batch.Parallel)
	assert.Equal(t, time.Duration(0), cfg.Batch.Timeout)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoad_FileEnvFlagPrecedence(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
state_path: data/state.db
output: json
log_level: warn
formula:
  max_length: 200
batch:
  parallel: 2
  timeout: 30s
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data/state.db"), cfg.StatePath)
	assert.Equal(t, OutputJSON, cfg.OutputFormat)
	assert.Equal(t, 200, cfg.Formula.MaxLength)
	assert.Equal(t, 2, cfg.Batch.Parallel)
	assert.Equal(t, 30*time.Second, cfg.Batch.Timeout)
	assert.Equal(t, slog.LevelWarn, cfg.Level())
	assert.Equal(t, path, cfg.ConfigFile)

	t.Setenv("CARDCALC_BATCH__PARALLEL", "6")
	t.Setenv("CARDCALC_OUTPUT", "markdown")
	cfg, err = Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Batch.Parallel)
	assert.Equal(t, OutputMarkdown, cfg.OutputFormat)

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--parallel", "8", "--state", "other.db", "--timeout", "1m", "--verbose"}))
	cfg, err = Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Batch.Parallel)
	assert.Equal(t, "other.db", cfg.StatePath)
	assert.Equal(t, time.Minute, cfg.Batch.Timeout)
	assert.Equal(t, OutputMarkdown, cfg.OutputFormat)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoad_FindsConfigInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cardcalc.yml"), []byte("output: text\n"), 0o600))

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "cardcalc.yml", cfg.ConfigFile)
	assert.Equal(t, OutputText, cfg.OutputFormat)
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{name: "bad output", content: "output: xml\n", errMsg: "unknown output format"},
		{name: "bad level", content: "log_level: loud\n", errMsg: "invalid log_level"},
		{name: "zero parallel", content: "batch:\n  parallel: 0\n", errMsg: "batch.parallel"},
		{name: "bad duration", content: "batch:\n  timeout: soon\n", errMsg: "decode"},
		{name: "negative length", content: "formula:\n  max_length: -1\n", errMsg: "formula.max_length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLogger_Context(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	logger := slog.New(slog.DiscardHandler)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))
}

func TestConfig_Context(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	cfg := &Config{StatePath: "x.db"}
	ctx := WithConfig(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
}

func TestLoad_IgnoresCommandFlags(t *testing.T) {
	t.Chdir(t.TempDir())

	flags := newFlags()
	flags.String("formula", "", "")
	flags.String("type", "", "")
	require.NoError(t, flags.Parse([]string{"--formula", "data.a + 1", "--type", "Application"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxLength, cfg.Formula.MaxLength)
	assert.Equal(t, DefaultCacheSize, cfg.Formula.CacheSize)
}
