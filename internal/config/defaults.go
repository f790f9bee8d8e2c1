package config

// Default configuration values.
const (
	DefaultStateFile = ".cardcalc/state.db"
	DefaultLogLevel  = "info"
	DefaultMaxLength = 5000
	DefaultCacheSize = 1024
	DefaultParallel  = 4
)

// Output formats.
const (
	OutputAuto     = "auto" // TTY=text, non-TTY=markdown
	OutputText     = "text"
	OutputJSON     = "json"
	OutputMarkdown = "markdown"
)

// ConfigFileNames are searched in order when no file is given.
var ConfigFileNames = []string{"cardcalc.yaml", "cardcalc.yml"}

func defaults() map[string]any {
	return map[string]any{
		"state_path":         DefaultStateFile,
		"log_level":          DefaultLogLevel,
		"verbose":            false,
		"output":             OutputAuto,
		"formula.max_length": DefaultMaxLength,
		"formula.cache_size": DefaultCacheSize,
		"batch.parallel":     DefaultParallel,
		"batch.timeout":      "0s",
	}
}
