// Package engine runs calculations against entities: it validates formulas,
// gates activation on the dependency graph, executes single calculations,
// previews results and runs batches per entity type.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/cardcalc/internal/depgraph"
	"github.com/leapstack-labs/cardcalc/internal/formula"
	"github.com/leapstack-labs/cardcalc/internal/state"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// DefaultParallel is the number of entity types RunAll processes at once.
const DefaultParallel = 4

// Engine orchestrates calculation execution over a state store.
type Engine struct {
	logger *slog.Logger
	store  core.Store
	// ownsStore is set when New opened the store itself
	ownsStore bool
	cache     *formula.Cache
	parallel  int
	timeout   time.Duration
	now       func() time.Time
}

// Config holds engine configuration.
type Config struct {
	// Store is the state store to use. When nil, a SQLite store is opened
	// at StatePath and closed by Close.
	Store core.Store
	// StatePath is the path to the SQLite state database
	StatePath string
	// MaxFormulaLength bounds formula source length in characters
	MaxFormulaLength int
	// CacheSize bounds the number of parsed formulas kept in memory
	CacheSize int
	// Parallel bounds how many entity types RunAll processes concurrently
	Parallel int
	// Timeout bounds a single batch run; zero means no limit
	Timeout time.Duration
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// New creates a new engine.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store := cfg.Store
	owns := false
	if store == nil {
		if cfg.StatePath == "" {
			return nil, fmt.Errorf("either a store or a state path is required")
		}
		sqlite := state.NewSQLiteStore(logger)
		if err := sqlite.Open(cfg.StatePath); err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		if err := sqlite.InitSchema(); err != nil {
			_ = sqlite.Close()
			return nil, fmt.Errorf("failed to initialize state schema: %w", err)
		}
		store = sqlite
		owns = true
	}

	parallel := cfg.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	logger.Debug("engine initialized",
		"state_path", cfg.StatePath,
		"max_formula_length", cfg.MaxFormulaLength,
		"parallel", parallel,
	)

	return &Engine{
		logger:    logger,
		store:     store,
		ownsStore: owns,
		cache:     formula.NewCache(cfg.CacheSize, cfg.MaxFormulaLength),
		parallel:  parallel,
		timeout:   cfg.Timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the store if the engine opened it.
func (e *Engine) Close() error {
	if !e.ownsStore {
		return nil
	}
	e.logger.Debug("closing engine")
	return e.store.Close()
}

// Store returns the state store.
func (e *Engine) Store() core.Store {
	return e.store
}

// MaxFormulaLength returns the configured formula length bound.
func (e *Engine) MaxFormulaLength() int {
	return e.cache.MaxLength()
}

// Graph builds the dependency graph over every stored calculation.
func (e *Engine) Graph() (*depgraph.Graph, error) {
	calcs, err := e.store.ListCalculations()
	if err != nil {
		return nil, fmt.Errorf("failed to list calculations: %w", err)
	}
	relTypes, err := e.store.ListRelationTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to list relation types: %w", err)
	}
	return depgraph.Build(calcs, relTypes, depgraph.WithCache(e.cache)), nil
}

// parse compiles a formula through the shared cache.
func (e *Engine) parse(src string) (*formula.Program, error) {
	return e.cache.Parse(src)
}
