// Package state persists calculations, entities, relations and batch runs
// in SQLite.
//
// The domain types live in pkg/core; this package re-exports the ones its
// callers touch most so they can stay on a single import.
package state

import (
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

type (
	// Store is an alias for core.Store.
	Store = core.Store

	// RunStatus is an alias for core.RunStatus.
	RunStatus = core.RunStatus

	// Run is an alias for core.Run.
	Run = core.Run
)

const (
	RunStatusRunning   = core.RunStatusRunning
	RunStatusCompleted = core.RunStatusCompleted
	RunStatusFailed    = core.RunStatusFailed
	RunStatusCancelled = core.RunStatusCancelled
)

var _ Store = (*SQLiteStore)(nil)
