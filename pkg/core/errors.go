package core

import (
	"errors"
	"strings"
)

// Sentinel errors shared by the store and the engine.
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateTarget = errors.New("target field already produced by another active calculation")
	ErrInactive        = errors.New("calculation is not active")
)

// CycleError blocks an activation or edit that would create circular
// dependencies between calculations.
type CycleError struct {
	// Path lists calculation names; the last element repeats the first
	// node of the cycle.
	Path []string
}

func (e *CycleError) Error() string {
	return "circular dependency detected: " + strings.Join(e.Path, " -> ")
}
