// Package core defines the shared language of the cardcalc system.
//
// This package contains:
//   - Domain entities (Calculation, Entity, Relation, RelationType)
//   - Service interfaces (Store)
//   - Result records (ValidationResult, BatchSummary, Run)
//   - Error taxonomy shared across packages (CycleError and sentinels)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
