package core

import (
	"sort"
	"time"
)

// Calculation is a persisted calculated-field definition.
type Calculation struct {
	ID          string
	Name        string
	Description string
	// TargetTypeKey is the entity type the calculation applies to
	TargetTypeKey string
	// TargetFieldKey is the attribute the calculation writes
	TargetFieldKey string
	// Formula is the source text of the formula
	Formula string
	// ExecutionOrder orders calculations within a batch; ties are broken by ID
	ExecutionOrder int
	// IsActive gates execution: inactive calculations never run
	IsActive  bool
	LastError *string
	LastRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName returns the name used in cycle paths and summaries.
func (c *Calculation) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.TargetFieldKey != "":
		return c.TargetTypeKey + "." + c.TargetFieldKey
	default:
		return c.ID
	}
}

// Clone returns a shallow copy with its own pointer fields.
func (c *Calculation) Clone() *Calculation {
	cp := *c
	if c.LastError != nil {
		msg := *c.LastError
		cp.LastError = &msg
	}
	if c.LastRunAt != nil {
		at := *c.LastRunAt
		cp.LastRunAt = &at
	}
	return &cp
}

// SortByExecutionOrder sorts calculations by (ExecutionOrder, ID).
func SortByExecutionOrder(calcs []*Calculation) {
	sort.SliceStable(calcs, func(i, j int) bool {
		if calcs[i].ExecutionOrder != calcs[j].ExecutionOrder {
			return calcs[i].ExecutionOrder < calcs[j].ExecutionOrder
		}
		return calcs[i].ID < calcs[j].ID
	})
}

// ValidationResult is the outcome of validating a formula.
// It is shaped for direct display to an administrator.
type ValidationResult struct {
	Valid            bool     `json:"valid"`
	Errors           []string `json:"errors"`
	ReferencedFields []string `json:"referenced_fields"`
}

// PreviewResult is the outcome of a dry run.
type PreviewResult struct {
	CalculationID string `json:"calculation_id,omitempty"`
	EntityID      string `json:"entity_id"`
	Field         string `json:"field"`
	Value         any    `json:"value"`
	Error         string `json:"error,omitempty"`
}

// CalculationSummary holds per-calculation counts of a batch run.
type CalculationSummary struct {
	CalculationID string `json:"calculation_id"`
	Name          string `json:"name"`
	Updated       int    `json:"updated"`
	Failed        int    `json:"failed"`
}

// BatchSummary is the result of running every active calculation of a type.
// It carries counts, not per-entity lists, to keep it bounded.
type BatchSummary struct {
	RunID        string               `json:"run_id,omitempty"`
	TypeKey      string               `json:"type_key"`
	Calculations int                  `json:"calculations"`
	Entities     int                  `json:"entities"`
	Updated      int                  `json:"updated"`
	Failed       int                  `json:"failed"`
	Cancelled    bool                 `json:"cancelled,omitempty"`
	PerCalc      []CalculationSummary `json:"per_calculation"`
}
