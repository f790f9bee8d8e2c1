package core

import "time"

// Store defines the interface for state management operations.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Calculation operations
	CreateCalculation(calc *Calculation) error
	UpdateCalculation(calc *Calculation) error
	GetCalculation(id string) (*Calculation, error)
	ListCalculations() ([]*Calculation, error)
	// ListActiveCalculations returns active calculations for a type,
	// sorted by (ExecutionOrder, ID).
	ListActiveCalculations(typeKey string) ([]*Calculation, error)
	ListTargetTypes() ([]string, error)
	DeleteCalculation(id string) error
	RecordCalculationResult(id string, lastError *string, runAt time.Time) error

	// Entity operations
	SaveEntity(entity *Entity) error
	GetEntity(id string) (*Entity, error)
	ListEntitiesByType(typeKey string) ([]*Entity, error)
	ListChildren(parentID string) ([]*Entity, error)
	SetEntityAttribute(id, field string, value any) error

	// Relation operations
	SaveRelationType(rt *RelationType) error
	ListRelationTypes() ([]*RelationType, error)
	SaveRelation(rel *Relation) error
	// ListRelated returns the entities at the other end of every relation
	// of the entity, grouped by relation type key.
	ListRelated(entityID string) (map[string][]*Entity, error)

	// Run operations
	CreateRun(typeKey string) (*Run, error)
	CompleteRun(id string, status RunStatus, summary *BatchSummary, errMsg string) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)
}

// RunStatus represents the status of a batch run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents one batch execution for an entity type.
type Run struct {
	ID           string
	TypeKey      string
	Status       RunStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	Calculations int
	Entities     int
	Updated      int
	Failed       int
	Error        string
}
