package engine

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/cardcalc/internal/formula"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// Execute runs one active calculation against one entity. On success the
// result is written to entity.Attributes[target] and persisted; on failure
// the entity is left untouched. Either way the outcome is recorded on the
// calculation, unless the run is refused before evaluation (cancelled
// context, inactive calculation, wrong entity type). Errors are returned as
// a message, never raised.
func (e *Engine) Execute(ctx context.Context, calc *core.Calculation, entity *core.Entity) (bool, string) {
	if err := ctx.Err(); err != nil {
		return false, err.Error()
	}
	if err := checkApplicable(calc, entity); err != nil {
		return false, err.Error()
	}

	err := e.executeOne(calc, entity)

	var lastError *string
	if err != nil {
		msg := err.Error()
		lastError = &msg
	}
	runAt := e.now()
	calc.LastError = lastError
	calc.LastRunAt = &runAt
	if recErr := e.store.RecordCalculationResult(calc.ID, lastError, runAt); recErr != nil {
		e.logger.Error("failed to record calculation result", "id", calc.ID, "error", recErr)
	}

	if err != nil {
		return false, err.Error()
	}
	return true, ""
}

// executeOne evaluates and applies calc to entity without recording the
// outcome on the calculation.
func (e *Engine) executeOne(calc *core.Calculation, entity *core.Entity) error {
	if err := checkApplicable(calc, entity); err != nil {
		return err
	}

	prog, err := e.parse(calc.Formula)
	if err != nil {
		return err
	}
	value, err := e.evaluate(prog, entity)
	if err != nil {
		return err
	}
	return e.apply(calc, entity, value)
}

// checkApplicable refuses inactive calculations and entities of another type.
func checkApplicable(calc *core.Calculation, entity *core.Entity) error {
	if !calc.IsActive {
		return fmt.Errorf("%s: %w", calc.DisplayName(), core.ErrInactive)
	}
	if entity.TypeKey != calc.TargetTypeKey {
		return fmt.Errorf("%s applies to %s, not %s", calc.DisplayName(), calc.TargetTypeKey, entity.TypeKey)
	}
	return nil
}

func (e *Engine) evaluate(prog *formula.Program, entity *core.Entity) (any, error) {
	fctx, err := e.buildContext(entity)
	if err != nil {
		return nil, err
	}
	value, err := formula.Evaluate(prog, fctx)
	if err != nil {
		return nil, err
	}
	return formula.Plain(value), nil
}

// apply persists the value first so the in-memory entity only changes once
// the write is committed.
func (e *Engine) apply(calc *core.Calculation, entity *core.Entity, value any) error {
	if err := e.store.SetEntityAttribute(entity.ID, calc.TargetFieldKey, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", calc.TargetFieldKey, err)
	}
	if entity.Attributes == nil {
		entity.Attributes = make(map[string]any)
	}
	entity.Attributes[calc.TargetFieldKey] = value

	e.logger.Debug("calculation applied",
		"calculation", calc.DisplayName(),
		"entity", entity.ID,
		"field", calc.TargetFieldKey,
	)
	return nil
}

// Preview evaluates a stored calculation against a stored entity without
// persisting anything. Inactive calculations can be previewed. Evaluation
// failures are reported in the result; the error is for lookups only.
func (e *Engine) Preview(ctx context.Context, calcID, entityID string) (*core.PreviewResult, error) {
	calc, err := e.store.GetCalculation(calcID)
	if err != nil {
		return nil, err
	}
	result, err := e.PreviewFormula(ctx, calc.Formula, calc.TargetFieldKey, entityID)
	if err != nil {
		return nil, err
	}
	result.CalculationID = calc.ID
	return result, nil
}

// PreviewFormula evaluates formula source against a stored entity.
func (e *Engine) PreviewFormula(ctx context.Context, src, field, entityID string) (*core.PreviewResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entity, err := e.store.GetEntity(entityID)
	if err != nil {
		return nil, err
	}

	result := &core.PreviewResult{EntityID: entity.ID, Field: field}
	prog, err := e.parse(src)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	value, err := e.evaluate(prog, entity)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	result.Value = value
	return result, nil
}

// Evaluate evaluates formula source against a stored entity and returns
// the raw value with typed formula errors. It backs interactive sessions.
func (e *Engine) Evaluate(ctx context.Context, src, entityID string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entity, err := e.store.GetEntity(entityID)
	if err != nil {
		return nil, err
	}
	prog, err := e.parse(src)
	if err != nil {
		return nil, err
	}
	return e.evaluate(prog, entity)
}
