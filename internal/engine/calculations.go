package engine

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/cardcalc/internal/depgraph"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// SaveCalculation creates or updates a calculation. It rejects formulas
// that do not parse, a second active calculation for the same target
// field, and any activation or edit that would close a dependency cycle.
// Rejections leave the stored state untouched.
func (e *Engine) SaveCalculation(calc *core.Calculation) (*core.Calculation, error) {
	if calc.TargetTypeKey == "" || calc.TargetFieldKey == "" {
		return nil, fmt.Errorf("calculation %s: target type and field are required", calc.DisplayName())
	}
	if _, err := e.parse(calc.Formula); err != nil {
		return nil, fmt.Errorf("calculation %s: %w", calc.DisplayName(), err)
	}

	var prev *core.Calculation
	if calc.ID != "" {
		stored, err := e.store.GetCalculation(calc.ID)
		switch {
		case err == nil:
			prev = stored
		case !errors.Is(err, core.ErrNotFound):
			return nil, err
		}
	}

	if calc.IsActive {
		if err := e.checkUniqueTarget(calc); err != nil {
			return nil, err
		}
		if needsCycleCheck(prev, calc) {
			if err := e.checkCycles(calc); err != nil {
				return nil, err
			}
		}
	}

	if prev == nil {
		if err := e.store.CreateCalculation(calc); err != nil {
			return nil, err
		}
		e.logger.Info("calculation created", "id", calc.ID, "name", calc.DisplayName(), "active", calc.IsActive)
		return calc, nil
	}

	calc.CreatedAt = prev.CreatedAt
	if err := e.store.UpdateCalculation(calc); err != nil {
		return nil, err
	}
	e.logger.Info("calculation updated", "id", calc.ID, "name", calc.DisplayName(), "active", calc.IsActive)
	return calc, nil
}

// needsCycleCheck reports whether saving calc as active can change the
// dependency graph relative to its stored version.
func needsCycleCheck(prev, calc *core.Calculation) bool {
	if prev == nil || !prev.IsActive {
		return true
	}
	return prev.Formula != calc.Formula ||
		prev.TargetFieldKey != calc.TargetFieldKey ||
		prev.TargetTypeKey != calc.TargetTypeKey
}

func (e *Engine) checkUniqueTarget(calc *core.Calculation) error {
	active, err := e.store.ListActiveCalculations(calc.TargetTypeKey)
	if err != nil {
		return fmt.Errorf("failed to list active calculations: %w", err)
	}
	for _, other := range active {
		if other.ID != calc.ID && other.TargetFieldKey == calc.TargetFieldKey {
			return fmt.Errorf("%s.%s is written by %q: %w",
				calc.TargetTypeKey, calc.TargetFieldKey, other.DisplayName(), core.ErrDuplicateTarget)
		}
	}
	return nil
}

func (e *Engine) checkCycles(calc *core.Calculation) error {
	all, err := e.store.ListCalculations()
	if err != nil {
		return fmt.Errorf("failed to list calculations: %w", err)
	}
	relTypes, err := e.store.ListRelationTypes()
	if err != nil {
		return fmt.Errorf("failed to list relation types: %w", err)
	}

	path, err := depgraph.DetectCycles(all, calc, relTypes, depgraph.WithCache(e.cache))
	if err != nil {
		e.logger.Info("calculation rejected", "name", calc.DisplayName(), "cycle", path)
		return err
	}
	return nil
}

// Activate turns a stored calculation on, subject to the same checks as
// SaveCalculation.
func (e *Engine) Activate(id string) (*core.Calculation, error) {
	calc, err := e.store.GetCalculation(id)
	if err != nil {
		return nil, err
	}
	if calc.IsActive {
		return calc, nil
	}
	calc.IsActive = true
	return e.SaveCalculation(calc)
}

// Deactivate turns a calculation off. Deactivation never needs checks.
func (e *Engine) Deactivate(id string) (*core.Calculation, error) {
	calc, err := e.store.GetCalculation(id)
	if err != nil {
		return nil, err
	}
	if !calc.IsActive {
		return calc, nil
	}
	calc.IsActive = false
	if err := e.store.UpdateCalculation(calc); err != nil {
		return nil, err
	}
	e.logger.Info("calculation deactivated", "id", id, "name", calc.DisplayName())
	return calc, nil
}

// DeleteCalculation removes a calculation. Values it already wrote stay on
// the entities.
func (e *Engine) DeleteCalculation(id string) error {
	if err := e.store.DeleteCalculation(id); err != nil {
		return err
	}
	e.logger.Info("calculation deleted", "id", id)
	return nil
}
