package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// RunForType runs every active calculation of a type against every entity
// of that type. Calculations run one after another in (ExecutionOrder, ID)
// order so later ones see values written by earlier ones. Failures are
// counted, not raised; the batch is recorded as a run.
//
// Cancellation is checked between entities. Writes already applied are
// kept and the summary is returned together with the context error. When
// the store fails to record a calculation's outcome the run is marked
// failed and the store error is returned with the summary.
func (e *Engine) RunForType(ctx context.Context, typeKey string) (*core.BatchSummary, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	calcs, err := e.store.ListActiveCalculations(typeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list calculations for %s: %w", typeKey, err)
	}
	core.SortByExecutionOrder(calcs)

	entities, err := e.store.ListEntitiesByType(typeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities of %s: %w", typeKey, err)
	}

	run, err := e.store.CreateRun(typeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	e.logger.Info("starting batch", "run_id", run.ID, "type", typeKey,
		"calculations", len(calcs), "entities", len(entities))

	summary := &core.BatchSummary{
		RunID:        run.ID,
		TypeKey:      typeKey,
		Calculations: len(calcs),
		Entities:     len(entities),
		PerCalc:      make([]core.CalculationSummary, 0, len(calcs)),
	}

	var storeErr error
	for _, calc := range calcs {
		cs, ran, err := e.runCalculation(ctx, calc, entities)
		summary.PerCalc = append(summary.PerCalc, cs)
		summary.Updated += cs.Updated
		summary.Failed += cs.Failed
		if err != nil && storeErr == nil {
			storeErr = err
		}
		if !ran {
			summary.Cancelled = true
			break
		}
	}

	if summary.Cancelled {
		cause := ctx.Err()
		e.logger.Info("batch cancelled", "run_id", run.ID, "type", typeKey,
			"updated", summary.Updated, "failed", summary.Failed)
		if err := e.store.CompleteRun(run.ID, core.RunStatusCancelled, summary, cause.Error()); err != nil {
			e.logger.Error("failed to complete run", "run_id", run.ID, "error", err)
		}
		return summary, fmt.Errorf("batch for %s cancelled: %w", typeKey, cause)
	}

	if storeErr != nil {
		e.logger.Error("batch failed", "run_id", run.ID, "type", typeKey, "error", storeErr)
		if err := e.store.CompleteRun(run.ID, core.RunStatusFailed, summary, storeErr.Error()); err != nil {
			e.logger.Error("failed to complete run", "run_id", run.ID, "error", err)
		}
		return summary, fmt.Errorf("batch for %s failed: %w", typeKey, storeErr)
	}

	if err := e.store.CompleteRun(run.ID, core.RunStatusCompleted, summary, ""); err != nil {
		if ferr := e.store.CompleteRun(run.ID, core.RunStatusFailed, summary, err.Error()); ferr != nil {
			e.logger.Error("failed to mark run failed", "run_id", run.ID, "error", ferr)
		}
		return summary, fmt.Errorf("failed to complete run: %w", err)
	}
	e.logger.Info("batch completed", "run_id", run.ID, "type", typeKey,
		"updated", summary.Updated, "failed", summary.Failed)
	return summary, nil
}

// runCalculation applies one calculation to every entity. It returns false
// when the context was cancelled before all entities were processed, and
// the store error when the outcome could not be recorded.
func (e *Engine) runCalculation(ctx context.Context, calc *core.Calculation, entities []*core.Entity) (core.CalculationSummary, bool, error) {
	cs := core.CalculationSummary{CalculationID: calc.ID, Name: calc.DisplayName()}

	var lastError *string
	completed := true
	processed := 0
	for _, entity := range entities {
		if ctx.Err() != nil {
			completed = false
			break
		}
		processed++
		if err := e.executeOne(calc, entity); err != nil {
			cs.Failed++
			msg := err.Error()
			lastError = &msg
			e.logger.Debug("calculation failed", "calculation", calc.DisplayName(), "entity", entity.ID, "error", msg)
			continue
		}
		cs.Updated++
	}

	var recordErr error
	if processed > 0 {
		if err := e.store.RecordCalculationResult(calc.ID, lastError, e.now()); err != nil {
			recordErr = fmt.Errorf("failed to record result of %s: %w", calc.DisplayName(), err)
		}
	}
	if cs.Failed > 0 {
		e.logger.Error("calculation had failures", "calculation", calc.DisplayName(),
			"failed", cs.Failed, "last_error", *lastError)
	}
	return cs, completed, recordErr
}

// RunAll runs one batch per entity type that has active calculations.
// Types are independent and run concurrently up to the configured limit.
// Summaries are returned in type order; a failed type leaves a nil entry
// unless it produced a partial summary.
func (e *Engine) RunAll(ctx context.Context) ([]*core.BatchSummary, error) {
	types, err := e.store.ListTargetTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to list target types: %w", err)
	}

	summaries := make([]*core.BatchSummary, len(types))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for i, typeKey := range types {
		g.Go(func() error {
			summary, err := e.RunForType(gctx, typeKey)
			summaries[i] = summary
			return err
		})
	}
	return summaries, g.Wait()
}
