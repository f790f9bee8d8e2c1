package loader

import (
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// CalculationSaver persists calculations with validation and cycle checks.
type CalculationSaver interface {
	SaveCalculation(calc *core.Calculation) (*core.Calculation, error)
}

// Result counts what Apply wrote.
type Result struct {
	RelationTypes int `json:"relation_types"`
	Entities      int `json:"entities"`
	Relations     int `json:"relations"`
	Calculations  int `json:"calculations"`
}

// Apply writes a fixture: relation types, entities and relations go to
// the store directly, calculations through saver. It stops at the first
// error; earlier writes are kept.
func Apply(store core.Store, saver CalculationSaver, f *Fixture, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	res := &Result{}

	for _, rt := range f.RelationTypes {
		if err := store.SaveRelationType(&core.RelationType{
			Key:           rt.Key,
			SourceTypeKey: rt.Source,
			TargetTypeKey: rt.Target,
		}); err != nil {
			return res, fmt.Errorf("relation type %s: %w", rt.Key, err)
		}
		res.RelationTypes++
	}

	for _, e := range f.Entities {
		if err := store.SaveEntity(&core.Entity{
			ID:         e.ID,
			TypeKey:    e.Type,
			Name:       e.Name,
			ParentID:   e.Parent,
			Attributes: e.Attributes,
		}); err != nil {
			return res, fmt.Errorf("entity %s: %w", e.ID, err)
		}
		res.Entities++
	}

	for _, r := range f.Relations {
		if err := store.SaveRelation(&core.Relation{
			ID:       r.ID,
			TypeKey:  r.Type,
			SourceID: r.Source,
			TargetID: r.Target,
		}); err != nil {
			return res, fmt.Errorf("relation %s %s -> %s: %w", r.Type, r.Source, r.Target, err)
		}
		res.Relations++
	}

	for _, c := range f.Calculations {
		calc := c.toCore()
		if _, err := saver.SaveCalculation(calc); err != nil {
			return res, fmt.Errorf("calculation %s: %w", calc.DisplayName(), err)
		}
		res.Calculations++
	}

	logger.Info("fixture applied",
		"relation_types", res.RelationTypes,
		"entities", res.Entities,
		"relations", res.Relations,
		"calculations", res.Calculations,
	)
	return res, nil
}
