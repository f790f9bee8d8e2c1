package engine

import (
	"fmt"

	"github.com/leapstack-labs/cardcalc/internal/formula"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// buildContext assembles the evaluation context for an entity: its own
// attributes, the entities related to it grouped by relation type and its
// hierarchy children. The entity's attribute map is read as passed, so
// writes made earlier in a batch are visible.
func (e *Engine) buildContext(entity *core.Entity) (*formula.Context, error) {
	related, err := e.store.ListRelated(entity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load relations of %s: %w", entity.ID, err)
	}
	children, err := e.store.ListChildren(entity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load children of %s: %w", entity.ID, err)
	}

	relations := make(map[string][]map[string]any, len(related))
	for key, entities := range related {
		relations[key] = entityMaps(entities)
	}

	return formula.NewContext(formula.ContextData{
		Data:      entity.Attributes,
		Relations: relations,
		Children:  entityMaps(children),
	}), nil
}

func entityMaps(entities []*core.Entity) []map[string]any {
	out := make([]map[string]any, len(entities))
	for i, ent := range entities {
		out[i] = entityMap(ent)
	}
	return out
}

// entityMap shapes a related or child entity as {id, name, type, attributes}.
func entityMap(ent *core.Entity) map[string]any {
	m := map[string]any{
		"id":   ent.ID,
		"name": ent.Name,
		"type": ent.TypeKey,
	}
	if ent.Attributes != nil {
		m["attributes"] = ent.Attributes
	}
	return m
}
