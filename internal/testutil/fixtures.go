package testutil

import "github.com/leapstack-labs/cardcalc/pkg/core"

// Calc builds an active calculation.
func Calc(id, name, typeKey, field, formula string) *core.Calculation {
	return &core.Calculation{
		ID:             id,
		Name:           name,
		TargetTypeKey:  typeKey,
		TargetFieldKey: field,
		Formula:        formula,
		IsActive:       true,
	}
}

// Entity builds an entity with the given attributes. Pairs alternate key
// and value.
func Entity(id, typeKey, name string, pairs ...any) *core.Entity {
	attrs := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		attrs[pairs[i].(string)] = pairs[i+1]
	}
	return &core.Entity{ID: id, TypeKey: typeKey, Name: name, Attributes: attrs}
}

// Child sets the parent of e and returns it.
func Child(e *core.Entity, parentID string) *core.Entity {
	e.ParentID = parentID
	return e
}
