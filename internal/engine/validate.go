package engine

import (
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// Validate parses a formula and reports errors and referenced fields in a
// shape meant for direct display. It never returns nil.
func (e *Engine) Validate(src, typeKey string) *core.ValidationResult {
	result := &core.ValidationResult{
		Errors:           []string{},
		ReferencedFields: []string{},
	}
	if typeKey == "" {
		result.Errors = append(result.Errors, "target type is required")
	}

	prog, err := e.parse(src)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else {
		result.ReferencedFields = prog.ReferencedFields()
	}

	result.Valid = len(result.Errors) == 0
	e.logger.Debug("formula validated", "type", typeKey, "valid", result.Valid, "refs", len(result.ReferencedFields))
	return result
}
