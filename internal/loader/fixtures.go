// Package loader reads YAML fixture files describing relation types,
// entities, relations and calculations, and applies them to a store.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// Fixture is the content of a fixture file.
type Fixture struct {
	RelationTypes []RelationTypeYAML `yaml:"relation_types"`
	Entities      []EntityYAML       `yaml:"entities"`
	Relations     []RelationYAML     `yaml:"relations"`
	Calculations  []CalculationYAML  `yaml:"calculations"`
}

// RelationTypeYAML declares a relation type.
type RelationTypeYAML struct {
	Key    string `yaml:"key"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// EntityYAML declares an entity.
type EntityYAML struct {
	ID         string         `yaml:"id"`
	Type       string         `yaml:"type"`
	Name       string         `yaml:"name"`
	Parent     string         `yaml:"parent"`
	Attributes map[string]any `yaml:"attributes"`
}

// RelationYAML links two entities.
type RelationYAML struct {
	ID     string `yaml:"id"`
	Type   string `yaml:"type"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// CalculationYAML declares a calculation. Active defaults to false.
type CalculationYAML struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	Field       string `yaml:"field"`
	Formula     string `yaml:"formula"`
	Order       int    `yaml:"order"`
	Active      bool   `yaml:"active"`
}

// FixtureError reports a malformed fixture file.
type FixtureError struct {
	Path    string
	Message string
}

func (e *FixtureError) Error() string {
	if e.Path == "" {
		return "invalid fixture: " + e.Message
	}
	return fmt.Sprintf("invalid fixture %s: %s", e.Path, e.Message)
}

// LoadFile reads and parses a fixture file.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		var ferr *FixtureError
		if errors.As(err, &ferr) {
			ferr.Path = path
		}
		return nil, err
	}
	return f, nil
}

// Parse decodes fixture YAML. Unknown fields are rejected.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := decodeStrict(data, &f); err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseCalculation decodes a single calculation definition.
func ParseCalculation(data []byte) (*core.Calculation, error) {
	var c CalculationYAML
	if err := decodeStrict(data, &c); err != nil {
		return nil, err
	}
	if err := c.validate(0); err != nil {
		return nil, err
	}
	return c.toCore(), nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &FixtureError{Message: err.Error()}
	}
	return nil
}

func (f *Fixture) validate() error {
	for i, rt := range f.RelationTypes {
		if rt.Key == "" || rt.Source == "" || rt.Target == "" {
			return &FixtureError{Message: fmt.Sprintf("relation_types[%d]: key, source and target are required", i)}
		}
	}
	ids := make(map[string]bool, len(f.Entities))
	for i, e := range f.Entities {
		if e.ID == "" || e.Type == "" {
			return &FixtureError{Message: fmt.Sprintf("entities[%d]: id and type are required", i)}
		}
		if ids[e.ID] {
			return &FixtureError{Message: fmt.Sprintf("entities[%d]: duplicate id %q", i, e.ID)}
		}
		ids[e.ID] = true
	}
	for i, r := range f.Relations {
		if r.Type == "" || r.Source == "" || r.Target == "" {
			return &FixtureError{Message: fmt.Sprintf("relations[%d]: type, source and target are required", i)}
		}
	}
	for i, c := range f.Calculations {
		if err := c.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (c *CalculationYAML) validate(i int) error {
	if c.Type == "" || c.Field == "" || c.Formula == "" {
		return &FixtureError{Message: fmt.Sprintf("calculations[%d]: type, field and formula are required", i)}
	}
	return nil
}

func (c *CalculationYAML) toCore() *core.Calculation {
	return &core.Calculation{
		ID:             c.ID,
		Name:           c.Name,
		Description:    c.Description,
		TargetTypeKey:  c.Type,
		TargetFieldKey: c.Field,
		Formula:        c.Formula,
		ExecutionOrder: c.Order,
		IsActive:       c.Active,
	}
}
