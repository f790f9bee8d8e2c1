package loader

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/cardcalc/internal/engine"
	"github.com/leapstack-labs/cardcalc/internal/state"
	"github.com/leapstack-labs/cardcalc/internal/testutil"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

func TestLoadFile(t *testing.T) {
	f, err := LoadFile(filepath.Join("testdata", "landscape.yaml"))
	require.NoError(t, err)

	require.Len(t, f.RelationTypes, 1)
	assert.Equal(t, "ITComponent", f.RelationTypes[0].Target)
	require.Len(t, f.Entities, 4)
	assert.Equal(t, "crm", f.Entities[1].Parent)
	assert.Equal(t, 200.5, f.Entities[3].Attributes["cost"])
	require.Len(t, f.Relations, 2)
	require.Len(t, f.Calculations, 2)
	assert.True(t, f.Calculations[0].Active)
	assert.Contains(t, f.Calculations[1].Formula, "# weight high risk\n")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{name: "unknown top-level field", yaml: "widgets: []\n", errMsg: "widgets"},
		{name: "unknown entity field", yaml: "entities:\n  - id: a\n    type: T\n    colour: red\n", errMsg: "colour"},
		{name: "entity without type", yaml: "entities:\n  - id: a\n", errMsg: "entities[0]: id and type are required"},
		{name: "duplicate entity", yaml: "entities:\n  - {id: a, type: T}\n  - {id: a, type: T}\n", errMsg: "duplicate id"},
		{name: "relation without target", yaml: "relations:\n  - {type: r, source: a}\n", errMsg: "relations[0]"},
		{name: "relation type without source", yaml: "relation_types:\n  - {key: r, target: T}\n", errMsg: "relation_types[0]"},
		{name: "calculation without formula", yaml: "calculations:\n  - {type: T, field: f}\n", errMsg: "calculations[0]"},
		{name: "not yaml", yaml: "entities: [", errMsg: "invalid fixture"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var ferr *FixtureError
			require.ErrorAs(t, err, &ferr)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Entities)
}

func TestParseCalculation(t *testing.T) {
	calc, err := ParseCalculation([]byte(`
name: Total
type: Application
field: total
formula: data.a + data.b
order: 3
active: true
`))
	require.NoError(t, err)
	assert.Equal(t, &core.Calculation{
		Name:           "Total",
		TargetTypeKey:  "Application",
		TargetFieldKey: "total",
		Formula:        "data.a + data.b",
		ExecutionOrder: 3,
		IsActive:       true,
	}, calc)

	_, err = ParseCalculation([]byte("name: x\n"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	logger := testutil.NewTestLogger(t)
	store := state.NewSQLiteStore(logger)
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })

	eng, err := engine.New(engine.Config{Store: store, Logger: logger})
	require.NoError(t, err)

	f, err := LoadFile(filepath.Join("testdata", "landscape.yaml"))
	require.NoError(t, err)

	res, err := Apply(store, eng, f, logger)
	require.NoError(t, err)
	assert.Equal(t, &Result{RelationTypes: 1, Entities: 4, Relations: 2, Calculations: 2}, res)

	children, err := store.ListChildren("crm")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "crm-mobile", children[0].ID)

	summary, err := eng.RunForType(t.Context(), "Application")
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Updated)
	assert.Equal(t, 0, summary.Failed)

	crm, err := store.GetEntity("crm")
	require.NoError(t, err)
	assert.Equal(t, 300.5, crm.Attributes["component_cost"])
	assert.Equal(t, int64(400), crm.Attributes["risk_value"])

	mobile, err := store.GetEntity("crm-mobile")
	require.NoError(t, err)
	assert.Equal(t, int64(0), mobile.Attributes["component_cost"])
	assert.Equal(t, int64(40), mobile.Attributes["risk_value"])

	// applying an active duplicate target fails and reports the calculation
	dup := &Fixture{Calculations: []CalculationYAML{{Name: "Again", Type: "Application", Field: "risk_value", Formula: "1", Active: true}}}
	_, err = Apply(store, eng, dup, nil)
	require.ErrorIs(t, err, core.ErrDuplicateTarget)
	assert.Contains(t, err.Error(), "calculation Again")
}
