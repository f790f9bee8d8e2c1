package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/cardcalc/internal/formula"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

func calc(id, name, typeKey, field, src string) *core.Calculation {
	return &core.Calculation{
		ID:             id,
		Name:           name,
		TargetTypeKey:  typeKey,
		TargetFieldKey: field,
		Formula:        src,
	}
}

var appToComponent = []*core.RelationType{
	{Key: "app_to_itc", SourceTypeKey: "Application", TargetTypeKey: "ITComponent"},
}

func TestDetectCycles_DAG(t *testing.T) {
	all := []*core.Calculation{
		calc("1", "base", "Application", "base", "data.cost * 2"),
		calc("2", "total", "Application", "total", "data.base + 1"),
		calc("3", "score", "Application", "score", "data.total + data.base"),
	}

	for _, candidate := range all {
		path, err := DetectCycles(all, candidate, nil)
		assert.NoError(t, err)
		assert.Nil(t, path)
	}
}

func TestDetectCycles_Cycle(t *testing.T) {
	all := []*core.Calculation{
		calc("1", "A", "Application", "a", "data.c + 1"),
		calc("2", "B", "Application", "b", "data.a + 1"),
		calc("3", "C", "Application", "c", "data.b + 1"),
	}

	path, err := DetectCycles(all, all[0], nil)
	require.Error(t, err)

	var cerr *core.CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"A", "C", "B", "A"}, path)
	assert.Equal(t, path, cerr.Path)
	assert.Equal(t, "circular dependency detected: A -> C -> B -> A", err.Error())
}

func TestDetectCycles_RemovingClosingEdge(t *testing.T) {
	all := []*core.Calculation{
		calc("1", "A", "Application", "a", "data.c + 1"),
		calc("2", "B", "Application", "b", "data.a + 1"),
		calc("3", "C", "Application", "c", "data.b + 1"),
	}
	path, _ := DetectCycles(all, all[0], nil)
	require.NotEmpty(t, path)

	// C no longer reads B
	edited := all[2].Clone()
	edited.Formula = "data.cost"

	path, err := DetectCycles(all, edited, nil)
	assert.NoError(t, err)
	assert.Nil(t, path)

	path, err = DetectCycles([]*core.Calculation{all[0], all[1], edited}, all[0], nil)
	assert.NoError(t, err)
	assert.Nil(t, path)
}

func TestDetectCycles_SelfReference(t *testing.T) {
	c := calc("1", "Total", "Application", "total", "data.total + 1")

	path, err := DetectCycles(nil, c, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"Total", "Total"}, path)
}

func TestDetectCycles_ActivationAgainstInactiveCalculation(t *testing.T) {
	// second calculation is stored but not active yet
	second := calc("2", "Risk Score", "Application", "risk_score", `IF(data.total_cost > 1000, 3, 1)`)
	second.IsActive = false

	first := calc("1", "Total Cost", "Application", "total_cost", "data.risk_score * 100")
	first.IsActive = true

	path, err := DetectCycles([]*core.Calculation{first, second}, first, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"Total Cost", "Risk Score", "Total Cost"}, path)
	assert.Contains(t, err.Error(), "Total Cost -> Risk Score -> Total Cost")
}

func TestDetectCycles_CandidateIsNew(t *testing.T) {
	stored := []*core.Calculation{
		calc("1", "A", "Application", "a", "data.b"),
	}
	candidate := calc("2", "B", "Application", "b", "data.a")

	path, err := DetectCycles(stored, candidate, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"B", "A", "B"}, path)
}

func TestDetectCycles_ScopedByType(t *testing.T) {
	// same field name on unrelated types does not connect them
	all := []*core.Calculation{
		calc("1", "App cost", "Application", "cost", "data.cost_base"),
		calc("2", "Component cost", "ITComponent", "cost_base", "data.cost"),
	}

	path, err := DetectCycles(all, all[0], nil)
	assert.NoError(t, err)
	assert.Nil(t, path)
}

func TestDetectCycles_ThroughRelation(t *testing.T) {
	all := []*core.Calculation{
		calc("1", "App cost", "Application", "total_cost", `SUM(PLUCK(relations.app_to_itc, "attributes.cost"))`),
		calc("2", "Component cost", "ITComponent", "cost", `relations.app_to_itc[0].attributes.total_cost`),
	}

	path, err := DetectCycles(all, all[0], appToComponent)
	require.Error(t, err)
	assert.Equal(t, []string{"App cost", "Component cost", "App cost"}, path)

	// unknown relation keys are assumed to reach any type
	path, err = DetectCycles(all, all[0], nil)
	require.Error(t, err)
	assert.Len(t, path, 3)
}

func TestDetectCycles_RelationToOtherType(t *testing.T) {
	// the relation reaches ITComponent, so an Application field of the same
	// name is not a dependency
	all := []*core.Calculation{
		calc("1", "App cost", "Application", "cost", `SUM(PLUCK(relations.app_to_itc, "attributes.cost"))`),
	}

	path, err := DetectCycles(all, all[0], appToComponent)
	assert.NoError(t, err)
	assert.Nil(t, path)
}

func TestDetectCycles_ThroughChildren(t *testing.T) {
	all := []*core.Calculation{
		calc("1", "Rollup", "Application", "rollup", `SUM(PLUCK(children, "attributes.rollup"))`),
	}

	path, err := DetectCycles(all, all[0], nil)
	require.Error(t, err)
	assert.Equal(t, []string{"Rollup", "Rollup"}, path)
}

func TestDetectCycles_StringLiteralIsNotAReference(t *testing.T) {
	all := []*core.Calculation{
		calc("1", "A", "Application", "a", `CONCAT("b", data.x)`),
		calc("2", "B", "Application", "b", "data.a"),
	}

	path, err := DetectCycles(all, all[1], nil)
	assert.NoError(t, err)
	assert.Nil(t, path)
}

func TestBuild_InvalidFormulaContributesNoEdges(t *testing.T) {
	all := []*core.Calculation{
		calc("1", "A", "Application", "a", "data.b +"),
		calc("2", "B", "Application", "b", "data.a"),
	}

	g := Build(all, nil)
	assert.Equal(t, []string{"1"}, g.Invalid)
	assert.Equal(t, 1, g.EdgeCount())
	assert.Nil(t, g.Cycle())
}

func TestBuild_OrderAndNeighbours(t *testing.T) {
	all := []*core.Calculation{
		calc("c", "score", "Application", "score", "data.total * 2"),
		calc("a", "base", "Application", "base", "data.cost"),
		calc("b", "total", "Application", "total", "data.base + 1"),
		calc("d", "other", "Application", "other", "1"),
	}
	all[3].ExecutionOrder = -1

	g := Build(all, nil, WithCache(formula.NewCache(8, 0)))

	ordered, err := g.Order()
	require.NoError(t, err)
	var ids []string
	for _, c := range ordered {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)

	levels, err := g.Levels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "d"}, {"b"}, {"c"}}, levels)

	assert.Equal(t, []*core.Calculation{all[2]}, g.Dependencies("c"))
	assert.Equal(t, []*core.Calculation{all[1], all[2]}, g.Upstream("c"))
	assert.Equal(t, []*core.Calculation{all[1], all[2], all[0]}, g.Affected("a"))

	got, ok := g.Get("a")
	assert.True(t, ok)
	assert.Same(t, all[1], got)
}

func TestBuild_OrderWithCycle(t *testing.T) {
	all := []*core.Calculation{
		calc("1", "A", "Application", "a", "data.b"),
		calc("2", "B", "Application", "b", "data.a"),
	}

	g := Build(all, nil)
	_, err := g.Order()
	assert.Error(t, err)
	assert.Equal(t, []string{"A", "B", "A"}, g.Cycle())
}
