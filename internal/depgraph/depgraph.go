// Package depgraph derives the dependency graph between calculations from
// the fields their formulas read, and checks it for cycles.
//
// The graph is rebuilt from the full calculation set on every call; it is
// never persisted or cached.
package depgraph

import (
	"fmt"

	"github.com/leapstack-labs/cardcalc/internal/dag"
	"github.com/leapstack-labs/cardcalc/internal/formula"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// Option configures Build and DetectCycles.
type Option func(*options)

type options struct {
	parse func(string) (*formula.Program, error)
}

// WithCache parses formulas through a shared parse cache.
func WithCache(c *formula.Cache) Option {
	return func(o *options) {
		if c != nil {
			o.parse = c.Parse
		}
	}
}

// field identifies a calculated attribute of an entity type.
type field struct {
	typeKey string
	key     string
}

// Graph is the dependency graph of a calculation set.
type Graph struct {
	dag   *dag.Graph
	calcs map[string]*core.Calculation
	// Invalid lists calculations whose formulas do not parse; they
	// contribute no edges.
	Invalid []string
}

// Build constructs the graph. An edge B -> A exists when A's formula reads
// the field produced by B, either on A's own type or on a type A reaches
// through a relation or its children.
func Build(calcs []*core.Calculation, relationTypes []*core.RelationType, opts ...Option) *Graph {
	o := options{parse: func(src string) (*formula.Program, error) { return formula.Parse(src) }}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Graph{
		dag:   dag.NewGraph(),
		calcs: make(map[string]*core.Calculation, len(calcs)),
	}

	producers := make(map[field][]string)
	for _, c := range calcs {
		g.dag.AddNode(c.ID, c)
		g.calcs[c.ID] = c
		f := field{typeKey: c.TargetTypeKey, key: c.TargetFieldKey}
		producers[f] = append(producers[f], c.ID)
	}

	relTypes := make(map[string][]*core.RelationType)
	for _, rt := range relationTypes {
		relTypes[rt.Key] = append(relTypes[rt.Key], rt)
	}

	for _, c := range calcs {
		prog, err := o.parse(c.Formula)
		if err != nil {
			g.Invalid = append(g.Invalid, c.ID)
			continue
		}
		for _, ref := range prog.References() {
			for _, typeKey := range reachableTypes(c.TargetTypeKey, ref, relTypes, producers) {
				for _, producerID := range producers[field{typeKey: typeKey, key: ref.Field}] {
					// both nodes were added above
					_ = g.dag.AddEdge(producerID, c.ID)
				}
			}
		}
	}

	return g
}

// reachableTypes resolves which entity types a reference can read from.
func reachableTypes(own string, ref formula.Reference, relTypes map[string][]*core.RelationType, producers map[field][]string) []string {
	switch ref.Scope {
	case formula.ScopeSelf, formula.ScopeChildren:
		return []string{own}
	}

	defs, known := relTypes[ref.Relation]
	if !known {
		// unknown relation type: any type producing the field may be reached
		var types []string
		seen := make(map[string]bool)
		for f := range producers {
			if f.key == ref.Field && !seen[f.typeKey] {
				seen[f.typeKey] = true
				types = append(types, f.typeKey)
			}
		}
		return types
	}

	var types []string
	for _, rt := range defs {
		if other, ok := rt.OtherEnd(own); ok {
			types = append(types, other)
			continue
		}
		types = append(types, rt.SourceTypeKey, rt.TargetTypeKey)
	}
	return types
}

// CycleFrom returns the cycle through the calculation with the given ID as
// display names, first name repeated at the end, or nil.
func (g *Graph) CycleFrom(id string) []string {
	return g.names(g.dag.FindCycleFrom(id))
}

// Cycle returns any cycle in the graph as display names, or nil.
func (g *Graph) Cycle() []string {
	if ok, path := g.dag.HasCycle(); ok {
		return g.names(path)
	}
	return nil
}

// Order returns every calculation with producers before their consumers.
// Independent calculations keep (ExecutionOrder, ID) order.
func (g *Graph) Order() ([]*core.Calculation, error) {
	nodes, err := g.dag.TopologicalSortFunc(func(a, b *dag.Node) bool {
		ca, cb := a.Data.(*core.Calculation), b.Data.(*core.Calculation)
		if ca.ExecutionOrder != cb.ExecutionOrder {
			return ca.ExecutionOrder < cb.ExecutionOrder
		}
		return ca.ID < cb.ID
	})
	if err != nil {
		return nil, fmt.Errorf("order calculations: %w", err)
	}

	out := make([]*core.Calculation, len(nodes))
	for i, n := range nodes {
		out[i] = n.Data.(*core.Calculation)
	}
	return out, nil
}

// Levels groups calculation IDs by dependency depth.
func (g *Graph) Levels() ([][]string, error) {
	return g.dag.GetExecutionLevels()
}

// Dependencies returns the calculations id reads from directly.
func (g *Graph) Dependencies(id string) []*core.Calculation {
	return g.lookup(g.dag.GetParents(id))
}

// Upstream returns every calculation id transitively reads from.
func (g *Graph) Upstream(id string) []*core.Calculation {
	return g.lookup(g.dag.GetUpstreamNodes(id))
}

// Affected returns id and every calculation downstream of it.
func (g *Graph) Affected(id string) []*core.Calculation {
	return g.lookup(g.dag.GetAffectedNodes([]string{id}))
}

// Get returns a calculation of the graph by ID.
func (g *Graph) Get(id string) (*core.Calculation, bool) {
	c, ok := g.calcs[id]
	return c, ok
}

// EdgeCount returns the number of dependency edges.
func (g *Graph) EdgeCount() int {
	return g.dag.EdgeCount()
}

func (g *Graph) lookup(ids []string) []*core.Calculation {
	out := make([]*core.Calculation, 0, len(ids))
	for _, id := range ids {
		if c, ok := g.calcs[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (g *Graph) names(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		if c, ok := g.calcs[id]; ok {
			out[i] = c.DisplayName()
		} else {
			out[i] = id
		}
	}
	return out
}

// DetectCycles checks whether candidate would close a dependency cycle.
// The graph is built from all calculations, active or not, with candidate
// replacing its stored version. It returns the cycle path and a
// *core.CycleError, or nil and nil.
func DetectCycles(all []*core.Calculation, candidate *core.Calculation, relationTypes []*core.RelationType, opts ...Option) ([]string, error) {
	calcs := make([]*core.Calculation, 0, len(all)+1)
	replaced := false
	for _, c := range all {
		if c.ID == candidate.ID {
			calcs = append(calcs, candidate)
			replaced = true
			continue
		}
		calcs = append(calcs, c)
	}
	if !replaced {
		calcs = append(calcs, candidate)
	}

	path := Build(calcs, relationTypes, opts...).CycleFrom(candidate.ID)
	if path == nil {
		return nil, nil
	}
	return path, &core.CycleError{Path: path}
}
