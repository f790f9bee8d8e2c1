package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/internal/depgraph"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// GraphOutput is the JSON shape of the graph command.
type GraphOutput struct {
	Calculations int                 `json:"calculations"`
	Edges        int                 `json:"edges"`
	Order        []string            `json:"order"`
	Levels       [][]string          `json:"levels"`
	Dependencies map[string][]string `json:"dependencies"`
	Cycle        []string            `json:"cycle,omitempty"`
	Invalid      []string            `json:"invalid,omitempty"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "graph",
		Aliases: []string{"dag"},
		Short:   "Show calculation dependencies and report cycles",
		Long: `Display the dependency graph over every stored calculation, active or not.

A calculation depends on another when its formula reads the field the other
writes, on its own type, on a related type or on its children. Calculations
are grouped by dependency level and listed in an order where producers come
before their consumers. A cycle, if any, is reported by name.`,
		Example: `  cardcalc graph
  cardcalc graph --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGraph(cmd)
		},
	}
}

func runGraph(cmd *cobra.Command) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	g, err := cc.Engine.Graph()
	if err != nil {
		return err
	}
	out, err := graphOutput(g, cc.Engine.Store())
	if err != nil {
		return err
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, "Dependency Graph")
	r.KeyValue("Calculations", fmt.Sprintf("%d", out.Calculations))
	r.KeyValue("Edges", fmt.Sprintf("%d", out.Edges))
	if len(out.Invalid) > 0 {
		r.Warning("Formulas that do not parse: " + strings.Join(out.Invalid, ", "))
	}
	if out.Cycle != nil {
		r.Error("circular dependency: " + strings.Join(out.Cycle, " -> "))
		return nil
	}
	r.Println()

	for i, level := range out.Levels {
		r.Header(2, fmt.Sprintf("Level %d", i))
		rows := make([][]string, len(level))
		for j, id := range level {
			c, _ := g.Get(id)
			rows[j] = []string{id, c.DisplayName(), c.TargetTypeKey + "." + c.TargetFieldKey,
				activeLabel(c.IsActive), strings.Join(out.Dependencies[id], ", ")}
		}
		r.Table([]string{"ID", "Name", "Target", "Status", "Reads from"}, rows)
		r.Println()
	}
	return nil
}

type calculationLister interface {
	ListCalculations() ([]*core.Calculation, error)
}

func graphOutput(g *depgraph.Graph, store calculationLister) (*GraphOutput, error) {
	calcs, err := store.ListCalculations()
	if err != nil {
		return nil, err
	}

	out := &GraphOutput{
		Calculations: len(calcs),
		Edges:        g.EdgeCount(),
		Order:        []string{},
		Levels:       [][]string{},
		Dependencies: make(map[string][]string, len(calcs)),
		Invalid:      g.Invalid,
	}
	for _, c := range calcs {
		deps := g.Dependencies(c.ID)
		ids := make([]string, len(deps))
		for i, d := range deps {
			ids[i] = d.ID
		}
		out.Dependencies[c.ID] = ids
	}

	if cycle := g.Cycle(); cycle != nil {
		out.Cycle = cycle
		return out, nil
	}

	ordered, err := g.Order()
	if err != nil {
		return nil, err
	}
	for _, c := range ordered {
		out.Order = append(out.Order, c.ID)
	}
	if out.Levels, err = g.Levels(); err != nil {
		return nil, err
	}
	return out, nil
}
