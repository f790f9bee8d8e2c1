package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/internal/loader"
)

// NewLoadCommand creates the load command.
func NewLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <fixtures.yaml>",
		Short: "Import relation types, entities, relations and calculations",
		Long: `Load a YAML fixture file into the state store.

Relation types, entities and relations are upserted by ID. Calculations are
saved through the engine, so formulas are validated and activations are
checked for duplicate targets and dependency cycles. Loading stops at the
first error; records written before it are kept.`,
		Example: `  # Load a landscape
  cardcalc load landscape.yaml

  # Load into a specific state database
  cardcalc load landscape.yaml --state /tmp/cards.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, args[0])
		},
	}
}

func runLoad(cmd *cobra.Command, path string) error {
	f, err := loader.LoadFile(path)
	if err != nil {
		return err
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := loader.Apply(cc.Engine.Store(), cc.Engine, f, cc.Logger)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(res)
	}
	r.Header(1, "Loaded "+path)
	r.KeyValue("Relation types", strconv.Itoa(res.RelationTypes))
	r.KeyValue("Entities", strconv.Itoa(res.Entities))
	r.KeyValue("Relations", strconv.Itoa(res.Relations))
	r.KeyValue("Calculations", strconv.Itoa(res.Calculations))
	return nil
}
