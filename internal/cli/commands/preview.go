package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/internal/formula"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// PreviewOptions holds options for the preview command.
type PreviewOptions struct {
	Formula string
	Field   string
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand() *cobra.Command {
	opts := &PreviewOptions{}
	cmd := &cobra.Command{
		Use:   "preview <calc-id> <entity-id>",
		Short: "Evaluate a calculation against an entity without saving",
		Long: `Dry-run a calculation against one entity. Nothing is written: the entity
keeps its attributes and the calculation keeps its last error. Inactive
calculations can be previewed.

With --formula, an unsaved formula is evaluated instead and only the entity
ID is given.`,
		Example: `  cardcalc preview itc-cost crm
  cardcalc preview crm --formula 'data.users * 2'`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Formula != "" {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Formula, "formula", "", "Preview an unsaved formula")
	cmd.Flags().StringVar(&opts.Field, "field", "", "Field name shown with --formula")
	return cmd
}

func runPreview(cmd *cobra.Command, opts *PreviewOptions, args []string) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var res *core.PreviewResult
	if opts.Formula != "" {
		res, err = cc.Engine.PreviewFormula(cmd.Context(), opts.Formula, opts.Field, args[0])
	} else {
		res, err = cc.Engine.Preview(cmd.Context(), args[0], args[1])
	}
	if err != nil {
		return err
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(res)
	}

	r.Header(1, "Preview")
	if res.CalculationID != "" {
		r.KeyValue("Calculation", res.CalculationID)
	}
	r.KeyValue("Entity", res.EntityID)
	if res.Field != "" {
		r.KeyValue("Field", res.Field)
	}
	if res.Error != "" {
		r.KeyValue("Error", res.Error)
		return nil
	}
	r.KeyValue("Value", formatValue(res.Value))
	return nil
}

// formatValue renders a formula value the way formulas write literals.
func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return formula.ToString(formula.Normalize(v))
}
