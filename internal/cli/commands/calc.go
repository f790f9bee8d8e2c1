package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/internal/loader"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// CalculationInfo is the JSON shape of a calculation.
type CalculationInfo struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	TargetType     string     `json:"target_type"`
	TargetField    string     `json:"target_field"`
	Formula        string     `json:"formula"`
	ExecutionOrder int        `json:"execution_order"`
	Active         bool       `json:"active"`
	LastError      *string    `json:"last_error"`
	LastRunAt      *time.Time `json:"last_run_at"`
}

func calculationInfo(c *core.Calculation) CalculationInfo {
	return CalculationInfo{
		ID:             c.ID,
		Name:           c.Name,
		Description:    c.Description,
		TargetType:     c.TargetTypeKey,
		TargetField:    c.TargetFieldKey,
		Formula:        c.Formula,
		ExecutionOrder: c.ExecutionOrder,
		Active:         c.IsActive,
		LastError:      c.LastError,
		LastRunAt:      c.LastRunAt,
	}
}

// NewCalcCommand creates the calc command group.
func NewCalcCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calc",
		Aliases: []string{"calculation"},
		Short:   "Manage calculations",
		Long: `List, inspect, add, activate, deactivate and delete calculations.

Activating a calculation, or editing an active one, is refused when it would
write a field another active calculation of the same type already writes, or
when it would close a dependency cycle. The error names the cycle path.`,
	}

	cmd.AddCommand(newCalcListCommand())
	cmd.AddCommand(newCalcShowCommand())
	cmd.AddCommand(newCalcAddCommand())
	cmd.AddCommand(newCalcActivateCommand(true))
	cmd.AddCommand(newCalcActivateCommand(false))
	cmd.AddCommand(newCalcDeleteCommand())
	return cmd
}

func newCalcListCommand() *cobra.Command {
	var typeKey string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calculations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			calcs, err := cc.Engine.Store().ListCalculations()
			if err != nil {
				return err
			}
			if typeKey != "" {
				filtered := calcs[:0]
				for _, c := range calcs {
					if c.TargetTypeKey == typeKey {
						filtered = append(filtered, c)
					}
				}
				calcs = filtered
			}

			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				infos := make([]CalculationInfo, len(calcs))
				for i, c := range calcs {
					infos[i] = calculationInfo(c)
				}
				return r.JSON(infos)
			}

			r.Header(1, fmt.Sprintf("Calculations (%d total)", len(calcs)))
			rows := make([][]string, len(calcs))
			for i, c := range calcs {
				rows[i] = []string{c.ID, c.DisplayName(), c.TargetTypeKey + "." + c.TargetFieldKey,
					strconv.Itoa(c.ExecutionOrder), activeLabel(c.IsActive), lastErrorLabel(c.LastError)}
			}
			r.Table([]string{"ID", "Name", "Target", "Order", "Status", "Last error"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&typeKey, "type", "", "Only list calculations of this entity type")
	return cmd
}

func newCalcShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a calculation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			calc, err := cc.Engine.Store().GetCalculation(args[0])
			if err != nil {
				return err
			}
			return renderCalculation(cc.Renderer, calc)
		},
	}
}

func newCalcAddCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a calculation from a YAML definition",
		Long: `Add a calculation from a YAML file with the keys id, name, description,
type, field, formula, order and active. An existing ID is updated.`,
		Example: `  cardcalc calc add -f total_cost.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read calculation: %w", err)
			}
			calc, err := loader.ParseCalculation(data)
			if err != nil {
				return err
			}

			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			saved, err := cc.Engine.SaveCalculation(calc)
			if err != nil {
				return err
			}
			return renderCalculation(cc.Renderer, saved)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Calculation definition file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCalcActivateCommand(activate bool) *cobra.Command {
	use, short := "activate <id>", "Activate a calculation"
	if !activate {
		use, short = "deactivate <id>", "Deactivate a calculation"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var calc *core.Calculation
			if activate {
				calc, err = cc.Engine.Activate(args[0])
			} else {
				calc, err = cc.Engine.Deactivate(args[0])
			}
			if err != nil {
				return err
			}

			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(calculationInfo(calc))
			}
			r.Success(fmt.Sprintf("%s is %s", calc.DisplayName(), activeLabel(calc.IsActive)))
			return nil
		},
	}
}

func newCalcDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a calculation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cc.Engine.DeleteCalculation(args[0]); err != nil {
				return err
			}
			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(map[string]string{"deleted": args[0]})
			}
			r.Success("Deleted " + args[0])
			return nil
		},
	}
}

func renderCalculation(r *output.Renderer, c *core.Calculation) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(calculationInfo(c))
	}

	r.Header(1, c.DisplayName())
	r.KeyValue("ID", c.ID)
	if c.Description != "" {
		r.KeyValue("Description", c.Description)
	}
	r.KeyValue("Target", c.TargetTypeKey+"."+c.TargetFieldKey)
	r.KeyValue("Order", strconv.Itoa(c.ExecutionOrder))
	r.KeyValue("Status", activeLabel(c.IsActive))
	if c.LastRunAt != nil {
		r.KeyValue("Last run", c.LastRunAt.Format(time.RFC3339))
	}
	if c.LastError != nil {
		r.KeyValue("Last error", *c.LastError)
	}
	r.Println()
	if r.EffectiveMode() == output.ModeText {
		r.Println(r.Styles().Formula.Render(c.Formula))
	} else {
		r.Println(output.FormatCode("", c.Formula))
	}
	return nil
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func lastErrorLabel(msg *string) string {
	if msg == nil {
		return ""
	}
	return *msg
}
