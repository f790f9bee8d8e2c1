package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// ValidateOptions holds options for the validate command.
type ValidateOptions struct {
	Type    string
	Formula string
	File    string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	opts := &ValidateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a formula parses and list the fields it reads",
		Long: `Validate a formula for an entity type without saving or running it.

The result lists syntax errors with line and column, and the data fields the
formula references. The command exits non-zero when the formula is invalid.`,
		Example: `  cardcalc validate --type Application --formula 'data.cost * 2'
  cardcalc validate --type Application --file risk.formula --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "Target entity type (required)")
	cmd.Flags().StringVar(&opts.Formula, "formula", "", "Formula source")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Read the formula from a file")
	_ = cmd.MarkFlagRequired("type")
	cmd.MarkFlagsMutuallyExclusive("formula", "file")
	cmd.MarkFlagsOneRequired("formula", "file")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions) error {
	src := opts.Formula
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return fmt.Errorf("failed to read formula: %w", err)
		}
		src = string(data)
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res := cc.Engine.Validate(src, opts.Type)
	if err := renderValidation(cc.Renderer, res); err != nil {
		return err
	}
	if !res.Valid {
		return errSilent
	}
	return nil
}

func renderValidation(r *output.Renderer, res *core.ValidationResult) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(res)
	}

	if res.Valid {
		r.Success("Formula is valid")
	} else {
		r.Println("Formula is invalid")
		for _, e := range res.Errors {
			r.StatusLine(e, "failed", "")
		}
	}
	fields := "(none)"
	if len(res.ReferencedFields) > 0 {
		fields = strings.Join(res.ReferencedFields, ", ")
	}
	r.KeyValue("Referenced fields", fields)
	return nil
}
