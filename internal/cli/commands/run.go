package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Type string
	All  bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"recalc"},
		Short:   "Run active calculations in batch",
		Long: `Run every active calculation of an entity type against every entity of
that type, in execution order. Failures are counted per calculation and do
not stop the batch; each calculation records its last error.

With --all, every type with active calculations is run. Types run
concurrently up to batch.parallel.`,
		Example: `  cardcalc run --type Application
  cardcalc run --all --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "Entity type to recalculate")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Recalculate every type with active calculations")
	cmd.Flags().Int("parallel", 0, "Types processed concurrently with --all")
	cmd.Flags().Duration("timeout", 0, "Abort a batch after this long (0 = no limit)")
	cmd.MarkFlagsMutuallyExclusive("type", "all")
	cmd.MarkFlagsOneRequired("type", "all")

	return cmd
}

func runBatch(cmd *cobra.Command, opts *RunOptions) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var summaries []*core.BatchSummary
	var runErr error
	if opts.All {
		summaries, runErr = cc.Engine.RunAll(cmd.Context())
	} else {
		var s *core.BatchSummary
		s, runErr = cc.Engine.RunForType(cmd.Context(), opts.Type)
		summaries = []*core.BatchSummary{s}
	}

	// nil entries belong to types that failed before producing a summary
	done := summaries[:0]
	for _, s := range summaries {
		if s != nil {
			done = append(done, s)
		}
	}

	if err := renderSummaries(cc.Renderer, done); err != nil {
		return err
	}
	return runErr
}

func renderSummaries(r *output.Renderer, summaries []*core.BatchSummary) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(summaries)
	}

	if len(summaries) == 0 {
		r.Muted("No active calculations")
		return nil
	}

	for _, s := range summaries {
		r.Header(1, fmt.Sprintf("%s: %d updated, %d failed", s.TypeKey, s.Updated, s.Failed))
		r.KeyValue("Run", s.RunID)
		r.KeyValue("Entities", strconv.Itoa(s.Entities))
		if s.Cancelled {
			r.Warning("Batch cancelled before all calculations finished")
		}
		for _, pc := range s.PerCalc {
			status := "success"
			if pc.Failed > 0 {
				status = "failed"
			}
			r.StatusLine(pc.Name, status, fmt.Sprintf("%d updated, %d failed", pc.Updated, pc.Failed))
		}
		r.Println()
	}
	return nil
}
