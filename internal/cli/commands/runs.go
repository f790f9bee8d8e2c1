package commands

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// RunInfo is the JSON shape of a recorded batch run.
type RunInfo struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	Calculations int        `json:"calculations"`
	Entities     int        `json:"entities"`
	Updated      int        `json:"updated"`
	Failed       int        `json:"failed"`
	Error        string     `json:"error,omitempty"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent batch runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := cc.Engine.Store().ListRuns(limit)
			if err != nil {
				return err
			}
			return renderRuns(cc.Renderer, runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 = all)")
	return cmd
}

func renderRuns(r *output.Renderer, runs []*core.Run) error {
	if r.EffectiveMode() == output.ModeJSON {
		infos := make([]RunInfo, len(runs))
		for i, run := range runs {
			infos[i] = RunInfo{
				ID:           run.ID,
				Type:         run.TypeKey,
				Status:       string(run.Status),
				StartedAt:    run.StartedAt,
				CompletedAt:  run.CompletedAt,
				Calculations: run.Calculations,
				Entities:     run.Entities,
				Updated:      run.Updated,
				Failed:       run.Failed,
				Error:        run.Error,
			}
		}
		return r.JSON(infos)
	}

	r.Header(1, "Runs")
	rows := make([][]string, len(runs))
	for i, run := range runs {
		duration := ""
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		rows[i] = []string{run.ID, run.TypeKey, string(run.Status), run.StartedAt.Format(time.RFC3339),
			duration, strconv.Itoa(run.Updated), strconv.Itoa(run.Failed)}
	}
	r.Table([]string{"ID", "Type", "Status", "Started", "Duration", "Updated", "Failed"}, rows)
	return nil
}
