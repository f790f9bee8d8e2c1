package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/internal/engine"
	"github.com/leapstack-labs/cardcalc/internal/state"
	"github.com/leapstack-labs/cardcalc/internal/testutil"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

func newTestEngine(t *testing.T) (*engine.Engine, *state.SQLiteStore) {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	store := state.NewSQLiteStore(logger)
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })

	eng, err := engine.New(engine.Config{Store: store, Logger: logger})
	require.NoError(t, err)
	return eng, store
}

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		name    string
		cmdUse  string
		flags   []string
		aliases []string
		subs    []string
	}{
		{name: "load", cmdUse: "load <fixtures.yaml>"},
		{name: "validate", cmdUse: "validate", flags: []string{"type", "formula", "file"}},
		{name: "calc", cmdUse: "calc", aliases: []string{"calculation"},
			subs: []string{"list", "show", "add", "activate", "deactivate", "delete"}},
		{name: "preview", cmdUse: "preview <calc-id> <entity-id>", flags: []string{"formula", "field"}},
		{name: "run", cmdUse: "run", flags: []string{"type", "all", "parallel", "timeout"}, aliases: []string{"recalc"}},
		{name: "graph", cmdUse: "graph", aliases: []string{"dag"}},
		{name: "runs", cmdUse: "runs", flags: []string{"limit"}},
		{name: "repl", cmdUse: "repl", flags: []string{"entity"}},
		{name: "init", cmdUse: "init [directory]", flags: []string{"force", "example"}},
		{name: "doctor", cmdUse: "doctor"},
	}

	constructors := map[string]func() *cobra.Command{
		"load":     NewLoadCommand,
		"validate": NewValidateCommand,
		"calc":     NewCalcCommand,
		"preview":  NewPreviewCommand,
		"run":      NewRunCommand,
		"graph":    NewGraphCommand,
		"runs":     NewRunsCommand,
		"repl":     NewReplCommand,
		"init":     NewInitCommand,
		"doctor":   NewDoctorCommand,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := constructors[tt.name]()

			assert.Equal(t, tt.cmdUse, cmd.Use)
			assert.NotEmpty(t, cmd.Short, "Short should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
			assert.Equal(t, len(tt.aliases), len(cmd.Aliases))
			for i, alias := range tt.aliases {
				assert.Equal(t, alias, cmd.Aliases[i])
			}
			for _, sub := range tt.subs {
				found, _, err := cmd.Find([]string{sub})
				require.NoError(t, err)
				assert.Equal(t, sub, found.Name())
			}
		})
	}
}

func TestReplSession(t *testing.T) {
	eng, store := newTestEngine(t)
	require.NoError(t, store.SaveEntity(testutil.Entity("crm", "Application", "CRM", "cost", 100, "risk", "high")))
	require.NoError(t, store.SaveEntity(testutil.Entity("erp", "Application", "ERP", "cost", 7)))

	var out, errOut bytes.Buffer
	s := &replSession{eval: eng, out: &out, errOut: &errOut}
	require.NoError(t, s.use("crm"))
	ctx := context.Background()

	tests := []struct {
		name    string
		lines   []string
		wantOut string
		wantErr string
		quit    bool
	}{
		{name: "expression", lines: []string{"data.cost * 2"}, wantOut: "200\n"},
		{name: "string result is quoted", lines: []string{`UPPER(data.risk)`}, wantOut: "\"HIGH\"\n"},
		{name: "continuation", lines: []string{`x = data.cost \`, "x + 1"}, wantOut: "101\n"},
		{name: "blank line", lines: []string{"   "}, wantOut: ""},
		{name: "runtime error", lines: []string{"data.cost / 0"}, wantErr: "Error: "},
		{name: "parse error", lines: []string{"data.cost +"}, wantErr: "Error: "},
		{name: "current entity", lines: []string{".entity"}, wantOut: "Current entity: crm\n"},
		{name: "data", lines: []string{".data"}, wantOut: "  cost = 100\n  risk = \"high\"\n"},
		{name: "unknown entity", lines: []string{".entity nope"}, wantErr: "not found"},
		{name: "unknown command", lines: []string{".frobnicate"}, wantErr: "Unknown command: .frobnicate"},
		{name: "quit", lines: []string{".quit"}, quit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			errOut.Reset()

			var quit bool
			for _, line := range tt.lines {
				quit = s.handle(ctx, line)
			}
			assert.Equal(t, tt.quit, quit)
			assert.False(t, s.pending())
			if tt.wantErr != "" {
				assert.Contains(t, errOut.String(), tt.wantErr)
				return
			}
			assert.Empty(t, errOut.String())
			assert.Equal(t, tt.wantOut, out.String())
		})
	}

	out.Reset()
	assert.False(t, s.handle(ctx, ".entity erp"))
	assert.Equal(t, "Using entity erp\n", out.String())

	out.Reset()
	s.handle(ctx, "data.cost")
	assert.Equal(t, "7\n", out.String())
}

func TestReplSession_InterruptDropsPendingLines(t *testing.T) {
	eng, store := newTestEngine(t)
	require.NoError(t, store.SaveEntity(testutil.Entity("crm", "Application", "CRM", "cost", 1)))

	var out, errOut bytes.Buffer
	s := &replSession{eval: eng, out: &out, errOut: &errOut}
	require.NoError(t, s.use("crm"))

	s.handle(context.Background(), `x = 5 \`)
	assert.True(t, s.pending())
	s.reset()
	assert.False(t, s.pending())

	s.handle(context.Background(), "data.cost")
	assert.Equal(t, "1\n", out.String())
}

func TestGraphOutput(t *testing.T) {
	eng, store := newTestEngine(t)
	for _, c := range []*core.Calculation{
		testutil.Calc("a", "Base", "Application", "base", "data.cost"),
		testutil.Calc("b", "Total", "Application", "total", "data.base + 1"),
	} {
		_, err := eng.SaveCalculation(c)
		require.NoError(t, err)
	}

	g, err := eng.Graph()
	require.NoError(t, err)
	out, err := graphOutput(g, store)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Calculations)
	assert.Equal(t, 1, out.Edges)
	assert.Equal(t, []string{"a", "b"}, out.Order)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, out.Levels)
	assert.Equal(t, map[string][]string{"a": {}, "b": {"a"}}, out.Dependencies)
	assert.Nil(t, out.Cycle)

	// written around the engine, which would refuse it
	require.NoError(t, store.CreateCalculation(testutil.Calc("x", "X", "Application", "x", "data.y")))
	require.NoError(t, store.CreateCalculation(testutil.Calc("y", "Y", "Application", "y", "data.x")))

	g, err = eng.Graph()
	require.NoError(t, err)
	out, err = graphOutput(g, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y", "X"}, out.Cycle)
	assert.Empty(t, out.Order)
}

func TestRenderSummaries_Markdown(t *testing.T) {
	var buf bytes.Buffer
	r := output.NewRendererWithTTY(&buf, &bytes.Buffer{}, false, output.ModeAuto)

	err := renderSummaries(r, []*core.BatchSummary{{
		RunID:    "run-1",
		TypeKey:  "Application",
		Entities: 3,
		Updated:  5,
		Failed:   1,
		PerCalc: []core.CalculationSummary{
			{CalculationID: "a", Name: "Cost", Updated: 3},
			{CalculationID: "b", Name: "Per user", Updated: 2, Failed: 1},
		},
	}})
	require.NoError(t, err)

	got := buf.String()
	assert.Contains(t, got, "# Application: 5 updated, 1 failed")
	assert.Contains(t, got, "- **Run:** run-1")
	assert.Contains(t, got, "✓ Cost 3 updated, 0 failed")
	assert.Contains(t, got, "✗ Per user 2 updated, 1 failed")

	buf.Reset()
	require.NoError(t, renderSummaries(r, nil))
	assert.Equal(t, "No active calculations\n", buf.String())
}

func TestRenderValidation(t *testing.T) {
	var buf bytes.Buffer
	r := output.NewRendererWithTTY(&buf, &bytes.Buffer{}, false, output.ModeMarkdown)

	require.NoError(t, renderValidation(r, &core.ValidationResult{
		Valid:            false,
		Errors:           []string{"1:8: unexpected end of formula"},
		ReferencedFields: []string{},
	}))
	assert.Contains(t, buf.String(), "Formula is invalid")
	assert.Contains(t, buf.String(), "✗ 1:8: unexpected end of formula")
	assert.Contains(t, buf.String(), "- **Referenced fields:** (none)")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: "null"},
		{in: int64(3), want: "3"},
		{in: 2.5, want: "2.5"},
		{in: "x", want: `"x"`},
		{in: true, want: "true"},
		{in: []any{int64(1), "a"}, want: `[1, "a"]`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatValue(tt.in))
	}
}
