package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cardcalc/internal/formula"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

const (
	replPrompt     = "cardcalc> "
	replContPrompt = "      ...> "
)

// formulaEvaluator is the part of the engine a REPL session needs.
type formulaEvaluator interface {
	Evaluate(ctx context.Context, src, entityID string) (any, error)
	Store() core.Store
}

// NewReplCommand creates the repl command.
func NewReplCommand() *cobra.Command {
	var entityID string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Evaluate formulas interactively against an entity",
		Long: `Start an interactive session that evaluates formulas against one entity.
Nothing is written to the entity.

End a line with a backslash to continue the formula on the next line.
Type .help for commands, .quit to exit.`,
		Example: `  cardcalc repl --entity crm`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRepl(cmd, entityID)
		},
	}
	cmd.Flags().StringVarP(&entityID, "entity", "e", "", "Entity to evaluate against (required)")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func runRepl(cmd *cobra.Command, entityID string) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	session := &replSession{
		eval:   cc.Engine,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
	if err := session.use(entityID); err != nil {
		return err
	}

	historyFile := ""
	if cc.Cfg.StatePath != ":memory:" {
		historyFile = filepath.Join(filepath.Dir(cc.Cfg.StatePath), "repl_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newFormulaCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(session.out, "cardcalc formula REPL (entity: %s)\n", entityID)
	_, _ = fmt.Fprintln(session.out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(session.out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			session.reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if session.handle(cmd.Context(), line) {
			return nil
		}
		if session.pending() {
			rl.SetPrompt(replContPrompt)
		} else {
			rl.SetPrompt(replPrompt)
		}
	}
}

// replSession holds the state of an interactive session: the current
// entity and any formula lines awaiting continuation.
type replSession struct {
	eval     formulaEvaluator
	entityID string
	buf      strings.Builder
	out      io.Writer
	errOut   io.Writer
}

// use switches the session to another entity.
func (s *replSession) use(entityID string) error {
	if _, err := s.eval.Store().GetEntity(entityID); err != nil {
		return err
	}
	s.entityID = entityID
	return nil
}

func (s *replSession) reset() { s.buf.Reset() }

func (s *replSession) pending() bool { return s.buf.Len() > 0 }

// handle processes one input line. It returns true when the session ends.
func (s *replSession) handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if !s.pending() && strings.HasPrefix(trimmed, ".") {
		return s.dotCommand(trimmed)
	}

	if strings.HasSuffix(trimmed, `\`) {
		s.buf.WriteString(strings.TrimSuffix(trimmed, `\`))
		s.buf.WriteString("\n")
		return false
	}
	s.buf.WriteString(line)
	src := s.buf.String()
	s.buf.Reset()

	if strings.TrimSpace(src) == "" {
		return false
	}

	value, err := s.eval.Evaluate(ctx, src, s.entityID)
	if err != nil {
		_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
		return false
	}
	_, _ = fmt.Fprintln(s.out, formatValue(value))
	return false
}

func (s *replSession) dotCommand(line string) bool {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true

	case ".help":
		printReplHelp(s.out)

	case ".entity":
		if len(parts) < 2 {
			_, _ = fmt.Fprintf(s.out, "Current entity: %s\n", s.entityID)
			return false
		}
		if err := s.use(parts[1]); err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
			return false
		}
		_, _ = fmt.Fprintf(s.out, "Using entity %s\n", s.entityID)

	case ".data":
		entity, err := s.eval.Store().GetEntity(s.entityID)
		if err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
			return false
		}
		keys := make([]string, 0, len(entity.Attributes))
		for k := range entity.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = fmt.Fprintf(s.out, "  %s = %s\n", k, formatValue(entity.Attributes[k]))
		}

	case ".functions":
		_, _ = fmt.Fprintln(s.out, strings.Join(formula.FunctionNames(), " "))

	default:
		_, _ = fmt.Fprintf(s.errOut, "Unknown command: %s (type .help for commands)\n", parts[0])
	}
	return false
}

func printReplHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .entity [id]    Show or switch the current entity
  .data           List the current entity's attributes
  .functions      List built-in functions
  .quit / .exit   Exit the REPL

Tips:
  - End a line with \ to continue the formula on the next line
  - Assignments like "x = data.cost" are allowed before the final expression
  - Tab completion works for function names
`
	_, _ = fmt.Fprintln(w, help)
}

// newFormulaCompleter completes built-in function names, context roots and
// dot-commands.
func newFormulaCompleter() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, name := range formula.FunctionNames() {
		items = append(items, readline.PcItem(name+"("))
	}
	items = append(items,
		readline.PcItem("data."),
		readline.PcItem("relations."),
		readline.PcItem("children"),
		readline.PcItem(".help"),
		readline.PcItem(".entity"),
		readline.PcItem(".data"),
		readline.PcItem(".functions"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
	return readline.NewPrefixCompleter(items...)
}
