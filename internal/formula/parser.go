package formula

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"go.starlark.net/syntax"
)

// DefaultMaxLength is the default maximum formula length in characters.
const DefaultMaxLength = 5000

// filename is the pseudo file name used for scanner positions.
const filename = "formula"

// syntaxOptions disables every optional Starlark statement form.
// Anything the scanner still accepts is filtered during lowering.
var syntaxOptions = &syntax.FileOptions{}

// Names bound by every execution context.
const (
	NameData          = "data"
	NameRelations     = "relations"
	NameRelationCount = "relation_count"
	NameChildren      = "children"
	NameChildrenCount = "children_count"
)

var contextNames = map[string]bool{
	NameData:          true,
	NameRelations:     true,
	NameRelationCount: true,
	NameChildren:      true,
	NameChildrenCount: true,
}

var constants = map[string]Value{
	"null":  nil,
	"None":  nil,
	"true":  true,
	"True":  true,
	"false": false,
	"False": false,
}

// ParseOption configures Parse.
type ParseOption func(*parseConfig)

type parseConfig struct {
	maxLength int
}

// WithMaxLength overrides the maximum formula length.
// Values <= 0 keep the default.
func WithMaxLength(n int) ParseOption {
	return func(c *parseConfig) {
		if n > 0 {
			c.maxLength = n
		}
	}
}

// Parse parses formula source into a Program.
// It returns *ParseError or *EmptyFormulaError on failure.
func Parse(source string, opts ...ParseOption) (*Program, error) {
	cfg := parseConfig{maxLength: DefaultMaxLength}
	for _, opt := range opts {
		opt(&cfg)
	}

	if n := utf8.RuneCountInString(source); n > cfg.maxLength {
		return nil, NewParseErrorf(Position{}, "formula is %d characters long, maximum is %d", n, cfg.maxLength)
	}

	src := stripCommentLines(source)
	if strings.TrimSpace(src) == "" {
		return nil, NewEmptyFormulaError(Position{}, "formula is empty")
	}
	src = rewriteSymbolicOperators(src)

	file, err := syntaxOptions.Parse(filename, src, 0)
	if err != nil {
		var serr syntax.Error
		if errors.As(err, &serr) {
			return nil, NewParseError(Position{Line: int(serr.Pos.Line), Column: int(serr.Pos.Col)}, serr.Msg)
		}
		return nil, NewParseError(Position{}, err.Error())
	}

	l := &lowerer{locals: make(map[string]bool)}
	prog, err := l.lowerFile(file)
	if err != nil {
		return nil, err
	}
	prog.Source = source
	return prog, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level formulas.
func MustParse(source string, opts ...ParseOption) *Program {
	prog, err := Parse(source, opts...)
	if err != nil {
		panic(fmt.Sprintf("formula.MustParse(%q): %v", source, err))
	}
	return prog
}

// lowerer converts a Starlark syntax tree into the formula AST,
// rejecting every construct outside the allow-list.
type lowerer struct {
	locals map[string]bool
}

func (l *lowerer) lowerFile(f *syntax.File) (*Program, error) {
	prog := &Program{}
	if len(f.Stmts) == 0 {
		return nil, NewEmptyFormulaError(Position{}, "formula is empty")
	}

	for i, stmt := range f.Stmts {
		last := i == len(f.Stmts)-1

		switch s := stmt.(type) {
		case *syntax.AssignStmt:
			assign, err := l.lowerAssign(s)
			if err != nil {
				return nil, err
			}
			prog.Assigns = append(prog.Assigns, assign)
			if last {
				return nil, NewEmptyFormulaError(posOf(s), "formula must end with an expression, not an assignment")
			}

		case *syntax.ExprStmt:
			if !last {
				return nil, NewParseError(posOf(s), "only the last line may be an expression; use name = expression")
			}
			result, err := l.lowerExpr(s.X)
			if err != nil {
				return nil, err
			}
			prog.Result = result

		default:
			return nil, NewParseErrorf(posOf(stmt), "%s statements are not allowed", stmtName(stmt))
		}
	}

	return prog, nil
}

func (l *lowerer) lowerAssign(s *syntax.AssignStmt) (*AssignStmt, error) {
	if s.Op != syntax.EQ {
		return nil, NewParseErrorf(posOf(s), "augmented assignment %s is not allowed", s.Op)
	}
	id, ok := s.LHS.(*syntax.Ident)
	if !ok {
		return nil, NewParseError(posOf(s.LHS), "only a single name can be assigned")
	}
	if err := checkAssignable(id); err != nil {
		return nil, err
	}

	// The value is lowered before the name is bound: `x = x + 1` needs a prior x.
	value, err := l.lowerExpr(s.RHS)
	if err != nil {
		return nil, err
	}
	l.locals[id.Name] = true

	return &AssignStmt{nodeBase: nodeBase{pos: posOf(id)}, Name: id.Name, Value: value}, nil
}

func checkAssignable(id *syntax.Ident) error {
	pos := posOf(id)
	switch {
	case strings.HasPrefix(id.Name, "_"):
		return NewParseErrorf(pos, "name %q is not allowed", id.Name)
	case contextNames[id.Name]:
		return NewParseErrorf(pos, "cannot assign to context name %q", id.Name)
	case isConstant(id.Name):
		return NewParseErrorf(pos, "cannot assign to constant %q", id.Name)
	case lookupBuiltin(id.Name) != nil || id.Name == "IF":
		return NewParseErrorf(pos, "cannot assign to function name %q", id.Name)
	}
	return nil
}

func isConstant(name string) bool {
	_, ok := constants[name]
	return ok
}

func (l *lowerer) lowerExpr(e syntax.Expr) (Expr, error) {
	pos := posOf(e)
	base := exprBase{nodeBase{pos: pos}}

	switch x := e.(type) {
	case *syntax.Ident:
		return l.lowerIdent(x)

	case *syntax.Literal:
		return lowerLiteral(x)

	case *syntax.ParenExpr:
		return l.lowerExpr(x.X)

	case *syntax.ListExpr:
		elems, err := l.lowerExprs(x.List)
		if err != nil {
			return nil, err
		}
		return &ListExpr{exprBase: base, Elems: elems}, nil

	case *syntax.DictExpr:
		entries := make([]DictEntry, 0, len(x.List))
		for _, item := range x.List {
			entry, ok := item.(*syntax.DictEntry)
			if !ok {
				return nil, NewParseError(posOf(item), "invalid dict entry")
			}
			key, err := l.lowerExpr(entry.Key)
			if err != nil {
				return nil, err
			}
			value, err := l.lowerExpr(entry.Value)
			if err != nil {
				return nil, err
			}
			entries = append(entries, DictEntry{Key: key, Value: value})
		}
		return &DictExpr{exprBase: base, Entries: entries}, nil

	case *syntax.DotExpr:
		name := x.Name.Name
		if strings.HasPrefix(name, "_") {
			return nil, NewParseErrorf(posOf(x.Name), "attribute %q is not accessible", name)
		}
		target, err := l.lowerExpr(x.X)
		if err != nil {
			return nil, err
		}
		return &DotExpr{exprBase: base, X: target, Name: name}, nil

	case *syntax.IndexExpr:
		if lit, ok := x.Y.(*syntax.Literal); ok {
			if s, ok := lit.Value.(string); ok && strings.HasPrefix(s, "__") {
				return nil, NewParseErrorf(posOf(lit), "key %q is not accessible", s)
			}
		}
		target, err := l.lowerExpr(x.X)
		if err != nil {
			return nil, err
		}
		index, err := l.lowerExpr(x.Y)
		if err != nil {
			return nil, err
		}
		return &IndexExpr{exprBase: base, X: target, Index: index}, nil

	case *syntax.UnaryExpr:
		var op Operator
		switch x.Op {
		case syntax.MINUS:
			op = OpNeg
		case syntax.PLUS:
			op = OpPlus
		case syntax.NOT:
			op = OpNot
		default:
			return nil, NewParseErrorf(pos, "operator %s is not allowed", x.Op)
		}
		if x.X == nil {
			return nil, NewParseErrorf(pos, "operator %s is not allowed", x.Op)
		}
		operand, err := l.lowerExpr(x.X)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{exprBase: base, Op: op, X: operand}, nil

	case *syntax.BinaryExpr:
		return l.lowerBinary(x)

	case *syntax.CondExpr:
		cond, err := l.lowerExpr(x.Cond)
		if err != nil {
			return nil, err
		}
		whenTrue, err := l.lowerExpr(x.True)
		if err != nil {
			return nil, err
		}
		whenFalse, err := l.lowerExpr(x.False)
		if err != nil {
			return nil, err
		}
		return &CondExpr{exprBase: base, Cond: cond, True: whenTrue, False: whenFalse}, nil

	case *syntax.CallExpr:
		return l.lowerCall(x)

	case *syntax.SliceExpr:
		return nil, NewParseError(pos, "slicing is not allowed")
	case *syntax.TupleExpr:
		return nil, NewParseError(pos, "tuples are not allowed")
	case *syntax.Comprehension:
		return nil, NewParseError(pos, "comprehensions are not allowed")
	case *syntax.LambdaExpr:
		return nil, NewParseError(pos, "lambda is not allowed")
	default:
		return nil, NewParseErrorf(pos, "unsupported expression %T", e)
	}
}

func (l *lowerer) lowerExprs(list []syntax.Expr) ([]Expr, error) {
	out := make([]Expr, 0, len(list))
	for _, item := range list {
		e, err := l.lowerExpr(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *lowerer) lowerIdent(id *syntax.Ident) (Expr, error) {
	pos := posOf(id)
	base := exprBase{nodeBase{pos: pos}}
	name := id.Name

	if strings.HasPrefix(name, "_") {
		return nil, NewParseErrorf(pos, "name %q is not allowed", name)
	}
	if v, ok := constants[name]; ok {
		return &LiteralExpr{exprBase: base, Value: v}, nil
	}
	if l.locals[name] {
		return &NameExpr{exprBase: base, Name: name, Kind: NameLocal}, nil
	}
	if contextNames[name] {
		return &NameExpr{exprBase: base, Name: name, Kind: NameContext}, nil
	}
	if lookupBuiltin(name) != nil || name == "IF" {
		return nil, NewParseErrorf(pos, "function %s must be called", name)
	}
	return nil, NewParseErrorf(pos, "unknown name %q", name)
}

func lowerLiteral(lit *syntax.Literal) (Expr, error) {
	pos := posOf(lit)
	base := exprBase{nodeBase{pos: pos}}

	switch v := lit.Value.(type) {
	case string:
		if lit.Token == syntax.BYTES {
			return nil, NewParseError(pos, "bytes literals are not allowed")
		}
		return &LiteralExpr{exprBase: base, Value: v}, nil
	case int64:
		return &LiteralExpr{exprBase: base, Value: v}, nil
	case float64:
		return &LiteralExpr{exprBase: base, Value: v}, nil
	case *big.Int:
		return nil, NewParseErrorf(pos, "integer literal %s is out of range", lit.Raw)
	default:
		return nil, NewParseErrorf(pos, "unsupported literal %s", lit.Raw)
	}
}

var binaryOps = map[syntax.Token]Operator{
	syntax.PLUS:       OpAdd,
	syntax.MINUS:      OpSub,
	syntax.STAR:       OpMul,
	syntax.SLASH:      OpDiv,
	syntax.SLASHSLASH: OpFloorDiv,
	syntax.PERCENT:    OpMod,
	syntax.EQL:        OpEq,
	syntax.NEQ:        OpNe,
	syntax.LT:         OpLt,
	syntax.LE:         OpLe,
	syntax.GT:         OpGt,
	syntax.GE:         OpGe,
	syntax.IN:         OpIn,
	syntax.NOT_IN:     OpNotIn,
	syntax.AND:        OpAnd,
	syntax.OR:         OpOr,
}

func (l *lowerer) lowerBinary(x *syntax.BinaryExpr) (Expr, error) {
	pos := posOf(x)
	op, ok := binaryOps[x.Op]
	if !ok {
		return nil, NewParseErrorf(Position{Line: int(x.OpPos.Line), Column: int(x.OpPos.Col)}, "operator %s is not allowed", x.Op)
	}

	left, err := l.lowerExpr(x.X)
	if err != nil {
		return nil, err
	}
	right, err := l.lowerExpr(x.Y)
	if err != nil {
		return nil, err
	}

	base := exprBase{nodeBase{pos: pos}}
	if op == OpAnd || op == OpOr {
		return &LogicalExpr{exprBase: base, Op: op, X: left, Y: right}, nil
	}
	return &BinaryExpr{exprBase: base, Op: op, X: left, Y: right}, nil
}

func (l *lowerer) lowerCall(x *syntax.CallExpr) (Expr, error) {
	pos := posOf(x)
	base := exprBase{nodeBase{pos: pos}}

	id, ok := x.Fn.(*syntax.Ident)
	if !ok {
		return nil, NewParseError(pos, "only built-in functions can be called")
	}
	name := id.Name

	var args []Expr
	var kwargs []Kwarg
	for _, arg := range x.Args {
		switch a := arg.(type) {
		case *syntax.BinaryExpr:
			if a.Op == syntax.EQ {
				key, ok := a.X.(*syntax.Ident)
				if !ok {
					return nil, NewParseError(posOf(a), "invalid keyword argument")
				}
				value, err := l.lowerExpr(a.Y)
				if err != nil {
					return nil, err
				}
				kwargs = append(kwargs, Kwarg{Name: key.Name, Value: value})
				continue
			}
		case *syntax.UnaryExpr:
			if a.Op == syntax.STAR || a.Op == syntax.STARSTAR {
				return nil, NewParseError(posOf(a), "argument unpacking is not allowed")
			}
		}
		value, err := l.lowerExpr(arg)
		if err != nil {
			return nil, err
		}
		args = append(args, value)
	}

	if name == "IF" {
		if len(kwargs) > 0 || len(args) != 3 {
			return nil, NewParseErrorf(pos, "IF expects 3 arguments (condition, when_true, when_false), got %d", len(args)+len(kwargs))
		}
		return &CondExpr{exprBase: base, Cond: args[0], True: args[1], False: args[2]}, nil
	}

	fn := lookupBuiltin(name)
	if fn == nil {
		return nil, NewParseErrorf(posOf(id), "unknown function %q", name)
	}
	for _, kw := range kwargs {
		if !fn.acceptsKeyword(kw.Name) {
			return nil, NewParseErrorf(pos, "%s() got an unexpected keyword argument %q", name, kw.Name)
		}
	}

	return &CallExpr{exprBase: base, Func: fn.name, Args: args, Kwargs: kwargs}, nil
}

func posOf(n syntax.Node) Position {
	start, _ := n.Span()
	return Position{Line: int(start.Line), Column: int(start.Col)}
}

func stmtName(s syntax.Stmt) string {
	switch x := s.(type) {
	case *syntax.DefStmt:
		return "def"
	case *syntax.IfStmt:
		return "if"
	case *syntax.ForStmt:
		return "for"
	case *syntax.WhileStmt:
		return "while"
	case *syntax.LoadStmt:
		return "load"
	case *syntax.ReturnStmt:
		return "return"
	case *syntax.BranchStmt:
		return x.Token.String()
	default:
		return fmt.Sprintf("%T", s)
	}
}
