// Package formula implements the calculated-field expression language:
// a restricted grammar lowered into a closed AST, a null-safe read-only
// context, a table-driven built-in library and a tree-walking evaluator.
package formula

// Position tracks source location for error reporting.
type Position struct {
	Line   int
	Column int
}

// Node is the interface for all formula AST nodes.
type Node interface {
	Pos() Position
	node() // marker method to restrict implementation
}

// Expr is a node producing a value.
type Expr interface {
	Node
	expr()
}

// nodeBase provides common Position handling for all nodes.
type nodeBase struct {
	pos Position
}

func (n *nodeBase) Pos() Position { return n.pos }
func (n *nodeBase) node()         {}

type exprBase struct{ nodeBase }

func (exprBase) expr() {}

// Operator identifies a unary or binary operator.
type Operator int

// Operator constants.
const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpFloorDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpNotIn
	OpAnd
	OpOr
	OpNeg
	OpPlus
	OpNot
)

var operatorNames = map[Operator]string{
	OpAdd:      "+",
	OpSub:      "-",
	OpMul:      "*",
	OpDiv:      "/",
	OpFloorDiv: "//",
	OpMod:      "%",
	OpEq:       "==",
	OpNe:       "!=",
	OpLt:       "<",
	OpLe:       "<=",
	OpGt:       ">",
	OpGe:       ">=",
	OpIn:       "in",
	OpNotIn:    "not in",
	OpAnd:      "and",
	OpOr:       "or",
	OpNeg:      "-",
	OpPlus:     "+",
	OpNot:      "not",
}

func (o Operator) String() string {
	if s, ok := operatorNames[o]; ok {
		return s
	}
	return "unknown"
}

// NameKind tells where a name is resolved.
type NameKind int

// NameKind constants.
const (
	NameContext NameKind = iota // bound by the execution context
	NameLocal                   // bound by a prior assignment
)

// LiteralExpr is a number or string literal.
type LiteralExpr struct {
	exprBase
	Value Value
}

// NameExpr references a context binding or a local variable.
type NameExpr struct {
	exprBase
	Name string
	Kind NameKind
}

// ListExpr is a list literal.
type ListExpr struct {
	exprBase
	Elems []Expr
}

// DictEntry is one key/value pair of a dict literal.
type DictEntry struct {
	Key   Expr
	Value Expr
}

// DictExpr is a mapping literal; it evaluates to a View.
type DictExpr struct {
	exprBase
	Entries []DictEntry
}

// DotExpr is attribute access: X.Name.
type DotExpr struct {
	exprBase
	X    Expr
	Name string
}

// IndexExpr is index access: X[Index].
type IndexExpr struct {
	exprBase
	X     Expr
	Index Expr
}

// UnaryExpr is Op X.
type UnaryExpr struct {
	exprBase
	Op Operator
	X  Expr
}

// BinaryExpr is an eager binary operation: X Op Y.
type BinaryExpr struct {
	exprBase
	Op Operator
	X  Expr
	Y  Expr
}

// LogicalExpr is a short-circuit `and` / `or`.
type LogicalExpr struct {
	exprBase
	Op Operator
	X  Expr
	Y  Expr
}

// CondExpr is the lazy conditional. Both `a if c else b` and
// IF(c, a, b) lower to it.
type CondExpr struct {
	exprBase
	Cond  Expr
	True  Expr
	False Expr
}

// Kwarg is a named call argument.
type Kwarg struct {
	Name  string
	Value Expr
}

// CallExpr calls an allow-listed built-in function.
type CallExpr struct {
	exprBase
	Func   string
	Args   []Expr
	Kwargs []Kwarg
}

// AssignStmt binds a local name for the following lines.
type AssignStmt struct {
	nodeBase
	Name  string
	Value Expr
}

// Program is a parsed formula: assignments followed by a result expression.
type Program struct {
	Source  string
	Assigns []*AssignStmt
	Result  Expr
}
