package formula

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// evaluator walks one Program against one Context. It is not reused.
type evaluator struct {
	prog   *Program
	ctx    *Context
	locals map[string]Value
}

// Evaluate runs prog against ctx and returns the value of its trailing
// expression. Failures are reported as *RuntimeError.
func Evaluate(prog *Program, ctx *Context) (result Value, err error) {
	if prog == nil || prog.Result == nil {
		return nil, NewEmptyFormulaError(Position{}, "formula has no result expression")
	}

	ev := &evaluator{prog: prog, ctx: ctx, locals: make(map[string]Value, len(prog.Assigns))}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = NewRuntimeErrorf(prog.Source, Position{}, "internal evaluation failure: %v", r)
		}
	}()

	for _, assign := range prog.Assigns {
		v, err := ev.eval(assign.Value)
		if err != nil {
			return nil, err
		}
		ev.locals[assign.Name] = v
	}
	return ev.eval(prog.Result)
}

// Eval parses and evaluates source in one step.
func Eval(source string, ctx *Context, opts ...ParseOption) (Value, error) {
	prog, err := Parse(source, opts...)
	if err != nil {
		return nil, err
	}
	return Evaluate(prog, ctx)
}

func (ev *evaluator) errorf(n Node, format string, args ...any) error {
	return NewRuntimeErrorf(ev.prog.Source, n.Pos(), format, args...)
}

func (ev *evaluator) eval(e Expr) (Value, error) {
	switch n := e.(type) {
	case *LiteralExpr:
		return n.Value, nil

	case *NameExpr:
		return ev.evalName(n)

	case *ListExpr:
		out := make([]Value, len(n.Elems))
		for i, elem := range n.Elems {
			v, err := ev.eval(elem)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *DictExpr:
		keys := make([]string, len(n.Entries))
		values := make([]Value, len(n.Entries))
		for i, entry := range n.Entries {
			k, err := ev.eval(entry.Key)
			if err != nil {
				return nil, err
			}
			v, err := ev.eval(entry.Value)
			if err != nil {
				return nil, err
			}
			keys[i] = ToString(k)
			values[i] = v
		}
		return newOrderedView(keys, values), nil

	case *DotExpr:
		x, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		if view, ok := x.(*View); ok {
			return view.Attr(n.Name), nil
		}
		return nil, nil

	case *IndexExpr:
		x, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		idx, err := ev.eval(n.Index)
		if err != nil {
			return nil, err
		}
		return index(x, idx), nil

	case *UnaryExpr:
		x, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		return ev.unary(n, x)

	case *BinaryExpr:
		x, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		y, err := ev.eval(n.Y)
		if err != nil {
			return nil, err
		}
		return ev.binary(n, x, y)

	case *LogicalExpr:
		x, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		if n.Op == OpAnd && !Truthy(x) {
			return x, nil
		}
		if n.Op == OpOr && Truthy(x) {
			return x, nil
		}
		return ev.eval(n.Y)

	case *CondExpr:
		cond, err := ev.eval(n.Cond)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return ev.eval(n.True)
		}
		return ev.eval(n.False)

	case *CallExpr:
		return ev.call(n)

	default:
		return nil, NewRuntimeErrorf(ev.prog.Source, Position{}, "unsupported node %T", e)
	}
}

func (ev *evaluator) evalName(n *NameExpr) (Value, error) {
	if n.Kind == NameLocal {
		if v, ok := ev.locals[n.Name]; ok {
			return v, nil
		}
	}
	if v, ok := ev.ctx.Lookup(n.Name); ok {
		return v, nil
	}
	return nil, ev.errorf(n, "name %q is not defined", n.Name)
}

func (ev *evaluator) call(n *CallExpr) (Value, error) {
	fn := lookupBuiltin(n.Func)
	if fn == nil {
		return nil, ev.errorf(n, "unknown function %q", n.Func)
	}

	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	var kwargs map[string]Value
	if len(n.Kwargs) > 0 {
		kwargs = make(map[string]Value, len(n.Kwargs))
		for _, kw := range n.Kwargs {
			if _, dup := kwargs[kw.Name]; dup {
				return nil, ev.errorf(n, "%s() got multiple values for argument %q", fn.name, kw.Name)
			}
			v, err := ev.eval(kw.Value)
			if err != nil {
				return nil, err
			}
			kwargs[kw.Name] = v
		}
	}

	bound, err := fn.bind(args, kwargs)
	if err != nil {
		return nil, ev.errorf(n, "%s", err.Error())
	}
	return fn.fn(bound), nil
}

// index implements X[i] for lists, strings and views. Anything that cannot
// be indexed yields nil.
func index(x, idx Value) Value {
	switch c := x.(type) {
	case []Value:
		i, ok := idx.(int64)
		if !ok {
			return nil
		}
		if i < 0 {
			i += int64(len(c))
		}
		if i < 0 || i >= int64(len(c)) {
			return nil
		}
		return c[i]
	case string:
		i, ok := idx.(int64)
		if !ok {
			return nil
		}
		runes := []rune(c)
		if i < 0 {
			i += int64(len(runes))
		}
		if i < 0 || i >= int64(len(runes)) {
			return nil
		}
		return string(runes[i])
	case *View:
		key, ok := idx.(string)
		if !ok {
			return nil
		}
		return c.Get(key)
	}
	return nil
}

func (ev *evaluator) unary(n *UnaryExpr, x Value) (Value, error) {
	switch n.Op {
	case OpNot:
		return !Truthy(x), nil
	case OpPlus:
		if isNumber(x) {
			return x, nil
		}
	case OpNeg:
		switch v := x.(type) {
		case int64:
			if v == math.MinInt64 {
				return nil, ev.errorf(n, "integer overflow")
			}
			return -v, nil
		case float64:
			return -v, nil
		}
	}
	return nil, ev.errorf(n, "unsupported operand type for unary %s: %s", n.Op, TypeName(x))
}

var (
	errDivisionByZero = errors.New("division by zero")
	errOverflow       = errors.New("integer overflow")
)

func (ev *evaluator) binary(n *BinaryExpr, x, y Value) (Value, error) {
	switch n.Op {
	case OpEq:
		return Equal(x, y), nil
	case OpNe:
		return !Equal(x, y), nil

	case OpLt, OpLe, OpGt, OpGe:
		c, ok := compare(x, y)
		if !ok {
			return nil, ev.errorf(n, "'%s' not supported between %s and %s", n.Op, TypeName(x), TypeName(y))
		}
		switch n.Op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}

	case OpIn, OpNotIn:
		found, err := contains(y, x)
		if err != nil {
			return nil, ev.errorf(n, "%s", err.Error())
		}
		if n.Op == OpNotIn {
			return !found, nil
		}
		return found, nil

	case OpAdd:
		switch a := x.(type) {
		case string:
			if b, ok := y.(string); ok {
				return a + b, nil
			}
		case []Value:
			if b, ok := y.([]Value); ok {
				out := make([]Value, 0, len(a)+len(b))
				out = append(out, a...)
				return append(out, b...), nil
			}
		}
	}

	if !isNumber(x) || !isNumber(y) {
		return nil, ev.errorf(n, "unsupported operand types for %s: %s and %s", n.Op, TypeName(x), TypeName(y))
	}

	v, err := arith(n.Op, x, y)
	if err != nil {
		return nil, ev.errorf(n, "%s", err.Error())
	}
	return v, nil
}

// contains implements `needle in container`.
func contains(container, needle Value) (bool, error) {
	switch c := container.(type) {
	case nil:
		return false, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("'in <string>' requires string as left operand, not %s", TypeName(needle))
		}
		return strings.Contains(c, s), nil
	case []Value:
		for _, item := range c {
			if Equal(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case *View:
		key, ok := needle.(string)
		if !ok {
			return false, nil
		}
		return c.Has(key), nil
	}
	return false, fmt.Errorf("argument of type %s is not a container", TypeName(container))
}

// arith applies a numeric operator. Int operands stay int except for `/`.
func arith(op Operator, x, y Value) (Value, error) {
	a, aInt := x.(int64)
	b, bInt := y.(int64)
	if aInt && bInt && op != OpDiv {
		return intArith(op, a, b)
	}

	fa, _ := toFloat(x)
	fb, _ := toFloat(y)
	switch op {
	case OpAdd:
		return fa + fb, nil
	case OpSub:
		return fa - fb, nil
	case OpMul:
		return fa * fb, nil
	case OpDiv:
		if fb == 0 {
			return nil, errDivisionByZero
		}
		return fa / fb, nil
	case OpFloorDiv:
		if fb == 0 {
			return nil, errDivisionByZero
		}
		return math.Floor(fa / fb), nil
	case OpMod:
		if fb == 0 {
			return nil, errDivisionByZero
		}
		r := math.Mod(fa, fb)
		if r != 0 && (r < 0) != (fb < 0) {
			r += fb
		}
		return r, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", op)
}

func intArith(op Operator, a, b int64) (Value, error) {
	switch op {
	case OpAdd:
		r := a + b
		if (r > a) != (b > 0) {
			return nil, errOverflow
		}
		return r, nil
	case OpSub:
		r := a - b
		if (r < a) != (b > 0) {
			return nil, errOverflow
		}
		return r, nil
	case OpMul:
		if a == 0 || b == 0 {
			return int64(0), nil
		}
		r := a * b
		if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return nil, errOverflow
		}
		return r, nil
	case OpFloorDiv:
		if b == 0 {
			return nil, errDivisionByZero
		}
		if a == math.MinInt64 && b == -1 {
			return nil, errOverflow
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return q, nil
	case OpMod:
		if b == 0 {
			return nil, errDivisionByZero
		}
		if b == -1 {
			return int64(0), nil
		}
		r := a % b
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return r, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", op)
}
