package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// builtin describes one allow-listed function. Built-ins are total: given
// arguments of the wrong type they return nil rather than failing. Only
// argument-count violations are reported, by the dispatcher.
type builtin struct {
	name     string
	params   []string // positional-or-keyword parameter names
	required int      // number of leading params that must be supplied
	variadic bool     // accepts any number of positional arguments
	keywords []string // params that may be passed by name
	fn       func(args []Value) Value
}

func (b *builtin) acceptsKeyword(name string) bool {
	for _, kw := range b.keywords {
		if kw == name {
			return true
		}
	}
	return false
}

// bind maps positional and keyword arguments onto the parameter list.
func (b *builtin) bind(args []Value, kwargs map[string]Value) ([]Value, error) {
	if b.variadic {
		if len(args) < b.required {
			return nil, fmt.Errorf("%s() takes at least %d arguments (%d given)", b.name, b.required, len(args))
		}
		return args, nil
	}

	if len(args) > len(b.params) {
		return nil, fmt.Errorf("%s() takes at most %d arguments (%d given)", b.name, len(b.params), len(args))
	}

	bound := make([]Value, len(b.params))
	set := make([]bool, len(b.params))
	for i, arg := range args {
		bound[i] = arg
		set[i] = true
	}
	for name, value := range kwargs {
		idx := -1
		for i, p := range b.params {
			if p == name {
				idx = i
				break
			}
		}
		if idx < 0 || !b.acceptsKeyword(name) {
			return nil, fmt.Errorf("%s() got an unexpected keyword argument %q", b.name, name)
		}
		if set[idx] {
			return nil, fmt.Errorf("%s() got multiple values for argument %q", b.name, name)
		}
		bound[idx] = value
		set[idx] = true
	}
	for i := 0; i < b.required; i++ {
		if !set[i] {
			return nil, fmt.Errorf("%s() missing required argument %q", b.name, b.params[i])
		}
	}
	return bound, nil
}

var builtins = map[string]*builtin{
	"SUM":       {name: "SUM", params: []string{"list"}, required: 1, fn: builtinSum},
	"AVG":       {name: "AVG", params: []string{"list"}, required: 1, fn: builtinAvg},
	"MIN":       {name: "MIN", params: []string{"list"}, required: 1, fn: builtinMin},
	"MAX":       {name: "MAX", params: []string{"list"}, required: 1, fn: builtinMax},
	"COUNT":     {name: "COUNT", params: []string{"list"}, required: 1, fn: builtinCount},
	"ROUND":     {name: "ROUND", params: []string{"x", "ndigits"}, required: 1, keywords: []string{"ndigits"}, fn: builtinRound},
	"ABS":       {name: "ABS", params: []string{"x"}, required: 1, fn: builtinAbs},
	"COALESCE":  {name: "COALESCE", variadic: true, fn: builtinCoalesce},
	"LOWER":     {name: "LOWER", params: []string{"s"}, required: 1, fn: builtinLower},
	"UPPER":     {name: "UPPER", params: []string{"s"}, required: 1, fn: builtinUpper},
	"CONCAT":    {name: "CONCAT", variadic: true, fn: builtinConcat},
	"CONTAINS":  {name: "CONTAINS", params: []string{"haystack", "needle"}, required: 2, fn: builtinContains},
	"PLUCK":     {name: "PLUCK", params: []string{"list", "path"}, required: 2, fn: builtinPluck},
	"FILTER":    {name: "FILTER", params: []string{"list", "path", "value"}, required: 3, fn: builtinFilter},
	"MAP_SCORE": {name: "MAP_SCORE", params: []string{"value", "mapping"}, required: 2, fn: builtinMapScore},
	"LEN":       {name: "LEN", params: []string{"x"}, required: 1, fn: builtinLen},
	"INT":       {name: "INT", params: []string{"x"}, required: 1, fn: builtinInt},
	"FLOAT":     {name: "FLOAT", params: []string{"x"}, required: 1, fn: builtinFloat},
	"STR":       {name: "STR", params: []string{"x"}, required: 1, fn: builtinStr},
	"BOOL":      {name: "BOOL", params: []string{"x"}, required: 1, fn: builtinBool},
}

// conversionAliases exposes the scalar conversions under their
// lower-case names as well.
var conversionAliases = map[string]string{
	"len":   "LEN",
	"int":   "INT",
	"float": "FLOAT",
	"str":   "STR",
	"bool":  "BOOL",
}

func lookupBuiltin(name string) *builtin {
	if b, ok := builtins[name]; ok {
		return b
	}
	if canonical, ok := conversionAliases[name]; ok {
		return builtins[canonical]
	}
	return nil
}

// FunctionNames returns the allow-listed function names, IF included.
func FunctionNames() []string {
	names := make(map[string]bool, len(builtins)+len(conversionAliases)+1)
	for name := range builtins {
		names[name] = true
	}
	for alias := range conversionAliases {
		names[alias] = true
	}
	names["IF"] = true
	return sortedKeys(names)
}

// arg returns args[i], or nil when the optional argument was omitted.
func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// numbers returns the numeric elements of a list value.
func numbers(v Value) []Value {
	list, ok := v.([]Value)
	if !ok {
		return nil
	}
	out := make([]Value, 0, len(list))
	for _, item := range list {
		if isNumber(item) {
			out = append(out, item)
		}
	}
	return out
}

func builtinSum(args []Value) Value {
	var intSum int64
	var floatSum float64
	isFloat := false
	for _, n := range numbers(args[0]) {
		switch x := n.(type) {
		case int64:
			r := intSum + x
			if (r > intSum) != (x > 0) {
				// int64 overflow, continue in floating point
				floatSum += float64(intSum) + float64(x)
				intSum = 0
				isFloat = true
				continue
			}
			intSum = r
		case float64:
			floatSum += x
			isFloat = true
		}
	}
	if isFloat {
		return floatSum + float64(intSum)
	}
	return intSum
}

func builtinAvg(args []Value) Value {
	nums := numbers(args[0])
	if len(nums) == 0 {
		return nil
	}
	var total float64
	for _, n := range nums {
		f, _ := toFloat(n)
		total += f
	}
	return total / float64(len(nums))
}

func builtinMin(args []Value) Value {
	return extreme(numbers(args[0]), -1)
}

func builtinMax(args []Value) Value {
	return extreme(numbers(args[0]), 1)
}

// extreme returns the element that compares as sign against all others.
func extreme(nums []Value, sign int) Value {
	if len(nums) == 0 {
		return nil
	}
	best := nums[0]
	for _, n := range nums[1:] {
		if c, _ := compare(n, best); c == sign {
			best = n
		}
	}
	return best
}

func builtinCount(args []Value) Value {
	if list, ok := args[0].([]Value); ok {
		return int64(len(list))
	}
	return int64(0)
}

func builtinRound(args []Value) Value {
	x := args[0]
	if !isNumber(x) {
		return nil
	}

	nd := arg(args, 1)
	if nd == nil {
		switch v := x.(type) {
		case int64:
			return v
		case float64:
			r := math.RoundToEven(v)
			if !fitsInt(r) {
				return nil
			}
			return int64(r)
		}
	}

	var digits int64
	switch d := nd.(type) {
	case int64:
		digits = d
	case float64:
		if d != math.Trunc(d) {
			return nil
		}
		digits = int64(d)
	default:
		return nil
	}

	if digits < 0 {
		// round to tens, hundreds, ...
		pow := math.Pow(10, float64(-digits))
		switch v := x.(type) {
		case int64:
			if math.IsInf(pow, 0) {
				return int64(0)
			}
			r := math.RoundToEven(float64(v)/pow) * pow
			if !fitsInt(r) {
				return nil
			}
			return int64(r)
		case float64:
			if math.IsInf(pow, 0) {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return v
				}
				return 0.0
			}
			return math.RoundToEven(v/pow) * pow
		}
		return nil
	}

	switch v := x.(type) {
	case int64:
		return v
	case float64:
		scale := math.Pow(10, float64(digits))
		if math.IsInf(scale, 0) || math.IsInf(v*scale, 0) {
			return v
		}
		return math.RoundToEven(v*scale) / scale
	}
	return nil
}

func builtinAbs(args []Value) Value {
	switch v := args[0].(type) {
	case int64:
		if v == math.MinInt64 {
			return nil
		}
		if v < 0 {
			return -v
		}
		return v
	case float64:
		return math.Abs(v)
	}
	return nil
}

func builtinCoalesce(args []Value) Value {
	for _, a := range args {
		if !isNull(a) {
			return a
		}
	}
	return nil
}

func builtinLower(args []Value) Value {
	s, ok := args[0].(string)
	if !ok {
		return nil
	}
	return cases.Lower(language.Und).String(s)
}

func builtinUpper(args []Value) Value {
	s, ok := args[0].(string)
	if !ok {
		return nil
	}
	return cases.Upper(language.Und).String(s)
}

func builtinConcat(args []Value) Value {
	var b strings.Builder
	for _, a := range args {
		if isNull(a) {
			continue
		}
		b.WriteString(ToString(a))
	}
	return b.String()
}

func builtinContains(args []Value) Value {
	haystack, ok := args[0].(string)
	if !ok || isNull(args[1]) {
		return false
	}
	return strings.Contains(haystack, ToString(args[1]))
}

func builtinPluck(args []Value) Value {
	list, ok := args[0].([]Value)
	if !ok {
		return []Value{}
	}
	path, ok := args[1].(string)
	out := make([]Value, len(list))
	if !ok {
		return out
	}
	for i, item := range list {
		out[i], _ = navigate(item, path)
	}
	return out
}

func builtinFilter(args []Value) Value {
	list, ok := args[0].([]Value)
	if !ok {
		return []Value{}
	}
	path, ok := args[1].(string)
	if !ok {
		return []Value{}
	}
	out := make([]Value, 0, len(list))
	for _, item := range list {
		v, found := navigate(item, path)
		if found && Equal(v, args[2]) {
			out = append(out, item)
		}
	}
	return out
}

func builtinMapScore(args []Value) Value {
	value, mapping := args[0], args[1]
	if isNull(value) {
		return nil
	}
	view, ok := mapping.(*View)
	if !ok {
		return nil
	}
	return view.Get(ToString(value))
}

func builtinLen(args []Value) Value {
	switch v := args[0].(type) {
	case string:
		return int64(utf8.RuneCountInString(v))
	case []Value:
		return int64(len(v))
	case *View:
		if v == nil {
			return nil
		}
		return int64(v.Len())
	}
	return nil
}

func builtinInt(args []Value) Value {
	switch v := args[0].(type) {
	case int64:
		return v
	case float64:
		if !fitsInt(v) {
			return nil
		}
		return int64(v)
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && fitsInt(f) {
			return int64(f)
		}
	}
	return nil
}

func builtinFloat(args []Value) Value {
	switch v := args[0].(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case bool:
		if v {
			return 1.0
		}
		return 0.0
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return nil
}

func builtinStr(args []Value) Value {
	if isNull(args[0]) {
		return nil
	}
	return ToString(args[0])
}

func builtinBool(args []Value) Value {
	return Truthy(args[0])
}

// fitsInt reports whether the float truncates to a value inside the int64
// range. float64(math.MaxInt64) rounds up to 2^63, so the bound is strict.
func fitsInt(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	return math.Abs(f) < math.MaxInt64
}
