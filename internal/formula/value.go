package formula

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Value is a formula value: nil, bool, int64, float64, string,
// []Value or *View.
type Value = any

// Normalize converts host data into the formula value model.
// Integers become int64, floats float64, string-keyed maps become views
// and slices become []Value. Unsupported types are rendered as strings.
func Normalize(v any) Value {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, int64, float64, string, *View:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return uint64ToValue(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return uint64ToValue(x)
	case float32:
		return float64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		return NewView(x)
	case []any:
		out := make([]Value, len(x))
		for i, item := range x {
			out[i] = Normalize(item)
		}
		return out
	case []map[string]any:
		out := make([]Value, len(x))
		for i, item := range x {
			out[i] = NewView(item)
		}
		return out
	}
	return normalizeReflect(v)
}

func uint64ToValue(u uint64) Value {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// normalizeReflect handles typed slices and string-keyed maps.
func normalizeReflect(v any) Value {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]Value, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return NewView(m)
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

// Plain converts a formula value back into plain Go data suitable for
// storing in an attribute map.
func Plain(v Value) any {
	switch x := v.(type) {
	case *View:
		if x == nil {
			return nil
		}
		m := make(map[string]any, len(x.keys))
		for _, k := range x.keys {
			m[k] = Plain(x.values[k])
		}
		return m
	case []Value:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Plain(item)
		}
		return out
	default:
		return x
	}
}

// TypeName returns the formula-level type name of v.
func TypeName(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case []Value:
		return "list"
	case *View:
		if x == nil {
			return "null"
		}
		return "map"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Truthy reports the boolean interpretation of v.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []Value:
		return len(x) > 0
	case *View:
		return x.Len() > 0
	default:
		return true
	}
}

// isNumber reports whether v is an int64 or float64. Booleans are not numbers.
func isNumber(v Value) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Equal reports structural equality. Ints and floats compare numerically;
// null equals only null.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return isNull(b)
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		if y, ok := toFloat(b); ok {
			return x == y
		}
		return false
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []Value:
		y, ok := b.([]Value)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *View:
		if x == nil {
			return isNull(b)
		}
		y, ok := b.(*View)
		if !ok || y == nil || x.Len() != y.Len() {
			return false
		}
		for _, k := range x.keys {
			other, found := y.Lookup(k)
			if !found || !Equal(x.values[k], other) {
				return false
			}
		}
		return true
	}
	return false
}

func isNull(v Value) bool {
	if v == nil {
		return true
	}
	view, ok := v.(*View)
	return ok && view == nil
}

// compare orders two numbers or two strings. ok is false for any other pair.
func compare(a, b Value) (int, bool) {
	if x, ok := a.(int64); ok {
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
	}
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	}
	return 0, false
}

// ToString renders v the way CONCAT and STR do.
func ToString(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case []Value:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = repr(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *View:
		if x == nil {
			return "null"
		}
		parts := make([]string, 0, x.Len())
		for _, k := range x.keys {
			parts = append(parts, strconv.Quote(k)+": "+repr(x.values[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(v)
	}
}

// repr is ToString with quoted strings, used inside lists and maps.
func repr(v Value) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return ToString(v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == math.Trunc(f) && math.Abs(f) < 1e16:
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
