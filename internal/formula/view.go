package formula

import "strings"

// View is a read-only, null-safe mapping over ordered key/value pairs.
// Both index access (Get) and attribute access (Attr) read the same
// entries; missing keys yield nil instead of failing. A nil *View behaves
// like an empty one.
type View struct {
	keys   []string
	values map[string]Value
}

// NewView wraps a host map. Nested maps and slices are normalized
// recursively; keys are ordered lexically.
func NewView(m map[string]any) *View {
	v := &View{
		keys:   sortedKeys(m),
		values: make(map[string]Value, len(m)),
	}
	for k, item := range m {
		v.values[k] = Normalize(item)
	}
	return v
}

// newOrderedView builds a view that keeps insertion order. Later
// duplicates overwrite the value but keep the first position.
func newOrderedView(keys []string, values []Value) *View {
	v := &View{
		keys:   make([]string, 0, len(keys)),
		values: make(map[string]Value, len(keys)),
	}
	for i, k := range keys {
		if _, exists := v.values[k]; !exists {
			v.keys = append(v.keys, k)
		}
		v.values[k] = values[i]
	}
	return v
}

// Get returns the value stored under key, or nil.
func (v *View) Get(key string) Value {
	val, _ := v.Lookup(key)
	return val
}

// Attr is attribute-style access to the same entries as Get.
func (v *View) Attr(name string) Value {
	return v.Get(name)
}

// Lookup returns the value under key and whether the key exists.
func (v *View) Lookup(key string) (Value, bool) {
	if v == nil {
		return nil, false
	}
	val, ok := v.values[key]
	return val, ok
}

// Has reports whether key exists.
func (v *View) Has(key string) bool {
	_, ok := v.Lookup(key)
	return ok
}

// Keys returns a copy of the keys in order.
func (v *View) Keys() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Len returns the number of entries.
func (v *View) Len() int {
	if v == nil {
		return 0
	}
	return len(v.keys)
}

// Path navigates a dotted path ("a.b.c") through nested views.
// ok is false when a segment is missing or an intermediate value is not a
// mapping.
func (v *View) Path(path string) (Value, bool) {
	return navigate(v, path)
}

func (v *View) String() string {
	return ToString(v)
}

// navigate walks a dotted path starting at any value.
func navigate(start Value, path string) (Value, bool) {
	if path == "" {
		return start, true
	}
	cur := start
	for _, seg := range strings.Split(path, ".") {
		view, ok := cur.(*View)
		if !ok || view == nil {
			return nil, false
		}
		cur, ok = view.Lookup(seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
