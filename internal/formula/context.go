package formula

// ContextData is the raw material for one evaluation, supplied by the
// collaborator that loaded the entity.
type ContextData struct {
	// Data is the entity's own attribute map
	Data map[string]any
	// Relations maps a relation type key to the related entities, each
	// already shaped as a map (typically id, name, type, attributes)
	Relations map[string][]map[string]any
	// RelationCounts overrides the counts derived from Relations
	RelationCounts map[string]int
	// Children holds the entity's hierarchy children, shaped like Relations
	Children []map[string]any
}

// Context is the immutable set of bindings visible to one evaluation.
type Context struct {
	bindings map[string]Value
}

// NewContext builds a fresh, read-only context. The input maps are copied
// into views; later changes to them are not visible to the context.
func NewContext(d ContextData) *Context {
	relKeys := sortedKeys(d.Relations)
	relValues := make([]Value, len(relKeys))
	for i, key := range relKeys {
		relValues[i] = viewList(d.Relations[key])
	}

	counts := d.RelationCounts
	if counts == nil {
		counts = make(map[string]int, len(d.Relations))
		for key, items := range d.Relations {
			counts[key] = len(items)
		}
	}
	countKeys := sortedKeys(counts)
	countValues := make([]Value, len(countKeys))
	for i, key := range countKeys {
		countValues[i] = int64(counts[key])
	}

	return &Context{
		bindings: map[string]Value{
			NameData:          NewView(d.Data),
			NameRelations:     newOrderedView(relKeys, relValues),
			NameRelationCount: newOrderedView(countKeys, countValues),
			NameChildren:      viewList(d.Children),
			NameChildrenCount: int64(len(d.Children)),
		},
	}
}

func viewList(items []map[string]any) []Value {
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = NewView(item)
	}
	return out
}

// Lookup returns the binding for name.
func (c *Context) Lookup(name string) (Value, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.bindings[name]
	return v, ok
}

// Data returns the view over the entity's own attributes.
func (c *Context) Data() *View {
	v, _ := c.Lookup(NameData)
	view, _ := v.(*View)
	return view
}
