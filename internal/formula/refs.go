package formula

import (
	"sort"
	"strings"
)

// ScopeKind tells which entity a referenced field belongs to.
type ScopeKind int

// ScopeKind constants.
const (
	ScopeSelf     ScopeKind = iota // the evaluated entity (data.F)
	ScopeRelation                  // entities reached via relations.R
	ScopeChildren                  // hierarchy children
)

// Reference is a field read by a formula.
type Reference struct {
	Scope    ScopeKind
	Relation string // relation type key, ScopeRelation only
	Field    string
}

func (r Reference) String() string {
	switch r.Scope {
	case ScopeRelation:
		return NameRelations + "." + r.Relation + "." + r.Field
	case ScopeChildren:
		return NameChildren + "." + r.Field
	default:
		return NameData + "." + r.Field
	}
}

// attributesKey is the entity view key holding a related entity's fields.
const attributesKey = "attributes"

type originKind int

const (
	originNone originKind = iota
	originData
	originRelations
	originRelList
	originRelEntity
	originRelAttrs
	originChildren
	originChildEntity
	originChildAttrs
)

// origin records where a value came from, so that later dot/index steps
// can be attributed to a field of some entity.
type origin struct {
	kind     originKind
	relation string
}

var noOrigin = origin{}

// step follows one attribute or string-key access.
func (o origin) step(name string) (origin, *Reference) {
	switch o.kind {
	case originData:
		return noOrigin, &Reference{Scope: ScopeSelf, Field: name}
	case originRelations:
		return origin{kind: originRelList, relation: name}, nil
	case originRelEntity:
		if name == attributesKey {
			return origin{kind: originRelAttrs, relation: o.relation}, nil
		}
	case originRelAttrs:
		return noOrigin, &Reference{Scope: ScopeRelation, Relation: o.relation, Field: name}
	case originChildEntity:
		if name == attributesKey {
			return origin{kind: originChildAttrs}, nil
		}
	case originChildAttrs:
		return noOrigin, &Reference{Scope: ScopeChildren, Field: name}
	}
	return noOrigin, nil
}

// element is the origin of one item of a list.
func (o origin) element() origin {
	switch o.kind {
	case originRelList:
		return origin{kind: originRelEntity, relation: o.relation}
	case originChildren:
		return origin{kind: originChildEntity}
	}
	return noOrigin
}

// refCollector walks a Program and records every field reference it can
// attribute structurally. String literals are only treated as references
// when they are the path argument of PLUCK or FILTER.
type refCollector struct {
	locals map[string]origin
	seen   map[Reference]bool
	refs   []Reference
}

// References returns the fields read by the program, sorted by their
// display form.
func (p *Program) References() []Reference {
	c := &refCollector{
		locals: make(map[string]origin),
		seen:   make(map[Reference]bool),
	}
	for _, assign := range p.Assigns {
		c.locals[assign.Name] = c.walk(assign.Value)
	}
	if p.Result != nil {
		c.walk(p.Result)
	}

	sort.Slice(c.refs, func(i, j int) bool {
		return c.refs[i].String() < c.refs[j].String()
	})
	return c.refs
}

// ReferencedFields returns References rendered as strings.
func (p *Program) ReferencedFields() []string {
	refs := p.References()
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

func (c *refCollector) add(r *Reference) {
	if r == nil || c.seen[*r] {
		return
	}
	c.seen[*r] = true
	c.refs = append(c.refs, *r)
}

func (c *refCollector) walk(e Expr) origin {
	switch n := e.(type) {
	case *NameExpr:
		if n.Kind == NameLocal {
			return c.locals[n.Name]
		}
		switch n.Name {
		case NameData:
			return origin{kind: originData}
		case NameRelations:
			return origin{kind: originRelations}
		case NameChildren:
			return origin{kind: originChildren}
		}
		return noOrigin

	case *DotExpr:
		o, ref := c.walk(n.X).step(n.Name)
		c.add(ref)
		return o

	case *IndexExpr:
		x := c.walk(n.X)
		c.walk(n.Index)
		if lit, ok := n.Index.(*LiteralExpr); ok {
			if key, ok := lit.Value.(string); ok {
				o, ref := x.step(key)
				c.add(ref)
				return o
			}
		}
		return x.element()

	case *ListExpr:
		for _, elem := range n.Elems {
			c.walk(elem)
		}
	case *DictExpr:
		for _, entry := range n.Entries {
			c.walk(entry.Key)
			c.walk(entry.Value)
		}
	case *UnaryExpr:
		c.walk(n.X)
	case *BinaryExpr:
		c.walk(n.X)
		c.walk(n.Y)

	case *LogicalExpr:
		x := c.walk(n.X)
		y := c.walk(n.Y)
		if x == y {
			return x
		}

	case *CondExpr:
		c.walk(n.Cond)
		t := c.walk(n.True)
		f := c.walk(n.False)
		if t == f {
			return t
		}

	case *CallExpr:
		return c.walkCall(n)
	}
	return noOrigin
}

func (c *refCollector) walkCall(n *CallExpr) origin {
	args := make([]origin, len(n.Args))
	for i, a := range n.Args {
		args[i] = c.walk(a)
	}
	for _, kw := range n.Kwargs {
		c.walk(kw.Value)
	}

	switch n.Func {
	case "PLUCK", "FILTER":
		if len(n.Args) < 2 {
			return noOrigin
		}
		if lit, ok := n.Args[1].(*LiteralExpr); ok {
			if path, ok := lit.Value.(string); ok {
				c.walkPath(args[0].element(), path)
			}
		}
		if n.Func == "FILTER" {
			return args[0]
		}
	case "COALESCE":
		for _, o := range args {
			if o != noOrigin {
				return o
			}
		}
	}
	return noOrigin
}

func (c *refCollector) walkPath(o origin, path string) {
	for _, seg := range strings.Split(path, ".") {
		var ref *Reference
		o, ref = o.step(seg)
		if ref != nil {
			c.add(ref)
			return
		}
		if o == noOrigin {
			return
		}
	}
}
