// Package dag provides a directed graph of calculation dependencies with
// cycle detection, path reporting and deterministic topological ordering.
//
// Edges point from a producer to its consumer: AddEdge(p, c) records that
// c reads a value produced by p. Self-loops are allowed so that a formula
// reading its own target field is reported as a cycle.
package dag

import (
	"fmt"
	"sort"
)

// Node is a vertex of the graph.
type Node struct {
	// ID is the unique identifier (calculation ID)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph is a directed graph that may contain cycles until checked.
type Graph struct {
	nodes    map[string]*Node
	children map[string][]string // producer -> consumers
	parents  map[string][]string // consumer -> producers
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// AddNode adds a node, replacing the data of an existing one.
func (g *Graph) AddNode(id string, data any) {
	if node, exists := g.nodes[id]; exists {
		node.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.children[id] = []string{}
	g.parents[id] = []string{}
}

// AddEdge records that child depends on parent. Duplicate edges are ignored.
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}

	if !contains(g.children[parentID], childID) {
		g.children[parentID] = append(g.children[parentID], childID)
	}
	if !contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// RemoveEdge deletes the edge parent -> child if present.
func (g *Graph) RemoveEdge(parentID, childID string) {
	g.children[parentID] = remove(g.children[parentID], childID)
	g.parents[childID] = remove(g.parents[childID], parentID)
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the producers a node depends on.
func (g *Graph) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the consumers of a node.
func (g *Graph) GetChildren(id string) []string {
	return g.children[id]
}

// GetAllNodes returns all nodes sorted by ID.
func (g *Graph) GetAllNodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.children {
		count += len(children)
	}
	return count
}

// FindCycleFrom runs a depth-first search from start along dependency
// edges (consumer to producer) with an explicit recursion stack. It
// returns the cycle through start as a list of IDs whose first and last
// elements are both start, or nil when no cycle passes through start.
func (g *Graph) FindCycleFrom(start string) []string {
	if _, exists := g.nodes[start]; !exists {
		return nil
	}

	visited := make(map[string]bool)
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		stack = append(stack, id)

		for _, dep := range g.sortedParents(id) {
			if dep == start {
				cycle = append(append([]string{}, stack...), start)
				return true
			}
			if !visited[dep] && dfs(dep) {
				return true
			}
		}

		stack = stack[:len(stack)-1]
		return false
	}

	if dfs(start) {
		return cycle
	}
	return nil
}

// HasCycle reports whether the graph contains any cycle, with the cycle
// path in dependency direction (each node depends on the next).
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string
	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, dep := range g.sortedParents(id) {
			if onStack[dep] {
				i := len(stack) - 1
				for stack[i] != dep {
					i--
				}
				cyclePath = append(append([]string{}, stack[i:]...), dep)
				return true
			}
			if !visited[dep] && dfs(dep) {
				return true
			}
		}

		onStack[id] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, node := range g.GetAllNodes() {
		if !visited[node.ID] && dfs(node.ID) {
			return true, cyclePath
		}
	}
	return false, nil
}

// TopologicalSort returns nodes producers first, breaking ties by ID.
// Returns an error if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	return g.TopologicalSortFunc(func(a, b *Node) bool { return a.ID < b.ID })
}

// TopologicalSortFunc is TopologicalSort with a caller-supplied order among
// nodes that are ready at the same time.
func (g *Graph) TopologicalSortFunc(less func(a, b *Node) bool) ([]*Node, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}

	pending := make(map[string]int, len(g.nodes))
	var ready []*Node
	for id, node := range g.nodes {
		pending[id] = len(g.parents[id])
		if pending[id] == 0 {
			ready = append(ready, node)
		}
	}

	result := make([]*Node, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		result = append(result, next)

		for _, childID := range g.children[next.ID] {
			pending[childID]--
			if pending[childID] == 0 {
				ready = append(ready, g.nodes[childID])
			}
		}
	}
	return result, nil
}

// GetExecutionLevels groups nodes by dependency depth. Level 0 holds nodes
// with no dependencies; a node's level is one more than its deepest parent.
func (g *Graph) GetExecutionLevels() ([][]string, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}

	assigned := make(map[string]int)

	var getLevel func(id string) int
	getLevel = func(id string) int {
		if level, ok := assigned[id]; ok {
			return level
		}
		level := 0
		for _, parentID := range g.parents[id] {
			if l := getLevel(parentID) + 1; l > level {
				level = l
			}
		}
		assigned[id] = level
		return level
	}

	maxLevel := -1
	for id := range g.nodes {
		if level := getLevel(id); level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]string, maxLevel+1)
	for id, level := range assigned {
		levels[level] = append(levels[level], id)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels, nil
}

// GetAffectedNodes returns the given nodes plus every consumer downstream
// of them.
func (g *Graph) GetAffectedNodes(changedIDs []string) []string {
	affected := make(map[string]bool)

	var mark func(id string)
	mark = func(id string) {
		if affected[id] {
			return
		}
		affected[id] = true
		for _, childID := range g.children[id] {
			mark(childID)
		}
	}

	for _, id := range changedIDs {
		if _, exists := g.nodes[id]; exists {
			mark(id)
		}
	}
	return sortedSet(affected)
}

// GetUpstreamNodes returns every producer the node transitively depends on.
func (g *Graph) GetUpstreamNodes(id string) []string {
	upstream := make(map[string]bool)

	var mark func(nodeID string)
	mark = func(nodeID string) {
		for _, parentID := range g.parents[nodeID] {
			if !upstream[parentID] {
				upstream[parentID] = true
				mark(parentID)
			}
		}
	}

	mark(id)
	delete(upstream, id)
	return sortedSet(upstream)
}

func (g *Graph) sortedParents(id string) []string {
	parents := append([]string(nil), g.parents[id]...)
	sort.Strings(parents)
	return parents
}

func sortedSet(set map[string]bool) []string {
	result := make([]string, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}

func remove(slice []string, str string) []string {
	out := slice[:0]
	for _, s := range slice {
		if s != str {
			out = append(out, s)
		}
	}
	return out
}
