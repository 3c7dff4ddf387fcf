package graph

import (
	"sort"
)

// Graph is the read-only view FindPath needs.
type Graph interface {
	// Has reports whether node is a key or a referenced successor.
	Has(node string) bool

	// Neighbors returns the successors of node in recorded order.
	Neighbors(node string) ([]string, error)
}

// CallGraph is an adjacency-list call graph.
//
// Keys keep their declaration order and successors keep their call order.
// A successor that is never declared as a key is a terminal node: it is a
// valid node with no outgoing edges, not an error.
//
// CallGraph is not safe for concurrent mutation. Build it first, then share
// it read-only.
type CallGraph struct {
	order      []string
	successors map[string][]string
	declared   map[string]bool

	// Referenced-but-undeclared nodes, in first-reference order.
	terminals  []string
	referenced map[string]bool

	edges int
}

// NewCallGraph builds a graph from an adjacency map. Keys are declared in
// sorted order since map iteration order is random; successor order is kept.
func NewCallGraph(adj map[string][]string) *CallGraph {
	g := NewEmptyCallGraph()

	keys := make([]string, 0, len(adj))
	for k := range adj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		g.AddNode(k, adj[k]...)
	}
	return g
}

// NewEmptyCallGraph creates a graph with no nodes.
func NewEmptyCallGraph() *CallGraph {
	return &CallGraph{
		successors: make(map[string][]string),
		declared:   make(map[string]bool),
		referenced: make(map[string]bool),
	}
}

// FromEntries builds a graph from ordered adjacency rows.
func FromEntries(entries []Entry) *CallGraph {
	g := NewEmptyCallGraph()
	for _, e := range entries {
		g.AddNode(e.Name, e.Successors...)
	}
	return g
}

// AddNode declares name as a key (if it is not one already) and appends the
// given successors to its adjacency list.
func (g *CallGraph) AddNode(name string, successors ...string) {
	if !g.declared[name] {
		g.declared[name] = true
		g.order = append(g.order, name)
	}
	for _, s := range successors {
		g.successors[name] = append(g.successors[name], s)
		g.edges++
		if !g.referenced[s] {
			g.referenced[s] = true
			g.terminals = append(g.terminals, s)
		}
	}
}

// AddEdge appends to as the last successor of from.
func (g *CallGraph) AddEdge(from, to string) {
	g.AddNode(from, to)
}

// Has reports whether node is a key or a referenced successor.
func (g *CallGraph) Has(node string) bool {
	return g.declared[node] || g.referenced[node]
}

// IsTerminal reports whether node is known only as a successor.
func (g *CallGraph) IsTerminal(node string) bool {
	return !g.declared[node] && g.referenced[node]
}

// Neighbors returns the successors of node in the order they were recorded.
// Terminal nodes return an empty list. Unknown nodes return ErrUnknownNode.
func (g *CallGraph) Neighbors(node string) ([]string, error) {
	if g.declared[node] {
		succ := g.successors[node]
		out := make([]string, len(succ))
		copy(out, succ)
		return out, nil
	}
	if g.referenced[node] {
		return []string{}, nil
	}
	return nil, &UnknownNodeError{Node: node}
}

// Nodes returns every node: declared keys in declaration order, then
// terminal nodes in first-reference order.
func (g *CallGraph) Nodes() []string {
	nodes := make([]string, 0, len(g.order)+len(g.terminals))
	nodes = append(nodes, g.order...)
	for _, t := range g.terminals {
		if !g.declared[t] {
			nodes = append(nodes, t)
		}
	}
	return nodes
}

// Entries returns the declared adjacency rows in declaration order.
// Terminal nodes are implied by the rows and not listed.
func (g *CallGraph) Entries() []Entry {
	entries := make([]Entry, 0, len(g.order))
	for _, name := range g.order {
		succ := make([]string, len(g.successors[name]))
		copy(succ, g.successors[name])
		entries = append(entries, Entry{Name: name, Successors: succ})
	}
	return entries
}

// NodeCount returns the number of distinct nodes, terminals included.
func (g *CallGraph) NodeCount() int {
	return len(g.Nodes())
}

// EdgeCount returns the number of recorded edges (duplicates included).
func (g *CallGraph) EdgeCount() int {
	return g.edges
}

// Stats returns a summary of graph size.
func (g *CallGraph) Stats() map[string]int {
	nodes := g.NodeCount()
	return map[string]int{
		"nodes":     nodes,
		"declared":  len(g.order),
		"terminals": nodes - len(g.order),
		"edges":     g.edges,
	}
}
