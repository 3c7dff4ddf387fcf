// Package graph provides the call graph model and path search for apex-go.
//
// A CallGraph maps function names to the ordered list of functions they
// call. Functions that are only ever referenced as callees are terminal
// nodes with no outgoing edges. FindPath searches such a graph for a call
// chain from an entry point to a target function.
package graph

import (
	"fmt"
	"strings"
)

// Path is an ordered sequence of function names from a start node to an end
// node, both inclusive.
type Path []string

// Tip returns the last node of the path, or "" for an empty path.
func (p Path) Tip() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Edges returns the number of edges in the path.
func (p Path) Edges() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

// Contains reports whether node appears anywhere on the path.
func (p Path) Contains(node string) bool {
	for _, n := range p {
		if n == node {
			return true
		}
	}
	return false
}

// Extend returns a copy of the path with node appended.
// The receiver is never modified, so frontier entries never share storage.
func (p Path) Extend(node string) Path {
	next := make(Path, len(p)+1)
	copy(next, p)
	next[len(p)] = node
	return next
}

// String renders the path as "a -> b -> c".
func (p Path) String() string {
	return strings.Join(p, " -> ")
}

// Strategy selects the traversal discipline used by FindPath.
type Strategy int

const (
	// BreadthFirst removes the earliest added candidate first (queue).
	// The first path found has the minimum number of edges.
	BreadthFirst Strategy = iota

	// DepthFirst removes the most recently added candidate first (stack).
	// It explores one branch to exhaustion before backtracking.
	DepthFirst
)

// String returns the canonical short name of the strategy.
func (s Strategy) String() string {
	switch s {
	case BreadthFirst:
		return "bfs"
	case DepthFirst:
		return "dfs"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts a user supplied name into a Strategy.
// Accepted names: bfs, breadth-first, dfs, depth-first (case insensitive).
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bfs", "breadth-first", "breadthfirst":
		return BreadthFirst, nil
	case "dfs", "depth-first", "depthfirst":
		return DepthFirst, nil
	default:
		return BreadthFirst, fmt.Errorf("unknown strategy %q (want bfs or dfs)", name)
	}
}

// Entry is one adjacency list row: a function and its callees in call order.
type Entry struct {
	Name       string   `json:"name" yaml:"name"`
	Successors []string `json:"successors,omitempty" yaml:"successors,omitempty"`
}
