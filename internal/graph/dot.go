package graph

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
)

// Pseudo nodes emitted by opt -dot-callgraph that are not functions.
var pseudoNodes = map[string]bool{
	"":                true,
	"external node":   true,
	"external caller": true,
	"external callee": true,
	"null function":   true,
}

// ParseDOT builds a CallGraph from a Graphviz call graph such as the one
// written by `opt -dot-callgraph`.
//
// Node identifiers are mapped to their labels ("{main}" becomes "main") when
// a label is present. Pseudo nodes for external callers and callees are
// dropped together with their edges. Repeated edges between the same pair of
// functions (one per call site) are collapsed. Node and edge order follow the
// order of the input.
func ParseDOT(data []byte) (*CallGraph, error) {
	ast, err := gographviz.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOT: %w", err)
	}
	dg := gographviz.NewGraph()
	if err := gographviz.Analyse(ast, dg); err != nil {
		return nil, fmt.Errorf("failed to analyse DOT: %w", err)
	}

	names := make(map[string]string, len(dg.Nodes.Nodes))
	g := NewEmptyCallGraph()

	for _, n := range dg.Nodes.Nodes {
		name := nodeLabel(n.Name, n.Attrs)
		names[n.Name] = name
		if pseudoNodes[name] {
			continue
		}
		g.AddNode(name)
	}

	seen := make(map[[2]string]bool, len(dg.Edges.Edges))
	for _, e := range dg.Edges.Edges {
		from, ok := names[e.Src]
		if !ok {
			from = unquote(e.Src)
		}
		to, ok := names[e.Dst]
		if !ok {
			to = unquote(e.Dst)
		}
		if pseudoNodes[from] || pseudoNodes[to] {
			continue
		}
		key := [2]string{from, to}
		if seen[key] {
			continue
		}
		seen[key] = true
		g.AddEdge(from, to)
	}

	return g, nil
}

// nodeLabel returns the function name of a DOT node: its record label when
// one is set, otherwise its identifier.
func nodeLabel(id string, attrs gographviz.Attrs) string {
	label, ok := attrs[gographviz.Label]
	if !ok {
		return unquote(id)
	}
	label = unquote(label)
	label = strings.TrimPrefix(label, "{")
	label = strings.TrimSuffix(label, "}")
	// Record labels may carry extra fields ("{name|...}").
	if i := strings.IndexByte(label, '|'); i >= 0 {
		label = label[:i]
	}
	return strings.TrimSpace(label)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}

// WriteDOT renders g as a Graphviz digraph. Nodes and edges on highlight are
// drawn in red so a found path stands out in the rendering.
func WriteDOT(w io.Writer, name string, g *CallGraph, highlight Path) error {
	dg := gographviz.NewEscape()
	if name == "" {
		name = "callgraph"
	}
	if err := dg.SetName(name); err != nil {
		return err
	}
	if err := dg.SetDir(true); err != nil {
		return err
	}

	onPath := make(map[string]bool, len(highlight))
	onEdge := make(map[[2]string]bool, len(highlight))
	for i, n := range highlight {
		onPath[n] = true
		if i > 0 {
			onEdge[[2]string{highlight[i-1], n}] = true
		}
	}

	for _, n := range g.Nodes() {
		attrs := map[string]string{"shape": "box"}
		if onPath[n] {
			attrs["color"] = "red"
			attrs["penwidth"] = "2"
		}
		if err := dg.AddNode(name, n, attrs); err != nil {
			return fmt.Errorf("failed to add node %q: %w", n, err)
		}
	}

	for _, e := range g.Entries() {
		for _, s := range e.Successors {
			var attrs map[string]string
			if onEdge[[2]string{e.Name, s}] {
				attrs = map[string]string{"color": "red", "penwidth": "2"}
			}
			if err := dg.AddEdge(e.Name, s, true, attrs); err != nil {
				return fmt.Errorf("failed to add edge %s -> %s: %w", e.Name, s, err)
			}
		}
	}

	_, err := io.WriteString(w, dg.String())
	return err
}
