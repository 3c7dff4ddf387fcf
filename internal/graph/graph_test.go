package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleGraph() *CallGraph {
	g := NewEmptyCallGraph()
	g.AddNode("main", "x", "a")
	g.AddNode("x", "y")
	g.AddNode("a", "b")
	return g
}

func TestNewEmptyCallGraph(t *testing.T) {
	t.Parallel()

	g := NewEmptyCallGraph()

	assert.NotNil(t, g)
	assert.Equal(t, 0, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())
	assert.Empty(t, g.Nodes())
}

func TestNewCallGraph(t *testing.T) {
	t.Parallel()

	g := NewCallGraph(map[string][]string{
		"main": {"x", "a"},
		"x":    {"y"},
		"a":    {"b"},
	})

	// Keys sorted, successor order kept.
	assert.Equal(t, []string{"a", "main", "x", "b", "y"}, g.Nodes())
	next, err := g.Neighbors("main")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "a"}, next)
	assert.Equal(t, 4, g.EdgeCount())
}

func TestCallGraph_AddNode(t *testing.T) {
	t.Parallel()

	t.Run("DeclarationOrder", func(t *testing.T) {
		t.Parallel()
		g := exampleGraph()
		assert.Equal(t, []string{"main", "x", "a", "y", "b"}, g.Nodes())
	})

	t.Run("AppendsSuccessors", func(t *testing.T) {
		t.Parallel()
		g := NewEmptyCallGraph()
		g.AddNode("main", "a")
		g.AddNode("main", "b")
		g.AddEdge("main", "c")

		next, err := g.Neighbors("main")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, next)
		assert.Equal(t, []string{"main", "a", "b", "c"}, g.Nodes())
	})

	t.Run("TerminalLaterDeclared", func(t *testing.T) {
		t.Parallel()
		g := NewEmptyCallGraph()
		g.AddNode("main", "helper")
		assert.True(t, g.IsTerminal("helper"))

		g.AddNode("helper", "leaf")
		assert.False(t, g.IsTerminal("helper"))
		assert.Equal(t, []string{"main", "helper", "leaf"}, g.Nodes())
		assert.Equal(t, 3, g.NodeCount())
	})
}

func TestCallGraph_Neighbors(t *testing.T) {
	t.Parallel()

	g := exampleGraph()

	t.Run("Declared", func(t *testing.T) {
		t.Parallel()
		next, err := g.Neighbors("main")
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "a"}, next)
	})

	t.Run("DanglingSuccessorIsTerminal", func(t *testing.T) {
		t.Parallel()
		next, err := g.Neighbors("y")
		require.NoError(t, err)
		assert.NotNil(t, next)
		assert.Empty(t, next)
	})

	t.Run("UnknownNode", func(t *testing.T) {
		t.Parallel()
		_, err := g.Neighbors("z")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownNode))

		var unknown *UnknownNodeError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "z", unknown.Node)
		assert.Equal(t, `unknown node: "z"`, err.Error())
	})

	t.Run("ReturnsCopy", func(t *testing.T) {
		t.Parallel()
		local := exampleGraph()
		next, err := local.Neighbors("main")
		require.NoError(t, err)
		next[0] = "mutated"

		again, err := local.Neighbors("main")
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "a"}, again)
	})
}

func TestCallGraph_Has(t *testing.T) {
	t.Parallel()

	g := exampleGraph()

	assert.True(t, g.Has("main"))
	assert.True(t, g.Has("b"))
	assert.False(t, g.Has("z"))
}

func TestCallGraph_Entries(t *testing.T) {
	t.Parallel()

	g := exampleGraph()
	entries := g.Entries()

	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Name: "main", Successors: []string{"x", "a"}}, entries[0])
	assert.Equal(t, Entry{Name: "a", Successors: []string{"b"}}, entries[2])

	rebuilt := FromEntries(entries)
	assert.Equal(t, g.Nodes(), rebuilt.Nodes())
	assert.Equal(t, g.EdgeCount(), rebuilt.EdgeCount())
}

func TestCallGraph_Stats(t *testing.T) {
	t.Parallel()

	g := exampleGraph()
	stats := g.Stats()

	assert.Equal(t, 5, stats["nodes"])
	assert.Equal(t, 3, stats["declared"])
	assert.Equal(t, 2, stats["terminals"])
	assert.Equal(t, 4, stats["edges"])
}
