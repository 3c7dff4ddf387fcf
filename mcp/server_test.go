package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/apex-go/internal/graph"
	"github.com/Benny93/apex-go/internal/storage"
)

var started = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

// newHistory returns a memory backend holding one successful run with its
// linked call graph and one older failed run.
func newHistory(t *testing.T) *storage.MemoryBackend {
	t.Helper()
	ctx := context.Background()

	b := storage.NewMemoryBackend()
	require.NoError(t, b.Initialize("", false))

	ok := &storage.RunRecord{
		ID:             "7f3c2a10-0000-4000-8000-000000000001",
		StartedAt:      started,
		FinishedAt:     started.Add(2 * time.Second),
		Status:         storage.RunSucceeded,
		Source:         "src/main.c",
		File:           "main.c",
		Line:           4,
		Entry:          "main",
		TargetFunction: "target",
		Strategy:       "bfs",
		Stages: []storage.StageRecord{
			{Name: "link", Status: storage.StageOK, DurationMS: 12},
			{Name: "export", Status: storage.StageSkipped, Message: "export not requested"},
		},
		Path:     []string{"main", "parse", "target"},
		Retained: []string{"main", "parse", "target"},
		Pruned:   []string{"unused"},
	}
	failed := &storage.RunRecord{
		ID:          "a91b0000-0000-4000-8000-000000000002",
		StartedAt:   started.Add(-time.Hour),
		FinishedAt:  started.Add(-time.Hour),
		Status:      storage.RunFailed,
		File:        "main.c",
		Line:        9,
		FailedStage: "reachability",
		Error:       "the target line is dead code",
	}
	require.NoError(t, b.SaveRun(ctx, ok))
	require.NoError(t, b.SaveRun(ctx, failed))

	g := graph.NewEmptyCallGraph()
	g.AddNode("main", "parse", "unused")
	g.AddNode("parse", "target")
	g.AddNode("unused", "target")
	g.AddNode("target")
	require.NoError(t, b.SaveGraph(ctx, ok.ID, "linked", g))

	return b
}

func call(t *testing.T, s *Server, name string, args map[string]any) (string, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return s.CallTool(context.Background(), name, raw)
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	t.Run("CreatesServer", func(t *testing.T) {
		server := NewServer(newHistory(t), nil)

		assert.NotNil(t, server)
		assert.NotNil(t, server.history)
		assert.NotNil(t, server.logger)
		assert.NotNil(t, server.server)
	})
}

func TestServer_Tools(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil)

	t.Run("ListTools", func(t *testing.T) {
		var names []string
		for _, tool := range server.ListTools() {
			names = append(names, tool.Name)
		}
		assert.Equal(t, []string{"apex_find_path", "apex_runs", "apex_run", "apex_dead_code"}, names)
	})

	t.Run("ToolDescriptions", func(t *testing.T) {
		for _, tool := range server.ListTools() {
			assert.NotEmpty(t, tool.Description)
			require.NotNil(t, tool.InputSchema)
			assert.Equal(t, "object", tool.InputSchema.Type)
		}
	})
}

func TestServer_FindPath(t *testing.T) {
	t.Parallel()

	server := NewServer(newHistory(t), nil)
	inline := map[string]any{
		"main":   []string{"a", "b"},
		"a":      []string{"c"},
		"b":      []string{"target"},
		"c":      []string{"target"},
		"target": []string{},
	}

	t.Run("InlineBreadthFirst", func(t *testing.T) {
		result, err := call(t, server, "apex_find_path", map[string]any{
			"start": "main", "end": "target", "graph": inline,
		})
		require.NoError(t, err)
		assert.Contains(t, result, "bfs: `main -> b -> target` (2 edges)")
		assert.Contains(t, result, "Graph: inline (5 functions, 5 calls)")
	})

	t.Run("InlineCompare", func(t *testing.T) {
		result, err := call(t, server, "apex_find_path", map[string]any{
			"start": "main", "end": "target", "graph": inline, "compare": true,
		})
		require.NoError(t, err)
		assert.Contains(t, result, "bfs: `main -> b -> target`")
		assert.Contains(t, result, "dfs: `main -> b -> target`")
	})

	t.Run("Unreachable", func(t *testing.T) {
		result, err := call(t, server, "apex_find_path", map[string]any{
			"start": "target", "end": "main", "graph": inline,
		})
		require.NoError(t, err)
		assert.Contains(t, result, "no path, main is unreachable from target")
	})

	t.Run("FromRunByPrefix", func(t *testing.T) {
		result, err := call(t, server, "apex_find_path", map[string]any{
			"start": "main", "end": "target", "run": "7f3c",
		})
		require.NoError(t, err)
		assert.Contains(t, result, "Graph: run 7f3c2a10, linked")
		assert.Contains(t, result, "`main -> parse -> target`")
	})

	t.Run("MissingGraphForStage", func(t *testing.T) {
		_, err := call(t, server, "apex_find_path", map[string]any{
			"start": "main", "end": "target", "run": "7f3c", "stage": "apex",
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("UnknownStart", func(t *testing.T) {
		_, err := call(t, server, "apex_find_path", map[string]any{
			"start": "nope", "end": "target", "graph": inline,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, graph.ErrUnknownNode))
	})

	t.Run("InvalidStrategy", func(t *testing.T) {
		_, err := call(t, server, "apex_find_path", map[string]any{
			"start": "main", "end": "target", "graph": inline, "strategy": "random",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown strategy")
	})

	t.Run("NoGraphSource", func(t *testing.T) {
		_, err := call(t, server, "apex_find_path", map[string]any{"start": "main", "end": "target"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "either graph or run is required")
	})
}

func TestServer_HandleToolCalls(t *testing.T) {
	t.Parallel()

	server := NewServer(newHistory(t), nil)

	t.Run("ApexRuns", func(t *testing.T) {
		result, err := call(t, server, "apex_runs", map[string]any{})
		require.NoError(t, err)
		assert.Contains(t, result, "Recent runs (2)")
		assert.Contains(t, result, "| 7f3c2a10 | 2026-05-04 09:30:00 | main.c:4 | succeeded | main -> parse -> target |")
		assert.Contains(t, result, "failed (reachability)")
	})

	t.Run("ApexRunsLimit", func(t *testing.T) {
		result, err := call(t, server, "apex_runs", map[string]any{"limit": 1})
		require.NoError(t, err)
		assert.Contains(t, result, "Recent runs (1)")
		assert.NotContains(t, result, "a91b0000")
	})

	t.Run("ApexRun", func(t *testing.T) {
		result, err := call(t, server, "apex_run", map[string]any{"id": "7f3c2a10"})
		require.NoError(t, err)
		assert.Contains(t, result, "**Target:** main.c:4 in `target`")
		assert.Contains(t, result, "- export: skipped (0ms) - export not requested")
		assert.Contains(t, result, "3 functions retained, 1 pruned: unused")
	})

	t.Run("ApexRunMissingID", func(t *testing.T) {
		_, err := call(t, server, "apex_run", map[string]any{})
		require.Error(t, err)
	})

	t.Run("ApexRunUnknown", func(t *testing.T) {
		_, err := call(t, server, "apex_run", map[string]any{"id": "ffff"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		_, err := server.CallTool(context.Background(), "apex_runs", json.RawMessage(`{"limit":"ten"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid arguments")
	})

	t.Run("UnknownTool", func(t *testing.T) {
		result, err := call(t, server, "unknown_tool", map[string]any{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown tool")
		assert.Empty(t, result)
	})
}

func TestServer_DeadCode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := "static int unused(void) { return 1; }\n\nint work(void) { return 2; }\n\nint main(void) { return work(); }\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), []byte(src), 0o644))

	server := NewServer(nil, nil)

	t.Run("ReportsUnreachable", func(t *testing.T) {
		result, err := call(t, server, "apex_dead_code", map[string]any{"dir": dir})
		require.NoError(t, err)
		assert.Contains(t, result, "Found 1 functions unreachable from `main`")
		assert.Contains(t, result, "`unused` in main.c:1 (confidence: high)")
	})

	t.Run("AllReachable", func(t *testing.T) {
		result, err := call(t, server, "apex_dead_code", map[string]any{"dir": dir, "entry": "unused"})
		require.NoError(t, err)
		assert.Contains(t, result, "Found 2 functions unreachable from `unused`")
	})

	t.Run("MissingDir", func(t *testing.T) {
		_, err := call(t, server, "apex_dead_code", map[string]any{})
		require.Error(t, err)
	})
}

func TestServer_NoHistory(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil)

	result, err := call(t, server, "apex_runs", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "No run history available.", result)

	latest, err := server.ReadResource(context.Background(), "apex://latest")
	require.NoError(t, err)
	assert.Equal(t, "{}", latest)
}

func TestServer_Resources(t *testing.T) {
	t.Parallel()

	server := NewServer(newHistory(t), nil)
	ctx := context.Background()

	t.Run("ListResources", func(t *testing.T) {
		resources := server.ListResources()
		require.Len(t, resources, 2)
		assert.Equal(t, "apex://runs", resources[0].URI)
		assert.Equal(t, "apex://latest", resources[1].URI)
	})

	t.Run("ReadRuns", func(t *testing.T) {
		content, err := server.ReadResource(ctx, "apex://runs")
		require.NoError(t, err)
		assert.Contains(t, content, "Recent runs (2)")
	})

	t.Run("ReadLatest", func(t *testing.T) {
		content, err := server.ReadResource(ctx, "apex://latest")
		require.NoError(t, err)

		var run storage.RunRecord
		require.NoError(t, json.Unmarshal([]byte(content), &run))
		assert.Equal(t, "7f3c2a10-0000-4000-8000-000000000001", run.ID)
		assert.Equal(t, []string{"main", "parse", "target"}, run.Path)
	})

	t.Run("UnknownResource", func(t *testing.T) {
		_, err := server.ReadResource(ctx, "apex://nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown resource")
	})
}

func TestServer_Session(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	server := NewServer(newHistory(t), nil)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	t.Run("ListTools", func(t *testing.T) {
		tools, err := session.ListTools(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, tools.Tools, 4)
	})

	t.Run("CallTool", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name: "apex_find_path",
			Arguments: map[string]any{
				"start": "main", "end": "target", "run": "7f3c",
			},
		})
		require.NoError(t, err)
		require.False(t, res.IsError)
		require.Len(t, res.Content, 1)
		text, ok := res.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		assert.Contains(t, text.Text, "`main -> parse -> target`")
	})

	t.Run("CallToolError", func(t *testing.T) {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "apex_run",
			Arguments: map[string]any{"id": "ffff"},
		})
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("ReadResource", func(t *testing.T) {
		res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "apex://runs"})
		require.NoError(t, err)
		require.Len(t, res.Contents, 1)
		assert.Contains(t, res.Contents[0].Text, "Recent runs (2)")
	})
}

func TestServer_Run(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, nil)

	t.Run("RunWithNilTransport", func(t *testing.T) {
		err := server.Run(context.Background(), nil)
		assert.Error(t, err)
	})
}
