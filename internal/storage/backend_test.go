package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/apex-go/internal/graph"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRun(id string, offset time.Duration) *RunRecord {
	started := baseTime.Add(offset)
	return &RunRecord{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Status:     RunSucceeded,
		Source:     "src/main.c",
		File:       "main.c",
		Line:       12,
		Entry:      "main",
		Strategy:   "bfs",
		Stages: []StageRecord{
			{Name: "prepare", Status: StageOK, DurationMS: 3},
			{Name: "link", Status: StageOK, Commands: []string{"llvm-link build/apexlib.bc build/source.bc -S -o build/linked.ll"}},
		},
		Path:   []string{"main", "parse", "target"},
		Pruned: []string{"unused"},
	}
}

// backendFactories returns every implementation under test.
func backendFactories(t *testing.T) map[string]func() Backend {
	t.Helper()
	return map[string]func() Backend{
		"Memory": func() Backend {
			b := NewMemoryBackend()
			require.NoError(t, b.Initialize("", false))
			return b
		},
		"Badger": func() Backend {
			b := NewBadgerBackend()
			require.NoError(t, b.Initialize(filepath.Join(t.TempDir(), "badger"), false))
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
}

func TestBackend_Runs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, newBackend := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("SaveAndGet", func(t *testing.T) {
				b := newBackend()
				run := testRun("run-1", 0)
				require.NoError(t, b.SaveRun(ctx, run))

				got, err := b.GetRun(ctx, "run-1")
				require.NoError(t, err)
				assert.Equal(t, run.ID, got.ID)
				assert.Equal(t, run.Path, got.Path)
				assert.Equal(t, run.Stages, got.Stages)
				assert.True(t, run.StartedAt.Equal(got.StartedAt))
				assert.Equal(t, 1500*time.Millisecond, got.Duration())
			})

			t.Run("GetMissing", func(t *testing.T) {
				b := newBackend()
				_, err := b.GetRun(ctx, "nope")
				assert.True(t, errors.Is(err, ErrNotFound))
			})

			t.Run("RejectsEmptyID", func(t *testing.T) {
				b := newBackend()
				assert.Error(t, b.SaveRun(ctx, &RunRecord{}))
			})

			t.Run("ListNewestFirst", func(t *testing.T) {
				b := newBackend()
				require.NoError(t, b.SaveRun(ctx, testRun("b", time.Minute)))
				require.NoError(t, b.SaveRun(ctx, testRun("a", 0)))
				require.NoError(t, b.SaveRun(ctx, testRun("c", 2*time.Minute)))

				runs, err := b.ListRuns(ctx, 0)
				require.NoError(t, err)
				assert.Equal(t, []string{"c", "b", "a"}, runIDs(runs))

				runs, err = b.ListRuns(ctx, 2)
				require.NoError(t, err)
				assert.Equal(t, []string{"c", "b"}, runIDs(runs))
			})

			t.Run("ReplaceKeepsSingleEntry", func(t *testing.T) {
				b := newBackend()
				run := testRun("r", 0)
				require.NoError(t, b.SaveRun(ctx, run))

				run.StartedAt = run.StartedAt.Add(time.Hour)
				run.Status = RunFailed
				require.NoError(t, b.SaveRun(ctx, run))

				runs, err := b.ListRuns(ctx, 0)
				require.NoError(t, err)
				require.Len(t, runs, 1)
				assert.Equal(t, RunFailed, runs[0].Status)
			})

			t.Run("DeleteRemovesGraphs", func(t *testing.T) {
				b := newBackend()
				require.NoError(t, b.SaveRun(ctx, testRun("r", 0)))
				require.NoError(t, b.SaveGraph(ctx, "r", "linked", graph.NewCallGraph(map[string][]string{"main": {"f"}})))

				require.NoError(t, b.DeleteRun(ctx, "r"))

				_, err := b.GetRun(ctx, "r")
				assert.True(t, errors.Is(err, ErrNotFound))
				_, err = b.GetGraph(ctx, "r", "linked")
				assert.True(t, errors.Is(err, ErrNotFound))
				assert.True(t, errors.Is(b.DeleteRun(ctx, "r"), ErrNotFound))
			})

			t.Run("Prune", func(t *testing.T) {
				b := newBackend()
				for i := 0; i < 5; i++ {
					require.NoError(t, b.SaveRun(ctx, testRun(fmt.Sprintf("r%d", i), time.Duration(i)*time.Minute)))
				}

				n, err := b.PruneRuns(ctx, 2)
				require.NoError(t, err)
				assert.Equal(t, 3, n)

				runs, err := b.ListRuns(ctx, 0)
				require.NoError(t, err)
				assert.Equal(t, []string{"r4", "r3"}, runIDs(runs))

				n, err = b.PruneRuns(ctx, 10)
				require.NoError(t, err)
				assert.Zero(t, n)
			})
		})
	}
}

func TestBackend_Graphs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, newBackend := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := newBackend()

			g := graph.NewEmptyCallGraph()
			g.AddNode("main", "x", "a")
			g.AddNode("x", "y")
			g.AddNode("a", "b")
			g.AddNode("lonely")

			require.NoError(t, b.SaveGraph(ctx, "r", "linked", g))
			require.NoError(t, b.SaveGraph(ctx, "r", "apex", graph.NewCallGraph(map[string][]string{"main": nil})))

			got, err := b.GetGraph(ctx, "r", "linked")
			require.NoError(t, err)
			assert.Equal(t, g.Entries(), got.Entries())

			path, found, err := graph.FindPath(got, "main", "b", graph.DepthFirst)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, graph.Path{"main", "a", "b"}, path)

			stages, err := b.ListGraphs(ctx, "r")
			require.NoError(t, err)
			assert.Equal(t, []string{"apex", "linked"}, stages)

			_, err = b.GetGraph(ctx, "r", "no_opt")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestResolveRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := NewMemoryBackend()
	require.NoError(t, b.Initialize("", false))
	require.NoError(t, b.SaveRun(ctx, testRun("3f2a0000-aaaa", 0)))
	require.NoError(t, b.SaveRun(ctx, testRun("3f2b0000-bbbb", time.Minute)))

	t.Run("ExactID", func(t *testing.T) {
		t.Parallel()
		run, err := ResolveRun(ctx, b, "3f2a0000-aaaa")
		require.NoError(t, err)
		assert.Equal(t, "3f2a0000-aaaa", run.ID)
	})

	t.Run("UniquePrefix", func(t *testing.T) {
		t.Parallel()
		run, err := ResolveRun(ctx, b, "3f2b")
		require.NoError(t, err)
		assert.Equal(t, "3f2b0000-bbbb", run.ID)
	})

	t.Run("AmbiguousPrefix", func(t *testing.T) {
		t.Parallel()
		_, err := ResolveRun(ctx, b, "3f2")
		var ambiguous *AmbiguousRunError
		assert.True(t, errors.As(err, &ambiguous))
	})

	t.Run("NoMatch", func(t *testing.T) {
		t.Parallel()
		_, err := ResolveRun(ctx, b, "ffff")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestRunRecord_Stage(t *testing.T) {
	t.Parallel()

	run := testRun("r", 0)
	require.NotNil(t, run.Stage("link"))
	assert.Equal(t, StageOK, run.Stage("link").Status)
	assert.Nil(t, run.Stage("export"))
	assert.Zero(t, (&RunRecord{StartedAt: baseTime}).Duration())
}

func runIDs(runs []*RunRecord) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
