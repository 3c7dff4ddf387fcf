package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/apex-go/internal/graph"
	"github.com/Benny93/apex-go/internal/ingestion"
	"github.com/Benny93/apex-go/internal/pipeline"
	"github.com/Benny93/apex-go/internal/storage"
	"github.com/Benny93/apex-go/internal/toolchain"
)

const mainSource = `#include <stdio.h>

static int target(int x) {
    return x * 2;
}

static int parse(int x) {
    return target(x);
}

static void unused(void) {}

int main(void) {
    printf("%d\n", parse(1));
    return 0;
}
`

const reachableDOT = `digraph "Call graph: linked.bc" {
	Node0x1 [shape=record,label="{external node}"];
	Node0x1 -> Node0x2;
	Node0x2 [shape=record,label="{main}"];
	Node0x2 -> Node0x3;
	Node0x2 -> Node0x5;
	Node0x3 [shape=record,label="{parse}"];
	Node0x3 -> Node0x4;
	Node0x4 [shape=record,label="{target}"];
	Node0x5 [shape=record,label="{printf}"];
	Node0x6 [shape=record,label="{unused}"];
}
`

const unreachableDOT = `digraph "Call graph: linked.bc" {
	Node0x2 [shape=record,label="{main}"];
	Node0x2 -> Node0x5;
	Node0x4 [shape=record,label="{target}"];
	Node0x5 [shape=record,label="{printf}"];
}
`

// project is a source tree with a plugin and a config file pointing every
// output into a temp dir.
type project struct {
	root    string
	source  string
	config  string
	build   string
	output  string
	history string
}

func newProject(t *testing.T) project {
	t.Helper()
	root := t.TempDir()
	p := project{
		root:    root,
		source:  filepath.Join(root, "src", "main.c"),
		config:  filepath.Join(root, "apex.yaml"),
		build:   filepath.Join(root, "build"),
		output:  filepath.Join(root, "extracted"),
		history: filepath.Join(root, ".apex", "badger"),
	}
	plugin := filepath.Join(root, "libAPEXPass.so")

	require.NoError(t, os.MkdirAll(filepath.Dir(p.source), 0o755))
	require.NoError(t, os.WriteFile(p.source, []byte(mainSource), 0o644))
	require.NoError(t, os.WriteFile(plugin, []byte("ELF"), 0o755))

	cfg := fmt.Sprintf(`build_dir: %s
output: %s
transform:
  plugin: %s
history:
  enabled: true
  path: %s
  limit: 5
`, p.build, p.output, plugin, p.history)
	require.NoError(t, os.WriteFile(p.config, []byte(cfg), 0o644))
	return p
}

// fakeTools writes the file named by -o for every tool and answers call
// graph requests with dot.
func fakeTools(dot string) *toolchain.MockRunner {
	m := &toolchain.MockRunner{}
	m.RunFunc = func(ctx context.Context, cmd toolchain.Command) error {
		for _, a := range cmd.Args {
			if a == "-dot-callgraph" {
				return os.WriteFile(filepath.Join(cmd.Dir, "callgraph.dot"), []byte(dot), 0o644)
			}
		}
		for i, a := range cmd.Args {
			if a == "-o" && i+1 < len(cmd.Args) {
				return os.WriteFile(cmd.Args[i+1], []byte(cmd.Name), 0o644)
			}
		}
		return nil
	}
	return m
}

type testEnv struct {
	*Env
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestEnv(runner toolchain.Runner, stdin string) testEnv {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	return testEnv{
		Env: &Env{
			Stdout: stdout,
			Stderr: stderr,
			Stdin:  strings.NewReader(stdin),
			Runner: runner,
		},
		stdout: stdout,
		stderr: stderr,
	}
}

// execute runs the CLI with args and returns what it printed to stdout.
func execute(t *testing.T, runner toolchain.Runner, args ...string) (string, error) {
	t.Helper()
	env := newTestEnv(runner, "")
	err := NewCLI().execute(args, env.Env)
	return env.stdout.String(), err
}

func TestExtractCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("RecordsRunInHistory", func(t *testing.T) {
		t.Parallel()
		p := newProject(t)
		runner := fakeTools(reachableDOT)

		out, err := execute(t, runner, "--config", p.config, "extract", p.source, "main.c", "4")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ Extraction complete")
		assert.Contains(t, out, "Target:     main.c:4 in target")
		assert.Contains(t, out, "Path:       main -> parse -> target (bfs)")
		assert.Contains(t, out, "Pruned:     unused")
		assert.FileExists(t, p.output)
		assert.FileExists(t, filepath.Join(p.build, "manifest.json"))
		assert.DirExists(t, p.history)

		out, err = execute(t, runner, "--config", p.config, "runs", "--json")
		require.NoError(t, err)
		var runs []storage.RunRecord
		require.NoError(t, json.Unmarshal([]byte(out), &runs))
		require.Len(t, runs, 1)
		id := runs[0].ID
		assert.Equal(t, storage.RunSucceeded, runs[0].Status)

		out, err = execute(t, runner, "--config", p.config, "runs")
		require.NoError(t, err)
		assert.Contains(t, out, id[:8])
		assert.Contains(t, out, "main.c:4")

		out, err = execute(t, runner, "--config", p.config, "show", id[:8])
		require.NoError(t, err)
		assert.Contains(t, out, "Run "+id)
		assert.Contains(t, out, "Retained:   main, parse, target, printf")
		assert.Contains(t, out, "reachability")

		out, err = execute(t, runner, "--config", p.config, "path", "main", "target", "--run", id[:8])
		require.NoError(t, err)
		assert.Equal(t, "bfs: main -> parse -> target (2 edges)\n", out)

		out, err = execute(t, runner, "--config", p.config, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Build status for "+p.build)
		assert.Contains(t, out, "Run "+id)
	})

	t.Run("UnreachableTarget", func(t *testing.T) {
		t.Parallel()
		p := newProject(t)

		out, err := execute(t, fakeTools(unreachableDOT), "--config", p.config, "--no-history", "extract", p.source, "main.c", "4")
		require.Error(t, err)
		assert.ErrorIs(t, err, pipeline.ErrTargetUnreachable)
		assert.Contains(t, out, "✗ Extraction failed at stage reachability")
		assert.NoFileExists(t, p.output)
		assert.NoDirExists(t, p.history)
	})

	t.Run("FlagsOverrideConfig", func(t *testing.T) {
		t.Parallel()
		p := newProject(t)
		runner := fakeTools(reachableDOT)
		output := filepath.Join(p.root, "other")

		_, err := execute(t, runner, "--config", p.config, "--no-history",
			"extract", p.source, "main.c", "4", "-o", output, "--strategy", "dfs", "--target-function", "parse")
		require.NoError(t, err)
		assert.FileExists(t, output)
		assert.Contains(t, runner.Invocations(), "clang -o "+output+" "+filepath.Join(p.build, "apex.bc"))
	})

	t.Run("InvalidStrategy", func(t *testing.T) {
		t.Parallel()
		p := newProject(t)

		_, err := execute(t, fakeTools(reachableDOT), "--config", p.config, "extract", p.source, "main.c", "4", "--strategy", "random")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Strategy")
	})

	t.Run("MissingConfig", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, fakeTools(reachableDOT), "--config", filepath.Join(t.TempDir(), "none.yaml"), "extract", "main.c", "main.c", "4")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config")
	})
}

func TestPathCmd_Run(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	graphFile := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(graphFile, []byte("main: [a, b]\na: [target]\nb: []\ntarget: []\n"), 0o644))

	t.Run("BreadthFirst", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, nil, "path", "main", "target", "--graph", graphFile)
		require.NoError(t, err)
		assert.Equal(t, "bfs: main -> a -> target (2 edges)\n", out)
	})

	t.Run("Compare", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, nil, "path", "main", "target", "--graph", graphFile, "--compare")
		require.NoError(t, err)
		assert.Equal(t, "bfs: main -> a -> target (2 edges)\ndfs: main -> a -> target (2 edges)\n", out)
	})

	t.Run("NoPath", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, nil, "path", "target", "main", "--graph", graphFile)
		require.Error(t, err)
		assert.ErrorIs(t, err, errNoPath)
		assert.Contains(t, out, "bfs: no path from target to main")
	})

	t.Run("UnknownFunction", func(t *testing.T) {
		t.Parallel()
		_, err := execute(t, nil, "path", "main", "nope", "--graph", graphFile)
		require.Error(t, err)
		assert.ErrorIs(t, err, graph.ErrUnknownNode)
	})

	t.Run("WritesHighlightedDOT", func(t *testing.T) {
		t.Parallel()
		dotFile := filepath.Join(t.TempDir(), "path.dot")
		_, err := execute(t, nil, "path", "main", "target", "--graph", graphFile, "--dot", dotFile)
		require.NoError(t, err)

		data, err := os.ReadFile(dotFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "digraph")
		assert.Contains(t, string(data), "red")
	})

	t.Run("NoGraphSource", func(t *testing.T) {
		t.Parallel()
		_, err := execute(t, nil, "path", "main", "target")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "either --graph or --run is required")
	})
}

func TestCallgraphCmd_Run(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "main.c")
	require.NoError(t, os.WriteFile(src, []byte(mainSource), 0o644))

	t.Run("YAMLRoundTrip", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, nil, "callgraph", dir, "--format", "yaml")
		require.NoError(t, err)

		g, err := graph.Load([]byte(out), graph.FormatYAML)
		require.NoError(t, err)
		callees, err := g.Neighbors("main")
		require.NoError(t, err)
		assert.Equal(t, []string{"printf", "parse"}, callees)
	})

	t.Run("FilesAsJSON", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, nil, "callgraph", src, "--format", "json")
		require.NoError(t, err)

		var entries []graph.Entry
		require.NoError(t, json.Unmarshal([]byte(out), &entries))
		g := graph.FromEntries(entries)
		callees, err := g.Neighbors("parse")
		require.NoError(t, err)
		assert.Equal(t, []string{"target"}, callees)
	})

	t.Run("DOT", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, nil, "callgraph", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "digraph")
		assert.Contains(t, out, "parse")
	})

	t.Run("DeadCode", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, nil, "callgraph", dir, "--dead", "--format", "json")
		require.NoError(t, err)

		var dead []ingestion.DeadFunction
		require.NoError(t, json.Unmarshal([]byte(out), &dead))
		require.Len(t, dead, 1)
		assert.Equal(t, "unused", dead[0].Name)
		assert.Equal(t, 11, dead[0].StartLine)
	})

	t.Run("RejectsNonCFile", func(t *testing.T) {
		t.Parallel()
		_, err := execute(t, nil, "callgraph", filepath.Join(dir, "notes.txt"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a C source file")
	})
}

func TestRunsCmd_EmptyHistory(t *testing.T) {
	t.Parallel()
	p := newProject(t)

	out, err := execute(t, nil, "--config", p.config, "runs")
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded yet\n", out)

	_, err = execute(t, nil, "--config", p.config, "show", "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStatusCmd_NoManifest(t *testing.T) {
	t.Parallel()
	p := newProject(t)

	_, err := execute(t, nil, "--config", p.config, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no manifest")
}

func TestCleanCmd_Run(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) project {
		p := newProject(t)
		require.NoError(t, os.MkdirAll(p.build, 0o755))
		require.NoError(t, os.WriteFile(p.output, []byte("bin"), 0o755))
		return p
	}

	t.Run("Aborted", func(t *testing.T) {
		t.Parallel()
		p := setup(t)
		env := newTestEnv(nil, "n\n")

		require.NoError(t, NewCLI().execute([]string{"--config", p.config, "clean"}, env.Env))
		assert.Contains(t, env.stdout.String(), "Aborted")
		assert.DirExists(t, p.build)
	})

	t.Run("Confirmed", func(t *testing.T) {
		t.Parallel()
		p := setup(t)
		env := newTestEnv(nil, "y\n")

		require.NoError(t, NewCLI().execute([]string{"--config", p.config, "clean"}, env.Env))
		assert.NoDirExists(t, p.build)
		assert.NoFileExists(t, p.output)
	})

	t.Run("Force", func(t *testing.T) {
		t.Parallel()
		p := setup(t)

		out, err := execute(t, nil, "--config", p.config, "clean", "--force")
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted "+p.build)
		assert.NoDirExists(t, p.build)
	})

	t.Run("NothingToClean", func(t *testing.T) {
		t.Parallel()
		p := newProject(t)

		out, err := execute(t, nil, "--config", p.config, "clean", "--force")
		require.NoError(t, err)
		assert.Equal(t, "Nothing to clean\n", out)
	})
}

func TestCLI_UnknownCommand(t *testing.T) {
	t.Parallel()

	_, err := execute(t, nil, "analyze")
	require.Error(t, err)
}
