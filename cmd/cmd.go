// Package cmd provides CLI command implementations for apex-go.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/apex-go/internal/artifacts"
	"github.com/Benny93/apex-go/internal/config"
	"github.com/Benny93/apex-go/internal/graph"
	"github.com/Benny93/apex-go/internal/ingestion"
	"github.com/Benny93/apex-go/internal/parsers"
	"github.com/Benny93/apex-go/internal/pipeline"
	"github.com/Benny93/apex-go/internal/storage"
	"github.com/Benny93/apex-go/internal/toolchain"
	"github.com/Benny93/apex-go/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

var errNoPath = errors.New("no path found")

// Env is the process environment a command runs in.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
	Runner toolchain.Runner
}

// DefaultEnv uses the process streams and runs the real tools.
func DefaultEnv() *Env {
	return &Env{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Stdin:  os.Stdin,
		Runner: toolchain.NewExecRunner(),
	}
}

// Globals are the flags every command accepts.
type Globals struct {
	Version   kong.VersionFlag `help:"Show version information"`
	Verbose   bool             `short:"v" help:"Enable verbose output"`
	Quiet     bool             `short:"q" help:"Suppress non-essential output"`
	Config    string           `short:"c" type:"path" help:"Config file (default ./.apex.yaml when present)"`
	NoHistory bool             `help:"Do not use the run history database"`
}

func (g *Globals) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case g.Quiet:
		level = slog.LevelError
	case g.Verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (g *Globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.NoHistory {
		cfg.History.Enabled = false
	}
	return cfg, nil
}

// TargetFlags select the program and the source location to extract.
type TargetFlags struct {
	Source string `arg:"" help:"Program to extract from (.c, .bc or .ll)"`
	File   string `arg:"" help:"File name of the target location"`
	Line   int    `arg:"" help:"Line of the target location"`

	Export         bool   `short:"e" help:"Render call graphs of the input, linked and extracted programs as SVG"`
	Entry          string `help:"Entry function of the extracted program (default main)"`
	TargetFunction string `help:"Function holding the target line, skips the source lookup"`
	Strategy       string `short:"s" help:"Path search strategy: bfs or dfs"`
	BuildDir       string `help:"Build directory (default build)"`
	Output         string `short:"o" help:"Extracted executable (default extracted)"`
	Plugin         string `help:"APEX pass plugin"`
	NewPassManager bool   `help:"Load the pass through the new pass manager"`
}

// options applies the flags on top of cfg.
func (f *TargetFlags) options(cfg *config.Config) (pipeline.Options, error) {
	if f.Entry != "" {
		cfg.Entry = f.Entry
	}
	if f.Strategy != "" {
		cfg.Strategy = f.Strategy
	}
	if f.BuildDir != "" {
		cfg.BuildDir = f.BuildDir
	}
	if f.Output != "" {
		cfg.Output = f.Output
	}
	if f.Plugin != "" {
		cfg.Transform.Plugin = f.Plugin
	}
	if f.Export {
		cfg.Export = true
	}
	if f.NewPassManager {
		cfg.Transform.NewPassManager = true
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.Options{}, err
	}

	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts.Source = f.Source
	opts.File = f.File
	opts.Line = f.Line
	opts.TargetFunction = f.TargetFunction
	return opts, nil
}

// extraction is a configured pipeline and the history it records into.
type extraction struct {
	pipeline *pipeline.Pipeline
	history  storage.Backend
	env      *Env
	verbose  bool
	progress bool
}

func newExtraction(g *Globals, env *Env, flags *TargetFlags) (*extraction, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	opts, err := flags.options(cfg)
	if err != nil {
		return nil, err
	}
	history, err := openHistory(cfg, false)
	if err != nil {
		return nil, err
	}

	p := pipeline.New(opts, env.Runner, g.logger(env.Stderr))
	p.History = history
	p.HistoryLimit = cfg.History.Limit

	x := &extraction{pipeline: p, history: history, env: env, verbose: g.Verbose}
	if !g.Quiet && isTerminal(env.Stdout) {
		x.progress = true
		p.Progress = func(stage string, progress float64) {
			fmt.Fprintf(env.Stdout, "\r\033[K%s (%.0f%%)", stage, progress*100)
		}
	}
	return x, nil
}

func (x *extraction) run(ctx context.Context) error {
	result, err := x.pipeline.Run(ctx)
	if x.progress {
		fmt.Fprintln(x.env.Stdout)
	}
	if result != nil {
		printResult(x.env.Stdout, result, x.verbose)
	}

	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) && stageErr.Output != "" {
		fmt.Fprintln(x.env.Stderr, stageErr.Output)
	}
	return err
}

func (x *extraction) close() {
	if x.history != nil {
		_ = x.history.Close()
	}
}

// ExtractCmd builds the executable that reaches a source location.
type ExtractCmd struct {
	Target TargetFlags `embed:""`
}

// Run executes the extract command.
func (c *ExtractCmd) Run(g *Globals, env *Env) error {
	x, err := newExtraction(g, env, &c.Target)
	if err != nil {
		return err
	}
	defer x.close()

	ctx, cancel := signalContext()
	defer cancel()

	return x.run(ctx)
}

// WatchCmd re-runs the extraction whenever the sources change.
type WatchCmd struct {
	Target TargetFlags `embed:""`
}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals, env *Env) error {
	x, err := newExtraction(g, env, &c.Target)
	if err != nil {
		return err
	}
	defer x.close()

	root := filepath.Dir(c.Target.Source)
	fmt.Fprintln(env.Stdout, "## Watch Mode")
	fmt.Fprintf(env.Stdout, "Watching %s for changes (Ctrl+C to stop)\n\n", root)

	ctx, cancel := signalContext()
	defer cancel()

	if err := x.run(ctx); err != nil && ctx.Err() == nil {
		color.New(color.FgRed).Fprintf(env.Stderr, "Error: %v\n", err)
	}

	err = ingestion.WatchSources(ctx, root, x.pipeline.Logger, func(ctx context.Context, changed []string) error {
		fmt.Fprintf(env.Stdout, "\nChanged: %s\n", strings.Join(changed, ", "))
		return x.run(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	fmt.Fprintln(env.Stdout, "Watch mode stopped.")
	return nil
}

// PathCmd searches a call graph for a path between two functions.
type PathCmd struct {
	Start string `arg:"" help:"Function the path starts at"`
	End   string `arg:"" help:"Function the path ends at"`

	Graph    string `short:"g" type:"existingfile" xor:"source" help:"Call graph file (.json, .yaml, .yml, .dot)"`
	RunID    string `name:"run" xor:"source" help:"Run ID or prefix whose call graph to search"`
	Stage    string `default:"linked" enum:"no_opt,linked,apex" help:"Call graph of the run (no_opt, linked, apex)"`
	Strategy string `short:"s" default:"bfs" help:"Path search strategy: bfs or dfs"`
	Compare  bool   `help:"Search with both strategies"`
	Dot      string `type:"path" help:"Write the graph with the path highlighted as DOT"`
}

// Run executes the path command.
func (c *PathCmd) Run(g *Globals, env *Env) error {
	cg, err := c.load(g)
	if err != nil {
		return err
	}

	var strategies []graph.Strategy
	if c.Compare {
		strategies = []graph.Strategy{graph.BreadthFirst, graph.DepthFirst}
	} else {
		st, err := graph.ParseStrategy(c.Strategy)
		if err != nil {
			return err
		}
		strategies = []graph.Strategy{st}
	}

	var first graph.Path
	for _, st := range strategies {
		path, found, err := graph.FindPath(cg, c.Start, c.End, st)
		if err != nil {
			return err
		}
		if !found {
			color.New(color.FgYellow).Fprintf(env.Stdout, "%s: no path from %s to %s\n", st, c.Start, c.End)
			continue
		}
		if first == nil {
			first = path
		}
		fmt.Fprintf(env.Stdout, "%s: %s (%d edges)\n", st, path, path.Edges())
	}

	if c.Dot != "" {
		f, err := os.Create(c.Dot)
		if err != nil {
			return fmt.Errorf("creating %s: %w", c.Dot, err)
		}
		defer f.Close()
		if err := graph.WriteDOT(f, "callgraph", cg, first); err != nil {
			return fmt.Errorf("writing %s: %w", c.Dot, err)
		}
	}

	if first == nil {
		return fmt.Errorf("%w: %s is unreachable from %s", errNoPath, c.End, c.Start)
	}
	return nil
}

func (c *PathCmd) load(g *Globals) (*graph.CallGraph, error) {
	if c.Graph != "" {
		return graph.LoadFile(c.Graph)
	}
	if c.RunID == "" {
		return nil, errors.New("either --graph or --run is required")
	}

	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	history, err := openHistory(cfg, true)
	if err != nil {
		return nil, err
	}
	if history == nil {
		return nil, fmt.Errorf("no run history at %s", cfg.History.Path)
	}
	defer func() { _ = history.Close() }()

	ctx := context.Background()
	run, err := storage.ResolveRun(ctx, history, c.RunID)
	if err != nil {
		return nil, err
	}
	return history.GetGraph(ctx, run.ID, c.Stage)
}

// CallgraphCmd prints the source level call graph of C files.
type CallgraphCmd struct {
	Paths  []string `arg:"" optional:"" default:"." help:"C source files, or one directory"`
	Format string   `short:"f" default:"dot" enum:"dot,json,yaml" help:"Output format (dot, json, yaml)"`
	Dead   bool     `help:"List the functions unreachable from the entry instead"`
	Entry  string   `default:"main" help:"Entry function for --dead"`
	Output string   `short:"o" type:"path" help:"Write to a file instead of stdout"`
}

// Run executes the callgraph command.
func (c *CallgraphCmd) Run(g *Globals, env *Env) error {
	idx, err := c.index(context.Background())
	if err != nil {
		return err
	}

	w := env.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", c.Output, err)
		}
		defer f.Close()
		w = f
	}

	if c.Dead {
		return c.writeDeadCode(w, idx)
	}

	switch c.Format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(idx.Graph.Entries())
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(idx.Graph.Entries()); err != nil {
			return err
		}
		return enc.Close()
	default:
		return graph.WriteDOT(w, "callgraph", idx.Graph, nil)
	}
}

// index parses a single directory tree, or exactly the files given.
func (c *CallgraphCmd) index(ctx context.Context) (*ingestion.SourceIndex, error) {
	if len(c.Paths) == 1 {
		if info, err := os.Stat(c.Paths[0]); err == nil && info.IsDir() {
			idx, _, err := ingestion.IndexSources(ctx, c.Paths[0], nil)
			return idx, err
		}
	}

	entries := make([]ingestion.FileEntry, 0, len(c.Paths))
	for _, p := range c.Paths {
		language := parsers.LanguageFor(p)
		if language == "" {
			return nil, fmt.Errorf("%s is not a C source file", p)
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		entries = append(entries, ingestion.FileEntry{
			Path:     p,
			RelPath:  filepath.Clean(p),
			Language: language,
			Content:  content,
		})
	}

	parsed, err := ingestion.ProcessParsing(ctx, entries)
	if err != nil {
		return nil, err
	}
	return &ingestion.SourceIndex{
		Root:    ".",
		Entries: entries,
		Parsed:  parsed,
		Graph:   ingestion.BuildSourceGraph(parsed),
	}, nil
}

func (c *CallgraphCmd) writeDeadCode(w io.Writer, idx *ingestion.SourceIndex) error {
	dead, err := ingestion.ProcessDeadCode(idx, c.Entry)
	if err != nil {
		return err
	}

	if c.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(dead)
	}

	if len(dead) == 0 {
		fmt.Fprintf(w, "Every function is reachable from %s\n", c.Entry)
		return nil
	}
	fmt.Fprintf(w, "## Dead Code Report (%d functions unreachable from %s)\n\n", len(dead), c.Entry)
	for _, d := range dead {
		fmt.Fprintf(w, "  %s  %s:%d  [%s]\n", d.Name, d.FilePath, d.StartLine, d.Confidence)
	}
	return nil
}

// RunsCmd lists the recorded runs.
type RunsCmd struct {
	Limit int  `short:"n" default:"20" help:"Maximum number of runs"`
	JSON  bool `help:"Print the run records as JSON"`
}

// Run executes the runs command.
func (c *RunsCmd) Run(g *Globals, env *Env) error {
	history, err := readHistory(g)
	if err != nil {
		return err
	}
	if history == nil {
		fmt.Fprintln(env.Stdout, "No runs recorded yet")
		return nil
	}
	defer func() { _ = history.Close() }()

	runs, err := history.ListRuns(context.Background(), c.Limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	if c.JSON {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(env.Stdout, "No runs recorded yet")
		return nil
	}

	fmt.Fprintf(env.Stdout, "%-8s  %-19s  %-20s  %-9s  %s\n", "ID", "STARTED", "TARGET", "STATUS", "PATH")
	for _, r := range runs {
		status := string(r.Status)
		if r.FailedStage != "" {
			status += " (" + r.FailedStage + ")"
		}
		fmt.Fprintf(env.Stdout, "%-8s  %-19s  %-20s  %-9s  %s\n",
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%s:%d", r.File, r.Line),
			status,
			graph.Path(r.Path))
	}
	return nil
}

// ShowCmd prints one recorded run.
type ShowCmd struct {
	ID   string `arg:"" help:"Run ID or unique prefix"`
	JSON bool   `help:"Print the run record as JSON"`
}

// Run executes the show command.
func (c *ShowCmd) Run(g *Globals, env *Env) error {
	history, err := readHistory(g)
	if err != nil {
		return err
	}
	if history == nil {
		return fmt.Errorf("run %s: %w", c.ID, storage.ErrNotFound)
	}
	defer func() { _ = history.Close() }()

	run, err := storage.ResolveRun(context.Background(), history, c.ID)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	printRecord(env.Stdout, run)
	return nil
}

// StatusCmd shows the manifest of the last run in the build directory.
type StatusCmd struct {
	BuildDir string `help:"Build directory (default from config)"`
}

// Run executes the status command.
func (c *StatusCmd) Run(g *Globals, env *Env) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	buildDir := cfg.BuildDir
	if c.BuildDir != "" {
		buildDir = c.BuildDir
	}

	run, err := artifacts.ReadManifest(buildDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no manifest in %s. Run 'apex-go extract' first", buildDir)
		}
		return err
	}

	fmt.Fprintf(env.Stdout, "Build status for %s\n\n", buildDir)
	printRecord(env.Stdout, run)
	return nil
}

// CleanCmd deletes the build directory and the extracted executable.
type CleanCmd struct {
	Force   bool `short:"f" help:"Skip confirmation"`
	History bool `help:"Also delete the run history"`
}

// Run executes the clean command.
func (c *CleanCmd) Run(g *Globals, env *Env) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	targets := []string{cfg.BuildDir, cfg.Output}
	if c.History {
		targets = append(targets, cfg.History.Path)
	}

	var existing []string
	for _, t := range targets {
		if _, err := os.Stat(t); err == nil {
			existing = append(existing, t)
		}
	}
	if len(existing) == 0 {
		fmt.Fprintln(env.Stdout, "Nothing to clean")
		return nil
	}

	if !c.Force {
		fmt.Fprintf(env.Stdout, "Delete %s? [y/N] ", strings.Join(existing, ", "))
		var response string
		_, _ = fmt.Fscanln(env.Stdin, &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(env.Stdout, "Aborted")
			return nil
		}
	}

	for _, t := range existing {
		if err := os.RemoveAll(t); err != nil {
			return fmt.Errorf("deleting %s: %w", t, err)
		}
		color.New(color.FgGreen).Fprintf(env.Stdout, "Deleted %s\n", t)
	}
	return nil
}

// ServeCmd starts the MCP server on stdio.
type ServeCmd struct{}

// Run executes the serve command.
func (c *ServeCmd) Run(g *Globals, env *Env) error {
	history, err := readHistory(g)
	if err != nil {
		return err
	}
	if history != nil {
		defer func() { _ = history.Close() }()
	}

	// stdout carries JSON-RPC only.
	server := mcp.NewServer(history, g.logger(env.Stderr))

	ctx, cancel := signalContext()
	defer cancel()

	return server.Serve(ctx)
}

// Helper functions

// openHistory opens the run history cfg names. It returns nil when the
// history is disabled, or when readOnly is set and no history exists yet.
func openHistory(cfg *config.Config, readOnly bool) (storage.Backend, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}

	if readOnly {
		if _, err := os.Stat(cfg.History.Path); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	} else if err := os.MkdirAll(cfg.History.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	store := storage.NewBadgerBackend()
	if err := store.Initialize(cfg.History.Path, readOnly); err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	return store, nil
}

func readHistory(g *Globals) (storage.Backend, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return openHistory(cfg, true)
}

func printResult(w io.Writer, result *pipeline.Result, verbose bool) {
	run := result.Run
	if result.Succeeded() {
		color.New(color.FgGreen).Fprintln(w, "✓ Extraction complete")
	} else {
		color.New(color.FgRed).Fprintf(w, "✗ Extraction failed at stage %s\n", run.FailedStage)
	}

	fmt.Fprintf(w, "  Run:        %s\n", run.ID)
	fmt.Fprintf(w, "  Target:     %s\n", target(run))
	if len(run.Path) > 0 {
		fmt.Fprintf(w, "  Path:       %s (%s)\n", graph.Path(run.Path), run.Strategy)
		fmt.Fprintf(w, "  Retained:   %d functions\n", len(run.Retained))
		if len(run.Pruned) > 0 {
			fmt.Fprintf(w, "  Pruned:     %s\n", strings.Join(run.Pruned, ", "))
		}
	}
	if result.Succeeded() {
		fmt.Fprintf(w, "  Output:     %s\n", run.Output)
	}
	fmt.Fprintf(w, "  Duration:   %.2fs\n", run.Duration().Seconds())

	if verbose {
		fmt.Fprintln(w)
		printStages(w, run.Stages)
	}
}

func printRecord(w io.Writer, run *storage.RunRecord) {
	fmt.Fprintf(w, "Run %s\n", run.ID)
	fmt.Fprintf(w, "  Started:    %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  Status:     %s\n", run.Status)
	fmt.Fprintf(w, "  Source:     %s\n", run.Source)
	fmt.Fprintf(w, "  Target:     %s\n", target(run))
	fmt.Fprintf(w, "  Entry:      %s\n", run.Entry)
	if run.Git != nil {
		dirty := ""
		if run.Git.Dirty {
			dirty = " (dirty)"
		}
		fmt.Fprintf(w, "  Commit:     %s%s\n", shortID(run.Git.Commit), dirty)
	}
	if run.Error != "" {
		color.New(color.FgRed).Fprintf(w, "  Error:      %s\n", run.Error)
	}
	if len(run.Path) > 0 {
		fmt.Fprintf(w, "  Path:       %s (%s)\n", graph.Path(run.Path), run.Strategy)
		fmt.Fprintf(w, "  Retained:   %s\n", strings.Join(run.Retained, ", "))
		fmt.Fprintf(w, "  Pruned:     %s\n", strings.Join(run.Pruned, ", "))
	}

	fmt.Fprintln(w, "\nStages:")
	printStages(w, run.Stages)

	if len(run.Artifacts) > 0 {
		fmt.Fprintln(w, "\nArtifacts:")
		for _, a := range run.Artifacts {
			fmt.Fprintf(w, "  %-40s %8d bytes\n", a.Path, a.Size)
		}
	}
}

func printStages(w io.Writer, stages []storage.StageRecord) {
	for _, s := range stages {
		line := fmt.Sprintf("  %-15s %-8s %6dms", s.Name, s.Status, s.DurationMS)
		if s.Message != "" {
			line += "  " + s.Message
		}
		switch s.Status {
		case storage.StageFailed:
			color.New(color.FgRed).Fprintln(w, line)
		case storage.StageSkipped:
			color.New(color.FgYellow).Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
}

func target(run *storage.RunRecord) string {
	t := fmt.Sprintf("%s:%d", run.File, run.Line)
	if run.TargetFunction != "" {
		t += " in " + run.TargetFunction
	}
	return t
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// osSignalChannel returns a channel that receives OS signals for graceful shutdown.
func osSignalChannel() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// signalContext is cancelled on the first SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := osSignalChannel()
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	// Commands
	Extract   ExtractCmd   `cmd:"" help:"Build the executable that reaches a source location"`
	Watch     WatchCmd     `cmd:"" help:"Re-run the extraction whenever the sources change"`
	Path      PathCmd      `cmd:"" help:"Find a call path between two functions"`
	Callgraph CallgraphCmd `cmd:"" help:"Print the source level call graph of C files"`
	Runs      RunsCmd      `cmd:"" help:"List recorded runs"`
	Show      ShowCmd      `cmd:"" help:"Show one recorded run"`
	Status    StatusCmd    `cmd:"" help:"Show the last run in the build directory"`
	Clean     CleanCmd     `cmd:"" help:"Delete the build directory and the extracted executable"`
	Serve     ServeCmd     `cmd:"" help:"Start the MCP server (stdio transport)"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	return c.execute(args, DefaultEnv())
}

func (c *CLI) execute(args []string, env *Env) error {
	mcp.Version = Version

	parser, err := kong.New(c,
		kong.Name("apex-go"),
		kong.Description("Extract the active code path that reaches a source location"),
		kong.UsageOnError(),
		kong.Writers(env.Stdout, env.Stderr),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run(&c.Globals, env)
}
