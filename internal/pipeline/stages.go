package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Benny93/apex-go/internal/graph"
	"github.com/Benny93/apex-go/internal/ingestion"
	"github.com/Benny93/apex-go/internal/toolchain"
)

// Files inside the build directory.
const (
	fileLibSource = "apexlib.c"
	fileLibBC     = "apexlib.bc"
	fileLibLL     = "apexlib.ll"
	fileSourceBC  = "source.bc"
	fileLinkedLL  = "linked.ll"
	fileLinkedBC  = "linked.bc"
	fileApexBC    = "apex.bc"
	fileApexLL    = "apex.ll"
	fileApexLog   = "apex.log"
	dirCallGraphs = "callgraphs"
)

// pluginHint tells the user how to produce a missing transformation plugin.
const pluginHint = "build the APEX pass first with: make build"

func (p *Pipeline) buildPath(name string) string {
	return filepath.Join(p.Options.BuildDir, name)
}

// prepare starts from an empty build directory and writes the support
// library source into it.
func (p *Pipeline) prepare(ctx context.Context, s *stageRun) error {
	o := p.Options

	if err := os.RemoveAll(o.BuildDir); err != nil {
		return fmt.Errorf("removing %s: %w", o.BuildDir, err)
	}
	if err := os.Remove(o.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", o.Output, err)
	}
	if err := os.MkdirAll(filepath.Join(o.BuildDir, "logs"), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", o.BuildDir, err)
	}
	if err := s.state.openJSONLog(o.BuildDir); err != nil {
		return err
	}
	if err := os.WriteFile(p.buildPath(fileLibSource), supportLibrary, 0o644); err != nil {
		return fmt.Errorf("writing support library: %w", err)
	}
	return nil
}

// preflight resolves every tool and checks the source exists.
func (p *Pipeline) preflight(ctx context.Context, s *stageRun) error {
	if _, err := os.Stat(p.Options.Source); err != nil {
		return &PrerequisiteError{Path: p.Options.Source, Hint: "source file not found"}
	}

	resolved, err := toolchain.Preflight(p.Runner, p.Options.Tools.Required(p.Options.Export)...)
	names := make([]string, 0, len(resolved))
	for name := range resolved {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.logf("%s: %s", name, resolved[name])
	}
	return err
}

func (p *Pipeline) compileLib(ctx context.Context, s *stageRun) error {
	return s.exec(ctx, toolchain.Command{
		Name: p.Options.Tools.Clang,
		Args: []string{"-O0", "-g", "-c", "-emit-llvm", p.buildPath(fileLibSource), "-o", p.buildPath(fileLibBC)},
	}, "")
}

// compileSource turns C input into bitcode. IR input is linked as is.
func (p *Pipeline) compileSource(ctx context.Context, s *stageRun) error {
	if p.Options.SourceKind() != SourceC {
		s.skip("%s is already LLVM IR", p.Options.Source)
		return nil
	}

	out := p.buildPath(fileSourceBC)
	if err := s.exec(ctx, toolchain.Command{
		Name: p.Options.Tools.Clang,
		Args: []string{"-O0", "-g", "-c", "-emit-llvm", p.Options.Source, "-o", out},
	}, ""); err != nil {
		return err
	}
	s.state.input = out
	return nil
}

func (p *Pipeline) link(ctx context.Context, s *stageRun) error {
	return s.exec(ctx, toolchain.Command{
		Name: p.Options.Tools.LLVMLink,
		Args: []string{p.buildPath(fileLibBC), s.state.input, "-S", "-o", p.buildPath(fileLinkedLL)},
	}, "")
}

func (p *Pipeline) assemble(ctx context.Context, s *stageRun) error {
	return s.exec(ctx, toolchain.Command{
		Name: p.Options.Tools.LLVMAs,
		Args: []string{p.buildPath(fileLinkedLL), "-o", p.buildPath(fileLinkedBC)},
	}, "")
}

// reachability checks that the entry has a call path to the function holding
// the target line before the transformation runs, and records which
// functions the transformation is expected to keep.
func (p *Pipeline) reachability(ctx context.Context, s *stageRun) error {
	o := p.Options

	target, reason := p.resolveTarget(ctx)
	if target == "" {
		s.skip("%s", reason)
		return nil
	}
	s.state.record.TargetFunction = target
	s.logf("target function: %s", target)

	g, err := p.callGraph(ctx, s, GraphLinked, p.buildPath(fileLinkedBC))
	if err != nil {
		return err
	}

	searcher := graph.Searcher{
		Strategy: o.Strategy,
		OnExpand: func(candidate graph.Path) { s.logf("expand %s", candidate) },
	}
	path, found, err := searcher.Find(g, o.Entry, target)
	if err != nil {
		return err
	}
	if !found {
		return &UnreachableError{Entry: o.Entry, Target: target}
	}
	s.logf("path: %s", path)

	red, err := graph.Reduce(g, path, ProtectedFunctions...)
	if err != nil {
		return err
	}
	s.state.result.Reduction = red
	s.state.record.Path = red.Path
	s.state.record.Retained = red.Retained
	s.state.record.Pruned = red.Pruned
	return nil
}

// resolveTarget names the function to search for. An explicit target
// function wins; otherwise the C sources next to the input are parsed and
// the function enclosing File:Line is used. It returns "" and a reason when
// no function can be resolved.
func (p *Pipeline) resolveTarget(ctx context.Context) (string, string) {
	o := p.Options
	if o.TargetFunction != "" {
		return o.TargetFunction, ""
	}
	if o.SourceKind() != SourceC {
		return "", "no C source to resolve the target line against"
	}

	idx, _, err := ingestion.IndexSources(ctx, filepath.Dir(o.Source), nil)
	if err != nil {
		return "", fmt.Sprintf("indexing sources: %v", err)
	}
	relPath, sym, err := idx.FunctionAt(o.File, o.Line)
	if err != nil {
		return "", err.Error()
	}
	if sym == nil {
		return "", fmt.Sprintf("line %d of %s is not inside a function", o.Line, relPath)
	}
	return sym.Name, ""
}

// callGraph runs opt's call graph printer on input, keeps the DOT file as
// build/callgraphs/callgraph_<name>.dot and parses it.
func (p *Pipeline) callGraph(ctx context.Context, s *stageRun, name, input string) (*graph.CallGraph, error) {
	if g, ok := s.state.result.Graphs[name]; ok {
		return g, nil
	}

	absInput, err := filepath.Abs(input)
	if err != nil {
		return nil, err
	}

	// opt writes the graph into its working directory under a name that
	// depends on the LLVM version, so each graph gets a scratch directory.
	work := p.buildPath(filepath.Join(dirCallGraphs, "."+name))
	if err := os.MkdirAll(work, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", work, err)
	}
	defer os.RemoveAll(work)

	pass := "-dot-callgraph"
	if p.Options.Transform.NewPassManager {
		pass = "-passes=dot-callgraph"
	}
	if err := s.exec(ctx, toolchain.Command{
		Name: p.Options.Tools.Opt,
		Args: []string{pass, "-disable-output", absInput},
		Dir:  work,
	}, ""); err != nil {
		return nil, err
	}

	produced, err := filepath.Glob(filepath.Join(work, "*.dot"))
	if err != nil {
		return nil, err
	}
	if len(produced) != 1 {
		return nil, fmt.Errorf("expected one call graph from %s, found %d", p.Options.Tools.Opt, len(produced))
	}

	dotPath := p.buildPath(filepath.Join(dirCallGraphs, "callgraph_"+name+".dot"))
	if err := os.Rename(produced[0], dotPath); err != nil {
		return nil, fmt.Errorf("moving call graph: %w", err)
	}

	data, err := os.ReadFile(dotPath)
	if err != nil {
		return nil, err
	}
	g, err := graph.ParseDOT(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", dotPath, err)
	}
	s.logf("%s call graph: %d functions, %d calls", name, g.NodeCount(), g.EdgeCount())

	s.state.result.Graphs[name] = g
	return g, nil
}

// transform runs the APEX pass over the linked program. Its diagnostics go
// to build/apex.log.
func (p *Pipeline) transform(ctx context.Context, s *stageRun) error {
	o := p.Options
	t := o.Transform

	if _, err := os.Stat(t.Plugin); err != nil {
		return &PrerequisiteError{Path: t.Plugin, Hint: pluginHint}
	}

	args := []string{"-o", p.buildPath(fileApexBC)}
	if t.NewPassManager {
		args = append(args, "-load-pass-plugin", t.Plugin, "-passes="+t.Pass)
	} else {
		args = append(args, "-load", t.Plugin, "-"+t.Pass)
	}
	args = append(args,
		fmt.Sprintf("-%s=%s", t.FileFlag, o.File),
		fmt.Sprintf("-%s=%d", t.LineFlag, o.Line),
	)
	if t.EntryFlag != "" {
		args = append(args, fmt.Sprintf("-%s=%s", t.EntryFlag, o.Entry))
	}
	args = append(args, t.ExtraArgs...)

	return s.exec(ctx, toolchain.Command{
		Name:      o.Tools.Opt,
		Args:      args,
		StdinFile: p.buildPath(fileLinkedBC),
	}, p.buildPath(fileApexLog))
}

func (p *Pipeline) build(ctx context.Context, s *stageRun) error {
	return s.exec(ctx, toolchain.Command{
		Name: p.Options.Tools.Clang,
		Args: []string{"-o", p.Options.Output, p.buildPath(fileApexBC)},
	}, "")
}

func (p *Pipeline) disassemble(ctx context.Context, s *stageRun) error {
	pairs := [][2]string{
		{fileLibBC, fileLibLL},
		{fileApexBC, fileApexLL},
	}
	for _, pair := range pairs {
		if err := s.exec(ctx, toolchain.Command{
			Name: p.Options.Tools.LLVMDis,
			Args: []string{p.buildPath(pair[0]), "-o", p.buildPath(pair[1])},
		}, ""); err != nil {
			return err
		}
	}
	return nil
}

// export renders the call graphs of the input, the linked program and the
// extracted program as SVG.
func (p *Pipeline) export(ctx context.Context, s *stageRun) error {
	if !p.Options.Export {
		s.skip("export not requested")
		return nil
	}

	inputs := []struct{ name, path string }{
		{GraphInput, s.state.input},
		{GraphLinked, p.buildPath(fileLinkedBC)},
		{GraphApex, p.buildPath(fileApexBC)},
	}
	for _, in := range inputs {
		if _, err := p.callGraph(ctx, s, in.name, in.path); err != nil {
			return err
		}
		dotPath := p.buildPath(filepath.Join(dirCallGraphs, "callgraph_"+in.name+".dot"))
		if err := s.exec(ctx, toolchain.Command{
			Name: p.Options.Tools.Dot,
			Args: []string{"-Tsvg", dotPath, "-O"},
		}, ""); err != nil {
			return err
		}
	}
	return nil
}
