package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Benny93/apex-go/internal/config"
	"github.com/Benny93/apex-go/internal/graph"
	"github.com/Benny93/apex-go/internal/toolchain"
)

// Source kinds accepted as pipeline input.
const (
	SourceC       = ".c"
	SourceBitcode = ".bc"
	SourceIR      = ".ll"
)

// Options configures one extraction run.
type Options struct {
	// Source is the program to extract from: C source, LLVM bitcode or
	// textual IR.
	Source string

	// File and Line locate the target instruction. File is passed to the
	// transformation as given.
	File string
	Line int

	// Entry is the function the extracted program starts from.
	Entry string

	// TargetFunction overrides the function resolved from File and Line
	// for the reachability check.
	TargetFunction string

	Strategy graph.Strategy
	Export   bool

	BuildDir string
	Output   string

	Tools     toolchain.Tools
	Transform config.Transform
}

// OptionsFromConfig fills the run independent options from cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	strategy, err := graph.ParseStrategy(cfg.Strategy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Entry:     cfg.Entry,
		Strategy:  strategy,
		Export:    cfg.Export,
		BuildDir:  cfg.BuildDir,
		Output:    cfg.Output,
		Tools:     cfg.Tools,
		Transform: cfg.Transform,
	}, nil
}

// SourceKind returns the lower-cased extension of the source.
func (o Options) SourceKind() string {
	return strings.ToLower(filepath.Ext(o.Source))
}

// Validate checks the options before anything on disk is touched.
func (o Options) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, fmt.Sprintf(format, args...))
	}

	switch {
	case o.Source == "":
		return invalid("no source given")
	case o.File == "":
		return invalid("no target file given")
	case o.Line <= 0:
		return invalid("target line must be positive, got %d", o.Line)
	case o.Entry == "":
		return invalid("no entry function given")
	case o.Output == "":
		return invalid("no output executable given")
	}

	switch o.SourceKind() {
	case SourceC, SourceBitcode, SourceIR:
	default:
		return invalid("unsupported source %s, expected .c, .bc or .ll", o.Source)
	}

	// The build directory is removed at the start of every run.
	switch clean := filepath.Clean(o.BuildDir); {
	case o.BuildDir == "":
		return invalid("no build directory given")
	case clean == "." || clean == ".." || clean == string(filepath.Separator):
		return invalid("refusing to use %s as build directory", o.BuildDir)
	}

	if filepath.Clean(o.Output) == filepath.Clean(o.Source) {
		return invalid("output %s would overwrite the source", o.Output)
	}
	if within(o.BuildDir, o.Source) {
		return invalid("source %s is inside the build directory %s", o.Source, o.BuildDir)
	}
	return nil
}

// within reports whether path lies inside dir.
func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
