// Package toolchain runs the external compiler, linker and graph tools the
// extraction pipeline is built from.
//
// Every invocation goes through the Runner interface so the pipeline can be
// exercised in tests without an LLVM installation.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrToolNotFound is returned when a required tool binary cannot be found on
// PATH.
var ErrToolNotFound = errors.New("tool not found")

// Tools names the binaries used by the pipeline. Each value is either a bare
// command name resolved on PATH or an absolute path.
type Tools struct {
	Clang    string `yaml:"clang" json:"clang" validate:"required"`
	LLVMLink string `yaml:"llvm_link" json:"llvm_link" validate:"required"`
	LLVMAs   string `yaml:"llvm_as" json:"llvm_as" validate:"required"`
	LLVMDis  string `yaml:"llvm_dis" json:"llvm_dis" validate:"required"`
	Opt      string `yaml:"opt" json:"opt" validate:"required"`
	Dot      string `yaml:"dot" json:"dot" validate:"required"`
}

// DefaultTools returns the unversioned LLVM and Graphviz command names.
func DefaultTools() Tools {
	return Tools{
		Clang:    "clang",
		LLVMLink: "llvm-link",
		LLVMAs:   "llvm-as",
		LLVMDis:  "llvm-dis",
		Opt:      "opt",
		Dot:      "dot",
	}
}

// Required lists the tools a run needs. dot is only needed when call graph
// renderings are exported.
func (t Tools) Required(export bool) []string {
	tools := []string{t.Clang, t.LLVMLink, t.LLVMAs, t.LLVMDis, t.Opt}
	if export {
		tools = append(tools, t.Dot)
	}
	return tools
}

// Command is one external tool invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// StdinFile, when set, is opened and fed to the tool's standard input.
	StdinFile string

	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command as a shell-like line, including stdin
// redirection, for logs and manifests.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+3)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	if c.StdinFile != "" {
		parts = append(parts, "<", c.StdinFile)
	}
	return strings.Join(parts, " ")
}

// Runner executes external commands.
type Runner interface {
	// Run executes cmd and waits for it to finish. A non-zero exit status is
	// reported as *ExitError.
	Run(ctx context.Context, cmd Command) error

	// LookPath resolves a tool name to an executable path.
	LookPath(name string) (string, error)
}

// ExitError reports a tool that ran but exited with a non-zero status.
type ExitError struct {
	Name string
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode extracts the exit status from err. It returns 0 for a nil error
// and -1 when err does not carry an exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// MissingToolsError lists every tool that could not be resolved.
type MissingToolsError struct {
	Tools []string
}

func (e *MissingToolsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrToolNotFound, strings.Join(e.Tools, ", "))
}

// Is makes errors.Is(err, ErrToolNotFound) match.
func (e *MissingToolsError) Is(target error) bool {
	return target == ErrToolNotFound
}

// Preflight resolves every tool up front so a missing binary is reported
// before any stage runs. It returns the resolved path of each tool.
func Preflight(r Runner, tools ...string) (map[string]string, error) {
	resolved := make(map[string]string, len(tools))
	var missing []string

	for _, name := range tools {
		if _, done := resolved[name]; done {
			continue
		}
		path, err := r.LookPath(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		resolved[name] = path
	}

	if len(missing) > 0 {
		return resolved, &MissingToolsError{Tools: missing}
	}
	return resolved, nil
}
