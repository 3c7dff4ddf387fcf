package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner creates a Runner backed by real processes.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes cmd. Cancelling ctx kills the process.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr

	if cmd.StdinFile != "" {
		in, err := os.Open(cmd.StdinFile)
		if err != nil {
			return fmt.Errorf("failed to open stdin for %s: %w", cmd.Name, err)
		}
		defer in.Close()
		c.Stdin = in
	}

	err := c.Run()
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", cmd.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Name: cmd.Name, Code: exitErr.ExitCode(), Err: err}
	}
	return fmt.Errorf("failed to run %s: %w", cmd.Name, err)
}

// LookPath resolves name on PATH.
func (r *ExecRunner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return path, nil
}
