package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrStageFailed is matched by every external tool failure.
	ErrStageFailed = errors.New("stage failed")

	// ErrMissingPrerequisite is matched when an input the pipeline depends
	// on, such as the transformation plugin, does not exist.
	ErrMissingPrerequisite = errors.New("missing prerequisite")

	// ErrTargetUnreachable is matched when the entry function has no call
	// path to the function containing the target line.
	ErrTargetUnreachable = errors.New("target unreachable")

	// ErrInvalidOptions is matched by option validation failures.
	ErrInvalidOptions = errors.New("invalid options")
)

// StageError reports an external tool that exited unsuccessfully. The
// failure is surfaced unchanged: no retry, no fallback.
type StageError struct {
	Stage    string
	Command  string
	ExitCode int

	// Output is the tail of the tool's diagnostic output.
	Output string

	Err error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %s failed: %s", e.Stage, e.Command)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" (exit status %d)", e.ExitCode)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return target == ErrStageFailed
}

// PrerequisiteError reports a missing input file together with a hint on
// how to produce it.
type PrerequisiteError struct {
	Path string
	Hint string
}

func (e *PrerequisiteError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s: %s", ErrMissingPrerequisite, e.Path)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrMissingPrerequisite, e.Path, e.Hint)
}

func (e *PrerequisiteError) Is(target error) bool {
	return target == ErrMissingPrerequisite
}

// UnreachableError reports that the target function cannot be reached from
// the entry, which means the target line is dead code.
type UnreachableError struct {
	Entry  string
	Target string
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s: no call path from %s to %s, the target line is dead code", ErrTargetUnreachable, e.Entry, e.Target)
}

func (e *UnreachableError) Is(target error) bool {
	return target == ErrTargetUnreachable
}
