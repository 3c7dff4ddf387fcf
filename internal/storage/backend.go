// Package storage provides the run history backend for apex-go.
//
// It defines the Backend interface that all storage implementations must
// satisfy, along with the records persisted for every pipeline run.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Benny93/apex-go/internal/graph"
)

// ErrNotFound is returned when a run or a stored graph does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the outcome of a pipeline run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Stage statuses.
const (
	StageOK      = "ok"
	StageFailed  = "failed"
	StageSkipped = "skipped"
)

// StageRecord describes one executed pipeline stage.
type StageRecord struct {
	Name string `json:"name"`

	// Status is one of StageOK, StageFailed or StageSkipped.
	Status string `json:"status"`

	// Commands holds the rendered command lines the stage ran.
	Commands []string `json:"commands,omitempty"`

	DurationMS int64  `json:"duration_ms"`
	Log        string `json:"log,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Artifact is a file produced by a run.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// GitInfo identifies the revision of the source tree a run was built from.
type GitInfo struct {
	Commit string `json:"commit"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty"`
}

// RunRecord describes one pipeline run. It is written to the build
// directory as the run manifest and persisted in the history.
type RunRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     RunStatus `json:"status"`

	Source         string `json:"source"`
	File           string `json:"file"`
	Line           int    `json:"line"`
	Entry          string `json:"entry"`
	TargetFunction string `json:"target_function,omitempty"`
	Strategy       string `json:"strategy"`
	Export         bool   `json:"export"`
	BuildDir       string `json:"build_dir"`
	Output         string `json:"output"`

	Stages []StageRecord `json:"stages"`

	// Path is the call chain from the entry to the target function, empty
	// when the reachability stage was skipped.
	Path     []string `json:"path,omitempty"`
	Retained []string `json:"retained,omitempty"`
	Pruned   []string `json:"pruned,omitempty"`

	Artifacts []Artifact `json:"artifacts,omitempty"`
	Git       *GitInfo   `json:"git,omitempty"`

	FailedStage string `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Duration returns the wall time of the run.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Stage returns the record of the named stage, or nil.
func (r *RunRecord) Stage(name string) *StageRecord {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// Backend defines the interface for run history implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Lifecycle methods

	// Initialize opens or creates the storage backend at the given path.
	// If readOnly is true, the backend is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// Runs

	// SaveRun inserts or replaces a run.
	SaveRun(ctx context.Context, run *RunRecord) error

	// GetRun returns the run with the given ID, or an error wrapping
	// ErrNotFound.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns runs newest first. A limit <= 0 returns all runs.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// DeleteRun removes a run and its graphs.
	DeleteRun(ctx context.Context, id string) error

	// PruneRuns keeps the newest keep runs and deletes the rest. It returns
	// the number of runs deleted.
	PruneRuns(ctx context.Context, keep int) (int, error)

	// Graphs

	// SaveGraph stores the call graph of a run at the given stage
	// (no_opt, linked or apex).
	SaveGraph(ctx context.Context, runID, stage string, g *graph.CallGraph) error

	// GetGraph returns a stored call graph, or an error wrapping ErrNotFound.
	GetGraph(ctx context.Context, runID, stage string) (*graph.CallGraph, error)

	// ListGraphs returns the stages a run has stored graphs for.
	ListGraphs(ctx context.Context, runID string) ([]string, error)
}

// ResolveRun finds a run by full ID or by a unique ID prefix.
func ResolveRun(ctx context.Context, b Backend, idOrPrefix string) (*RunRecord, error) {
	run, err := b.GetRun(ctx, idOrPrefix)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return run, err
	}

	runs, err := b.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}

	var match *RunRecord
	for _, r := range runs {
		if len(idOrPrefix) > 0 && len(r.ID) >= len(idOrPrefix) && r.ID[:len(idOrPrefix)] == idOrPrefix {
			if match != nil {
				return nil, &AmbiguousRunError{Prefix: idOrPrefix}
			}
			match = r
		}
	}
	if match == nil {
		return nil, &RunNotFoundError{ID: idOrPrefix}
	}
	return match, nil
}

// RunNotFoundError reports an unknown run ID.
type RunNotFoundError struct {
	ID string
}

func (e *RunNotFoundError) Error() string {
	return "run " + e.ID + " not found"
}

func (e *RunNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// AmbiguousRunError reports an ID prefix matching more than one run.
type AmbiguousRunError struct {
	Prefix string
}

func (e *AmbiguousRunError) Error() string {
	return "run prefix " + e.Prefix + " is ambiguous"
}
