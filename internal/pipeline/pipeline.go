// Package pipeline drives the extraction of a minimal program that reaches a
// source location.
//
// A run compiles the input to LLVM IR, links it against the support library,
// checks that the target is reachable from the entry function, hands the
// linked program to the transformation pass and builds the pruned result.
// Stages run strictly in order and the first failure ends the run; the
// collect stage still records whatever was produced up to that point.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Benny93/apex-go/internal/artifacts"
	"github.com/Benny93/apex-go/internal/graph"
	"github.com/Benny93/apex-go/internal/storage"
	"github.com/Benny93/apex-go/internal/toolchain"
)

// Stage names in execution order.
const (
	StagePrepare       = "prepare"
	StagePreflight     = "preflight"
	StageCompileLib    = "compile-lib"
	StageCompileSource = "compile-source"
	StageLink          = "link"
	StageAssemble      = "assemble"
	StageReachability  = "reachability"
	StageTransform     = "transform"
	StageBuild         = "build"
	StageDisassemble   = "disassemble"
	StageExport        = "export"
	StageCollect       = "collect"
)

// Call graph names, used for exported files and stored graphs.
const (
	GraphInput  = "no_opt"
	GraphLinked = "linked"
	GraphApex   = "apex"
)

// outputTailLines bounds the tool output carried in a StageError.
const outputTailLines = 20

// ProgressCallback is called with the stage about to run and the overall
// progress (0.0-1.0).
type ProgressCallback func(stage string, progress float64)

// Stage is one step of the pipeline.
type Stage struct {
	Name string

	run func(ctx context.Context, s *stageRun) error
}

// Result describes a finished run, successful or not.
type Result struct {
	Run *storage.RunRecord

	// Graphs holds the call graphs extracted during the run by name
	// (no_opt, linked, apex).
	Graphs map[string]*graph.CallGraph

	// Reduction is the retained and pruned function sets computed by the
	// reachability stage, or nil when it was skipped.
	Reduction *graph.Reduction
}

// Succeeded reports whether the run produced an executable.
func (r *Result) Succeeded() bool {
	return r.Run.Status == storage.RunSucceeded
}

// Pipeline runs extractions with a fixed set of options.
type Pipeline struct {
	Options Options
	Runner  toolchain.Runner
	Logger  *slog.Logger

	// History, when set, receives every run record and its call graphs.
	History storage.Backend

	// HistoryLimit is the number of runs kept in History. Zero keeps all.
	HistoryLimit int

	Progress ProgressCallback
}

// New creates a pipeline running external tools through runner.
func New(opts Options, runner toolchain.Runner, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{Options: opts, Runner: runner, Logger: logger}
}

// Stages returns the stages of a run in execution order.
func (p *Pipeline) Stages() []Stage {
	return []Stage{
		{Name: StagePrepare, run: p.prepare},
		{Name: StagePreflight, run: p.preflight},
		{Name: StageCompileLib, run: p.compileLib},
		{Name: StageCompileSource, run: p.compileSource},
		{Name: StageLink, run: p.link},
		{Name: StageAssemble, run: p.assemble},
		{Name: StageReachability, run: p.reachability},
		{Name: StageTransform, run: p.transform},
		{Name: StageBuild, run: p.build},
		{Name: StageDisassemble, run: p.disassemble},
		{Name: StageExport, run: p.export},
	}
}

// runState is shared by the stages of one run.
type runState struct {
	record *storage.RunRecord
	result *Result

	// input is the IR file linked against the support library.
	input string

	// jsonLog mirrors every stage event into build/pipeline.log.
	jsonLog     *slog.Logger
	jsonLogFile *os.File
}

// Run executes every stage and records the outcome. The returned Result is
// never nil once options are valid, even when err is not.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if err := p.Options.Validate(); err != nil {
		return nil, err
	}

	if p.Logger == nil {
		p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	o := p.Options
	state := &runState{
		record: &storage.RunRecord{
			ID:             artifacts.NewRunID(),
			StartedAt:      time.Now().UTC(),
			Source:         o.Source,
			File:           o.File,
			Line:           o.Line,
			Entry:          o.Entry,
			TargetFunction: o.TargetFunction,
			Strategy:       o.Strategy.String(),
			Export:         o.Export,
			BuildDir:       o.BuildDir,
			Output:         o.Output,
		},
		input: o.Source,
	}
	state.result = &Result{Run: state.record, Graphs: make(map[string]*graph.CallGraph)}
	defer state.closeLog()

	p.Logger.Info("starting extraction", "run", state.record.ID, "source", o.Source, "target", fmt.Sprintf("%s:%d", o.File, o.Line))

	stages := p.Stages()
	var runErr error
	for i, stage := range stages {
		p.report(stage.Name, float64(i)/float64(len(stages)+1))
		if runErr = p.runStage(ctx, state, i, stage); runErr != nil {
			break
		}
	}

	p.report(StageCollect, float64(len(stages))/float64(len(stages)+1))
	collectErr := p.collect(ctx, state, runErr)
	p.report(StageCollect, 1.0)

	if runErr != nil {
		return state.result, runErr
	}
	return state.result, collectErr
}

func (p *Pipeline) report(stage string, progress float64) {
	if p.Progress != nil {
		p.Progress(stage, progress)
	}
}

// runStage executes one stage with its own log file and records it.
func (p *Pipeline) runStage(ctx context.Context, state *runState, index int, stage Stage) error {
	rec := storage.StageRecord{Name: stage.Name, Status: storage.StageOK}
	s := &stageRun{p: p, state: state, record: &rec}

	// prepare wipes the build directory, so its log is opened afterwards.
	if stage.Name != StagePrepare {
		if err := s.openLog(index); err != nil {
			return err
		}
		defer s.closeLog()
	}

	start := time.Now()
	state.event(p.Logger, slog.LevelDebug, "stage started", "stage", stage.Name)

	err := ctx.Err()
	if err == nil {
		err = stage.run(ctx, s)
	}
	rec.DurationMS = time.Since(start).Milliseconds()

	switch {
	case err != nil:
		rec.Status = storage.StageFailed
		rec.Message = err.Error()
		rec.ExitCode = toolchain.ExitCode(err)
		if rec.ExitCode < 0 {
			rec.ExitCode = 0
		}
		state.record.FailedStage = stage.Name
		state.event(p.Logger, slog.LevelError, "stage failed", "stage", stage.Name, "error", err)
	case s.skipped != "":
		rec.Status = storage.StageSkipped
		rec.Message = s.skipped
		state.event(p.Logger, slog.LevelInfo, "stage skipped", "stage", stage.Name, "reason", s.skipped)
	default:
		state.event(p.Logger, slog.LevelInfo, "stage finished", "stage", stage.Name, "duration_ms", rec.DurationMS)
	}

	state.record.Stages = append(state.record.Stages, rec)

	if err != nil {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			return err
		}
		return fmt.Errorf("%s: %w", stage.Name, err)
	}
	return nil
}

// event logs to the caller's logger and to build/pipeline.log.
func (st *runState) event(logger *slog.Logger, level slog.Level, msg string, args ...any) {
	args = append([]any{"run", st.record.ID}, args...)
	logger.Log(context.Background(), level, msg, args...)
	if st.jsonLog != nil {
		st.jsonLog.Log(context.Background(), level, msg, args...)
	}
}

// openJSONLog starts build/pipeline.log.
func (st *runState) openJSONLog(buildDir string) error {
	f, err := os.Create(filepath.Join(buildDir, "pipeline.log"))
	if err != nil {
		return fmt.Errorf("creating pipeline log: %w", err)
	}
	st.jsonLogFile = f
	st.jsonLog = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return nil
}

func (st *runState) closeLog() {
	if st.jsonLogFile != nil {
		st.jsonLogFile.Close()
		st.jsonLogFile = nil
		st.jsonLog = nil
	}
}

// stageRun is the handle a stage uses to run tools.
type stageRun struct {
	p      *Pipeline
	state  *runState
	record *storage.StageRecord

	log     *os.File
	logPath string

	// skipped, when set, marks the stage as skipped with this reason.
	skipped string
}

func (s *stageRun) openLog(index int) error {
	dir := filepath.Join(s.p.Options.BuildDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	s.logPath = filepath.Join(dir, fmt.Sprintf("%02d-%s.log", index+1, s.record.Name))
	f, err := os.Create(s.logPath)
	if err != nil {
		return fmt.Errorf("creating stage log: %w", err)
	}
	s.log = f
	s.record.Log = s.logPath
	return nil
}

func (s *stageRun) closeLog() {
	if s.log != nil {
		s.log.Close()
	}
}

// skip marks the stage as skipped.
func (s *stageRun) skip(format string, args ...any) {
	s.skipped = fmt.Sprintf(format, args...)
}

// logf appends a line to the stage log.
func (s *stageRun) logf(format string, args ...any) {
	if s.log != nil {
		fmt.Fprintf(s.log, format+"\n", args...)
	}
}

// exec runs one tool. Output the command does not redirect itself goes to
// the stage log. A failure becomes a *StageError carrying the tail of the
// tool's diagnostics, read from errLog when set and the stage log otherwise.
func (s *stageRun) exec(ctx context.Context, cmd toolchain.Command, errLog string) error {
	line := cmd.String()
	if errLog != "" {
		line += " 2> " + errLog
	}
	s.record.Commands = append(s.record.Commands, line)
	s.logf("$ %s", line)
	s.state.event(s.p.Logger, slog.LevelDebug, "running tool", "stage", s.record.Name, "command", line)

	if cmd.Stdout == nil && s.log != nil {
		cmd.Stdout = s.log
	}

	tailPath := s.logPath
	if errLog != "" {
		f, err := os.Create(errLog)
		if err != nil {
			return fmt.Errorf("creating %s: %w", errLog, err)
		}
		defer f.Close()
		cmd.Stderr = f
		tailPath = errLog
	} else if cmd.Stderr == nil && s.log != nil {
		cmd.Stderr = s.log
	}

	err := s.p.Runner.Run(ctx, cmd)
	if err == nil {
		return nil
	}

	return &StageError{
		Stage:    s.record.Name,
		Command:  line,
		ExitCode: toolchain.ExitCode(err),
		Output:   tail(tailPath, outputTailLines),
		Err:      err,
	}
}

// tail returns the last n lines of the file at path, or "" when it cannot be
// read.
func tail(path string, n int) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	lines := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "$ ") {
			continue
		}
		if len(lines) == n {
			lines = lines[1:]
		}
		lines = append(lines, sc.Text())
	}
	return strings.Join(lines, "\n")
}

// collect writes the manifest and metrics and records the run in the
// history. It runs after every other stage, including after a failure.
func (p *Pipeline) collect(ctx context.Context, state *runState, runErr error) error {
	rec := state.record
	start := time.Now()

	rec.Status = storage.RunSucceeded
	if runErr != nil {
		rec.Status = storage.RunFailed
		rec.Error = runErr.Error()
	}

	var errs []error

	// With a failed prepare the build directory may not exist.
	if err := os.MkdirAll(p.Options.BuildDir, 0o755); err != nil {
		errs = append(errs, err)
	}

	if info, err := artifacts.GitState(filepath.Dir(p.Options.Source)); err != nil {
		state.event(p.Logger, slog.LevelWarn, "git state unavailable", "error", err)
	} else {
		rec.Git = info
	}

	arts, err := artifacts.Collect(p.Options.BuildDir, p.Options.Output)
	if err != nil {
		errs = append(errs, err)
	}
	rec.Artifacts = arts

	rec.FinishedAt = time.Now().UTC()
	rec.Stages = append(rec.Stages, storage.StageRecord{
		Name:       StageCollect,
		Status:     storage.StageOK,
		DurationMS: time.Since(start).Milliseconds(),
	})

	if _, err := artifacts.WriteManifest(p.Options.BuildDir, rec); err != nil {
		errs = append(errs, err)
	}
	// Metrics and history are secondary outputs; a failure to write them
	// is logged and leaves the run status alone.
	if _, err := artifacts.WriteMetrics(p.Options.BuildDir, rec); err != nil {
		state.event(p.Logger, slog.LevelWarn, "writing metrics failed", "error", err)
	}

	if p.History != nil {
		if err := p.saveHistory(ctx, state); err != nil {
			state.event(p.Logger, slog.LevelWarn, "recording run history failed", "error", err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		state.event(p.Logger, slog.LevelError, "collecting artifacts failed", "error", err)
		return fmt.Errorf("%s: %w", StageCollect, err)
	}

	state.event(p.Logger, slog.LevelInfo, "run finished", "status", rec.Status, "duration", rec.Duration().String())
	return nil
}

func (p *Pipeline) saveHistory(ctx context.Context, state *runState) error {
	// Interrupted runs are recorded too.
	ctx = context.WithoutCancel(ctx)

	if err := p.History.SaveRun(ctx, state.record); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	for name, g := range state.result.Graphs {
		if err := p.History.SaveGraph(ctx, state.record.ID, name, g); err != nil {
			return fmt.Errorf("saving %s graph: %w", name, err)
		}
	}
	if p.HistoryLimit > 0 {
		if _, err := p.History.PruneRuns(ctx, p.HistoryLimit); err != nil {
			return fmt.Errorf("pruning history: %w", err)
		}
	}
	return nil
}
