package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Benny93/apex-go/internal/graph"
)

// MemoryBackend is an in-memory implementation of Backend, used in tests and
// when history is disabled.
type MemoryBackend struct {
	mu          sync.RWMutex
	runs        map[string]*RunRecord
	graphs      map[string]map[string][]graph.Entry
	initialized bool
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		runs:   make(map[string]*RunRecord),
		graphs: make(map[string]map[string][]graph.Entry),
	}
}

// Initialize implements Backend.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = make(map[string]*RunRecord)
	m.graphs = make(map[string]map[string][]graph.Entry)
	m.initialized = false
	return nil
}

// SaveRun implements Backend. The record is copied.
func (m *MemoryBackend) SaveRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		return errors.New("run has no ID")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

// GetRun implements Backend.
func (m *MemoryBackend) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, &RunNotFoundError{ID: id}
	}
	cp := *run
	return &cp, nil
}

// ListRuns implements Backend.
func (m *MemoryBackend) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := m.sortedRuns()
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// sortedRuns returns copies of all runs, newest first. Runs started at the
// same instant are ordered by descending ID, matching the Badger index.
func (m *MemoryBackend) sortedRuns() []*RunRecord {
	runs := make([]*RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		cp := *r
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	return runs
}

// DeleteRun implements Backend.
func (m *MemoryBackend) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[id]; !ok {
		return &RunNotFoundError{ID: id}
	}
	delete(m.runs, id)
	delete(m.graphs, id)
	return nil
}

// PruneRuns implements Backend.
func (m *MemoryBackend) PruneRuns(ctx context.Context, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	runs := m.sortedRuns()
	if len(runs) <= keep {
		return 0, nil
	}
	for _, r := range runs[keep:] {
		delete(m.runs, r.ID)
		delete(m.graphs, r.ID)
	}
	return len(runs) - keep, nil
}

// SaveGraph implements Backend.
func (m *MemoryBackend) SaveGraph(ctx context.Context, runID, stage string, g *graph.CallGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.graphs[runID] == nil {
		m.graphs[runID] = make(map[string][]graph.Entry)
	}
	m.graphs[runID][stage] = g.Entries()
	return nil
}

// GetGraph implements Backend.
func (m *MemoryBackend) GetGraph(ctx context.Context, runID, stage string) (*graph.CallGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, ok := m.graphs[runID][stage]
	if !ok {
		return nil, fmt.Errorf("graph %s of run %s: %w", stage, runID, ErrNotFound)
	}
	return graph.FromEntries(entries), nil
}

// ListGraphs implements Backend.
func (m *MemoryBackend) ListGraphs(ctx context.Context, runID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stages := make([]string, 0, len(m.graphs[runID]))
	for stage := range m.graphs[runID] {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	return stages, nil
}

// RunCount returns the number of stored runs.
func (m *MemoryBackend) RunCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}
