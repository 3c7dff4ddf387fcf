package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/apex-go/internal/graph"
)

// Key prefixes for different data types
const (
	prefixRun      = "run:" // run record
	prefixRunIndex = "t:"   // start time -> run ID, for newest-first listing
	prefixGraph    = "g:"   // call graph per run and stage
)

var errNotInitialized = errors.New("storage not initialized")

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db          *badger.DB
	initialized bool
	readOnly    bool
	mu          sync.RWMutex
	runCount    int
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	b.initialized = true
	b.readOnly = readOnly
	b.runCount = b.countPrefix([]byte(prefixRun))

	return nil
}

// countPrefix counts the keys under prefix.
func (b *BadgerBackend) countPrefix(prefix []byte) int {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.initialized = false
	return err
}

// SaveRun inserts or replaces a run.
func (b *BadgerBackend) SaveRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		return errors.New("run has no ID")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return errNotInitialized
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	// A replaced run may carry a different start time; drop its old index
	// entry so it is listed once.
	old, err := b.getRunTxn(txn, run.ID)
	switch {
	case err == nil:
		if err := txn.Delete(b.runIndexKey(old)); err != nil {
			return fmt.Errorf("deleting run index: %w", err)
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if err := txn.Set(b.runKey(run.ID), data); err != nil {
		return fmt.Errorf("setting run: %w", err)
	}
	if err := txn.Set(b.runIndexKey(run), []byte(run.ID)); err != nil {
		return fmt.Errorf("setting run index: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}

	if old == nil {
		b.runCount++
	}
	return nil
}

// GetRun returns the run with the given ID.
func (b *BadgerBackend) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, errNotInitialized
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	return b.getRunTxn(txn, id)
}

func (b *BadgerBackend) getRunTxn(txn *badger.Txn, id string) (*RunRecord, error) {
	item, err := txn.Get(b.runKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, &RunNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	var run RunRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &run)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling run: %w", err)
	}

	return &run, nil
}

// ListRuns returns runs newest first.
func (b *BadgerBackend) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, errNotInitialized
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	ids, err := b.runIDsNewestFirst(txn)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	runs := make([]*RunRecord, 0, len(ids))
	for _, id := range ids {
		run, err := b.getRunTxn(txn, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// runIDsNewestFirst walks the time index backwards.
func (b *BadgerBackend) runIDsNewestFirst(txn *badger.Txn) ([]string, error) {
	prefix := []byte(prefixRunIndex)

	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			ids = append(ids, string(val))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reading run index %s: %w", it.Item().Key(), err)
		}
	}
	return ids, nil
}

// DeleteRun removes a run and its graphs.
func (b *BadgerBackend) DeleteRun(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return errNotInitialized
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	if err := b.deleteRunTxn(txn, id); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	b.runCount--
	return nil
}

func (b *BadgerBackend) deleteRunTxn(txn *badger.Txn, id string) error {
	run, err := b.getRunTxn(txn, id)
	if err != nil {
		return err
	}

	keys := [][]byte{b.runKey(id), b.runIndexKey(run)}
	keys = append(keys, b.collectKeys(txn, b.graphPrefix(id))...)

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return nil
}

// collectKeys copies every key under prefix.
func (b *BadgerBackend) collectKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// PruneRuns keeps the newest keep runs.
func (b *BadgerBackend) PruneRuns(ctx context.Context, keep int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return 0, errNotInitialized
	}
	if keep < 0 {
		keep = 0
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	ids, err := b.runIDsNewestFirst(txn)
	if err != nil {
		return 0, err
	}
	if len(ids) <= keep {
		return 0, nil
	}

	stale := ids[keep:]
	for _, id := range stale {
		if err := b.deleteRunTxn(txn, id); err != nil {
			return 0, err
		}
	}
	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}

	b.runCount -= len(stale)
	return len(stale), nil
}

// SaveGraph stores a call graph as an ordered entry list so successor order
// survives the round trip.
func (b *BadgerBackend) SaveGraph(ctx context.Context, runID, stage string, g *graph.CallGraph) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return errNotInitialized
	}

	data, err := json.Marshal(g.Entries())
	if err != nil {
		return fmt.Errorf("marshaling graph: %w", err)
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	if err := txn.Set(b.graphKey(runID, stage), data); err != nil {
		return fmt.Errorf("setting graph: %w", err)
	}
	return txn.Commit()
}

// GetGraph returns a stored call graph.
func (b *BadgerBackend) GetGraph(ctx context.Context, runID, stage string) (*graph.CallGraph, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, errNotInitialized
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	item, err := txn.Get(b.graphKey(runID, stage))
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("graph %s of run %s: %w", stage, runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting graph: %w", err)
	}

	var entries []graph.Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entries)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling graph: %w", err)
	}

	return graph.FromEntries(entries), nil
}

// ListGraphs returns the stages a run has stored graphs for, sorted.
func (b *BadgerBackend) ListGraphs(ctx context.Context, runID string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, errNotInitialized
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	prefix := b.graphPrefix(runID)
	var stages []string
	for _, key := range b.collectKeys(txn, prefix) {
		stages = append(stages, strings.TrimPrefix(string(key), string(prefix)))
	}
	sort.Strings(stages)
	return stages, nil
}

// RunCount returns the number of stored runs.
func (b *BadgerBackend) RunCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.runCount
}

// runKey returns the BadgerDB key for a run.
func (b *BadgerBackend) runKey(id string) []byte {
	return []byte(prefixRun + id)
}

// runIndexKey orders runs by start time. Zero-padded nanoseconds keep
// lexical and chronological order identical.
func (b *BadgerBackend) runIndexKey(run *RunRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixRunIndex, run.StartedAt.UnixNano(), run.ID))
}

// graphPrefix returns the key prefix of every graph of a run.
func (b *BadgerBackend) graphPrefix(runID string) []byte {
	return []byte(prefixGraph + runID + ":")
}

// graphKey returns the BadgerDB key for a stored graph.
func (b *BadgerBackend) graphKey(runID, stage string) []byte {
	return append(b.graphPrefix(runID), stage...)
}
