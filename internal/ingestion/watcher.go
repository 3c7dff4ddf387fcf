package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultBatchInterval is how long the watcher waits after the last change
// before reporting a batch.
const DefaultBatchInterval = 2 * time.Second

// ChangeFunc is called with the relative paths of the source files that
// changed in one batch, in sorted order.
type ChangeFunc func(ctx context.Context, changed []string) error

// Watcher monitors a source tree and reports batches of changed C files.
type Watcher struct {
	Root     string
	Interval time.Duration
	Logger   *slog.Logger
	OnChange ChangeFunc

	// Ready, if set, is closed once every directory is being watched.
	Ready chan struct{}

	matcher gitignore.Matcher
	hashes  map[string]string
}

// WatchSources watches root until ctx is cancelled, calling onChange after
// every batch of source changes.
func WatchSources(ctx context.Context, root string, logger *slog.Logger, onChange ChangeFunc) error {
	w := &Watcher{Root: root, Logger: logger, OnChange: onChange}
	return w.Run(ctx)
}

// Run blocks until ctx is cancelled. Errors returned by OnChange are logged
// and watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	if w.Interval <= 0 {
		w.Interval = DefaultBatchInterval
	}
	if w.Logger == nil {
		w.Logger = slog.Default()
	}

	matcher, err := NewMatcher(w.Root)
	if err != nil {
		return err
	}
	w.matcher = matcher

	// Remember current content so saves without edits do not trigger a run.
	entries, err := WalkSources(w.Root, matcher)
	if err != nil {
		return fmt.Errorf("walking sources: %w", err)
	}
	w.hashes = make(map[string]string, len(entries))
	for _, e := range entries {
		w.hashes[e.RelPath] = e.SHA256
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.Root); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}
	if w.Ready != nil {
		close(w.Ready)
	}

	changed := make(map[string]bool)
	batchTimer := time.NewTimer(w.Interval)
	batchTimer.Stop()

	w.Logger.Info("watching sources", slog.String("root", w.Root))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !shouldSkipDir(info.Name(), event.Name, w.Root, w.matcher) {
						if err := w.addTree(watcher, event.Name); err != nil {
							w.Logger.Warn("failed to watch directory", slog.String("dir", event.Name), slog.Any("error", err))
						}
					}
					continue
				}
			}

			if !shouldWatchFile(event.Name, w.Root, w.matcher) {
				continue
			}
			relPath, err := filepath.Rel(w.Root, event.Name)
			if err != nil {
				continue
			}
			changed[relPath] = true
			batchTimer.Reset(w.Interval)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("watch error", slog.Any("error", err))

		case <-batchTimer.C:
			files := w.contentChanged(changed)
			changed = make(map[string]bool)
			if len(files) == 0 {
				continue
			}

			w.Logger.Info("sources changed", slog.Int("files", len(files)), slog.Any("paths", files))
			if w.OnChange == nil {
				continue
			}
			if err := w.OnChange(ctx, files); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.Logger.Error("change handler failed", slog.Any("error", err))
			}
		}
	}
}

// addTree adds dir and every non-ignored directory below it.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.Root && shouldSkipDir(d.Name(), path, w.Root, w.matcher) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// contentChanged filters a batch down to files whose content differs from
// the last seen version. Deleted files always count as changed.
func (w *Watcher) contentChanged(batch map[string]bool) []string {
	var files []string
	for relPath := range batch {
		content, err := os.ReadFile(filepath.Join(w.Root, relPath))
		if err != nil {
			if _, known := w.hashes[relPath]; known {
				delete(w.hashes, relPath)
				files = append(files, relPath)
			}
			continue
		}
		hash := hashContent(content)
		if w.hashes[relPath] == hash {
			continue
		}
		w.hashes[relPath] = hash
		files = append(files, relPath)
	}
	sort.Strings(files)
	return files
}
