// Package artifacts collects the diagnostics of a pipeline run: the run
// manifest, per-run metrics, checksums of produced files and the git revision
// of the source tree.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"

	"github.com/Benny93/apex-go/internal/storage"
)

// File names written to the build directory.
const (
	ManifestFile = "manifest.json"
	MetricsFile  = "metrics.prom"
)

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// WriteManifest writes run as indented JSON to <buildDir>/manifest.json and
// returns the file path.
func WriteManifest(buildDir string, run *storage.RunRecord) (string, error) {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}

	path := filepath.Join(buildDir, ManifestFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}

// ReadManifest loads the manifest of the last run in buildDir.
func ReadManifest(buildDir string) (*storage.RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(buildDir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var run storage.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &run, nil
}

// Collect lists the files under buildDir plus the output executable, with
// sizes and checksums. Paths are relative to the working directory the run
// was started in; missing outputs are left out. The result is sorted by path.
func Collect(buildDir, output string) ([]storage.Artifact, error) {
	var out []storage.Artifact

	err := filepath.WalkDir(buildDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		a, err := describe(path)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("collecting artifacts: %w", err)
	}

	if output != "" {
		a, err := describe(output)
		switch {
		case err == nil:
			out = append(out, a)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// describe stats and hashes one file.
func describe(path string) (storage.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return storage.Artifact{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return storage.Artifact{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	return storage.Artifact{
		Name:   filepath.Base(path),
		Path:   path,
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// GitState reports the HEAD commit of the repository containing dir and
// whether its worktree has uncommitted changes. It returns nil, nil when dir
// is not inside a git repository.
func GitState(dir string) (*storage.GitInfo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		// A repository without commits has no HEAD yet.
		return nil, nil
	}

	info := &storage.GitInfo{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}

	wt, err := repo.Worktree()
	if err != nil {
		return info, nil
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading worktree status: %w", err)
	}
	info.Dirty = !status.IsClean()

	return info, nil
}
