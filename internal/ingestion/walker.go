// Package ingestion walks, parses and watches the C sources an extraction
// run is built from.
package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/apex-go/internal/parsers"
)

// ErrFileNotFound is returned by FindFile when no source file matches.
var ErrFileNotFound = errors.New("source file not found")

// FileEntry represents a file to be processed.
type FileEntry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the path relative to the source root.
	RelPath string

	// Language is the detected programming language.
	Language string

	// Content is the file content.
	Content []byte

	// SHA256 is the hash of the file content.
	SHA256 string
}

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	".apex/",
	"build/",
	"CMakeFiles/",
	"node_modules/",
	"*.o",
	"*.bc",
	"*.ll",
	".DS_Store",
}

// NewMatcher combines the default ignore patterns with the root .gitignore.
// A missing .gitignore is not an error.
func NewMatcher(root string) (gitignore.Matcher, error) {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}

	loaded, err := loadGitignore(root)
	if err != nil {
		return nil, fmt.Errorf("loading .gitignore: %w", err)
	}
	patterns = append(patterns, loaded...)

	return gitignore.NewMatcher(patterns), nil
}

// WalkSources walks root and returns every supported source file that is
// not ignored, in lexical order.
func WalkSources(root string, matcher gitignore.Matcher) ([]FileEntry, error) {
	var entries []FileEntry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && shouldSkipDir(d.Name(), path, root, matcher) {
				return filepath.SkipDir
			}
			return nil
		}

		language := parsers.LanguageFor(d.Name())
		if language == "" {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if matcher != nil && matcher.Match(splitPath(relPath), false) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		entries = append(entries, FileEntry{
			Path:     path,
			RelPath:  relPath,
			Language: language,
			Content:  content,
			SHA256:   hashContent(content),
		})
		return nil
	})

	return entries, err
}

// FindFile locates the source file a target location names. name may be a
// path relative to root ("src/main.c") or a bare file name ("main.c"); an
// exact relative path wins over a base name match. It returns the relative
// path of the match.
func FindFile(entries []FileEntry, name string) (string, error) {
	clean := filepath.Clean(name)
	sep := string(filepath.Separator)

	var byBase []string
	for _, e := range entries {
		if e.RelPath == clean {
			return e.RelPath, nil
		}
		if strings.HasSuffix(sep+e.RelPath, sep+clean) {
			byBase = append(byBase, e.RelPath)
		}
	}

	switch len(byBase) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
	case 1:
		return byBase[0], nil
	default:
		return "", fmt.Errorf("%s is ambiguous: %s", name, strings.Join(byBase, ", "))
	}
}

// loadGitignore loads .gitignore patterns from the source root.
func loadGitignore(root string) ([]gitignore.Pattern, error) {
	gitignorePath := filepath.Join(root, ".gitignore")

	content, err := os.ReadFile(gitignorePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}

	return patterns, nil
}

// shouldSkipDir checks if a directory should be skipped.
func shouldSkipDir(name, path, root string, matcher gitignore.Matcher) bool {
	if name == ".git" {
		return true
	}
	if matcher == nil {
		return false
	}

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return matcher.Match(splitPath(relPath), true)
}

// shouldWatchFile reports whether a changed path is a supported, non-ignored
// source file.
func shouldWatchFile(path, root string, matcher gitignore.Matcher) bool {
	if parsers.LanguageFor(path) == "" {
		return false
	}
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return matcher == nil || !matcher.Match(splitPath(relPath), false)
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}

func hashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
