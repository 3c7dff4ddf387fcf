package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Benny93/apex-go/internal/graph"
	"github.com/Benny93/apex-go/internal/parsers"
)

// ParseData holds parsing results for all files.
type ParseData struct {
	mu    sync.RWMutex
	Files map[string]*parsers.ParseResult
}

// NewParseData creates a new ParseData instance.
func NewParseData() *ParseData {
	return &ParseData{
		Files: make(map[string]*parsers.ParseResult),
	}
}

// AddFile adds parsing results for a file.
func (p *ParseData) AddFile(relPath string, result *parsers.ParseResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Files[relPath] = result
}

// GetFile returns the parsing results for a file, or nil.
func (p *ParseData) GetFile(relPath string) *parsers.ParseResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Files[relPath]
}

// paths returns the parsed file paths in sorted order.
func (p *ParseData) paths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.Files))
	for path := range p.Files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// SourceIndex is the parsed view of a source tree.
type SourceIndex struct {
	Root    string
	Entries []FileEntry
	Parsed  *ParseData
	Graph   *graph.CallGraph
}

// IndexResult summarizes an indexing run.
type IndexResult struct {
	Files        int
	Functions    int
	Calls        int
	ParseErrors  int
	DurationSecs float64
}

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// IndexSources walks root, parses every C file and builds the source level
// call graph.
func IndexSources(ctx context.Context, root string, progress ProgressCallback) (*SourceIndex, *IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}

	report := func(phase string, p float64) {
		if progress != nil {
			progress(phase, p)
		}
	}

	// Phase 1: File walking
	report("Walking files", 0.0)
	matcher, err := NewMatcher(root)
	if err != nil {
		return nil, nil, err
	}
	entries, err := WalkSources(root, matcher)
	if err != nil {
		return nil, nil, fmt.Errorf("walking sources: %w", err)
	}
	result.Files = len(entries)
	report("Walking files", 1.0)

	// Phase 2: Parsing
	report("Parsing code", 0.0)
	parseData, err := ProcessParsing(ctx, entries)
	if err != nil {
		return nil, nil, err
	}
	report("Parsing code", 1.0)

	// Phase 3: Calls
	report("Tracing calls", 0.0)
	g := BuildSourceGraph(parseData)
	report("Tracing calls", 1.0)

	for _, path := range parseData.paths() {
		r := parseData.GetFile(path)
		for _, s := range r.Symbols {
			if s.Kind == parsers.KindFunction {
				result.Functions++
			}
		}
		result.Calls += len(r.Calls)
		if r.HasErrors {
			result.ParseErrors++
		}
	}

	result.DurationSecs = time.Since(start).Seconds()
	return &SourceIndex{Root: root, Entries: entries, Parsed: parseData, Graph: g}, result, nil
}

// ProcessParsing parses all files. Files without a parser are skipped.
func ProcessParsing(ctx context.Context, entries []FileEntry) (*ParseData, error) {
	parseData := NewParseData()

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		parser := parsers.ForLanguage(entry.Language)
		if parser == nil {
			continue
		}

		result, err := parser.Parse(entry.RelPath, entry.Content)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.RelPath, err)
		}
		parseData.AddFile(entry.RelPath, result)
	}

	return parseData, nil
}

// BuildSourceGraph builds a call graph from parsed files. Every function
// definition becomes a key; its direct calls become successors in source
// order, with repeated calls to the same callee recorded once. Calls through
// struct fields are not direct calls and are left out. Files are visited in
// sorted order so the result does not depend on map iteration.
func BuildSourceGraph(parseData *ParseData) *graph.CallGraph {
	g := graph.NewEmptyCallGraph()

	for _, path := range parseData.paths() {
		r := parseData.GetFile(path)
		for _, s := range r.Symbols {
			if s.Kind != parsers.KindFunction {
				continue
			}
			g.AddNode(s.Name, uniqueCallees(r.CallsFrom(s.Name))...)
		}
	}

	return g
}

func uniqueCallees(calls []parsers.CallSite) []string {
	seen := make(map[string]bool, len(calls))
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		if c.Receiver != "" || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c.Name)
	}
	return out
}

// FunctionAt returns the function enclosing line in the file named by name
// (a relative path or bare file name). The returned string is the relative
// path of the matched file.
func (idx *SourceIndex) FunctionAt(name string, line int) (string, *parsers.ParsedSymbol, error) {
	relPath, err := FindFile(idx.Entries, name)
	if err != nil {
		return "", nil, err
	}
	r := idx.Parsed.GetFile(relPath)
	if r == nil {
		return relPath, nil, fmt.Errorf("%s was not parsed", relPath)
	}
	return relPath, r.FunctionAt(line), nil
}
