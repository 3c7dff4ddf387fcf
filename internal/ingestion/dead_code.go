package ingestion

import (
	"sort"
	"strings"

	"github.com/Benny93/apex-go/internal/graph"
	"github.com/Benny93/apex-go/internal/parsers"
)

// DeadFunction is a function defined in the source tree that the entry
// point never calls, directly or transitively.
type DeadFunction struct {
	Name       string `json:"name"`
	FilePath   string `json:"file"`
	StartLine  int    `json:"line"`
	Confidence string `json:"confidence"`
}

// ProcessDeadCode reports the functions of idx unreachable from entry.
//
// Confidence levels:
//   - high: static functions, which nothing outside their file can call
//   - medium: exported functions, which another translation unit might call
//   - low: functions whose name is also used as a struct field call
//     (o->name()), since they may be reached through a function pointer
//
// Functions named in exempt are never reported. The result is sorted by
// file and line.
func ProcessDeadCode(idx *SourceIndex, entry string, exempt ...string) ([]DeadFunction, error) {
	if !idx.Graph.Has(entry) {
		return nil, &graph.UnknownNodeError{Node: entry}
	}

	reachable, err := graph.Closure(idx.Graph, entry)
	if err != nil {
		return nil, err
	}

	live := make(map[string]bool, len(reachable)+len(exempt))
	for _, n := range reachable {
		live[n] = true
	}
	for _, n := range exempt {
		live[n] = true
	}

	indirect := indirectCallNames(idx.Parsed)

	var dead []DeadFunction
	for _, path := range idx.Parsed.paths() {
		for _, sym := range idx.Parsed.GetFile(path).Symbols {
			if sym.Kind != parsers.KindFunction || live[sym.Name] {
				continue
			}
			dead = append(dead, DeadFunction{
				Name:       sym.Name,
				FilePath:   path,
				StartLine:  sym.StartLine,
				Confidence: deadCodeConfidence(sym, indirect),
			})
		}
	}

	sort.SliceStable(dead, func(i, j int) bool {
		if dead[i].FilePath != dead[j].FilePath {
			return dead[i].FilePath < dead[j].FilePath
		}
		return dead[i].StartLine < dead[j].StartLine
	})
	return dead, nil
}

// indirectCallNames collects names called through struct fields.
func indirectCallNames(data *ParseData) map[string]bool {
	names := make(map[string]bool)
	for _, path := range data.paths() {
		for _, c := range data.GetFile(path).Calls {
			if c.Receiver != "" {
				names[c.Name] = true
			}
		}
	}
	return names
}

// deadCodeConfidence assigns a confidence level to a dead code flag.
func deadCodeConfidence(sym parsers.ParsedSymbol, indirect map[string]bool) string {
	if indirect[sym.Name] || isCallbackName(sym.Name) {
		return "low"
	}
	if sym.IsExported {
		return "medium"
	}
	return "high"
}

// isCallbackName matches naming conventions for handlers registered through
// function pointers.
func isCallbackName(name string) bool {
	for _, suffix := range []string{"_cb", "_callback", "_handler"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return strings.HasPrefix(name, "on_")
}
