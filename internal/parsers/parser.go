// Package parsers provides tree-sitter based source parsers.
package parsers

import (
	"path/filepath"
	"strings"
)

// SymbolKind classifies a parsed symbol.
type SymbolKind string

const (
	// KindFunction is a function definition with a body.
	KindFunction SymbolKind = "function"

	// KindPrototype is a function declaration without a body.
	KindPrototype SymbolKind = "prototype"
)

// ParsedSymbol represents a code entity extracted from source.
type ParsedSymbol struct {
	// Name is the function name
	Name string

	// Kind is the symbol kind
	Kind SymbolKind

	// StartLine is the starting line number (1-based)
	StartLine int

	// EndLine is the ending line number (1-based)
	EndLine int

	// Signature is the declaration up to the body
	Signature string

	// IsExported is false for functions with internal linkage (static)
	IsExported bool
}

// Contains reports whether line falls inside the symbol.
func (s ParsedSymbol) Contains(line int) bool {
	return line >= s.StartLine && line <= s.EndLine
}

// ImportStatement represents an #include directive.
type ImportStatement struct {
	// ModulePath is the included header
	ModulePath string

	// IsRelative is true for quoted includes, false for <system> includes
	IsRelative bool

	// StartLine is the line number of the directive
	StartLine int
}

// CallSite represents a function call.
type CallSite struct {
	// Name is the called function name
	Name string

	// Caller is the function the call appears in
	Caller string

	// Receiver is the struct expression for calls through a function
	// pointer field (s->fn(), s.fn())
	Receiver string

	// StartLine is the line number of the call
	StartLine int

	// EndLine is the ending line number
	EndLine int
}

// ParseResult contains all parsed information from a source file.
type ParseResult struct {
	// FilePath is the path the source was read from
	FilePath string

	// Symbols extracted from the file, in source order
	Symbols []ParsedSymbol

	// Imports found in the file
	Imports []ImportStatement

	// Call sites found in the file, in source order
	Calls []CallSite

	// HasErrors is set when the source contains syntax errors. Extraction
	// still runs on the recoverable parts of the tree.
	HasErrors bool
}

// FunctionAt returns the function definition enclosing line, or nil.
func (r *ParseResult) FunctionAt(line int) *ParsedSymbol {
	for i := range r.Symbols {
		s := &r.Symbols[i]
		if s.Kind == KindFunction && s.Contains(line) {
			return s
		}
	}
	return nil
}

// Function returns the definition of name, or nil.
func (r *ParseResult) Function(name string) *ParsedSymbol {
	for i := range r.Symbols {
		s := &r.Symbols[i]
		if s.Kind == KindFunction && s.Name == name {
			return s
		}
	}
	return nil
}

// CallsFrom returns the calls made inside caller, in source order.
func (r *ParseResult) CallsFrom(caller string) []CallSite {
	var out []CallSite
	for _, c := range r.Calls {
		if c.Caller == caller {
			out = append(out, c)
		}
	}
	return out
}

// Parser defines the interface for language-specific parsers.
type Parser interface {
	// Parse parses source code and extracts symbols, imports and calls
	Parse(filePath string, content []byte) (*ParseResult, error)

	// Language returns the language this parser handles
	Language() string
}

// Supported file extensions and their languages.
var supportedExtensions = map[string]string{
	".c": "c",
	".h": "c",
}

// LanguageFor returns the language of a file by extension, or "".
func LanguageFor(filename string) string {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ForLanguage returns a parser for language, or nil when none exists.
func ForLanguage(language string) Parser {
	switch language {
	case "c":
		return NewCParser()
	default:
		return nil
	}
}
