package parsers

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

// CParser parses C source code using tree-sitter.
type CParser struct{}

// NewCParser creates a new C parser.
func NewCParser() *CParser {
	return &CParser{}
}

// Language returns the language this parser handles.
func (p *CParser) Language() string {
	return "c"
}

// Parse parses C source code and extracts function definitions, prototypes,
// includes and call sites.
func (p *CParser) Parse(filePath string, content []byte) (*ParseResult, error) {
	return p.ParseCtx(context.Background(), filePath, content)
}

// ParseCtx is Parse with cancellation.
func (p *CParser) ParseCtx(ctx context.Context, filePath string, content []byte) (*ParseResult, error) {
	// A parser per call keeps CParser safe for concurrent use.
	parser := sitter.NewParser()
	parser.SetLanguage(c.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parsing C code: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	result := &ParseResult{
		FilePath:  filePath,
		Symbols:   []ParsedSymbol{},
		Imports:   []ImportStatement{},
		Calls:     []CallSite{},
		HasErrors: root.HasError(),
	}

	p.walk(root, content, "", result)
	return result, nil
}

func (p *CParser) walk(node *sitter.Node, content []byte, caller string, result *ParseResult) {
	switch node.Type() {
	case "function_definition":
		if sym, ok := p.parseFunction(node, content); ok {
			result.Symbols = append(result.Symbols, sym)
			caller = sym.Name
		}
	case "declaration":
		if caller == "" {
			p.parsePrototypes(node, content, result)
		}
	case "preproc_include":
		p.parseInclude(node, content, result)
	case "call_expression":
		if call, ok := p.parseCall(node, content, caller); ok {
			result.Calls = append(result.Calls, call)
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		p.walk(node.NamedChild(i), content, caller, result)
	}
}

func (p *CParser) parseFunction(node *sitter.Node, content []byte) (ParsedSymbol, bool) {
	name := declaratorName(node.ChildByFieldName("declarator"), content)
	if name == "" {
		return ParsedSymbol{}, false
	}

	signature := node.Content(content)
	if body := node.ChildByFieldName("body"); body != nil {
		signature = string(content[node.StartByte():body.StartByte()])
	}

	return ParsedSymbol{
		Name:       name,
		Kind:       KindFunction,
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		Signature:  collapseSpace(signature),
		IsExported: !isStatic(node, content),
	}, true
}

func (p *CParser) parsePrototypes(node *sitter.Node, content []byte, result *ParseResult) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if !isFunctionDeclarator(child) {
			continue
		}
		name := declaratorName(child, content)
		if name == "" {
			continue
		}
		result.Symbols = append(result.Symbols, ParsedSymbol{
			Name:       name,
			Kind:       KindPrototype,
			StartLine:  int(node.StartPoint().Row) + 1,
			EndLine:    int(node.EndPoint().Row) + 1,
			Signature:  collapseSpace(strings.TrimSuffix(node.Content(content), ";")),
			IsExported: !isStatic(node, content),
		})
	}
}

func (p *CParser) parseInclude(node *sitter.Node, content []byte, result *ParseResult) {
	path := node.ChildByFieldName("path")
	if path == nil {
		return
	}
	text := path.Content(content)
	result.Imports = append(result.Imports, ImportStatement{
		ModulePath: strings.Trim(text, `"<>`),
		IsRelative: path.Type() == "string_literal",
		StartLine:  int(node.StartPoint().Row) + 1,
	})
}

func (p *CParser) parseCall(node *sitter.Node, content []byte, caller string) (CallSite, bool) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return CallSite{}, false
	}

	call := CallSite{
		Caller:    caller,
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}

	switch fn.Type() {
	case "identifier":
		call.Name = fn.Content(content)
	case "field_expression":
		field := fn.ChildByFieldName("field")
		if field == nil {
			return CallSite{}, false
		}
		call.Name = field.Content(content)
		if arg := fn.ChildByFieldName("argument"); arg != nil {
			call.Receiver = arg.Content(content)
		}
	case "parenthesized_expression":
		// (*fp)(x) or (fn)(x)
		inner := strings.Trim(fn.Content(content), "()* \t")
		if inner == "" || strings.ContainsAny(inner, " ()[]->.") {
			return CallSite{}, false
		}
		call.Name = inner
	default:
		return CallSite{}, false
	}

	return call, call.Name != ""
}

// declaratorName unwraps pointer, parenthesized and function declarators
// down to the declared identifier.
func declaratorName(node *sitter.Node, content []byte) string {
	for node != nil {
		switch node.Type() {
		case "identifier", "field_identifier":
			return node.Content(content)
		case "function_declarator", "pointer_declarator", "array_declarator",
			"attributed_declarator", "init_declarator":
			node = node.ChildByFieldName("declarator")
		case "parenthesized_declarator":
			if node.NamedChildCount() == 0 {
				return ""
			}
			node = node.NamedChild(0)
		default:
			return ""
		}
	}
	return ""
}

// isFunctionDeclarator reports whether a declaration's declarator declares a
// function rather than a variable or function pointer.
func isFunctionDeclarator(node *sitter.Node) bool {
	for node != nil {
		switch node.Type() {
		case "function_declarator":
			inner := node.ChildByFieldName("declarator")
			return inner != nil && inner.Type() == "identifier"
		case "pointer_declarator", "attributed_declarator":
			node = node.ChildByFieldName("declarator")
		default:
			return false
		}
	}
	return false
}

func isStatic(node *sitter.Node, content []byte) bool {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "storage_class_specifier" && child.Content(content) == "static" {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
