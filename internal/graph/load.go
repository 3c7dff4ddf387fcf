package graph

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Graph file formats understood by Load.
const (
	FormatYAML = "yaml"
	FormatDOT  = "dot"
)

// FormatForPath picks the graph file format from a file extension.
// JSON is read by the YAML decoder.
func FormatForPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return FormatYAML, nil
	case ".dot", ".gv":
		return FormatDOT, nil
	default:
		return "", fmt.Errorf("unsupported graph file %q (want .json, .yaml, .yml, .dot or .gv)", path)
	}
}

// LoadFile reads a call graph from disk, choosing the format from the file
// extension.
func LoadFile(path string) (*CallGraph, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	g, err := Load(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Load decodes a call graph in the given format.
//
// The YAML format (which also accepts JSON) is either a mapping from function
// name to callee list:
//
//	main: [x, a]
//	x: [y]
//
// or a list of entries:
//
//	- name: main
//	  successors: [x, a]
//
// Key order and callee order are kept exactly as written.
func Load(data []byte, format string) (*CallGraph, error) {
	switch format {
	case FormatDOT:
		return ParseDOT(data)
	case FormatYAML:
		return decodeYAML(data)
	default:
		return nil, fmt.Errorf("unknown graph format %q", format)
	}
}

func decodeYAML(data []byte) (*CallGraph, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewEmptyCallGraph(), nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	switch root.Kind {
	case yaml.MappingNode:
		return decodeMapping(root)
	case yaml.SequenceNode:
		var entries []Entry
		if err := root.Decode(&entries); err != nil {
			return nil, fmt.Errorf("failed to decode graph entries: %w", err)
		}
		for i, e := range entries {
			if e.Name == "" {
				return nil, fmt.Errorf("entry %d has no name", i)
			}
		}
		return FromEntries(entries), nil
	default:
		return nil, fmt.Errorf("graph must be a mapping or a list (line %d)", root.Line)
	}
}

func decodeMapping(root *yaml.Node) (*CallGraph, error) {
	g := NewEmptyCallGraph()
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: function name must be a string", key.Line)
		}

		var successors []string
		switch value.Kind {
		case yaml.SequenceNode:
			if err := value.Decode(&successors); err != nil {
				return nil, fmt.Errorf("line %d: callees of %q: %w", value.Line, key.Value, err)
			}
		case yaml.ScalarNode:
			// "leaf: null" or "leaf: ~" declares a function with no callees.
			if value.Tag != "!!null" {
				return nil, fmt.Errorf("line %d: callees of %q must be a list", value.Line, key.Value)
			}
		default:
			return nil, fmt.Errorf("line %d: callees of %q must be a list", value.Line, key.Value)
		}
		g.AddNode(key.Value, successors...)
	}
	return g, nil
}
