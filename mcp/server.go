// Package mcp provides the MCP (Model Context Protocol) server for apex-go.
//
// It exposes path search over call graphs and the run history to MCP
// clients.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/apex-go/internal/graph"
	"github.com/Benny93/apex-go/internal/ingestion"
	"github.com/Benny93/apex-go/internal/storage"
)

// Version is reported to clients during initialization.
var Version = "dev"

// Server represents the MCP server.
type Server struct {
	history storage.Backend
	logger  *slog.Logger
	server  *mcp.Server
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server. history may be nil, in which case the
// run tools report that no history is available.
func NewServer(history storage.Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		history: history,
		logger:  logger,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "apex-go",
		Version: Version,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "apex_find_path",
			Description: "Find a call path between two functions. The graph is given inline as an adjacency mapping or taken from a recorded run.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"start":    {Type: "string", Description: "Function the path starts at"},
					"end":      {Type: "string", Description: "Function the path ends at"},
					"strategy": {Type: "string", Enum: []any{"bfs", "dfs"}, Description: "Search strategy (default bfs)"},
					"graph": {
						Type:                 "object",
						Description:          "Adjacency mapping from function to its callees, in call order",
						AdditionalProperties: &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
					},
					"run":     {Type: "string", Description: "Run ID or unique prefix whose graph to search"},
					"stage":   {Type: "string", Enum: []any{"no_opt", "linked", "apex"}, Description: "Graph of the run to search (default linked)"},
					"compare": {Type: "boolean", Description: "Report the path found by both strategies"},
				},
				Required: []string{"start", "end"},
			},
		},
		{
			Name:        "apex_runs",
			Description: "List recent extraction runs, newest first.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"limit": {Type: "integer", Description: "Maximum number of runs"},
				},
			},
		},
		{
			Name:        "apex_run",
			Description: "Show one extraction run: stages, call path and pruned functions.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"id": {Type: "string", Description: "Run ID or unique prefix"},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        "apex_dead_code",
			Description: "List C functions in a source directory that the entry function never calls.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"dir":   {Type: "string", Description: "Source directory"},
					"entry": {Type: "string", Description: "Entry function (default main)"},
				},
				Required: []string{"dir"},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "apex://runs",
			Name:        "Run History",
			Description: "Recent extraction runs with their outcome",
			MimeType:    "text/markdown",
		},
		{
			URI:         "apex://latest",
			Name:        "Latest Run",
			Description: "Manifest of the most recent extraction run",
			MimeType:    "application/json",
		},
	}
}

type findPathArgs struct {
	Start    string          `json:"start"`
	End      string          `json:"end"`
	Strategy string          `json:"strategy"`
	Graph    json.RawMessage `json:"graph"`
	Run      string          `json:"run"`
	Stage    string          `json:"stage"`
	Compare  bool            `json:"compare"`
}

type runsArgs struct {
	Limit int `json:"limit"`
}

type runArgs struct {
	ID string `json:"id"`
}

type deadCodeArgs struct {
	Dir   string `json:"dir"`
	Entry string `json:"entry"`
}

// CallTool executes a tool with the given JSON arguments.
func (s *Server) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch name {
	case "apex_find_path":
		var a findPathArgs
		if err := decodeArgs(args, &a); err != nil {
			return "", err
		}
		return s.handleFindPath(ctx, a)
	case "apex_runs":
		var a runsArgs
		if err := decodeArgs(args, &a); err != nil {
			return "", err
		}
		if a.Limit <= 0 {
			a.Limit = 10
		}
		return s.handleRuns(ctx, a.Limit)
	case "apex_run":
		var a runArgs
		if err := decodeArgs(args, &a); err != nil {
			return "", err
		}
		return s.handleRun(ctx, a.ID)
	case "apex_dead_code":
		var a deadCodeArgs
		if err := decodeArgs(args, &a); err != nil {
			return "", err
		}
		if a.Entry == "" {
			a.Entry = "main"
		}
		return handleDeadCode(ctx, a.Dir, a.Entry)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "apex://runs":
		return s.handleRuns(ctx, 20)
	case "apex://latest":
		return s.latestManifest(ctx)
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Serve runs the server over stdin/stdout until the client disconnects or
// ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Run serves one session over transport.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if transport == nil {
		return errors.New("transport must not be nil")
	}
	s.logger.Info("mcp server started", "tools", len(s.ListTools()))
	return s.server.Run(ctx, transport)
}

// Tool Handlers

func (s *Server) handleFindPath(ctx context.Context, a findPathArgs) (string, error) {
	if a.Start == "" || a.End == "" {
		return "", errors.New("start and end are required")
	}

	g, source, err := s.resolveGraph(ctx, a)
	if err != nil {
		return "", err
	}

	strategies := []graph.Strategy{graph.BreadthFirst}
	if a.Strategy != "" {
		st, err := graph.ParseStrategy(a.Strategy)
		if err != nil {
			return "", err
		}
		strategies[0] = st
	}
	if a.Compare {
		strategies = []graph.Strategy{graph.BreadthFirst, graph.DepthFirst}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Call path %s -> %s\n\n", a.Start, a.End))
	sb.WriteString(fmt.Sprintf("Graph: %s (%d functions, %d calls)\n\n", source, g.NodeCount(), g.EdgeCount()))

	for _, st := range strategies {
		path, found, err := graph.FindPath(g, a.Start, a.End, st)
		if err != nil {
			return "", err
		}
		if !found {
			sb.WriteString(fmt.Sprintf("- %s: no path, %s is unreachable from %s\n", st, a.End, a.Start))
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s: `%s` (%d edges)\n", st, path, path.Edges()))
	}

	return sb.String(), nil
}

// resolveGraph loads the graph named by the arguments and describes where it
// came from.
func (s *Server) resolveGraph(ctx context.Context, a findPathArgs) (*graph.CallGraph, string, error) {
	if len(a.Graph) > 0 && string(a.Graph) != "null" {
		// JSON is valid YAML, and the YAML loader keeps key order.
		g, err := graph.Load(a.Graph, graph.FormatYAML)
		if err != nil {
			return nil, "", err
		}
		return g, "inline", nil
	}

	if a.Run == "" {
		return nil, "", errors.New("either graph or run is required")
	}
	if s.history == nil {
		return nil, "", errors.New("no run history available")
	}

	run, err := storage.ResolveRun(ctx, s.history, a.Run)
	if err != nil {
		return nil, "", err
	}
	stage := a.Stage
	if stage == "" {
		stage = "linked"
	}
	g, err := s.history.GetGraph(ctx, run.ID, stage)
	if err != nil {
		return nil, "", err
	}
	return g, fmt.Sprintf("run %s, %s", shortID(run.ID), stage), nil
}

func (s *Server) handleRuns(ctx context.Context, limit int) (string, error) {
	if s.history == nil {
		return "No run history available.", nil
	}

	runs, err := s.history.ListRuns(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "No runs recorded yet. Run `apex-go extract` first.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Recent runs (%d)\n\n", len(runs)))
	sb.WriteString("| ID | Started | Target | Status | Path |\n")
	sb.WriteString("|----|---------|--------|--------|------|\n")
	for _, r := range runs {
		status := string(r.Status)
		if r.FailedStage != "" {
			status += " (" + r.FailedStage + ")"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s:%d | %s | %s |\n",
			shortID(r.ID), r.StartedAt.Format("2006-01-02 15:04:05"), r.File, r.Line, status, graph.Path(r.Path)))
	}
	sb.WriteString("\nNext: Use `apex_run` with an ID for stage details.")

	return sb.String(), nil
}

func (s *Server) handleRun(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", errors.New("id is required")
	}
	if s.history == nil {
		return "No run history available.", nil
	}

	r, err := storage.ResolveRun(ctx, s.history, id)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Run %s\n\n", r.ID))
	sb.WriteString(fmt.Sprintf("**Source:** %s\n", r.Source))
	sb.WriteString(fmt.Sprintf("**Target:** %s:%d", r.File, r.Line))
	if r.TargetFunction != "" {
		sb.WriteString(fmt.Sprintf(" in `%s`", r.TargetFunction))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("**Status:** %s in %s\n", r.Status, r.Duration()))
	if r.Error != "" {
		sb.WriteString(fmt.Sprintf("**Error:** %s\n", r.Error))
	}

	sb.WriteString("\n### Stages\n\n")
	for _, st := range r.Stages {
		sb.WriteString(fmt.Sprintf("- %s: %s (%dms)", st.Name, st.Status, st.DurationMS))
		if st.Message != "" {
			sb.WriteString(" - " + st.Message)
		}
		sb.WriteString("\n")
	}

	if len(r.Path) > 0 {
		sb.WriteString(fmt.Sprintf("\n### Call path (%s)\n\n`%s`\n", r.Strategy, graph.Path(r.Path)))
		sb.WriteString(fmt.Sprintf("\n%d functions retained, %d pruned", len(r.Retained), len(r.Pruned)))
		if len(r.Pruned) > 0 {
			sb.WriteString(": " + strings.Join(r.Pruned, ", "))
		}
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

func handleDeadCode(ctx context.Context, dir, entry string) (string, error) {
	if dir == "" {
		return "", errors.New("dir is required")
	}

	idx, _, err := ingestion.IndexSources(ctx, dir, nil)
	if err != nil {
		return "", err
	}
	dead, err := ingestion.ProcessDeadCode(idx, entry)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Dead Code Report\n\n")
	if len(dead) == 0 {
		sb.WriteString(fmt.Sprintf("Every function in %s is reachable from `%s`.\n", dir, entry))
		return sb.String(), nil
	}

	sb.WriteString(fmt.Sprintf("Found %d functions unreachable from `%s`:\n\n", len(dead), entry))
	for _, d := range dead {
		sb.WriteString(fmt.Sprintf("- `%s` in %s:%d (confidence: %s)\n", d.Name, d.FilePath, d.StartLine, d.Confidence))
	}
	return sb.String(), nil
}

// Resource Handlers

func (s *Server) latestManifest(ctx context.Context) (string, error) {
	if s.history == nil {
		return "{}", nil
	}
	runs, err := s.history.ListRuns(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "{}", nil
	}
	data, err := json.MarshalIndent(runs[0], "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Helper functions

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// registerTools registers every tool of ListTools with the SDK server.
func (s *Server) registerTools() {
	for _, t := range s.ListTools() {
		name := t.Name
		s.server.AddTool(&mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text, err := s.CallTool(ctx, name, req.Params.Arguments)
			if err != nil {
				s.logger.Warn("tool call failed", "tool", name, "error", err)
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				}, nil
			}
			s.logger.Debug("tool call", "tool", name)
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: text}},
			}, nil
		})
	}
}

// registerResources registers every resource of ListResources with the SDK
// server.
func (s *Server) registerResources() {
	for _, r := range s.ListResources() {
		res := r
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, res.URI)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: res.URI, MIMEType: res.MimeType, Text: text}},
			}, nil
		})
	}
}
