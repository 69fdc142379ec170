// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes specdex tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/workspace"
)

const formatURI = "specdex://element-format"

// Server wraps the MCP server with specdex tools.
type Server struct {
	mcp *server.MCPServer
	svc *workspace.Service
}

// New creates a new MCP server with all specdex tools registered.
func New(svc *workspace.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"specdex",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("lookup_element",
		mcp.WithDescription("Return one element by identifier: title, document, body, references, "+
			"backlinks and whether each reference resolves."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Element identifier, e.g. R:Purpose or T:12")),
	), s.lookupElement)

	s.mcp.AddTool(mcp.NewTool("list_elements",
		mcp.WithDescription("List elements in canonical order (document path, then position)."),
		mcp.WithString("document", mcp.Description("Optional document path filter")),
		mcp.WithString("kind", mcp.Description("Optional kind filter: requirement, component, data, interface, method, ui, task, test, or a prefix such as T:")),
	), s.listElements)

	s.mcp.AddTool(mcp.NewTool("search_elements",
		mcp.WithDescription("Rank elements by identifier and title. Identifier matches come first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default from config)")),
	), s.searchElements)

	s.mcp.AddTool(mcp.NewTool("get_references",
		mcp.WithDescription("List the identifiers an element references, in order of first occurrence."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Element identifier")),
	), s.getReferences)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("List the elements that reference an identifier, including undefined ones."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Target identifier")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("validate_workspace",
		mcp.WithDescription("List duplicate identifiers, unresolved references, documents that failed "+
			"to load and malformed headings."),
	), s.validateWorkspace)

	s.mcp.AddTool(mcp.NewTool("replace_body",
		mcp.WithDescription("Replace the body of an element and save the document. Every other byte "+
			"is kept. Read the contract first via the "+formatURI+" resource."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Element identifier")),
		mcp.WithString("body", mcp.Required(), mcp.Description("New body text, without the heading line")),
	), s.replaceBody)

	s.mcp.AddTool(mcp.NewTool("search_bodies",
		mcp.WithDescription("Full-text search through element bodies and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default from config)")),
	), s.searchBodies)

	// Resource: element format contract.
	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Element Format Contract",
			mcp.WithResourceDescription("How elements, identifiers and references are written."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError reports domain errors to the caller as tool errors. Only
// unexpected failures are returned as protocol errors.
func toolError(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperr.ErrInvalid),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrClosed):
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

func (s *Server) lookupElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.svc.GetElement(ctx, id)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(e)
}

func (s *Server) listElements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.ListElements(ctx, req.GetString("document", ""), req.GetString("kind", ""))
	if err != nil {
		return toolError(err)
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no elements found"), nil
	}
	var b strings.Builder
	for _, e := range items {
		fmt.Fprintf(&b, "%s\t%s:%d\t%s\n", e.ID, e.Document, e.Heading.StartLine+1, e.Title)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) searchElements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	matches := s.svc.Search(ctx, query, int(req.GetFloat("limit", 0)))
	if len(matches) == 0 {
		return mcp.NewToolResultText("no matching elements"), nil
	}
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", m.Element.ID, m.Tier, m.Element.Document, m.Element.Title)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) getReferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refs, err := s.svc.References(ctx, id)
	if err != nil {
		return toolError(err)
	}
	if len(refs) == 0 {
		return mcp.NewToolResultText("no references found"), nil
	}
	return mcp.NewToolResultText(joinIDs(refs)), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(ctx, id)
	if err != nil {
		return toolError(err)
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(joinIDs(bl)), nil
}

func (s *Server) validateWorkspace(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issues := s.svc.Validate(ctx)
	if len(issues) == 0 {
		return mcp.NewToolResultText("no issues found"), nil
	}
	lines := make([]string, len(issues))
	for i, is := range issues {
		lines[i] = is.Severity + ": " + is.String()
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) replaceBody(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.ReplaceBody(ctx, id, body)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated %s in %s\n\n%s", res.Identifier, res.Document, res.Diff)), nil
}

func (s *Server) searchBodies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.FullText(ctx, query, int(req.GetFloat("limit", 0)))
	if err != nil {
		return toolError(err)
	}
	return jsonResult(hits)
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     ElementFormatContract,
		},
	}, nil
}

func joinIDs[T fmt.Stringer](ids []T) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, "\n")
}
