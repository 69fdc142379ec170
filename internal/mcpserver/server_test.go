package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/specdex/internal/fulltext"
	"github.com/starford/specdex/internal/storage"
	"github.com/starford/specdex/internal/testutil"
	"github.com/starford/specdex/internal/workspace"
)

const designDoc = "## R:Purpose\nBody text referencing C:Foo.\n\n## C:Foo\nImplements R:Purpose and D:Missing.\n"

func testServer(t *testing.T) (*Server, storage.Provider) {
	t.Helper()

	_, store := testutil.TestWorkspace(t, map[string]string{"design.md": designDoc})

	svc := workspace.NewService(store,
		workspace.WithLogger(testutil.DiscardLogger()),
		workspace.WithMirror(testutil.TestMirror(t)))
	t.Cleanup(func() { _ = svc.Close() })
	if _, err := svc.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	return New(svc, "test"), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "lookup_element":
		result, err = srv.lookupElement(ctx, req)
	case "list_elements":
		result, err = srv.listElements(ctx, req)
	case "search_elements":
		result, err = srv.searchElements(ctx, req)
	case "get_references":
		result, err = srv.getReferences(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "validate_workspace":
		result, err = srv.validateWorkspace(ctx, req)
	case "replace_body":
		result, err = srv.replaceBody(ctx, req)
	case "search_bodies":
		result, err = srv.searchBodies(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestLookupElement(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "lookup_element", map[string]interface{}{"id": "C:Foo"})
	if r.IsError {
		t.Fatalf("lookup failed: %s", resultText(r))
	}
	var e workspace.ElementDetail
	if err := json.Unmarshal([]byte(resultText(r)), &e); err != nil {
		t.Fatal(err)
	}
	if e.Document != "design.md" || e.Body != "Implements R:Purpose and D:Missing." {
		t.Errorf("element = %+v", e.Element)
	}
	if !e.Resolved["R:Purpose"] || e.Resolved["D:Missing"] {
		t.Errorf("resolved = %v", e.Resolved)
	}
}

func TestLookupElementErrors(t *testing.T) {
	srv, _ := testServer(t)

	for _, id := range []string{"C:Nope", "bogus"} {
		r := callTool(t, srv, "lookup_element", map[string]interface{}{"id": id})
		if !r.IsError {
			t.Errorf("expected tool error for %q", id)
		}
	}
	r := callTool(t, srv, "lookup_element", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected tool error for missing id")
	}
}

func TestListElements(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "list_elements", map[string]interface{}{})
	want := "R:Purpose\tdesign.md:1\tPurpose\nC:Foo\tdesign.md:4\tFoo\n"
	if text := resultText(r); text != want {
		t.Errorf("list = %q, want %q", text, want)
	}

	r = callTool(t, srv, "list_elements", map[string]interface{}{"kind": "task"})
	if text := resultText(r); text != "no elements found" {
		t.Errorf("task list = %q", text)
	}
}

func TestSearchElements(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "search_elements", map[string]interface{}{"query": "purpose", "limit": float64(5)})
	if text := resultText(r); !strings.HasPrefix(text, "R:Purpose\tid_prefix\tdesign.md") {
		t.Errorf("search = %q", text)
	}
}

func TestReferencesAndBacklinks(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "get_references", map[string]interface{}{"id": "C:Foo"})
	if text := resultText(r); text != "R:Purpose\nD:Missing" {
		t.Errorf("references = %q", text)
	}

	r = callTool(t, srv, "get_backlinks", map[string]interface{}{"id": "D:Missing"})
	if text := resultText(r); text != "C:Foo" {
		t.Errorf("backlinks = %q, want C:Foo", text)
	}

	r = callTool(t, srv, "get_backlinks", map[string]interface{}{"id": "T:1"})
	if text := resultText(r); text != "no backlinks found" {
		t.Errorf("backlinks = %q", text)
	}
}

func TestValidateWorkspace(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "validate_workspace", map[string]interface{}{})
	want := "warning: design.md:4: unresolved_reference: C:Foo references D:Missing, which is not defined"
	if text := resultText(r); text != want {
		t.Errorf("validate = %q, want %q", text, want)
	}
}

func TestReplaceBody(t *testing.T) {
	srv, store := testServer(t)

	r := callTool(t, srv, "replace_body", map[string]interface{}{"id": "R:Purpose", "body": "Rewritten."})
	if r.IsError {
		t.Fatalf("replace failed: %s", resultText(r))
	}
	if text := resultText(r); !strings.Contains(text, "+Rewritten.") {
		t.Errorf("replace result = %q", text)
	}
	data, _ := store.Read("design.md")
	want := "## R:Purpose\nRewritten.\n## C:Foo\nImplements R:Purpose and D:Missing.\n"
	if string(data) != want {
		t.Errorf("stored = %q, want %q", data, want)
	}

	r = callTool(t, srv, "get_backlinks", map[string]interface{}{"id": "C:Foo"})
	if text := resultText(r); text != "no backlinks found" {
		t.Errorf("backlinks after replace = %q", text)
	}
}

func TestReplaceBodyConflict(t *testing.T) {
	srv, store := testServer(t)
	_ = store.Write("design.md", []byte(designDoc+"\nchanged elsewhere\n"))

	r := callTool(t, srv, "replace_body", map[string]interface{}{"id": "R:Purpose", "body": "x"})
	if !r.IsError {
		t.Error("expected conflict tool error")
	}
}

func TestSearchBodies(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "search_bodies", map[string]interface{}{"query": "Implements"})
	var hits []fulltext.Hit
	if err := json.Unmarshal([]byte(resultText(r)), &hits); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	if len(hits) != 1 || hits[0].Identifier != "C:Foo" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestFormatResource(t *testing.T) {
	srv, _ := testServer(t)

	contents, err := srv.readFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != formatURI || !strings.Contains(tc.Text, "replace_body") {
		t.Errorf("resource = %+v", contents[0])
	}
}
