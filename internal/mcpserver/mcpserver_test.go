package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alfredjeanlab/archgraph/internal/client"
	"github.com/alfredjeanlab/archgraph/internal/ingest"
	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/server"
	"github.com/alfredjeanlab/archgraph/internal/store/memory"
	"github.com/alfredjeanlab/archgraph/internal/traverse"
)

const userServiceJSONL = `{"type":"class","unit":"UserService.java","data":{"full_name":"com.acme.UserService","annotations":["RestController"]}}
{"type":"method","unit":"UserService.java","data":{"class_name":"com.acme.UserService","signature":"getUsers()"}}
{"type":"exposure","unit":"UserService.java","data":{"class_name":"com.acme.UserService","signature":"getUsers()","http_method":"GET","path":"/api/users"}}
`

// newBackend starts an archgraph server over a seeded memory store and
// returns a client for it.
func newBackend(t *testing.T) *client.HTTPClient {
	t.Helper()
	s := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gs := server.NewGraphServer(s, ingest.New(s, ingest.WithLogger(logger)), traverse.New(s), server.WithLogger(logger))
	srv := httptest.NewServer(gs.NewHTTPHandler(""))
	t.Cleanup(srv.Close)

	c := client.NewHTTPClient(srv.URL, "")
	if _, err := c.Ingest(context.Background(), strings.NewReader(userServiceJSONL), false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return c
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content items = %d, want 1", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestExplain(t *testing.T) {
	s := New(newBackend(t), "test")

	res, _, err := s.explain(context.Background(), nil, ExplainArgs{Root: "com.acme.UserService", Depth: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	var sg model.Subgraph
	if err := json.Unmarshal([]byte(resultText(t, res)), &sg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sg.CountKind(model.KindEndpoint) != 1 {
		t.Errorf("endpoints = %d, want 1", sg.CountKind(model.KindEndpoint))
	}
}

func TestExplain_LowerCaseEdgeTypes(t *testing.T) {
	s := New(newBackend(t), "test")

	res, _, _ := s.explain(context.Background(), nil, ExplainArgs{
		Root:      "com.acme.UserService",
		EdgeTypes: []string{"has_method"},
	})
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}
	var sg model.Subgraph
	if err := json.Unmarshal([]byte(resultText(t, res)), &sg); err != nil {
		t.Fatal(err)
	}
	if len(sg.Nodes) != 2 {
		t.Errorf("nodes = %d, want class and method", len(sg.Nodes))
	}
}

func TestExplain_Errors(t *testing.T) {
	s := New(newBackend(t), "test")

	res, _, _ := s.explain(context.Background(), nil, ExplainArgs{})
	if !res.IsError || resultText(t, res) != "root is required" {
		t.Errorf("empty root: %+v", res)
	}

	res, _, _ = s.explain(context.Background(), nil, ExplainArgs{Root: "com.acme.Missing"})
	if !res.IsError || !strings.Contains(resultText(t, res), "list_entities") {
		t.Errorf("unknown root: %s", resultText(t, res))
	}
}

func TestListEntities(t *testing.T) {
	s := New(newBackend(t), "test")

	res, _, _ := s.listEntities(context.Background(), nil, ListEntitiesArgs{Kind: "Endpoint"})
	var page traverse.Page
	if err := json.Unmarshal([]byte(resultText(t, res)), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Entities[0].Key != "GET /api/users" {
		t.Errorf("page = %+v", page)
	}

	res, _, _ = s.listEntities(context.Background(), nil, ListEntitiesArgs{Search: "nothing-matches"})
	if resultText(t, res) != "No entities found." {
		t.Errorf("empty listing = %q", resultText(t, res))
	}
}

func TestShowEntityAndStats(t *testing.T) {
	s := New(newBackend(t), "test")

	res, _, _ := s.showEntity(context.Background(), nil, ShowEntityArgs{Key: "com.acme.UserService"})
	var n model.Node
	if err := json.Unmarshal([]byte(resultText(t, res)), &n); err != nil {
		t.Fatal(err)
	}
	if !n.HasLabel("controller") {
		t.Errorf("labels = %v", n.Labels)
	}

	res, _, _ = s.graphStats(context.Background(), nil, GraphStatsArgs{})
	var stats model.GraphStats
	if err := json.Unmarshal([]byte(resultText(t, res)), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalNodes() != 3 {
		t.Errorf("nodes = %d", stats.TotalNodes())
	}
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	s := New(newBackend(t), "test")

	ct, st := mcp.NewInMemoryTransports()
	ss, err := s.MCP().Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	c := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := c.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "explain,graph_stats,list_entities,show_entity" {
		t.Errorf("tools = %v", names)
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "show_entity",
		Arguments: map[string]any{"key": "GET /api/users"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || !strings.Contains(resultText(t, res), `"kind": "endpoint"`) {
		t.Errorf("show_entity = %s", resultText(t, res))
	}
}
