// Package mcpserver exposes graph queries as Model Context Protocol tools,
// so an assistant can explain and browse the architecture graph.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alfredjeanlab/archgraph/internal/client"
	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/traverse"
)

// Backend answers the queries behind the tools. client.HTTPClient
// satisfies it.
type Backend interface {
	Explain(ctx context.Context, req *client.ExplainRequest) (*model.Subgraph, error)
	ListEntities(ctx context.Context, req *client.ListEntitiesRequest) (*traverse.Page, error)
	Show(ctx context.Context, key string) (*model.Node, error)
	Stats(ctx context.Context) (*model.GraphStats, error)
}

const usageGuidelines = `# archgraph

Entities are addressed by natural key:

- class: fully-qualified name, e.g. com.acme.UserService
- method: <class>#<signature>, e.g. com.acme.UserService#getUsers()
- endpoint: <HTTP method> <path>, e.g. GET /api/users

Use list_entities to find keys, then explain to walk CALLS, DEPENDS_ON,
EXPOSES_ENDPOINT and HAS_METHOD edges out from one entity.
`

// Arguments structs

type ExplainArgs struct {
	Root      string   `json:"root" jsonschema:"natural key of the entity to explain"`
	Depth     int      `json:"depth,omitempty" jsonschema:"maximum number of hops from the root (default 3)"`
	EdgeTypes []string `json:"edge_types,omitempty" jsonschema:"edge types to follow: CALLS, DEPENDS_ON, EXPOSES_ENDPOINT, HAS_METHOD"`
}

type ListEntitiesArgs struct {
	Kind    string `json:"kind,omitempty" jsonschema:"class, method or endpoint"`
	Label   string `json:"label,omitempty" jsonschema:"only entities carrying this label, e.g. controller"`
	Package string `json:"package,omitempty" jsonschema:"only entities in this package"`
	Search  string `json:"search,omitempty" jsonschema:"case-insensitive substring of the key or name"`
	Limit   int    `json:"limit,omitempty" jsonschema:"page size (default 100)"`
	Offset  int    `json:"offset,omitempty" jsonschema:"number of entities to skip"`
}

type ShowEntityArgs struct {
	Key string `json:"key" jsonschema:"natural key of the entity"`
}

type GraphStatsArgs struct{}

// Server is an MCP server over a Backend.
type Server struct {
	backend   Backend
	mcpServer *mcp.Server
}

// New returns a server with every tool and resource registered.
func New(b Backend, version string) *Server {
	s := &Server{
		backend:   b,
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: "archgraph", Version: version}, nil),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// Run serves MCP over stdin/stdout until ctx is done or the peer hangs up.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcpServer }

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "explain",
		Description: "Returns the bounded neighbourhood of an entity: the entities and relationships reachable within a number of hops",
	}, s.explain)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_entities",
		Description: "Lists classes, methods and endpoints in the graph, optionally filtered",
	}, s.listEntities)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "show_entity",
		Description: "Returns every recorded attribute of one entity",
	}, s.showEntity)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "graph_stats",
		Description: "Returns entity and relationship counts and the last committed generation",
	}, s.graphStats)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "archgraph://usage-guidelines",
		Name:        "Usage Guidelines",
		Description: "Key formats and query tips for the archgraph tools",
		MIMEType:    "text/markdown",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      "archgraph://usage-guidelines",
					MIMEType: "text/markdown",
					Text:     usageGuidelines,
				},
			},
		}, nil
	})
}

func (s *Server) explain(ctx context.Context, _ *mcp.CallToolRequest, args ExplainArgs) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Root) == "" {
		return errorResult("root is required"), nil, nil
	}
	req := &client.ExplainRequest{Root: args.Root, Depth: args.Depth}
	for _, t := range args.EdgeTypes {
		req.EdgeTypes = append(req.EdgeTypes, model.EdgeType(strings.ToUpper(strings.TrimSpace(t))))
	}
	sg, err := s.backend.Explain(ctx, req)
	if err != nil {
		return queryError(err), nil, nil
	}
	return jsonResult(sg), nil, nil
}

func (s *Server) listEntities(ctx context.Context, _ *mcp.CallToolRequest, args ListEntitiesArgs) (*mcp.CallToolResult, any, error) {
	req := &client.ListEntitiesRequest{
		Label:   args.Label,
		Package: args.Package,
		Search:  args.Search,
		Limit:   args.Limit,
		Offset:  args.Offset,
	}
	if args.Kind != "" {
		req.Kind = []model.Kind{model.Kind(strings.ToLower(args.Kind))}
	}
	page, err := s.backend.ListEntities(ctx, req)
	if err != nil {
		return queryError(err), nil, nil
	}
	if page.Total == 0 {
		return textResult("No entities found."), nil, nil
	}
	return jsonResult(page), nil, nil
}

func (s *Server) showEntity(ctx context.Context, _ *mcp.CallToolRequest, args ShowEntityArgs) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Key) == "" {
		return errorResult("key is required"), nil, nil
	}
	n, err := s.backend.Show(ctx, args.Key)
	if err != nil {
		return queryError(err), nil, nil
	}
	return jsonResult(n), nil, nil
}

func (s *Server) graphStats(ctx context.Context, _ *mcp.CallToolRequest, _ GraphStatsArgs) (*mcp.CallToolResult, any, error) {
	stats, err := s.backend.Stats(ctx)
	if err != nil {
		return queryError(err), nil, nil
	}
	return jsonResult(stats), nil, nil
}

// queryError turns a backend error into a tool error the model can act on.
func queryError(err error) *mcp.CallToolResult {
	if errors.Is(err, model.ErrEntityNotFound) {
		return errorResult(fmt.Sprintf("Entity not found (%v). Use list_entities to find valid keys.", err))
	}
	return errorResult(fmt.Sprintf("Query failed: %v", err))
}

func jsonResult(v any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err))
	}
	return textResult(string(b))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
