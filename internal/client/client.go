// Package client provides a transport-agnostic interface for the archgraph
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"io"
	"time"

	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/traverse"
)

// GraphClient is the interface that all ag CLI commands use to communicate
// with the archgraph server.
type GraphClient interface {
	// Ingestion
	Ingest(ctx context.Context, facts io.Reader, fullResync bool) (*model.RunSummary, error)

	// Queries
	Explain(ctx context.Context, req *ExplainRequest) (*model.Subgraph, error)
	ListEntities(ctx context.Context, req *ListEntitiesRequest) (*traverse.Page, error)
	Show(ctx context.Context, key string) (*model.Node, error)
	Stats(ctx context.Context) (*model.GraphStats, error)
	Generations(ctx context.Context, limit int) ([]*model.Generation, error)

	// Export streams the committed graph as JSONL into w.
	Export(ctx context.Context, w io.Writer) error

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// ExplainRequest holds parameters for an explain traversal. Zero values
// leave the server's defaults in place.
type ExplainRequest struct {
	Root      string           `json:"root"`
	Depth     int              `json:"depth,omitempty"`
	EdgeTypes []model.EdgeType `json:"types,omitempty"`
	MaxNodes  int              `json:"max_nodes,omitempty"`
	Timeout   time.Duration    `json:"timeout,omitempty"`
}

// ListEntitiesRequest holds parameters for listing entities.
type ListEntitiesRequest struct {
	Kind    []model.Kind `json:"kind,omitempty"`
	Label   string       `json:"label,omitempty"`
	Package string       `json:"package,omitempty"`
	Search  string       `json:"search,omitempty"`
	Limit   int          `json:"limit,omitempty"`
	Offset  int          `json:"offset,omitempty"`
}
