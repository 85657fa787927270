package store

import (
	"context"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

// Reader is the read side of the graph store.
type Reader interface {
	// GetNode returns the node with the given natural key, or an error
	// wrapping model.ErrEntityNotFound.
	GetNode(ctx context.Context, key string) (*model.Node, error)
	// Edges returns the edges touching key in the given direction, limited
	// to types when types is non-empty, ordered by edge key.
	Edges(ctx context.Context, key string, dir model.Direction, types []model.EdgeType) ([]*model.Edge, error)
	ListNodes(ctx context.Context, filter model.NodeFilter) ([]*model.Node, int, error) // returns nodes, total count, error
	ListEdges(ctx context.Context, filter model.EdgeFilter) ([]*model.Edge, error)
	Stats(ctx context.Context) (*model.GraphStats, error)
	// LatestGeneration returns the last committed generation, or nil when
	// nothing has been committed.
	LatestGeneration(ctx context.Context) (*model.Generation, error)
	ListGenerations(ctx context.Context, limit int) ([]*model.Generation, error)
}

// Writer is the merge side of the graph store. Every write is a merge on
// the natural key (nodes) or edge key (edges), so replaying a batch is safe.
type Writer interface {
	// MergeNode inserts the node or updates its non-empty attributes and
	// returns the node's surrogate ID.
	MergeNode(ctx context.Context, gen int64, node *model.Node) (string, error)
	// MergeEdge inserts the edge or updates its metadata. It fails with
	// model.ErrConstraintViolation when an endpoint node is missing or an
	// endpoint would be exposed twice.
	MergeEdge(ctx context.Context, gen int64, edge *model.Edge) error
	// PruneEdges deletes the outgoing edges of sourceKey last merged before
	// gen, plus a stale EXPOSES_ENDPOINT edge into sourceKey: an endpoint is
	// owned by its handler and its handler by the endpoint. It backs full
	// re-sync runs.
	PruneEdges(ctx context.Context, gen int64, sourceKey string) (int, error)
	// BeginGeneration allocates the next generation number for a run.
	BeginGeneration(ctx context.Context, runID string) (*model.Generation, error)
	// CommitGeneration marks the generation committed and records its counts.
	CommitGeneration(ctx context.Context, gen *model.Generation) error
}

// Tx is the view of the store inside a transaction.
type Tx interface {
	Reader
	Writer
}

// Store defines the persistence interface for the architecture graph.
type Store interface {
	Reader
	Writer

	// RunInTransaction runs fn so that all of its writes become visible
	// together or not at all.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Snapshot runs fn against a consistent view of committed data. Writes
	// committed while fn runs are not observed.
	Snapshot(ctx context.Context, fn func(r Reader) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
