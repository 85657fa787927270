// Package neo4j implements the store.Store interface on a Neo4j database.
//
// Every entity is a node labeled :Entity plus its kind label (:Class,
// :Method or :Endpoint), addressed by its natural key. Edges are
// relationships whose type is the edge type. Generations are :Generation
// nodes numbered by a single :GenerationCounter.
package neo4j

import (
	"context"
	"fmt"
	"sync"
	"time"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/store"
)

// schema is applied on startup. Each statement is idempotent.
var schema = []string{
	`CREATE CONSTRAINT entity_key IF NOT EXISTS FOR (n:Entity) REQUIRE n.key IS UNIQUE`,
	`CREATE CONSTRAINT generation_number IF NOT EXISTS FOR (g:Generation) REQUIRE g.number IS UNIQUE`,
	`CREATE INDEX entity_kind IF NOT EXISTS FOR (n:Entity) ON (n.kind)`,
}

// Store implements store.Store backed by Neo4j.
type Store struct {
	driver   neo4jdrv.DriverWithContext
	database string

	// genMu orders generations against snapshots: a write transaction holds
	// it exclusively and a snapshot holds it shared for all of its queries.
	genMu sync.RWMutex
	now   func() time.Time
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string // empty selects the server default
}

// New connects to Neo4j, verifies connectivity and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	auth := neo4jdrv.NoAuth()
	if cfg.Username != "" {
		auth = neo4jdrv.BasicAuth(cfg.Username, cfg.Password, "")
	}
	driver, err := neo4jdrv.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify connectivity: %w", classify(err))
	}

	s := &Store{driver: driver, database: cfg.Database, now: time.Now}
	for _, stmt := range schema {
		_, err := neo4jdrv.ExecuteQuery(ctx, driver, stmt, nil,
			neo4jdrv.EagerResultTransformer,
			neo4jdrv.ExecuteQueryWithDatabase(cfg.Database))
		if err != nil {
			driver.Close(ctx)
			return nil, fmt.Errorf("apply schema: %w", classify(err))
		}
	}
	return s, nil
}

// Close closes the driver and its connection pool.
func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

// Ping checks that the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.driver.VerifyConnectivity(ctx))
}

// readTx runs fn in an explicit read transaction that is always rolled back.
func (s *Store) readTx(ctx context.Context, fn func(tx *txStore) error) error {
	session := s.driver.NewSession(ctx, neo4jdrv.SessionConfig{
		AccessMode:   neo4jdrv.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", classify(err))
	}
	defer tx.Close(ctx)

	return fn(&txStore{tx: tx, now: s.now})
}

// RunInTransaction runs fn in one explicit write transaction, committing on
// success and rolling back on error.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	session := s.driver.NewSession(ctx, neo4jdrv.SessionConfig{
		AccessMode:   neo4jdrv.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer tx.Close(ctx)

	if err := fn(&txStore{tx: tx, now: s.now}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

// Snapshot runs fn in a single read transaction. Neo4j transactions are
// read-committed, so a generation committed between two of fn's queries
// would be visible to the second one; fn therefore holds genMu shared and
// no generation commits until it returns.
func (s *Store) Snapshot(ctx context.Context, fn func(r store.Reader) error) error {
	return s.shared(func() error {
		return s.readTx(ctx, func(tx *txStore) error { return fn(tx) })
	})
}

func (s *Store) shared(fn func() error) error {
	s.genMu.RLock()
	defer s.genMu.RUnlock()
	return fn()
}

func (s *Store) GetNode(ctx context.Context, key string) (n *model.Node, err error) {
	err = s.readTx(ctx, func(tx *txStore) error {
		n, err = tx.GetNode(ctx, key)
		return err
	})
	return n, err
}

func (s *Store) Edges(ctx context.Context, key string, dir model.Direction, types []model.EdgeType) (edges []*model.Edge, err error) {
	err = s.readTx(ctx, func(tx *txStore) error {
		edges, err = tx.Edges(ctx, key, dir, types)
		return err
	})
	return edges, err
}

func (s *Store) ListNodes(ctx context.Context, filter model.NodeFilter) (nodes []*model.Node, total int, err error) {
	err = s.readTx(ctx, func(tx *txStore) error {
		nodes, total, err = tx.ListNodes(ctx, filter)
		return err
	})
	return nodes, total, err
}

func (s *Store) ListEdges(ctx context.Context, filter model.EdgeFilter) (edges []*model.Edge, err error) {
	err = s.readTx(ctx, func(tx *txStore) error {
		edges, err = tx.ListEdges(ctx, filter)
		return err
	})
	return edges, err
}

func (s *Store) Stats(ctx context.Context) (stats *model.GraphStats, err error) {
	err = s.readTx(ctx, func(tx *txStore) error {
		stats, err = tx.Stats(ctx)
		return err
	})
	return stats, err
}

func (s *Store) LatestGeneration(ctx context.Context) (g *model.Generation, err error) {
	err = s.readTx(ctx, func(tx *txStore) error {
		g, err = tx.LatestGeneration(ctx)
		return err
	})
	return g, err
}

func (s *Store) ListGenerations(ctx context.Context, limit int) (gens []*model.Generation, err error) {
	err = s.readTx(ctx, func(tx *txStore) error {
		gens, err = tx.ListGenerations(ctx, limit)
		return err
	})
	return gens, err
}

func (s *Store) MergeNode(ctx context.Context, gen int64, node *model.Node) (id string, err error) {
	err = s.RunInTransaction(ctx, func(tx store.Tx) error {
		id, err = tx.MergeNode(ctx, gen, node)
		return err
	})
	return id, err
}

func (s *Store) MergeEdge(ctx context.Context, gen int64, edge *model.Edge) error {
	return s.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.MergeEdge(ctx, gen, edge)
	})
}

func (s *Store) PruneEdges(ctx context.Context, gen int64, sourceKey string) (n int, err error) {
	err = s.RunInTransaction(ctx, func(tx store.Tx) error {
		n, err = tx.PruneEdges(ctx, gen, sourceKey)
		return err
	})
	return n, err
}

func (s *Store) BeginGeneration(ctx context.Context, runID string) (g *model.Generation, err error) {
	err = s.RunInTransaction(ctx, func(tx store.Tx) error {
		g, err = tx.BeginGeneration(ctx, runID)
		return err
	})
	return g, err
}

func (s *Store) CommitGeneration(ctx context.Context, gen *model.Generation) error {
	return s.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.CommitGeneration(ctx, gen)
	})
}
