// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", classify(err))
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an already-open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

func (s *PostgresStore) GetNode(ctx context.Context, key string) (*model.Node, error) {
	return queryGetNode(ctx, s.db, key)
}

func (s *PostgresStore) Edges(ctx context.Context, key string, dir model.Direction, types []model.EdgeType) ([]*model.Edge, error) {
	return queryEdges(ctx, s.db, key, dir, types)
}

func (s *PostgresStore) ListNodes(ctx context.Context, filter model.NodeFilter) ([]*model.Node, int, error) {
	return queryListNodes(ctx, s.db, filter)
}

func (s *PostgresStore) ListEdges(ctx context.Context, filter model.EdgeFilter) ([]*model.Edge, error) {
	return queryListEdges(ctx, s.db, filter)
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.GraphStats, error) {
	return queryStats(ctx, s.db)
}

func (s *PostgresStore) LatestGeneration(ctx context.Context) (*model.Generation, error) {
	return queryLatestGeneration(ctx, s.db)
}

func (s *PostgresStore) ListGenerations(ctx context.Context, limit int) ([]*model.Generation, error) {
	return queryListGenerations(ctx, s.db, limit)
}

func (s *PostgresStore) MergeNode(ctx context.Context, gen int64, node *model.Node) (string, error) {
	return queryMergeNode(ctx, s.db, gen, node)
}

func (s *PostgresStore) MergeEdge(ctx context.Context, gen int64, edge *model.Edge) error {
	return queryMergeEdge(ctx, s.db, gen, edge)
}

func (s *PostgresStore) PruneEdges(ctx context.Context, gen int64, sourceKey string) (int, error) {
	return queryPruneEdges(ctx, s.db, gen, sourceKey)
}

func (s *PostgresStore) BeginGeneration(ctx context.Context, runID string) (*model.Generation, error) {
	return queryBeginGeneration(ctx, s.db, runID)
}

func (s *PostgresStore) CommitGeneration(ctx context.Context, gen *model.Generation) error {
	return queryCommitGeneration(ctx, s.db, gen)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

// Snapshot runs fn inside a read-only REPEATABLE READ transaction, so every
// read in fn sees the database as of the transaction's first statement.
func (s *PostgresStore) Snapshot(ctx context.Context, fn func(r store.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", classify(err))
	}
	defer tx.Rollback() //nolint:errcheck

	return fn(&txStore{tx: tx})
}

// txStore implements store.Tx using a *sql.Tx. Callers may merge from
// several goroutines; mu keeps each savepoint-guarded merge contiguous on
// the transaction's connection.
type txStore struct {
	tx *sql.Tx
	mu sync.Mutex
}

// Compile-time check that txStore implements store.Tx.
var _ store.Tx = (*txStore)(nil)

func (s *txStore) GetNode(ctx context.Context, key string) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryGetNode(ctx, s.tx, key)
}

func (s *txStore) Edges(ctx context.Context, key string, dir model.Direction, types []model.EdgeType) ([]*model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryEdges(ctx, s.tx, key, dir, types)
}

func (s *txStore) ListNodes(ctx context.Context, filter model.NodeFilter) ([]*model.Node, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryListNodes(ctx, s.tx, filter)
}

func (s *txStore) ListEdges(ctx context.Context, filter model.EdgeFilter) ([]*model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryListEdges(ctx, s.tx, filter)
}

func (s *txStore) Stats(ctx context.Context) (*model.GraphStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryStats(ctx, s.tx)
}

func (s *txStore) LatestGeneration(ctx context.Context) (*model.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryLatestGeneration(ctx, s.tx)
}

func (s *txStore) ListGenerations(ctx context.Context, limit int) ([]*model.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryListGenerations(ctx, s.tx, limit)
}

func (s *txStore) MergeNode(ctx context.Context, gen int64, node *model.Node) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryMergeNode(ctx, s.tx, gen, node)
}

// MergeEdge runs the merge under a savepoint: a unique-index violation
// would otherwise abort the whole generation's transaction.
func (s *txStore) MergeEdge(ctx context.Context, gen int64, edge *model.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.tx.ExecContext(ctx, `SAVEPOINT merge_edge`); err != nil {
		return classify(err)
	}
	if err := queryMergeEdge(ctx, s.tx, gen, edge); err != nil {
		if _, rbErr := s.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT merge_edge`); rbErr != nil {
			return classify(rbErr)
		}
		return err
	}
	_, err := s.tx.ExecContext(ctx, `RELEASE SAVEPOINT merge_edge`)
	return classify(err)
}

func (s *txStore) PruneEdges(ctx context.Context, gen int64, sourceKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryPruneEdges(ctx, s.tx, gen, sourceKey)
}

func (s *txStore) BeginGeneration(ctx context.Context, runID string) (*model.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryBeginGeneration(ctx, s.tx, runID)
}

func (s *txStore) CommitGeneration(ctx context.Context, gen *model.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryCommitGeneration(ctx, s.tx, gen)
}
