package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alfredjeanlab/archgraph/internal/resolve"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreNeo4j    = "neo4j"
	StoreMemory   = "memory"
)

type Config struct {
	Store       string // ARCHGRAPH_STORE (default "postgres"; "neo4j", "memory")
	DatabaseURL string // ARCHGRAPH_DATABASE_URL (required for postgres)

	Neo4jURI      string // ARCHGRAPH_NEO4J_URI (required for neo4j)
	Neo4jUser     string // ARCHGRAPH_NEO4J_USER (empty = no auth)
	Neo4jPassword string // ARCHGRAPH_NEO4J_PASSWORD
	Neo4jDatabase string // ARCHGRAPH_NEO4J_DATABASE (default "neo4j")

	HTTPAddr  string // ARCHGRAPH_HTTP_ADDR (default ":8080")
	NATSURL   string // ARCHGRAPH_NATS_URL (optional, empty = no events)
	AuthToken string // ARCHGRAPH_AUTH_TOKEN (optional, empty = auth disabled)

	// Ingestion settings
	IngestWorkers    int                      // ARCHGRAPH_INGEST_WORKERS (default 0 = GOMAXPROCS)
	ConflictPolicy   resolve.ConflictPolicy   // ARCHGRAPH_CONFLICT_POLICY (default "first-wins")
	UnresolvedPolicy resolve.UnresolvedPolicy // ARCHGRAPH_UNRESOLVED_POLICY (default "report")
	ProjectFile      string                   // ARCHGRAPH_PROJECT_FILE (optional)

	// Explain settings
	ExplainMaxDepth int           // ARCHGRAPH_EXPLAIN_MAX_DEPTH (default 3)
	ExplainTimeout  time.Duration // ARCHGRAPH_EXPLAIN_TIMEOUT (default 10s)

	// Sync settings
	SyncInterval   time.Duration // ARCHGRAPH_SYNC_INTERVAL (default 10m; 0 = disabled)
	SyncS3Bucket   string        // ARCHGRAPH_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // ARCHGRAPH_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // ARCHGRAPH_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // ARCHGRAPH_SYNC_S3_KEY (default "archgraph/graph.jsonl")
	SyncGitRepo    string        // ARCHGRAPH_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // ARCHGRAPH_SYNC_GIT_FILE (default "graph.jsonl")
	SyncGitBranch  string        // ARCHGRAPH_SYNC_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		Store:            envOrDefault("ARCHGRAPH_STORE", StorePostgres),
		DatabaseURL:      os.Getenv("ARCHGRAPH_DATABASE_URL"),
		Neo4jURI:         os.Getenv("ARCHGRAPH_NEO4J_URI"),
		Neo4jUser:        os.Getenv("ARCHGRAPH_NEO4J_USER"),
		Neo4jPassword:    os.Getenv("ARCHGRAPH_NEO4J_PASSWORD"),
		Neo4jDatabase:    envOrDefault("ARCHGRAPH_NEO4J_DATABASE", "neo4j"),
		HTTPAddr:         envOrDefault("ARCHGRAPH_HTTP_ADDR", ":8080"),
		NATSURL:          os.Getenv("ARCHGRAPH_NATS_URL"),
		AuthToken:        os.Getenv("ARCHGRAPH_AUTH_TOKEN"),
		ConflictPolicy:   resolve.ConflictPolicy(envOrDefault("ARCHGRAPH_CONFLICT_POLICY", string(resolve.FirstWins))),
		UnresolvedPolicy: resolve.UnresolvedPolicy(envOrDefault("ARCHGRAPH_UNRESOLVED_POLICY", string(resolve.ReportUnresolved))),
		ProjectFile:      os.Getenv("ARCHGRAPH_PROJECT_FILE"),
		SyncS3Bucket:     os.Getenv("ARCHGRAPH_SYNC_S3_BUCKET"),
		SyncS3Endpoint:   os.Getenv("ARCHGRAPH_SYNC_S3_ENDPOINT"),
		SyncS3Region:     envOrDefault("ARCHGRAPH_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:        envOrDefault("ARCHGRAPH_SYNC_S3_KEY", "archgraph/graph.jsonl"),
		SyncGitRepo:      os.Getenv("ARCHGRAPH_SYNC_GIT_REPO"),
		SyncGitFile:      envOrDefault("ARCHGRAPH_SYNC_GIT_FILE", "graph.jsonl"),
		SyncGitBranch:    envOrDefault("ARCHGRAPH_SYNC_GIT_BRANCH", "main"),
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("ARCHGRAPH_DATABASE_URL is required for the postgres store")
		}
	case StoreNeo4j:
		if c.Neo4jURI == "" {
			return nil, fmt.Errorf("ARCHGRAPH_NEO4J_URI is required for the neo4j store")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("ARCHGRAPH_STORE: unknown store %q", c.Store)
	}

	if !c.ConflictPolicy.IsValid() {
		return nil, fmt.Errorf("ARCHGRAPH_CONFLICT_POLICY: unknown policy %q", c.ConflictPolicy)
	}
	if !c.UnresolvedPolicy.IsValid() {
		return nil, fmt.Errorf("ARCHGRAPH_UNRESOLVED_POLICY: unknown policy %q", c.UnresolvedPolicy)
	}

	var err error
	if c.IngestWorkers, err = envInt("ARCHGRAPH_INGEST_WORKERS", 0); err != nil {
		return nil, err
	}
	if c.ExplainMaxDepth, err = envInt("ARCHGRAPH_EXPLAIN_MAX_DEPTH", 3); err != nil {
		return nil, err
	}
	if c.ExplainTimeout, err = envDuration("ARCHGRAPH_EXPLAIN_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if c.SyncInterval, err = envDuration("ARCHGRAPH_SYNC_INTERVAL", "10m"); err != nil {
		return nil, err
	}

	return c, nil
}

// SyncEnabled reports whether any export destination is configured.
func (c *Config) SyncEnabled() bool {
	return c.SyncInterval > 0 && (c.SyncS3Bucket != "" || c.SyncGitRepo != "")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: want a non-negative integer, got %q", key, v)
	}
	return n, nil
}

func envDuration(key, fallback string) (time.Duration, error) {
	v := envOrDefault(key, fallback)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
