package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/archgraph/internal/resolve"
)

// allEnvVars lists every variable Load reads; each test starts from a clean slate.
var allEnvVars = []string{
	"ARCHGRAPH_STORE", "ARCHGRAPH_DATABASE_URL",
	"ARCHGRAPH_NEO4J_URI", "ARCHGRAPH_NEO4J_USER", "ARCHGRAPH_NEO4J_PASSWORD", "ARCHGRAPH_NEO4J_DATABASE",
	"ARCHGRAPH_HTTP_ADDR", "ARCHGRAPH_NATS_URL", "ARCHGRAPH_AUTH_TOKEN",
	"ARCHGRAPH_INGEST_WORKERS", "ARCHGRAPH_CONFLICT_POLICY", "ARCHGRAPH_UNRESOLVED_POLICY",
	"ARCHGRAPH_PROJECT_FILE", "ARCHGRAPH_EXPLAIN_MAX_DEPTH", "ARCHGRAPH_EXPLAIN_TIMEOUT",
	"ARCHGRAPH_SYNC_INTERVAL", "ARCHGRAPH_SYNC_S3_BUCKET", "ARCHGRAPH_SYNC_S3_ENDPOINT",
	"ARCHGRAPH_SYNC_S3_REGION", "ARCHGRAPH_SYNC_S3_KEY", "ARCHGRAPH_SYNC_GIT_REPO",
	"ARCHGRAPH_SYNC_GIT_FILE", "ARCHGRAPH_SYNC_GIT_BRANCH",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantStore    string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "DefaultPostgres",
			env:          map[string]string{"ARCHGRAPH_DATABASE_URL": "postgres://localhost/archgraph"},
			wantStore:    StorePostgres,
			wantHTTPAddr: ":8080",
		},
		{
			name:    "Neo4jWithoutURI",
			env:     map[string]string{"ARCHGRAPH_STORE": "neo4j"},
			wantErr: true,
		},
		{
			name: "Neo4j",
			env: map[string]string{
				"ARCHGRAPH_STORE":     "neo4j",
				"ARCHGRAPH_NEO4J_URI": "neo4j://localhost:7687",
				"ARCHGRAPH_HTTP_ADDR": ":3000",
				"ARCHGRAPH_NATS_URL":  "nats://localhost:4222",
			},
			wantStore:    StoreNeo4j,
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name:         "Memory",
			env:          map[string]string{"ARCHGRAPH_STORE": "memory"},
			wantStore:    StoreMemory,
			wantHTTPAddr: ":8080",
		},
		{
			name:    "UnknownStore",
			env:     map[string]string{"ARCHGRAPH_STORE": "badger"},
			wantErr: true,
		},
		{
			name: "UnknownConflictPolicy",
			env: map[string]string{
				"ARCHGRAPH_STORE":           "memory",
				"ARCHGRAPH_CONFLICT_POLICY": "random",
			},
			wantErr: true,
		},
		{
			name: "NegativeWorkers",
			env: map[string]string{
				"ARCHGRAPH_STORE":          "memory",
				"ARCHGRAPH_INGEST_WORKERS": "-1",
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Store != tc.wantStore {
				t.Errorf("Store = %q, want %q", cfg.Store, tc.wantStore)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadIngestDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ARCHGRAPH_STORE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ConflictPolicy != resolve.FirstWins || cfg.UnresolvedPolicy != resolve.ReportUnresolved {
		t.Errorf("policies = %q/%q", cfg.ConflictPolicy, cfg.UnresolvedPolicy)
	}
	if cfg.IngestWorkers != 0 {
		t.Errorf("IngestWorkers = %d, want 0", cfg.IngestWorkers)
	}
	if cfg.ExplainMaxDepth != 3 || cfg.ExplainTimeout != 10*time.Second {
		t.Errorf("explain = %d/%v", cfg.ExplainMaxDepth, cfg.ExplainTimeout)
	}
	if cfg.Neo4jDatabase != "neo4j" {
		t.Errorf("Neo4jDatabase = %q", cfg.Neo4jDatabase)
	}
}

func TestLoadIngestCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ARCHGRAPH_STORE", "memory")
	t.Setenv("ARCHGRAPH_INGEST_WORKERS", "8")
	t.Setenv("ARCHGRAPH_CONFLICT_POLICY", "last-wins")
	t.Setenv("ARCHGRAPH_UNRESOLVED_POLICY", "count")
	t.Setenv("ARCHGRAPH_EXPLAIN_MAX_DEPTH", "5")
	t.Setenv("ARCHGRAPH_EXPLAIN_TIMEOUT", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.IngestWorkers != 8 {
		t.Errorf("IngestWorkers = %d", cfg.IngestWorkers)
	}
	if cfg.ConflictPolicy != resolve.LastWins || cfg.UnresolvedPolicy != resolve.CountUnresolved {
		t.Errorf("policies = %q/%q", cfg.ConflictPolicy, cfg.UnresolvedPolicy)
	}
	if cfg.ExplainMaxDepth != 5 || cfg.ExplainTimeout != 2*time.Second {
		t.Errorf("explain = %d/%v", cfg.ExplainMaxDepth, cfg.ExplainTimeout)
	}
}

func TestLoadSyncDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ARCHGRAPH_DATABASE_URL", "postgres://localhost/archgraph")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SyncInterval != 10*time.Minute {
		t.Errorf("SyncInterval = %v, want 10m", cfg.SyncInterval)
	}
	if cfg.SyncS3Region != "us-east-1" {
		t.Errorf("SyncS3Region = %q, want %q", cfg.SyncS3Region, "us-east-1")
	}
	if cfg.SyncS3Key != "archgraph/graph.jsonl" {
		t.Errorf("SyncS3Key = %q", cfg.SyncS3Key)
	}
	if cfg.SyncGitFile != "graph.jsonl" {
		t.Errorf("SyncGitFile = %q", cfg.SyncGitFile)
	}
	if cfg.SyncGitBranch != "main" {
		t.Errorf("SyncGitBranch = %q, want %q", cfg.SyncGitBranch, "main")
	}
	if cfg.SyncEnabled() {
		t.Error("SyncEnabled with no destination")
	}
}

func TestLoadSyncCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ARCHGRAPH_DATABASE_URL", "postgres://localhost/archgraph")
	t.Setenv("ARCHGRAPH_SYNC_INTERVAL", "1h")
	t.Setenv("ARCHGRAPH_SYNC_S3_BUCKET", "my-bucket")
	t.Setenv("ARCHGRAPH_SYNC_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("ARCHGRAPH_SYNC_GIT_REPO", "/tmp/repo")
	t.Setenv("ARCHGRAPH_SYNC_GIT_BRANCH", "backup")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SyncInterval != time.Hour {
		t.Errorf("SyncInterval = %v, want 1h", cfg.SyncInterval)
	}
	if cfg.SyncS3Bucket != "my-bucket" || cfg.SyncS3Endpoint != "http://minio:9000" {
		t.Errorf("S3 = %q %q", cfg.SyncS3Bucket, cfg.SyncS3Endpoint)
	}
	if cfg.SyncGitRepo != "/tmp/repo" || cfg.SyncGitBranch != "backup" {
		t.Errorf("git = %q %q", cfg.SyncGitRepo, cfg.SyncGitBranch)
	}
	if !cfg.SyncEnabled() {
		t.Error("SyncEnabled = false")
	}
}

func TestLoadSyncInvalidInterval(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ARCHGRAPH_DATABASE_URL", "postgres://localhost/archgraph")
	t.Setenv("ARCHGRAPH_SYNC_INTERVAL", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid ARCHGRAPH_SYNC_INTERVAL")
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}

func writeProject(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archgraph.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write project file: %v", err)
	}
	return path
}

func TestLoadProject(t *testing.T) {
	path := writeProject(t, `
name = "shop"

[[scope]]
include = "src/main/**"

[[scope]]
exclude = "**/generated/**"

[roles]
Gateway = "gateway"
Component = ""
`)

	p, err := LoadProject(path)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if p.Name != "shop" || len(p.Scope) != 2 {
		t.Fatalf("project = %+v", p)
	}

	f, err := p.Filter()
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !f.Allows("src/main/a/A.java") || f.Allows("src/main/generated/G.java") || f.Allows("src/test/T.java") {
		t.Error("scope rules not applied in order")
	}

	roles := p.Classifier().Classify([]string{"Gateway", "Component", "Service"})
	if strings.Join(roles, ",") != "gateway,service" {
		t.Errorf("roles = %v", roles)
	}
}

func TestLoadProject_Errors(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
	}{
		{"Syntax", "name = "},
		{"UnknownKey", "name = \"x\"\n[[scope]]\ninclud = \"src/**\"\n"},
		{"BothPatterns", "[[scope]]\ninclude = \"a/**\"\nexclude = \"b/**\"\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadProject(writeProject(t, tc.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := LoadProject(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestNilProject(t *testing.T) {
	var p *Project
	f, err := p.Filter()
	if err != nil || !f.Empty() {
		t.Fatalf("nil project filter = %v, %v", f, err)
	}
	if roles := p.Classifier().Classify([]string{"Service"}); len(roles) != 1 {
		t.Errorf("roles = %v", roles)
	}
}
