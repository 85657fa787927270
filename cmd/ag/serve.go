package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/archgraph/internal/config"
	"github.com/alfredjeanlab/archgraph/internal/events"
	"github.com/alfredjeanlab/archgraph/internal/idgen"
	"github.com/alfredjeanlab/archgraph/internal/ingest"
	"github.com/alfredjeanlab/archgraph/internal/metrics"
	"github.com/alfredjeanlab/archgraph/internal/resolve"
	"github.com/alfredjeanlab/archgraph/internal/server"
	"github.com/alfredjeanlab/archgraph/internal/store"
	"github.com/alfredjeanlab/archgraph/internal/store/memory"
	"github.com/alfredjeanlab/archgraph/internal/store/neo4j"
	"github.com/alfredjeanlab/archgraph/internal/store/postgres"
	graphsync "github.com/alfredjeanlab/archgraph/internal/sync"
	"github.com/alfredjeanlab/archgraph/internal/traverse"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the archgraph HTTP server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create a client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		if backend, _ := cmd.Flags().GetString("store"); backend != "" {
			os.Setenv("ARCHGRAPH_STORE", backend)
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		project, err := loadServeProject(cfg.ProjectFile)
		if err != nil {
			return err
		}
		scopeFilter, err := project.Filter()
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		logger.Info("store opened", "backend", cfg.Store)

		if path, _ := cmd.Flags().GetString("restore"); path != "" {
			if err := restoreFrom(cmd.Context(), st, path, logger); err != nil {
				st.Close()
				return err
			}
		}

		// Create event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (ARCHGRAPH_NATS_URL not set)")
		}

		m := metrics.New()
		ingestor := ingest.New(st,
			ingest.WithWorkers(cfg.IngestWorkers),
			ingest.WithPolicy(resolve.Options{Conflict: cfg.ConflictPolicy, Unresolved: cfg.UnresolvedPolicy}),
			ingest.WithClassifier(project.Classifier()),
			ingest.WithPublisher(publisher),
			ingest.WithMetrics(m),
			ingest.WithLogger(logger),
		)
		engine := traverse.New(st, traverse.WithMetrics(m))
		graphServer := server.NewGraphServer(st, ingestor, engine,
			server.WithMetrics(m),
			server.WithScope(scopeFilter),
			server.WithExplainDefaults(traverse.Options{MaxDepth: cfg.ExplainMaxDepth, Timeout: cfg.ExplainTimeout}),
			server.WithLogger(logger),
		)

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           graphServer.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start sync scheduler if any destinations are configured.
		var scheduler *graphsync.Scheduler
		if cfg.SyncEnabled() {
			dests := syncDestinations(cmd.Context(), cfg, logger)
			if len(dests) > 0 {
				scheduler = graphsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
				scheduler.Start()
				logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
			}
		}

		logger.Info("archgraph server started",
			"http_addr", cfg.HTTPAddr,
			"store", cfg.Store,
			"conflict_policy", cfg.ConflictPolicy,
			"unresolved_policy", cfg.UnresolvedPolicy,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

func loadServeProject(path string) (*config.Project, error) {
	if path == "" {
		return nil, nil
	}
	return config.LoadProject(path)
}

// openStore connects to the configured backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StorePostgres:
		return postgres.New(cfg.DatabaseURL)
	case config.StoreNeo4j:
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return neo4j.New(connectCtx, neo4j.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
	}
	return nil, fmt.Errorf("unknown store %q (must be postgres, neo4j or memory)", cfg.Store)
}

// restoreFrom loads a JSONL export into st as one generation.
func restoreFrom(ctx context.Context, st store.Store, path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	g, err := graphsync.ReadJSONL(f)
	if err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	runID, err := idgen.RunID()
	if err != nil {
		return err
	}
	gen, err := graphsync.Restore(ctx, st, g, runID)
	if err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	logger.Info("graph restored", "path", path, "generation", gen.Number, "nodes", gen.Nodes, "edges", gen.Edges)
	return nil
}

func syncDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []graphsync.Destination {
	var dests []graphsync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := graphsync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, graphsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	return dests
}

func init() {
	serveCmd.Flags().String("store", "", "override ARCHGRAPH_STORE (postgres, neo4j, memory)")
	serveCmd.Flags().String("restore", "", "load a JSONL export into the store before serving")
}
