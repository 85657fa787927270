package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/archgraph/internal/facts"
	"github.com/alfredjeanlab/archgraph/internal/ingest"
	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/sync"
)

// MaxIngestBytes bounds a single ingestion request body.
const MaxIngestBytes = 256 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
func (s *GraphServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	mux.HandleFunc("GET /v1/explain", s.handleExplain)
	mux.HandleFunc("GET /v1/entities", s.handleListEntities)
	mux.HandleFunc("GET /v1/entity", s.handleGetEntity)
	mux.HandleFunc("GET /v1/stats", s.handleGetStats)
	mux.HandleFunc("GET /v1/generations", s.handleListGenerations)
	mux.HandleFunc("GET /v1/export", s.handleExport)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return RecoveryMiddleware(s.logger, LoggingMiddleware(s.logger, AuthMiddleware(authToken, mux)))
}

// handleHealth handles GET /v1/health. It reports 503 when the store
// cannot be reached.
func (s *GraphServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngest handles POST /v1/ingest. The body is a JSONL fact stream.
func (s *GraphServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	fullResync, err := boolParam(r, "full_resync")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body := http.MaxBytesReader(w, r.Body, MaxIngestBytes)
	batch, rejected, err := facts.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "fact stream too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if kept, dropped := s.scope.Apply(batch); dropped > 0 {
		s.logger.Info("facts out of scope", "dropped", dropped)
		batch = kept
	}

	sum, err := s.ingestor.Ingest(r.Context(), ingest.Request{
		Facts:      batch,
		Rejected:   rejected,
		FullResync: fullResync,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleExplain handles GET /v1/explain?root=&depth=&types=&max_nodes=&timeout=.
func (s *GraphServer) handleExplain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	root := q.Get("root")
	if root == "" {
		writeError(w, http.StatusBadRequest, "root is required")
		return
	}

	opts := s.explain
	var err error
	if v := q.Get("depth"); v != "" {
		if opts.MaxDepth, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "depth must be an integer")
			return
		}
	}
	if v := q.Get("max_nodes"); v != "" {
		if opts.MaxNodes, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "max_nodes must be an integer")
			return
		}
	}
	if v := q.Get("timeout"); v != "" {
		if opts.Timeout, err = time.ParseDuration(v); err != nil {
			writeError(w, http.StatusBadRequest, "timeout must be a duration such as 5s")
			return
		}
	}
	opts.EdgeTypes = nil
	for _, t := range splitList(q["types"]) {
		opts.EdgeTypes = append(opts.EdgeTypes, model.EdgeType(strings.ToUpper(t)))
	}

	sg, err := s.engine.Explain(r.Context(), root, opts)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

// handleListEntities handles GET /v1/entities.
func (s *GraphServer) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.NodeFilter{
		Label:   q.Get("label"),
		Package: q.Get("package"),
		Search:  q.Get("search"),
	}
	for _, k := range splitList(q["kind"]) {
		filter.Kind = append(filter.Kind, model.Kind(strings.ToLower(k)))
	}
	var err error
	if filter.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = intParam(r, "offset"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.engine.ListEntities(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleGetEntity handles GET /v1/entity?key=. Keys contain '/' and '#',
// so they travel as a query parameter rather than a path segment.
func (s *GraphServer) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	n, err := s.engine.Show(r.Context(), key)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleGetStats handles GET /v1/stats.
func (s *GraphServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(w, statusFor(err), "failed to get stats: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleListGenerations handles GET /v1/generations?limit=.
func (s *GraphServer) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	gens, err := s.engine.Generations(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if gens == nil {
		gens = []*model.Generation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"generations": gens})
}

// handleExport handles GET /v1/export. The export is streamed; an error
// after the first record can only be reported by truncating the body.
func (s *GraphServer) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := sync.ExportJSONL(r.Context(), s.store, w); err != nil {
		s.logger.Error("export failed", "err", err)
	}
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, inputError(fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, inputError(fmt.Sprintf("%s must be true or false", name))
	}
	return b, nil
}

// splitList flattens repeated and comma-separated query values.
func splitList(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
