// Package server exposes ingestion and graph queries over HTTP/JSON.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/archgraph/internal/ingest"
	"github.com/alfredjeanlab/archgraph/internal/metrics"
	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/scope"
	"github.com/alfredjeanlab/archgraph/internal/store"
	"github.com/alfredjeanlab/archgraph/internal/traverse"
)

// GraphServer serves the archgraph API.
type GraphServer struct {
	store    store.Store
	ingestor *ingest.Ingestor
	engine   *traverse.Engine
	metrics  *metrics.Metrics
	scope    *scope.Filter
	logger   *slog.Logger

	// explain holds defaults for parameters a request leaves out.
	explain traverse.Options
}

// Option configures a GraphServer.
type Option func(*GraphServer)

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *GraphServer) { s.metrics = m }
}

// WithScope drops ingested facts whose unit is out of scope.
func WithScope(f *scope.Filter) Option {
	return func(s *GraphServer) { s.scope = f }
}

// WithExplainDefaults sets the depth and timeout used when a request does
// not specify them.
func WithExplainDefaults(o traverse.Options) Option {
	return func(s *GraphServer) { s.explain = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *GraphServer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewGraphServer returns a server over s. Ingestion goes through in and
// queries through e; both must use the same store.
func NewGraphServer(s store.Store, in *ingest.Ingestor, e *traverse.Engine, opts ...Option) *GraphServer {
	gs := &GraphServer{
		store:    s,
		ingestor: in,
		engine:   e,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(gs)
	}
	return gs
}

// inputError indicates invalid user input.
// Transport layers map this to 400.
type inputError string

func (e inputError) Error() string { return string(e) }

// statusFor maps an engine error to an HTTP status code.
func statusFor(err error) int {
	var ie inputError
	switch {
	case errors.As(err, &ie),
		errors.Is(err, traverse.ErrInvalidOption),
		errors.Is(err, model.ErrMalformedEntity):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
