// Package metrics holds the prometheus collectors for ingestion runs and
// explain traversals.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

const namespace = "archgraph"

// Metrics is a set of collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	facts       prometheus.Counter
	issues      *prometheus.CounterVec
	graphNodes  *prometheus.GaugeVec
	graphEdges  *prometheus.GaugeVec
	generation  prometheus.Gauge

	explains        *prometheus.CounterVec
	explainDuration prometheus.Histogram
	explainNodes    prometheus.Histogram
}

// New registers the collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Labels: outcome (ok, failed)
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome",
		}, []string{"outcome"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall time of an ingestion run",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		facts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "facts_total",
			Help:      "Facts read by ingestion runs",
		}),
		// Labels: kind (malformed_entity, unresolved_reference, ...)
		issues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "issues_total",
			Help:      "Per-fact issues recorded by ingestion runs",
		}, []string{"kind"}),
		graphNodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "nodes",
			Help:      "Nodes merged by the last ingestion run",
		}, []string{"kind"}),
		graphEdges: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "edges",
			Help:      "Edges merged by the last ingestion run",
		}, []string{"type"}),
		generation: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "generation",
			Help:      "Number of the last committed generation",
		}),

		// Labels: outcome (ok, truncated, not_found, error)
		explains: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "explain",
			Name:      "requests_total",
			Help:      "Explain traversals by outcome",
		}, []string{"outcome"}),
		explainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "explain",
			Name:      "duration_seconds",
			Help:      "Explain traversal latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		explainNodes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "explain",
			Name:      "nodes",
			Help:      "Nodes returned per explain traversal",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun records a finished ingestion run. sum may be partial when err
// is set.
func (m *Metrics) ObserveRun(sum *model.RunSummary, err error) {
	if m == nil || sum == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.runs.WithLabelValues(outcome).Inc()
	if !sum.FinishedAt.IsZero() {
		m.runDuration.Observe(sum.FinishedAt.Sub(sum.StartedAt).Seconds())
	}
	m.facts.Add(float64(sum.Facts))
	for _, is := range sum.Issues {
		m.issues.WithLabelValues(string(is.Kind)).Inc()
	}
	if err != nil {
		return
	}
	for k, n := range sum.Nodes {
		m.graphNodes.WithLabelValues(string(k)).Set(float64(n))
	}
	for t, n := range sum.Edges {
		m.graphEdges.WithLabelValues(string(t)).Set(float64(n))
	}
	m.generation.Set(float64(sum.Generation))
}

// ObserveExplain records one explain traversal.
func (m *Metrics) ObserveExplain(d time.Duration, sg *model.Subgraph, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, model.ErrEntityNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	case sg != nil && sg.Truncated:
		outcome = "truncated"
	}
	m.explains.WithLabelValues(outcome).Inc()
	m.explainDuration.Observe(d.Seconds())
	if sg != nil {
		m.explainNodes.Observe(float64(len(sg.Nodes)))
	}
}
