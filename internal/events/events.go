package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

// Event topic constants
const (
	TopicIngestStarted       = "archgraph.ingest.started"
	TopicIngestCompleted     = "archgraph.ingest.completed"
	TopicIngestFailed        = "archgraph.ingest.failed"
	TopicGenerationCommitted = "archgraph.generation.committed"

	// TopicAll matches every archgraph topic.
	TopicAll = "archgraph.>"
)

// Event types

type IngestStarted struct {
	RunID      string    `json:"run_id"`
	Facts      int       `json:"facts"`
	FullResync bool      `json:"full_resync,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

type IngestCompleted struct {
	Summary *model.RunSummary `json:"summary"`
}

type IngestFailed struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

type GenerationCommitted struct {
	Generation *model.Generation `json:"generation"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
