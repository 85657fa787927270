// Package sync periodically exports the committed graph to durable
// destinations such as an S3 bucket or a git repository.
package sync

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/archgraph/internal/store"
)

// Payload is one rendered export.
type Payload struct {
	Generation int64
	Data       []byte
}

// Destination is the interface for a sync target (S3, git, etc.).
type Destination interface {
	Name() string
	// Write sends the JSONL export to the destination.
	Write(ctx context.Context, p Payload) error
}

// Scheduler runs periodic syncs to one or more destinations. A tick whose
// latest generation was already delivered to every destination is skipped.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	// delivered is the last generation each destination accepted.
	delivered map[string]int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from the store to the given
// destinations at the specified interval.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		delivered:    make(map[string]int64),
	}
}

// Start begins periodic sync. It runs an initial sync immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current sync (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce exports the graph and writes it to every destination that has
// not yet received the current generation. It reports how many
// destinations were written.
func (s *Scheduler) SyncOnce(ctx context.Context) int {
	gen, err := s.store.LatestGeneration(ctx)
	if err != nil {
		s.logger.Error("sync: read latest generation", "err", err)
		return 0
	}
	if gen == nil {
		s.logger.Debug("sync skipped: no committed generation")
		return 0
	}

	var pending []Destination
	for _, d := range s.destinations {
		if last, ok := s.delivered[d.Name()]; !ok || last < gen.Number {
			pending = append(pending, d)
		}
	}
	if len(pending) == 0 {
		return 0
	}

	var buf bytes.Buffer
	h, err := ExportJSONL(ctx, s.store, &buf)
	if err != nil {
		s.logger.Error("sync export failed", "err", err)
		return 0
	}
	p := Payload{Generation: h.Generation, Data: buf.Bytes()}

	written := 0
	for _, d := range pending {
		if err := d.Write(ctx, p); err != nil {
			s.logger.Error("sync destination write failed", "destination", d.Name(), "err", err)
			continue
		}
		s.delivered[d.Name()] = p.Generation
		written++
	}

	s.logger.Info("sync completed", "generation", p.Generation, "destinations", written, "bytes", len(p.Data))
	return written
}
