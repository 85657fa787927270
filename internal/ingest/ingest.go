// Package ingest turns a batch of facts into one committed graph generation.
//
// A run has two phases separated by a barrier. Phase 1 registers entities
// from every source unit in parallel. Once all workers finish, the registry
// is frozen and phase 2 resolves relationship facts against it, again one
// task per unit. The resolved graph is then merged into the store inside a
// single transaction, so readers see either the previous generation or the
// complete new one.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/archgraph/internal/classify"
	"github.com/alfredjeanlab/archgraph/internal/events"
	"github.com/alfredjeanlab/archgraph/internal/idgen"
	"github.com/alfredjeanlab/archgraph/internal/keylock"
	"github.com/alfredjeanlab/archgraph/internal/metrics"
	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/registry"
	"github.com/alfredjeanlab/archgraph/internal/resolve"
	"github.com/alfredjeanlab/archgraph/internal/store"
)

// Ingestor runs ingestion batches against a store. Runs are serialized;
// explain queries may proceed concurrently against the last committed
// generation.
type Ingestor struct {
	store      store.Store
	workers    int
	policy     resolve.Options
	classifier classify.Classifier
	publisher  events.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	locks      *keylock.Striped
	now        func() time.Time

	mu sync.Mutex
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithWorkers bounds the number of units processed concurrently per phase.
func WithWorkers(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.workers = n
		}
	}
}

// WithPolicy sets the conflict and unresolved-reference policies.
func WithPolicy(p resolve.Options) Option {
	return func(in *Ingestor) { in.policy = p }
}

// WithClassifier sets the annotation classifier used for class role labels.
func WithClassifier(c classify.Classifier) Option {
	return func(in *Ingestor) {
		if c != nil {
			in.classifier = c
		}
	}
}

// WithPublisher emits run lifecycle events on p.
func WithPublisher(p events.Publisher) Option {
	return func(in *Ingestor) {
		if p != nil {
			in.publisher = p
		}
	}
}

// WithMetrics records run outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Ingestor) { in.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingestor) {
		if l != nil {
			in.logger = l
		}
	}
}

// New returns an Ingestor writing to s.
func New(s store.Store, opts ...Option) *Ingestor {
	in := &Ingestor{
		store:      s,
		workers:    runtime.GOMAXPROCS(0),
		classifier: classify.New(nil),
		publisher:  &events.NoopPublisher{},
		logger:     slog.Default(),
		locks:      keylock.New(keylock.DefaultStripes),
		now:        time.Now,
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Request is one ingestion batch. Facts are in scan order.
type Request struct {
	Facts []*model.Fact
	// Rejected holds records that never became facts, such as lines the
	// decoder could not parse. They are reported in the summary.
	Rejected []model.Issue
	// FullResync prunes edges from entities seen in this batch that the
	// batch did not produce again.
	FullResync bool
}

// Ingest runs one batch and commits it as a new generation. Per-fact
// problems are recorded as issues in the summary; only an unavailable
// store or a cancelled context fails the run, in which case nothing from
// the batch is committed.
func (in *Ingestor) Ingest(ctx context.Context, req Request) (*model.RunSummary, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	runID, err := idgen.RunID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	sum := model.NewRunSummary(runID, in.now().UTC())
	sum.Facts = len(req.Facts) + len(req.Rejected)
	log := in.logger.With("run_id", runID)

	in.publish(ctx, events.TopicIngestStarted, events.IngestStarted{
		RunID:      runID,
		Facts:      len(req.Facts),
		FullResync: req.FullResync,
		StartedAt:  sum.StartedAt,
	})
	log.Info("ingest started", "facts", len(req.Facts), "full_resync", req.FullResync)

	gen, err := in.run(ctx, req, sum)
	sum.FinishedAt = in.now().UTC()
	in.metrics.ObserveRun(sum, err)
	if err != nil {
		log.Error("ingest failed", "err", err)
		in.publish(ctx, events.TopicIngestFailed, events.IngestFailed{RunID: runID, Error: err.Error()})
		return sum, err
	}

	log.Info("ingest committed",
		"generation", gen.Number,
		"nodes", sum.TotalNodes(),
		"edges", sum.TotalEdges(),
		"issues", len(sum.Issues),
		"duration", sum.FinishedAt.Sub(sum.StartedAt))
	in.publish(ctx, events.TopicGenerationCommitted, events.GenerationCommitted{Generation: gen})
	in.publish(ctx, events.TopicIngestCompleted, events.IngestCompleted{Summary: sum})
	return sum, nil
}

func (in *Ingestor) run(ctx context.Context, req Request, sum *model.RunSummary) (*model.Generation, error) {
	units := groupUnits(req.Facts)
	sum.Units = len(units)

	reg := registry.New()
	entityIssues, err := in.registerEntities(ctx, reg, units)
	if err != nil {
		return nil, err
	}
	// Barrier: every phase 1 worker has returned. Resolution needs the
	// complete entity set to bind forward references.
	reg.Freeze()

	res, err := in.resolveRelations(ctx, reg, units)
	if err != nil {
		return nil, err
	}

	issues := append([]model.Issue(nil), req.Rejected...)
	for _, unit := range entityIssues {
		issues = append(issues, unit...)
	}
	issues = append(issues, res.Issues...)

	gen, mergeIssues, err := in.merge(ctx, reg.Nodes(), res.Edges, req.FullResync, sum, len(issues))
	if err != nil {
		return nil, err
	}
	issues = append(issues, mergeIssues...)

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Seq != issues[j].Seq {
			return issues[i].Seq < issues[j].Seq
		}
		return issues[i].Message < issues[j].Message
	})
	for _, is := range issues {
		sum.AddIssue(is)
	}
	// The resolver also counts references it was told not to report.
	sum.Unresolved = res.Unresolved
	sum.Generation = gen.Number
	return gen, nil
}

// groupUnits groups facts by source unit, keeping units in order of first
// appearance. Facts without a scan position get their index in the batch.
func groupUnits(facts []*model.Fact) [][]*model.Fact {
	index := make(map[string]int)
	var units [][]*model.Fact
	for i, f := range facts {
		if f == nil {
			continue
		}
		cp := *f
		if cp.Seq <= 0 {
			cp.Seq = i + 1
		}
		idx, ok := index[cp.Unit]
		if !ok {
			idx = len(units)
			index[cp.Unit] = idx
			units = append(units, nil)
		}
		units[idx] = append(units[idx], &cp)
	}
	return units
}

// registerEntities is phase 1. Each unit's issues go to its own slot.
func (in *Ingestor) registerEntities(ctx context.Context, reg *registry.Registry, units [][]*model.Fact) ([][]model.Issue, error) {
	issues := make([][]model.Issue, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for i, unit := range units {
		g.Go(func() error {
			for _, f := range unit {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := in.registerFact(reg, f); err != nil {
					issues[i] = append(issues[i], issueFor(f, err))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("register entities: %w", err)
	}
	return issues, nil
}

// registerFact upserts the entities a fact declares or implies.
// Relationship facts other than exposures register nothing here.
func (in *Ingestor) registerFact(reg *registry.Registry, f *model.Fact) error {
	if err := f.Validate(); err != nil {
		return err
	}
	var nodes []*model.Node
	switch f.Type {
	case model.FactClass:
		n := f.Class.ClassNode()
		n.Labels = model.UnionStrings(n.Labels, in.classifier.Classify(f.Class.Annotations))
		nodes = append(nodes, n)
	case model.FactMethod:
		nodes = append(nodes, f.Method.OwnerNode(), f.Method.MethodNode())
	case model.FactEndpoint:
		nodes = append(nodes, f.Endpoint.EndpointNode())
	case model.FactExposure:
		nodes = append(nodes, f.Exposure.EndpointNode())
	}
	for _, n := range nodes {
		if _, err := reg.Upsert(n); err != nil {
			return err
		}
	}
	return nil
}

// resolveRelations is phase 2. Workers only read the frozen registry and
// write to their own result slot.
func (in *Ingestor) resolveRelations(ctx context.Context, reg *registry.Registry, units [][]*model.Fact) (*resolve.Result, error) {
	resolver := resolve.New(reg, in.policy)
	results := make([]resolve.UnitResult, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for i, unit := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = resolver.ResolveUnit(unit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve relations: %w", err)
	}
	return resolver.Reduce(results), nil
}

// merge writes nodes and edges as one generation. Merge failures that
// concern a single node or edge become issues; anything else aborts the
// transaction.
func (in *Ingestor) merge(ctx context.Context, nodes []*model.Node, edges []*model.Edge, fullResync bool, sum *model.RunSummary, priorIssues int) (*model.Generation, []model.Issue, error) {
	var (
		gen    *model.Generation
		mu     sync.Mutex
		issues []model.Issue
	)
	record := func(msg string, err error) {
		mu.Lock()
		defer mu.Unlock()
		issues = append(issues, model.Issue{Kind: model.IssueKindOf(err), Message: msg + ": " + err.Error()})
	}

	err := in.store.RunInTransaction(ctx, func(tx store.Tx) error {
		// Reset per attempt so a retried closure does not double count.
		issues = nil
		nodeCounts := make(map[model.Kind]int)
		edgeCounts := make(map[model.EdgeType]int)
		merged := make(map[string]bool, len(nodes))
		pruned := 0

		var err error
		gen, err = tx.BeginGeneration(ctx, sum.RunID)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(in.workers)
		for _, n := range nodes {
			g.Go(func() error {
				err := in.locks.Do(n.Key, func() error {
					_, err := tx.MergeNode(gctx, gen.Number, n)
					return err
				})
				if err != nil {
					if !recoverable(err) {
						return err
					}
					record("merge "+n.Key, err)
					return nil
				}
				mu.Lock()
				nodeCounts[n.Kind]++
				merged[n.Key] = true
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("merge nodes: %w", err)
		}

		// A full re-sync may move an exposure to another handler. Its merge
		// collides with the previous run's edge until that edge is pruned,
		// so such exposures wait for a second pass.
		var deferred []*model.Edge
		mergeEdges := func(batch []*model.Edge, deferConflicts bool) error {
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(in.workers)
			for _, e := range batch {
				g.Go(func() error {
					k := e.Key()
					err := in.locks.Do(k.String(), func() error {
						return tx.MergeEdge(gctx, gen.Number, e)
					})
					if err != nil {
						if !recoverable(err) {
							return err
						}
						if deferConflicts && e.Type == model.EdgeExposesEndpoint && errors.Is(err, model.ErrConstraintViolation) {
							mu.Lock()
							deferred = append(deferred, e)
							mu.Unlock()
							return nil
						}
						record("merge "+k.String(), err)
						return nil
					}
					mu.Lock()
					edgeCounts[e.Type]++
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return fmt.Errorf("merge edges: %w", err)
			}
			return nil
		}

		if err := mergeEdges(edges, fullResync); err != nil {
			return err
		}

		if fullResync {
			keys := make([]string, 0, len(merged))
			for k := range merged {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				n, err := tx.PruneEdges(ctx, gen.Number, k)
				if err != nil {
					return fmt.Errorf("prune edges: %w", err)
				}
				pruned += n
			}

			model.SortEdges(deferred)
			if err := mergeEdges(deferred, false); err != nil {
				return err
			}
		}

		gen.Nodes = len(merged)
		gen.Edges = 0
		for _, c := range edgeCounts {
			gen.Edges += c
		}
		gen.Issues = priorIssues + len(issues)
		if err := tx.CommitGeneration(ctx, gen); err != nil {
			return err
		}

		sum.Nodes = nodeCounts
		sum.Edges = edgeCounts
		sum.Pruned = pruned
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("merge generation: %w", err)
	}
	return gen, issues, nil
}

// recoverable reports whether a merge error concerns only the item being
// merged, as opposed to the store or the run as a whole.
func recoverable(err error) bool {
	if errors.Is(err, model.ErrStoreUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, model.ErrConstraintViolation) ||
		errors.Is(err, model.ErrMalformedEntity) ||
		errors.Is(err, model.ErrConflictingIdentity)
}

func issueFor(f *model.Fact, err error) model.Issue {
	return model.Issue{
		Kind:     model.IssueKindOf(err),
		Unit:     f.Unit,
		Seq:      f.Seq,
		FactType: f.Type,
		Message:  err.Error(),
	}
}

func (in *Ingestor) publish(ctx context.Context, topic string, event any) {
	if err := in.publisher.Publish(ctx, topic, event); err != nil {
		in.logger.Warn("publish event", "topic", topic, "err", err)
	}
}
