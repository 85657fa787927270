// Package memory implements store.Store in process memory.
//
// Committed data is an immutable state value. A transaction clones it,
// applies its merges to the clone, and on success swaps the committed
// pointer, so a snapshot is just the state pointer current when it began.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/archgraph/internal/idgen"
	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/store"
)

// Compile-time interface checks.
var (
	_ store.Store  = (*Store)(nil)
	_ store.Tx     = (*txStore)(nil)
	_ store.Reader = (*view)(nil)
)

// Store is an in-memory graph store.
type Store struct {
	mu        sync.RWMutex
	committed *state
	writeMu   sync.Mutex
	closed    atomic.Bool

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{committed: newState(), now: time.Now}
}

func (s *Store) current() (*state, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: memory store closed", model.ErrStoreUnavailable)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed, nil
}

// RunInTransaction applies fn to a private copy of the committed state and
// publishes the copy only if fn succeeds. Write transactions are serialized.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	base, err := s.current()
	if err != nil {
		return err
	}
	tx := &txStore{st: base.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return fmt.Errorf("%w: memory store closed", model.ErrStoreUnavailable)
	}
	s.mu.Lock()
	s.committed = tx.st
	s.mu.Unlock()
	return nil
}

// Snapshot runs fn against the state committed when it was called.
func (s *Store) Snapshot(ctx context.Context, fn func(r store.Reader) error) error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return fn(&view{st: st})
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.current()
	return err
}

// Close marks the store closed; later calls fail with ErrStoreUnavailable.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// --- Reader on committed state ---

func (s *Store) GetNode(ctx context.Context, key string) (*model.Node, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return (&view{st: st}).GetNode(ctx, key)
}

func (s *Store) Edges(ctx context.Context, key string, dir model.Direction, types []model.EdgeType) ([]*model.Edge, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return (&view{st: st}).Edges(ctx, key, dir, types)
}

func (s *Store) ListNodes(ctx context.Context, filter model.NodeFilter) ([]*model.Node, int, error) {
	st, err := s.current()
	if err != nil {
		return nil, 0, err
	}
	return (&view{st: st}).ListNodes(ctx, filter)
}

func (s *Store) ListEdges(ctx context.Context, filter model.EdgeFilter) ([]*model.Edge, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return (&view{st: st}).ListEdges(ctx, filter)
}

func (s *Store) Stats(ctx context.Context) (*model.GraphStats, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return (&view{st: st}).Stats(ctx)
}

func (s *Store) LatestGeneration(ctx context.Context) (*model.Generation, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return (&view{st: st}).LatestGeneration(ctx)
}

func (s *Store) ListGenerations(ctx context.Context, limit int) ([]*model.Generation, error) {
	st, err := s.current()
	if err != nil {
		return nil, err
	}
	return (&view{st: st}).ListGenerations(ctx, limit)
}

// --- Writer outside a transaction: each call is its own transaction ---

func (s *Store) MergeNode(ctx context.Context, gen int64, node *model.Node) (string, error) {
	var id string
	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		var err error
		id, err = tx.MergeNode(ctx, gen, node)
		return err
	})
	return id, err
}

func (s *Store) MergeEdge(ctx context.Context, gen int64, edge *model.Edge) error {
	return s.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.MergeEdge(ctx, gen, edge)
	})
}

func (s *Store) PruneEdges(ctx context.Context, gen int64, sourceKey string) (int, error) {
	var n int
	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.PruneEdges(ctx, gen, sourceKey)
		return err
	})
	return n, err
}

func (s *Store) BeginGeneration(ctx context.Context, runID string) (*model.Generation, error) {
	var g *model.Generation
	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		var err error
		g, err = tx.BeginGeneration(ctx, runID)
		return err
	})
	return g, err
}

func (s *Store) CommitGeneration(ctx context.Context, gen *model.Generation) error {
	return s.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.CommitGeneration(ctx, gen)
	})
}

// txStore is the working copy of one transaction. Merges from a worker
// pool may arrive concurrently, so every call takes mu.
type txStore struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func (t *txStore) view() *view { return &view{st: t.st} }

func (t *txStore) GetNode(ctx context.Context, key string) (*model.Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view().GetNode(ctx, key)
}

func (t *txStore) Edges(ctx context.Context, key string, dir model.Direction, types []model.EdgeType) ([]*model.Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view().Edges(ctx, key, dir, types)
}

func (t *txStore) ListNodes(ctx context.Context, filter model.NodeFilter) ([]*model.Node, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view().ListNodes(ctx, filter)
}

func (t *txStore) ListEdges(ctx context.Context, filter model.EdgeFilter) ([]*model.Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view().ListEdges(ctx, filter)
}

func (t *txStore) Stats(ctx context.Context) (*model.GraphStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view().Stats(ctx)
}

func (t *txStore) LatestGeneration(ctx context.Context) (*model.Generation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view().LatestGeneration(ctx)
}

func (t *txStore) ListGenerations(ctx context.Context, limit int) ([]*model.Generation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view().ListGenerations(ctx, limit)
}

func (t *txStore) MergeNode(ctx context.Context, gen int64, node *model.Node) (string, error) {
	if node == nil || node.Key == "" || !node.Kind.IsValid() {
		return "", fmt.Errorf("%w: node needs a key and a valid kind", model.ErrMalformedEntity)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.st.nodes[node.Key]; ok {
		if existing.Kind != node.Kind {
			return "", fmt.Errorf("%w: %s is a %s, not a %s",
				model.ErrConstraintViolation, node.Key, existing.Kind, node.Kind)
		}
		merged := existing.Clone()
		merged.Apply(node)
		merged.ID = existing.ID
		merged.Generation = gen
		t.st.nodes[node.Key] = merged
		return merged.ID, nil
	}

	id, err := idgen.NodeID(node.Kind)
	if err != nil {
		return "", err
	}
	n := node.Clone()
	n.ID = id
	n.Generation = gen
	t.st.nodes[n.Key] = n
	return id, nil
}

func (t *txStore) MergeEdge(ctx context.Context, gen int64, edge *model.Edge) error {
	if edge == nil || !edge.Type.IsValid() {
		return fmt.Errorf("%w: invalid edge", model.ErrMalformedEntity)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	fromKind, toKind := edge.Type.Endpoints()
	if n, ok := t.st.nodes[edge.From]; !ok || n.Kind != fromKind {
		return fmt.Errorf("%w: %s edge from unknown %s %s", model.ErrConstraintViolation, edge.Type, fromKind, edge.From)
	}
	if n, ok := t.st.nodes[edge.To]; !ok || n.Kind != toKind {
		return fmt.Errorf("%w: %s edge to unknown %s %s", model.ErrConstraintViolation, edge.Type, toKind, edge.To)
	}
	if edge.Type == model.EdgeExposesEndpoint {
		if owner, ok := t.st.exposedBy[edge.To]; ok && owner != edge.From {
			return fmt.Errorf("%w: %s already exposed by %s", model.ErrConstraintViolation, edge.To, owner)
		}
		if ep, ok := t.st.exposes[edge.From]; ok && ep != edge.To {
			return fmt.Errorf("%w: %s already exposes %s", model.ErrConstraintViolation, edge.From, ep)
		}
	}

	k := edge.Key()
	e := edge.Clone()
	if e.Type != model.EdgeDependsOn {
		e.FieldName = ""
	}
	if existing, ok := t.st.edges[k]; ok {
		if len(e.LineNumbers) == 0 {
			e.LineNumbers = append([]int(nil), existing.LineNumbers...)
		}
		if e.InjectionType == "" {
			e.InjectionType = existing.InjectionType
		}
	}
	e.Generation = gen
	t.st.putEdge(e)
	return nil
}

func (t *txStore) PruneEdges(ctx context.Context, gen int64, sourceKey string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []model.EdgeKey
	for k := range t.st.out[sourceKey] {
		if t.st.edges[k].Generation < gen {
			stale = append(stale, k)
		}
	}
	if handler, ok := t.st.exposedBy[sourceKey]; ok {
		k := model.EdgeKey{Type: model.EdgeExposesEndpoint, From: handler, To: sourceKey}
		if e, ok := t.st.edges[k]; ok && e.Generation < gen {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		t.st.deleteEdge(k)
	}
	return len(stale), nil
}

func (t *txStore) BeginGeneration(ctx context.Context, runID string) (*model.Generation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.st.lastGen++
	g := &model.Generation{Number: t.st.lastGen, RunID: runID, StartedAt: t.now().UTC()}
	t.st.generations = append(t.st.generations, g)
	c := *g
	return &c, nil
}

func (t *txStore) CommitGeneration(ctx context.Context, gen *model.Generation) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, g := range t.st.generations {
		if g.Number != gen.Number {
			continue
		}
		c := *gen
		now := t.now().UTC()
		c.CommittedAt = &now
		c.StartedAt = g.StartedAt
		t.st.generations[i] = &c
		return nil
	}
	return fmt.Errorf("%w: generation %d", model.ErrEntityNotFound, gen.Number)
}

// view reads a state. A committed state is never mutated, so a view of it
// needs no locking.
type view struct {
	st *state
}

func (v *view) GetNode(_ context.Context, key string) (*model.Node, error) {
	n, ok := v.st.nodes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrEntityNotFound, key)
	}
	return n.Clone(), nil
}

func (v *view) Edges(_ context.Context, key string, dir model.Direction, types []model.EdgeType) ([]*model.Edge, error) {
	index := v.st.out
	if dir == model.Incoming {
		index = v.st.in
	}
	filter := model.EdgeFilter{Types: types}
	var out []*model.Edge
	for k := range index[key] {
		e := v.st.edges[k]
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	model.SortEdges(out)
	return out, nil
}

func (v *view) ListNodes(_ context.Context, filter model.NodeFilter) ([]*model.Node, int, error) {
	keys := make([]string, 0, len(v.st.nodes))
	for k := range v.st.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var matched []*model.Node
	for _, k := range keys {
		if n := v.st.nodes[k]; filter.Matches(n) {
			matched = append(matched, n)
		}
	}
	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	out := make([]*model.Node, len(matched))
	for i, n := range matched {
		out[i] = n.Clone()
	}
	return out, total, nil
}

func (v *view) ListEdges(_ context.Context, filter model.EdgeFilter) ([]*model.Edge, error) {
	var out []*model.Edge
	for _, e := range v.st.edges {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	model.SortEdges(out)
	return out, nil
}

func (v *view) Stats(ctx context.Context) (*model.GraphStats, error) {
	stats := &model.GraphStats{
		Nodes: make(map[model.Kind]int),
		Edges: make(map[model.EdgeType]int),
	}
	for _, n := range v.st.nodes {
		stats.Nodes[n.Kind]++
	}
	for _, e := range v.st.edges {
		stats.Edges[e.Type]++
	}
	g, err := v.LatestGeneration(ctx)
	if err != nil {
		return nil, err
	}
	stats.Generation = g
	return stats, nil
}

func (v *view) LatestGeneration(_ context.Context) (*model.Generation, error) {
	for i := len(v.st.generations) - 1; i >= 0; i-- {
		if g := v.st.generations[i]; g.CommittedAt != nil {
			c := *g
			return &c, nil
		}
	}
	return nil, nil
}

func (v *view) ListGenerations(_ context.Context, limit int) ([]*model.Generation, error) {
	var out []*model.Generation
	for i := len(v.st.generations) - 1; i >= 0; i-- {
		g := v.st.generations[i]
		if g.CommittedAt == nil {
			continue
		}
		c := *g
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
