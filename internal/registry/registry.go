// Package registry holds the canonical entity set built during the first
// ingestion phase. Entities are keyed by natural key; upserts for the same
// key are serialized by the key's shard lock, and the registry is frozen
// before relationship resolution so that later reads need no locking.
package registry

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

const shardCount = 64

// Handle identifies the canonical entity returned by an upsert.
type Handle struct {
	Key     string
	Kind    model.Kind
	Created bool
}

type shard struct {
	mu    sync.Mutex
	nodes map[string]*model.Node
}

// Registry is a concurrency-safe set of canonical nodes.
type Registry struct {
	shards [shardCount]shard
	frozen atomic.Bool

	// Built by Freeze.
	byClass map[string][]*model.Node
	byName  map[string][]*model.Node
	sorted  []*model.Node
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].nodes = make(map[string]*model.Node)
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &r.shards[h.Sum32()%shardCount]
}

// Upsert inserts n or merges it into the existing node with the same key.
// Non-empty incoming attributes overwrite, label and modifier sets union.
// The registry keeps its own copy; n is not retained.
func (r *Registry) Upsert(n *model.Node) (Handle, error) {
	if r.frozen.Load() {
		return Handle{}, model.ErrRegistryFrozen
	}
	if n == nil || n.Key == "" {
		return Handle{}, fmt.Errorf("%w: empty natural key", model.ErrMalformedEntity)
	}
	if !n.Kind.IsValid() {
		return Handle{}, fmt.Errorf("%w: invalid kind %q for %s", model.ErrMalformedEntity, n.Kind, n.Key)
	}

	s := r.shardFor(n.Key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.nodes[n.Key]; ok {
		if existing.Kind != n.Kind {
			return Handle{}, fmt.Errorf("%w: %s registered as %s, not %s",
				model.ErrConflictingIdentity, n.Key, existing.Kind, n.Kind)
		}
		existing.Merge(n)
		return Handle{Key: n.Key, Kind: n.Kind}, nil
	}
	s.nodes[n.Key] = n.Clone()
	return Handle{Key: n.Key, Kind: n.Kind, Created: true}, nil
}

// Lookup returns the canonical node for key. Before Freeze it takes the
// shard lock; afterwards it reads without locking.
func (r *Registry) Lookup(key string) (*model.Node, bool) {
	s := r.shardFor(key)
	if r.frozen.Load() {
		n, ok := s.nodes[key]
		return n, ok
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[key]
	return n, ok
}

// Freeze ends the entity phase. It builds the method indexes used by call
// resolution and rejects any later Upsert. Calling Freeze twice is a no-op.
func (r *Registry) Freeze() {
	if r.frozen.Load() {
		return
	}
	var all []*model.Node
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, n := range s.nodes {
			all = append(all, n)
		}
		s.mu.Unlock()
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })

	r.byClass = make(map[string][]*model.Node)
	r.byName = make(map[string][]*model.Node)
	for _, n := range all {
		if n.Kind != model.KindMethod {
			continue
		}
		r.byClass[n.ClassName] = append(r.byClass[n.ClassName], n)
		r.byName[n.Name] = append(r.byName[n.Name], n)
	}
	r.sorted = all
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Nodes returns every node sorted by key. The registry must be frozen.
func (r *Registry) Nodes() []*model.Node {
	return r.sorted
}

// MethodsOf returns the methods owned by class, sorted by key.
// The registry must be frozen.
func (r *Registry) MethodsOf(class string) []*model.Node {
	return r.byClass[class]
}

// MethodsNamed returns every method with the given bare name, sorted by key.
// The registry must be frozen.
func (r *Registry) MethodsNamed(name string) []*model.Node {
	return r.byName[name]
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.nodes)
		s.mu.Unlock()
	}
	return n
}

// CountByKind returns node counts per kind.
func (r *Registry) CountByKind() map[model.Kind]int {
	out := make(map[model.Kind]int)
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, n := range s.nodes {
			out[n.Kind]++
		}
		s.mu.Unlock()
	}
	return out
}
