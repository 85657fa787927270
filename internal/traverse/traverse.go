// Package traverse builds explain subgraphs and entity listings from a
// graph store.
package traverse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alfredjeanlab/archgraph/internal/metrics"
	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/store"
)

const (
	DefaultMaxDepth = 3
	MaxDepthLimit   = 25
	DefaultMaxNodes = 500
)

// ErrInvalidOption is returned for traversal options that cannot be honored.
var ErrInvalidOption = errors.New("invalid traversal option")

// Options bound an explain traversal. Zero values select the defaults.
type Options struct {
	MaxDepth  int
	EdgeTypes []model.EdgeType
	MaxNodes  int
	Timeout   time.Duration
}

// normalize fills defaults, clamps the depth and sorts the edge types.
func (o Options) normalize() (Options, error) {
	if o.MaxDepth < 0 {
		return o, fmt.Errorf("%w: negative depth %d", ErrInvalidOption, o.MaxDepth)
	}
	if o.MaxDepth == 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxDepth > MaxDepthLimit {
		o.MaxDepth = MaxDepthLimit
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = DefaultMaxNodes
	}
	if len(o.EdgeTypes) == 0 {
		o.EdgeTypes = model.AllEdgeTypes
	}
	seen := make(map[model.EdgeType]bool, len(o.EdgeTypes))
	types := make([]model.EdgeType, 0, len(o.EdgeTypes))
	for _, t := range o.EdgeTypes {
		if !t.IsValid() {
			return o, fmt.Errorf("%w: unknown edge type %q", ErrInvalidOption, t)
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	o.EdgeTypes = types
	return o, nil
}

// Engine answers explain and list queries against a store.
type Engine struct {
	store   store.Store
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records explain outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an Engine reading from s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{store: s}
	for _, o := range opts {
		o(e)
	}
	return e
}

// step is one expansion rule: follow edges of typ in dir.
type step struct {
	typ model.EdgeType
	dir model.Direction
}

// rules returns the expansion steps for a node. from is the key of the
// node it was reached from ("" for the root) and via the edge type used.
func rules(n *model.Node, root bool, from string, via model.EdgeType) []step {
	switch n.Kind {
	case model.KindClass:
		if root {
			return []step{{model.EdgeHasMethod, model.Outgoing}, {model.EdgeDependsOn, model.Outgoing}}
		}
		return []step{{model.EdgeDependsOn, model.Outgoing}}
	case model.KindMethod:
		steps := []step{{model.EdgeCalls, model.Outgoing}, {model.EdgeExposesEndpoint, model.Outgoing}}
		if !(via == model.EdgeHasMethod && from == n.ClassName) {
			steps = append(steps, step{model.EdgeHasMethod, model.Incoming})
		}
		return steps
	case model.KindEndpoint:
		return []step{{model.EdgeExposesEndpoint, model.Incoming}}
	}
	return nil
}

// visit is a node queued for expansion.
type visit struct {
	key    string
	parent string
	via    model.EdgeType
	depth  int
}

// walk holds the state of one traversal.
type walk struct {
	r    store.Reader
	opts Options
	sg   *model.Subgraph

	allowed map[model.EdgeType]bool
	nodes   map[string]*model.SubgraphNode
	parents map[string]string
	emitted map[model.EdgeKey]bool
}

// Explain walks breadth-first from root and returns the bounded subgraph.
// Exhausting the node budget, the timeout, or ctx yields a partial result
// with Truncated set rather than an error. A missing root is
// model.ErrEntityNotFound.
func (e *Engine) Explain(ctx context.Context, root string, opts Options) (*model.Subgraph, error) {
	start := time.Now()
	sg, err := e.explain(ctx, root, opts)
	e.metrics.ObserveExplain(time.Since(start), sg, err)
	return sg, err
}

func (e *Engine) explain(ctx context.Context, root string, opts Options) (*model.Subgraph, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	root = model.NormalizeKey(root)
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", model.ErrEntityNotFound)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var sg *model.Subgraph
	err = e.store.Snapshot(ctx, func(r store.Reader) error {
		rootNode, err := r.GetNode(ctx, root)
		if err != nil {
			return err
		}
		w := &walk{
			r:    r,
			opts: opts,
			sg: &model.Subgraph{
				Root:      rootNode.Key,
				MaxDepth:  opts.MaxDepth,
				EdgeTypes: opts.EdgeTypes,
				Nodes:     []*model.SubgraphNode{},
				Edges:     []*model.SubgraphEdge{},
			},
			allowed: make(map[model.EdgeType]bool, len(opts.EdgeTypes)),
			nodes:   make(map[string]*model.SubgraphNode),
			parents: make(map[string]string),
			emitted: make(map[model.EdgeKey]bool),
		}
		for _, t := range opts.EdgeTypes {
			w.allowed[t] = true
		}
		if g, err := r.LatestGeneration(ctx); err == nil && g != nil {
			w.sg.Generation = g.Number
		} else if err != nil {
			return err
		}
		sg = w.sg
		return w.run(ctx, rootNode)
	})
	if err != nil {
		if sg != nil && ctx.Err() != nil {
			sg.Truncated = true
			return sg, nil
		}
		return nil, err
	}
	return sg, nil
}

func (w *walk) add(n *model.Node, depth int) *model.SubgraphNode {
	sn := &model.SubgraphNode{Node: n, Depth: depth}
	w.nodes[n.Key] = sn
	w.sg.Nodes = append(w.sg.Nodes, sn)
	return sn
}

// isAncestor reports whether key lies on the BFS tree path to node.
func (w *walk) isAncestor(key, node string) bool {
	for cur := node; cur != ""; cur = w.parents[cur] {
		if cur == key {
			return true
		}
	}
	return false
}

// hop is one candidate edge out of the node being expanded.
type hop struct {
	edge     *model.Edge
	neighbor string
}

func (w *walk) run(ctx context.Context, root *model.Node) error {
	w.add(root, 0)
	queue := []visit{{key: root.Key}}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			w.sg.Truncated = true
			return nil
		}
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= w.opts.MaxDepth {
			continue
		}
		node := w.nodes[cur.key].Node

		var hops []hop
		for _, st := range rules(node, cur.key == w.sg.Root, cur.parent, cur.via) {
			if !w.allowed[st.typ] {
				continue
			}
			edges, err := w.r.Edges(ctx, node.Key, st.dir, []model.EdgeType{st.typ})
			if err != nil {
				if ctx.Err() != nil {
					w.sg.Truncated = true
					return nil
				}
				return fmt.Errorf("expand %s: %w", node.Key, err)
			}
			for _, e := range edges {
				hops = append(hops, hop{edge: e, neighbor: e.Other(node.Key)})
			}
		}
		sort.SliceStable(hops, func(i, j int) bool {
			a, b := hops[i], hops[j]
			if a.edge.Type != b.edge.Type {
				return a.edge.Type < b.edge.Type
			}
			if a.neighbor != b.neighbor {
				return a.neighbor < b.neighbor
			}
			return a.edge.FieldName < b.edge.FieldName
		})

		for _, h := range hops {
			k := h.edge.Key()
			if w.emitted[k] {
				continue
			}
			if seen, ok := w.nodes[h.neighbor]; ok {
				w.emitted[k] = true
				w.sg.Edges = append(w.sg.Edges, &model.SubgraphEdge{Edge: h.edge, Closure: true})
				if w.isAncestor(h.neighbor, cur.key) {
					seen.CycleClosure = true
				}
				continue
			}
			if len(w.sg.Nodes) >= w.opts.MaxNodes {
				w.sg.Truncated = true
				return nil
			}
			next, err := w.r.GetNode(ctx, h.neighbor)
			if err != nil {
				if ctx.Err() != nil {
					w.sg.Truncated = true
					return nil
				}
				return fmt.Errorf("load %s: %w", h.neighbor, err)
			}
			w.emitted[k] = true
			w.sg.Edges = append(w.sg.Edges, &model.SubgraphEdge{Edge: h.edge})
			w.add(next, cur.depth+1)
			w.parents[next.Key] = cur.key
			queue = append(queue, visit{key: next.Key, parent: cur.key, via: h.edge.Type, depth: cur.depth + 1})
		}
	}
	return nil
}
