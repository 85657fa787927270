package memory

import "github.com/alfredjeanlab/archgraph/internal/model"

type edgeSet map[model.EdgeKey]struct{}

// state is one version of the graph. Once committed it is never written.
type state struct {
	nodes map[string]*model.Node
	edges map[model.EdgeKey]*model.Edge
	out   map[string]edgeSet
	in    map[string]edgeSet

	// EXPOSES_ENDPOINT is one-to-one in both directions.
	exposedBy map[string]string // endpoint key -> method key
	exposes   map[string]string // method key -> endpoint key

	generations []*model.Generation
	lastGen     int64
}

func newState() *state {
	return &state{
		nodes:     make(map[string]*model.Node),
		edges:     make(map[model.EdgeKey]*model.Edge),
		out:       make(map[string]edgeSet),
		in:        make(map[string]edgeSet),
		exposedBy: make(map[string]string),
		exposes:   make(map[string]string),
	}
}

// clone deep-copies the state so a transaction can mutate it freely.
func (s *state) clone() *state {
	c := newState()
	for k, n := range s.nodes {
		c.nodes[k] = n.Clone()
	}
	for k, e := range s.edges {
		c.edges[k] = e.Clone()
	}
	copyIndex := func(dst, src map[string]edgeSet) {
		for k, set := range src {
			cs := make(edgeSet, len(set))
			for ek := range set {
				cs[ek] = struct{}{}
			}
			dst[k] = cs
		}
	}
	copyIndex(c.out, s.out)
	copyIndex(c.in, s.in)
	for k, v := range s.exposedBy {
		c.exposedBy[k] = v
	}
	for k, v := range s.exposes {
		c.exposes[k] = v
	}
	c.generations = make([]*model.Generation, len(s.generations))
	for i, g := range s.generations {
		gc := *g
		c.generations[i] = &gc
	}
	c.lastGen = s.lastGen
	return c
}

func (s *state) putEdge(e *model.Edge) {
	k := e.Key()
	s.edges[k] = e
	if s.out[e.From] == nil {
		s.out[e.From] = make(edgeSet)
	}
	if s.in[e.To] == nil {
		s.in[e.To] = make(edgeSet)
	}
	s.out[e.From][k] = struct{}{}
	s.in[e.To][k] = struct{}{}
	if e.Type == model.EdgeExposesEndpoint {
		s.exposedBy[e.To] = e.From
		s.exposes[e.From] = e.To
	}
}

func (s *state) deleteEdge(k model.EdgeKey) {
	e, ok := s.edges[k]
	if !ok {
		return
	}
	delete(s.edges, k)
	delete(s.out[e.From], k)
	delete(s.in[e.To], k)
	if e.Type == model.EdgeExposesEndpoint {
		delete(s.exposedBy, e.To)
		delete(s.exposes, e.From)
	}
}
