package model

import "time"

// SubgraphNode is a node reached by an explain traversal.
type SubgraphNode struct {
	*Node
	Depth int `json:"depth"`
	// CycleClosure marks a node that was reached again from one of its own
	// descendants. It is listed once and not expanded a second time.
	CycleClosure bool `json:"cycle_closure,omitempty"`
}

// SubgraphEdge is an edge traversed by an explain walk. Closure is set
// when the edge led to a node that had already been visited.
type SubgraphEdge struct {
	*Edge
	Closure bool `json:"closure,omitempty"`
}

// Subgraph is the bounded result of an explain traversal. Nodes are in
// breadth-first order and edges in discovery order.
type Subgraph struct {
	Root       string          `json:"root"`
	MaxDepth   int             `json:"max_depth"`
	EdgeTypes  []EdgeType      `json:"edge_types"`
	Nodes      []*SubgraphNode `json:"nodes"`
	Edges      []*SubgraphEdge `json:"edges"`
	Truncated  bool            `json:"truncated,omitempty"`
	Generation int64           `json:"generation,omitempty"`
}

// Node returns the subgraph node with the given key, or nil.
func (s *Subgraph) Node(key string) *SubgraphNode {
	for _, n := range s.Nodes {
		if n.Key == key {
			return n
		}
	}
	return nil
}

// CountKind returns how many nodes of the given kind the subgraph holds.
func (s *Subgraph) CountKind(k Kind) int {
	n := 0
	for _, node := range s.Nodes {
		if node.Kind == k {
			n++
		}
	}
	return n
}

// GraphStats holds aggregate node and edge counts.
type GraphStats struct {
	Nodes      map[Kind]int     `json:"nodes"`
	Edges      map[EdgeType]int `json:"edges"`
	Generation *Generation      `json:"generation,omitempty"`
}

// TotalNodes sums node counts over all kinds.
func (s *GraphStats) TotalNodes() int {
	total := 0
	for _, n := range s.Nodes {
		total += n
	}
	return total
}

// TotalEdges sums edge counts over all types.
func (s *GraphStats) TotalEdges() int {
	total := 0
	for _, n := range s.Edges {
		total += n
	}
	return total
}

// Generation records one committed ingestion run.
type Generation struct {
	Number      int64      `json:"number"`
	RunID       string     `json:"run_id"`
	StartedAt   time.Time  `json:"started_at"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
	Nodes       int        `json:"nodes"`
	Edges       int        `json:"edges"`
	Issues      int        `json:"issues"`
}
