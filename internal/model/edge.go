package model

import "sort"

// EdgeType categorizes a directed relationship between two nodes.
type EdgeType string

const (
	EdgeCalls           EdgeType = "CALLS"            // method -> method
	EdgeDependsOn       EdgeType = "DEPENDS_ON"       // class -> class
	EdgeExposesEndpoint EdgeType = "EXPOSES_ENDPOINT" // method -> endpoint
	EdgeHasMethod       EdgeType = "HAS_METHOD"       // class -> method
)

// AllEdgeTypes lists every edge type in canonical order.
var AllEdgeTypes = []EdgeType{EdgeCalls, EdgeDependsOn, EdgeExposesEndpoint, EdgeHasMethod}

// String returns the string representation of the edge type.
func (t EdgeType) String() string {
	return string(t)
}

// IsValid checks whether the edge type is a known value.
func (t EdgeType) IsValid() bool {
	switch t {
	case EdgeCalls, EdgeDependsOn, EdgeExposesEndpoint, EdgeHasMethod:
		return true
	}
	return false
}

// Endpoints returns the node kinds an edge of this type connects.
func (t EdgeType) Endpoints() (from, to Kind) {
	switch t {
	case EdgeCalls:
		return KindMethod, KindMethod
	case EdgeDependsOn:
		return KindClass, KindClass
	case EdgeExposesEndpoint:
		return KindMethod, KindEndpoint
	case EdgeHasMethod:
		return KindClass, KindMethod
	}
	return "", ""
}

// InjectionType describes how a DEPENDS_ON target is injected.
type InjectionType string

const (
	InjectionConstructor InjectionType = "constructor"
	InjectionSetter      InjectionType = "setter"
	InjectionField       InjectionType = "field"
)

// Direction selects incoming or outgoing edges relative to a node.
type Direction string

const (
	Outgoing Direction = "out"
	Incoming Direction = "in"
)

// Edge is a directed relationship between two natural keys.
type Edge struct {
	Type          EdgeType      `json:"type"`
	From          string        `json:"from"`
	To            string        `json:"to"`
	FieldName     string        `json:"field_name,omitempty"`
	InjectionType InjectionType `json:"injection_type,omitempty"`
	LineNumbers   []int         `json:"line_numbers,omitempty"`

	// Generation is the last generation that merged this edge.
	Generation int64 `json:"-"`
}

// EdgeKey identifies an edge for merge purposes. FieldName is only
// significant for DEPENDS_ON edges.
type EdgeKey struct {
	Type      EdgeType
	From      string
	To        string
	FieldName string
}

// Key returns the merge key of the edge.
func (e *Edge) Key() EdgeKey {
	k := EdgeKey{Type: e.Type, From: e.From, To: e.To}
	if e.Type == EdgeDependsOn {
		k.FieldName = e.FieldName
	}
	return k
}

// String renders the key for logs and lock striping.
func (k EdgeKey) String() string {
	s := string(k.Type) + "|" + k.From + "|" + k.To
	if k.FieldName != "" {
		s += "|" + k.FieldName
	}
	return s
}

// Less orders edge keys by type, source, target, then field name.
func (k EdgeKey) Less(o EdgeKey) bool {
	if k.Type != o.Type {
		return k.Type < o.Type
	}
	if k.From != o.From {
		return k.From < o.From
	}
	if k.To != o.To {
		return k.To < o.To
	}
	return k.FieldName < o.FieldName
}

// Merge folds in into e. Line numbers accumulate as a sorted set; a
// non-empty injection type overwrites.
func (e *Edge) Merge(in *Edge) {
	e.LineNumbers = UnionInts(e.LineNumbers, in.LineNumbers)
	if in.InjectionType != "" {
		e.InjectionType = in.InjectionType
	}
	if in.Generation > e.Generation {
		e.Generation = in.Generation
	}
}

// Clone returns a deep copy of e.
func (e *Edge) Clone() *Edge {
	c := *e
	c.LineNumbers = append([]int(nil), e.LineNumbers...)
	return &c
}

// Other returns the endpoint of e opposite to key.
func (e *Edge) Other(key string) string {
	if e.From == key {
		return e.To
	}
	return e.From
}

// SortEdges orders edges by key in place.
func SortEdges(edges []*Edge) {
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].Key().Less(edges[j].Key())
	})
}

// SortNodes orders nodes by natural key in place, byte-wise.
func SortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
}

// UnionInts returns the sorted, de-duplicated union of a and b, ignoring
// non-positive values.
func UnionInts(a, b []int) []int {
	seen := make(map[int]struct{}, len(a)+len(b))
	var out []int
	for _, list := range [][]int{a, b} {
		for _, v := range list {
			if v <= 0 {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
