package model

import "strings"

// NodeFilter holds criteria for listing nodes.
type NodeFilter struct {
	Kind    []Kind `json:"kind,omitempty"`
	Label   string `json:"label,omitempty"`
	Package string `json:"package,omitempty"` // prefix match on package name, or class name for methods
	Search  string `json:"search,omitempty"`  // case-insensitive substring of key or name
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Matches reports whether n satisfies every criterion except paging.
func (f *NodeFilter) Matches(n *Node) bool {
	if len(f.Kind) > 0 {
		ok := false
		for _, k := range f.Kind {
			if n.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Label != "" && !n.HasLabel(f.Label) {
		return false
	}
	if f.Package != "" && !strings.HasPrefix(n.packageScope(), f.Package) {
		return false
	}
	if f.Search != "" && !containsFold(n.Key, f.Search) && !containsFold(n.Name, f.Search) {
		return false
	}
	return true
}

// packageScope is the package a node belongs to for filtering: the package
// of a class, the owning class of a method. Endpoints have none.
func (n *Node) packageScope() string {
	switch n.Kind {
	case KindClass:
		return n.PackageName
	case KindMethod:
		return n.ClassName
	}
	return ""
}

// EdgeFilter holds criteria for listing edges.
type EdgeFilter struct {
	Types []EdgeType `json:"types,omitempty"`
	From  string     `json:"from,omitempty"`
	To    string     `json:"to,omitempty"`
}

// Matches reports whether e satisfies the filter.
func (f *EdgeFilter) Matches(e *Edge) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if e.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.From != "" && e.From != f.From {
		return false
	}
	if f.To != "" && e.To != f.To {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
