package model

import (
	"sort"
	"strings"
)

// Kind classifies a node in the architecture graph.
type Kind string

const (
	KindClass    Kind = "class"
	KindMethod   Kind = "method"
	KindEndpoint Kind = "endpoint"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks whether the kind is a known value.
func (k Kind) IsValid() bool {
	switch k {
	case KindClass, KindMethod, KindEndpoint:
		return true
	}
	return false
}

// Node is a single entity in the graph. The attribute set depends on Kind;
// attributes that do not apply to a kind stay empty.
//
// Key is the natural key and is the only identity used by the engine. ID is a
// surrogate assigned by the store and is stable for a key within one store.
type Node struct {
	ID   string `json:"id,omitempty"`
	Key  string `json:"key"`
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"`

	// Class attributes.
	FullName    string `json:"full_name,omitempty"`
	PackageName string `json:"package_name,omitempty"`

	// Method attributes.
	ClassName  string `json:"class_name,omitempty"`
	Signature  string `json:"signature,omitempty"`
	ReturnType string `json:"return_type,omitempty"`
	Parameters string `json:"parameters,omitempty"`

	// Endpoint attributes.
	HTTPMethod string `json:"http_method,omitempty"`
	Path       string `json:"path,omitempty"`
	Produces   string `json:"produces,omitempty"`
	Consumes   string `json:"consumes,omitempty"`

	Labels    []string `json:"labels,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`

	// Generation is the last generation that merged this node.
	Generation int64 `json:"-"`
}

// ClassKey returns the natural key of a class.
func ClassKey(fullName string) string {
	return strings.TrimSpace(fullName)
}

// MethodKey returns the natural key of a method: "<class FQN>#<signature>".
func MethodKey(className, signature string) string {
	return strings.TrimSpace(className) + "#" + strings.TrimSpace(signature)
}

// EndpointKey returns the natural key of an endpoint: "<METHOD> <path>".
func EndpointKey(httpMethod, path string) string {
	return NormalizeHTTPMethod(httpMethod) + " " + NormalizePath(path)
}

// NormalizeHTTPMethod upper-cases and trims an HTTP method.
func NormalizeHTTPMethod(m string) string {
	return strings.ToUpper(strings.TrimSpace(m))
}

// NormalizePath gives an endpoint path a leading slash, collapses repeated
// slashes, and drops a trailing slash unless the path is the root.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// KindOfKey infers the node kind from the shape of a natural key.
// Method keys contain '#'; endpoint keys are "<METHOD> /<path>"; anything
// else is a class name.
func KindOfKey(key string) Kind {
	if strings.Contains(key, "#") {
		return KindMethod
	}
	if i := strings.IndexByte(key, ' '); i > 0 && strings.HasPrefix(key[i+1:], "/") {
		return KindEndpoint
	}
	return KindClass
}

// NormalizeKey canonicalizes a user-supplied natural key so that
// "get /api/users/" and "GET /api/users" address the same endpoint.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if KindOfKey(key) == KindEndpoint {
		i := strings.IndexByte(key, ' ')
		return EndpointKey(key[:i], key[i+1:])
	}
	return key
}

// SplitClassName splits a fully-qualified class name into package and simple name.
func SplitClassName(fullName string) (pkg, name string) {
	i := strings.LastIndexByte(fullName, '.')
	if i < 0 {
		return "", fullName
	}
	return fullName[:i], fullName[i+1:]
}

// MethodName extracts the bare name from a signature like "find(java.lang.String)".
func MethodName(signature string) string {
	if i := strings.IndexByte(signature, '('); i >= 0 {
		return strings.TrimSpace(signature[:i])
	}
	return strings.TrimSpace(signature)
}

// Arity counts the parameters of a signature like "find(a.B,int)".
// It returns -1 when the signature has no parameter list.
func Arity(signature string) int {
	open := strings.IndexByte(signature, '(')
	end := strings.LastIndexByte(signature, ')')
	if open < 0 || end < open {
		return -1
	}
	inner := strings.TrimSpace(signature[open+1 : end])
	if inner == "" {
		return 0
	}
	depth, n := 0, 1
	for _, r := range inner {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				n++
			}
		}
	}
	return n
}

// Merge copies non-empty attributes of in onto n (last write wins per
// attribute) and unions the label and modifier sets. Identity fields
// (Key, Kind) and the surrogate ID are left alone unless n has none.
func (n *Node) Merge(in *Node) {
	if n.ID == "" {
		n.ID = in.ID
	}
	mergeString(&n.Name, in.Name)
	mergeString(&n.FullName, in.FullName)
	mergeString(&n.PackageName, in.PackageName)
	mergeString(&n.ClassName, in.ClassName)
	mergeString(&n.Signature, in.Signature)
	mergeString(&n.ReturnType, in.ReturnType)
	mergeString(&n.Parameters, in.Parameters)
	mergeString(&n.HTTPMethod, in.HTTPMethod)
	mergeString(&n.Path, in.Path)
	mergeString(&n.Produces, in.Produces)
	mergeString(&n.Consumes, in.Consumes)
	n.Labels = UnionStrings(n.Labels, in.Labels)
	n.Modifiers = UnionStrings(n.Modifiers, in.Modifiers)
	if in.Generation > n.Generation {
		n.Generation = in.Generation
	}
}

// Apply is Merge with replacement semantics for sets: a non-empty incoming
// label or modifier set replaces the existing one. Stores use it so a later
// run's view of an entity supersedes an earlier run's.
func (n *Node) Apply(in *Node) {
	n.Merge(in)
	if len(in.Labels) > 0 {
		n.Labels = UnionStrings(nil, in.Labels)
	}
	if len(in.Modifiers) > 0 {
		n.Modifiers = UnionStrings(nil, in.Modifiers)
	}
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	c := *n
	c.Labels = append([]string(nil), n.Labels...)
	c.Modifiers = append([]string(nil), n.Modifiers...)
	return &c
}

// HasLabel reports whether the node carries the given role label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// UnionStrings returns the sorted, de-duplicated union of a and b.
// Empty strings are dropped. The result is nil when both inputs are empty.
func UnionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
