package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FactType names the kind of raw fact emitted by the source parser.
type FactType string

const (
	FactClass      FactType = "class"
	FactMethod     FactType = "method"
	FactEndpoint   FactType = "endpoint"
	FactCall       FactType = "call"
	FactDependency FactType = "dependency"
	FactExposure   FactType = "exposure"
)

// IsEntity reports whether facts of this type declare entities (phase 1)
// rather than relationships (phase 2). Exposure facts are both: the
// endpoint is registered in phase 1 and the edge resolved in phase 2.
func (t FactType) IsEntity() bool {
	switch t {
	case FactClass, FactMethod, FactEndpoint, FactExposure:
		return true
	}
	return false
}

// IsRelation reports whether facts of this type produce edges.
func (t FactType) IsRelation() bool {
	switch t {
	case FactCall, FactDependency, FactExposure:
		return true
	}
	return false
}

// ClassFact declares a class or interface.
type ClassFact struct {
	FullName    string   `json:"full_name"`
	Name        string   `json:"name,omitempty"`
	PackageName string   `json:"package_name,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Annotations []string `json:"annotations,omitempty"`
	Modifiers   []string `json:"modifiers,omitempty"`
}

// MethodFact declares a method owned by a class.
type MethodFact struct {
	ClassName  string   `json:"class_name"`
	Signature  string   `json:"signature"`
	Name       string   `json:"name,omitempty"`
	ReturnType string   `json:"return_type,omitempty"`
	Parameters string   `json:"parameters,omitempty"`
	Modifiers  []string `json:"modifiers,omitempty"`
}

// EndpointFact declares an HTTP endpoint.
type EndpointFact struct {
	HTTPMethod string `json:"http_method"`
	Path       string `json:"path"`
	Produces   string `json:"produces,omitempty"`
	Consumes   string `json:"consumes,omitempty"`
}

// CallFact records a call site. TargetSignature is optional; when it is
// missing the callee is resolved by name and arity.
type CallFact struct {
	CallerClass     string `json:"caller_class"`
	CallerSignature string `json:"caller_signature"`
	TargetClass     string `json:"target_class,omitempty"`
	TargetName      string `json:"target_name"`
	TargetSignature string `json:"target_signature,omitempty"`
	Arity           *int   `json:"arity,omitempty"`
	Line            int    `json:"line,omitempty"`
}

// DependencyFact records an injected collaborator.
type DependencyFact struct {
	SourceClass   string        `json:"source_class"`
	TargetType    string        `json:"target_type"`
	FieldName     string        `json:"field_name,omitempty"`
	InjectionType InjectionType `json:"injection_type,omitempty"`
}

// ExposureFact records that a handler method serves an endpoint.
type ExposureFact struct {
	ClassName  string `json:"class_name"`
	Signature  string `json:"signature"`
	HTTPMethod string `json:"http_method"`
	Path       string `json:"path"`
	Produces   string `json:"produces,omitempty"`
	Consumes   string `json:"consumes,omitempty"`
}

// Fact is one record of the parser's fact stream. Exactly one payload
// pointer is set, matching Type. Seq is the position in scan order and is
// assigned on ingestion.
type Fact struct {
	Type FactType `json:"type"`
	Unit string   `json:"unit,omitempty"`
	Seq  int      `json:"-"`

	Class      *ClassFact      `json:"-"`
	Method     *MethodFact     `json:"-"`
	Endpoint   *EndpointFact   `json:"-"`
	Call       *CallFact       `json:"-"`
	Dependency *DependencyFact `json:"-"`
	Exposure   *ExposureFact   `json:"-"`
}

type factWire struct {
	Type FactType        `json:"type"`
	Unit string          `json:"unit,omitempty"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the fact as {"type":..,"unit":..,"data":{..}}.
func (f Fact) MarshalJSON() ([]byte, error) {
	payload, err := f.payload()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(factWire{Type: f.Type, Unit: f.Unit, Data: data})
}

// UnmarshalJSON decodes the wire form, choosing the payload by type.
func (f *Fact) UnmarshalJSON(b []byte) error {
	var w factWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*f = Fact{Type: w.Type, Unit: w.Unit}
	var target any
	switch w.Type {
	case FactClass:
		f.Class = &ClassFact{}
		target = f.Class
	case FactMethod:
		f.Method = &MethodFact{}
		target = f.Method
	case FactEndpoint:
		f.Endpoint = &EndpointFact{}
		target = f.Endpoint
	case FactCall:
		f.Call = &CallFact{}
		target = f.Call
	case FactDependency:
		f.Dependency = &DependencyFact{}
		target = f.Dependency
	case FactExposure:
		f.Exposure = &ExposureFact{}
		target = f.Exposure
	default:
		return fmt.Errorf("unknown fact type %q", w.Type)
	}
	if len(w.Data) == 0 || string(w.Data) == "null" {
		return nil
	}
	return json.Unmarshal(w.Data, target)
}

func (f *Fact) payload() (any, error) {
	switch f.Type {
	case FactClass:
		return f.Class, nil
	case FactMethod:
		return f.Method, nil
	case FactEndpoint:
		return f.Endpoint, nil
	case FactCall:
		return f.Call, nil
	case FactDependency:
		return f.Dependency, nil
	case FactExposure:
		return f.Exposure, nil
	}
	return nil, fmt.Errorf("unknown fact type %q", f.Type)
}

// Validate checks that the fact's identity fields are present. It returns
// an error wrapping ErrMalformedEntity naming the first missing field.
func (f *Fact) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s fact missing %s", ErrMalformedEntity, f.Type, field)
	}
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	switch f.Type {
	case FactClass:
		if f.Class == nil || blank(f.Class.FullName) {
			return missing("full_name")
		}
	case FactMethod:
		if f.Method == nil || blank(f.Method.ClassName) {
			return missing("class_name")
		}
		if blank(f.Method.Signature) {
			return missing("signature")
		}
	case FactEndpoint:
		if f.Endpoint == nil || blank(f.Endpoint.HTTPMethod) {
			return missing("http_method")
		}
		if blank(f.Endpoint.Path) {
			return missing("path")
		}
	case FactCall:
		if f.Call == nil || blank(f.Call.CallerClass) {
			return missing("caller_class")
		}
		if blank(f.Call.CallerSignature) {
			return missing("caller_signature")
		}
		if blank(f.Call.TargetName) && blank(f.Call.TargetSignature) {
			return missing("target_name")
		}
	case FactDependency:
		if f.Dependency == nil || blank(f.Dependency.SourceClass) {
			return missing("source_class")
		}
		if blank(f.Dependency.TargetType) {
			return missing("target_type")
		}
	case FactExposure:
		if f.Exposure == nil || blank(f.Exposure.ClassName) {
			return missing("class_name")
		}
		if blank(f.Exposure.Signature) {
			return missing("signature")
		}
		if blank(f.Exposure.HTTPMethod) {
			return missing("http_method")
		}
		if blank(f.Exposure.Path) {
			return missing("path")
		}
	default:
		return fmt.Errorf("%w: unknown fact type %q", ErrMalformedEntity, f.Type)
	}
	return nil
}

// ClassNode converts a class fact into a node, deriving the simple name and
// package from the fully-qualified name when they are absent.
func (c *ClassFact) ClassNode() *Node {
	full := strings.TrimSpace(c.FullName)
	pkg, name := SplitClassName(full)
	n := &Node{
		Key:         ClassKey(full),
		Kind:        KindClass,
		Name:        firstNonEmpty(c.Name, name),
		FullName:    full,
		PackageName: firstNonEmpty(c.PackageName, pkg),
		Labels:      UnionStrings(nil, c.Labels),
		Modifiers:   UnionStrings(nil, c.Modifiers),
	}
	return n
}

// MethodNode converts a method fact into a node.
func (m *MethodFact) MethodNode() *Node {
	sig := strings.TrimSpace(m.Signature)
	return &Node{
		Key:        MethodKey(m.ClassName, sig),
		Kind:       KindMethod,
		Name:       firstNonEmpty(m.Name, MethodName(sig)),
		ClassName:  strings.TrimSpace(m.ClassName),
		Signature:  sig,
		ReturnType: m.ReturnType,
		Parameters: m.Parameters,
		Modifiers:  UnionStrings(nil, m.Modifiers),
	}
}

// OwnerNode returns the stub class node implied by a method declaration.
func (m *MethodFact) OwnerNode() *Node {
	return (&ClassFact{FullName: m.ClassName}).ClassNode()
}

// EndpointNode converts an endpoint fact into a node.
func (e *EndpointFact) EndpointNode() *Node {
	method := NormalizeHTTPMethod(e.HTTPMethod)
	path := NormalizePath(e.Path)
	return &Node{
		Key:        EndpointKey(method, path),
		Kind:       KindEndpoint,
		Name:       method + " " + path,
		HTTPMethod: method,
		Path:       path,
		Produces:   e.Produces,
		Consumes:   e.Consumes,
	}
}

// EndpointNode returns the endpoint implied by an exposure.
func (x *ExposureFact) EndpointNode() *Node {
	return (&EndpointFact{
		HTTPMethod: x.HTTPMethod,
		Path:       x.Path,
		Produces:   x.Produces,
		Consumes:   x.Consumes,
	}).EndpointNode()
}

// MethodKey returns the key of the exposing method.
func (x *ExposureFact) MethodKey() string {
	return MethodKey(x.ClassName, x.Signature)
}

// EndpointKey returns the key of the exposed endpoint.
func (x *ExposureFact) EndpointKey() string {
	return EndpointKey(x.HTTPMethod, x.Path)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
