// Package resolve turns relationship facts into edges between registered
// entities. Resolution runs after the registry is frozen and only reads it,
// so units can be resolved in parallel; Reduce then combines the per-unit
// candidates deterministically by scan order.
package resolve

import (
	"fmt"
	"sort"

	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/registry"
)

// ConflictPolicy decides which claim survives when two methods expose the
// same endpoint or one method exposes two endpoints.
type ConflictPolicy string

const (
	FirstWins ConflictPolicy = "first-wins"
	LastWins  ConflictPolicy = "last-wins"
)

// IsValid checks whether the policy is a known value.
func (p ConflictPolicy) IsValid() bool {
	return p == FirstWins || p == LastWins
}

// UnresolvedPolicy decides whether unresolved references are reported as
// issues or only counted.
type UnresolvedPolicy string

const (
	ReportUnresolved UnresolvedPolicy = "report"
	CountUnresolved  UnresolvedPolicy = "count"
)

// IsValid checks whether the policy is a known value.
func (p UnresolvedPolicy) IsValid() bool {
	return p == ReportUnresolved || p == CountUnresolved
}

// Options configures a Resolver. Zero values select first-wins and report.
type Options struct {
	Conflict   ConflictPolicy
	Unresolved UnresolvedPolicy
}

// Candidate is an edge proposed by one fact, tagged with its scan position.
type Candidate struct {
	Edge *model.Edge
	Seq  int
	Unit string
}

// UnitResult is the output of resolving one source unit.
type UnitResult struct {
	Candidates []Candidate
	Issues     []model.Issue
	Unresolved int
}

// Result is the deduplicated edge set for a whole run.
type Result struct {
	Edges      []*model.Edge
	Issues     []model.Issue
	Unresolved int
	Conflicts  int
}

// Resolver resolves relationship facts against a frozen registry.
type Resolver struct {
	reg  *registry.Registry
	opts Options
}

// New returns a resolver. reg must be frozen before any Resolve call.
func New(reg *registry.Registry, opts Options) *Resolver {
	if !opts.Conflict.IsValid() {
		opts.Conflict = FirstWins
	}
	if !opts.Unresolved.IsValid() {
		opts.Unresolved = ReportUnresolved
	}
	return &Resolver{reg: reg, opts: opts}
}

// Resolve resolves every unit sequentially and reduces the result.
func (r *Resolver) Resolve(units [][]*model.Fact) *Result {
	results := make([]UnitResult, len(units))
	for i, facts := range units {
		results[i] = r.ResolveUnit(facts)
	}
	return r.Reduce(results)
}

// ResolveUnit resolves the relationship facts of one source unit. It only
// reads the registry and is safe to call concurrently.
func (r *Resolver) ResolveUnit(facts []*model.Fact) UnitResult {
	var out UnitResult
	for _, f := range facts {
		if !f.Type.IsRelation() || f.Validate() != nil {
			continue
		}
		edge, err := r.resolveFact(f)
		if err != nil {
			out.Unresolved++
			if r.opts.Unresolved == ReportUnresolved {
				out.Issues = append(out.Issues, model.Issue{
					Kind:     model.IssueUnresolved,
					Unit:     f.Unit,
					Seq:      f.Seq,
					FactType: f.Type,
					Message:  err.Error(),
				})
			}
			continue
		}
		out.Candidates = append(out.Candidates, Candidate{Edge: edge, Seq: f.Seq, Unit: f.Unit})
	}
	return out
}

func (r *Resolver) resolveFact(f *model.Fact) (*model.Edge, error) {
	switch f.Type {
	case model.FactCall:
		return r.resolveCall(f.Call)
	case model.FactDependency:
		return r.resolveDependency(f.Dependency)
	case model.FactExposure:
		return r.resolveExposure(f.Exposure)
	}
	return nil, fmt.Errorf("%w: %s is not a relationship fact", model.ErrUnresolvedReference, f.Type)
}

func (r *Resolver) resolveCall(c *model.CallFact) (*model.Edge, error) {
	from := model.MethodKey(c.CallerClass, c.CallerSignature)
	if !r.has(from, model.KindMethod) {
		return nil, fmt.Errorf("%w: caller %s", model.ErrUnresolvedReference, from)
	}
	to, err := r.resolveCallee(c)
	if err != nil {
		return nil, err
	}
	edge := &model.Edge{Type: model.EdgeCalls, From: from, To: to}
	if c.Line > 0 {
		edge.LineNumbers = []int{c.Line}
	}
	return edge, nil
}

// resolveCallee tries the exact signature first, then a unique match on
// name and arity among the target class's methods (or all methods when the
// target class is unknown).
func (r *Resolver) resolveCallee(c *model.CallFact) (string, error) {
	if c.TargetClass != "" && c.TargetSignature != "" {
		key := model.MethodKey(c.TargetClass, c.TargetSignature)
		if r.has(key, model.KindMethod) {
			return key, nil
		}
	}

	name := c.TargetName
	if name == "" {
		name = model.MethodName(c.TargetSignature)
	}
	arity := -1
	switch {
	case c.Arity != nil:
		arity = *c.Arity
	case c.TargetSignature != "":
		arity = model.Arity(c.TargetSignature)
	}

	var pool []*model.Node
	if c.TargetClass != "" {
		pool = r.reg.MethodsOf(c.TargetClass)
	} else {
		pool = r.reg.MethodsNamed(name)
	}

	var match []string
	for _, m := range pool {
		if m.Name != name {
			continue
		}
		if arity >= 0 && model.Arity(m.Signature) != arity {
			continue
		}
		match = append(match, m.Key)
	}

	target := name
	if c.TargetClass != "" {
		target = c.TargetClass + "#" + name
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return "", fmt.Errorf("%w: callee %s", model.ErrUnresolvedReference, target)
	default:
		return "", fmt.Errorf("%w: callee %s is ambiguous (%d candidates)",
			model.ErrUnresolvedReference, target, len(match))
	}
}

func (r *Resolver) resolveDependency(d *model.DependencyFact) (*model.Edge, error) {
	from := model.ClassKey(d.SourceClass)
	if !r.has(from, model.KindClass) {
		return nil, fmt.Errorf("%w: dependency source %s", model.ErrUnresolvedReference, from)
	}
	to := model.ClassKey(d.TargetType)
	if !r.has(to, model.KindClass) {
		return nil, fmt.Errorf("%w: dependency target %s", model.ErrUnresolvedReference, to)
	}
	return &model.Edge{
		Type:          model.EdgeDependsOn,
		From:          from,
		To:            to,
		FieldName:     d.FieldName,
		InjectionType: d.InjectionType,
	}, nil
}

func (r *Resolver) resolveExposure(x *model.ExposureFact) (*model.Edge, error) {
	from := x.MethodKey()
	if !r.has(from, model.KindMethod) {
		return nil, fmt.Errorf("%w: handler %s", model.ErrUnresolvedReference, from)
	}
	to := x.EndpointKey()
	if !r.has(to, model.KindEndpoint) {
		return nil, fmt.Errorf("%w: endpoint %s", model.ErrUnresolvedReference, to)
	}
	return &model.Edge{Type: model.EdgeExposesEndpoint, From: from, To: to}, nil
}

func (r *Resolver) has(key string, kind model.Kind) bool {
	n, ok := r.reg.Lookup(key)
	return ok && n.Kind == kind
}

// Reduce combines per-unit results. Candidates are applied in scan order;
// duplicates merge, and exposure conflicts are settled by the conflict
// policy. HAS_METHOD edges are added for every registered method. The
// returned edges are sorted by edge key and issues by scan position.
func (r *Resolver) Reduce(results []UnitResult) *Result {
	out := &Result{}
	var cands []Candidate
	for _, ur := range results {
		cands = append(cands, ur.Candidates...)
		out.Issues = append(out.Issues, ur.Issues...)
		out.Unresolved += ur.Unresolved
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Seq < cands[j].Seq })

	edges := make(map[model.EdgeKey]*model.Edge)
	add := func(e *model.Edge) {
		k := e.Key()
		if existing, ok := edges[k]; ok {
			existing.Merge(e)
			return
		}
		edges[k] = e.Clone()
	}

	var exposures []Candidate
	for _, c := range cands {
		if c.Edge.Type == model.EdgeExposesEndpoint {
			exposures = append(exposures, c)
			continue
		}
		add(c.Edge)
	}
	if r.opts.Conflict == LastWins {
		for i, j := 0, len(exposures)-1; i < j; i, j = i+1, j-1 {
			exposures[i], exposures[j] = exposures[j], exposures[i]
		}
	}
	byEndpoint := make(map[string]string)
	byMethod := make(map[string]string)
	for _, c := range exposures {
		method, endpoint := c.Edge.From, c.Edge.To
		owner, claimed := byEndpoint[endpoint]
		exposed, busy := byMethod[method]
		switch {
		case claimed && owner != method:
			out.addConflict(c, fmt.Sprintf("%s already exposed by %s; dropping claim by %s", endpoint, owner, method))
			continue
		case busy && exposed != endpoint:
			out.addConflict(c, fmt.Sprintf("%s already exposes %s; dropping %s", method, exposed, endpoint))
			continue
		}
		byEndpoint[endpoint] = method
		byMethod[method] = endpoint
		add(c.Edge)
	}

	if r.reg.Frozen() {
		for _, n := range r.reg.Nodes() {
			if n.Kind != model.KindMethod || n.ClassName == "" {
				continue
			}
			if !r.has(n.ClassName, model.KindClass) {
				continue
			}
			add(&model.Edge{Type: model.EdgeHasMethod, From: n.ClassName, To: n.Key})
		}
	}

	out.Edges = make([]*model.Edge, 0, len(edges))
	for _, e := range edges {
		out.Edges = append(out.Edges, e)
	}
	model.SortEdges(out.Edges)
	sort.SliceStable(out.Issues, func(i, j int) bool { return out.Issues[i].Seq < out.Issues[j].Seq })
	return out
}

func (res *Result) addConflict(c Candidate, msg string) {
	res.Conflicts++
	res.Issues = append(res.Issues, model.Issue{
		Kind:     model.IssueConflict,
		Unit:     c.Unit,
		Seq:      c.Seq,
		FactType: model.FactExposure,
		Message:  fmt.Sprintf("%v: %s", model.ErrConflictingIdentity, msg),
	})
}

// CountByType returns edge counts per type.
func (res *Result) CountByType() map[model.EdgeType]int {
	out := make(map[model.EdgeType]int)
	for _, e := range res.Edges {
		out[e.Type]++
	}
	return out
}
