package traverse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/store"
	"github.com/alfredjeanlab/archgraph/internal/store/memory"
)

// graph seeds a memory store with nodes and edges in one generation.
func graph(t *testing.T, nodes []*model.Node, edges []*model.Edge) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		g, err := tx.BeginGeneration(ctx, "run-test")
		if err != nil {
			return err
		}
		for _, n := range nodes {
			if _, err := tx.MergeNode(ctx, g.Number, n); err != nil {
				return err
			}
		}
		for _, e := range edges {
			if err := tx.MergeEdge(ctx, g.Number, e); err != nil {
				return err
			}
		}
		return tx.CommitGeneration(ctx, g)
	})
	if err != nil {
		t.Fatalf("seed graph: %v", err)
	}
	return s
}

func class(fqn string, labels ...string) *model.Node {
	n := (&model.ClassFact{FullName: fqn}).ClassNode()
	n.Labels = labels
	return n
}

func method(class, sig string) *model.Node {
	return (&model.MethodFact{ClassName: class, Signature: sig}).MethodNode()
}

func endpoint(verb, path string) *model.Node {
	return (&model.EndpointFact{HTTPMethod: verb, Path: path}).EndpointNode()
}

func edge(typ model.EdgeType, from, to string) *model.Edge {
	return &model.Edge{Type: typ, From: from, To: to}
}

// userService is the class → method → endpoint fixture.
func userService(t *testing.T) *memory.Store {
	return graph(t,
		[]*model.Node{
			class("a.UserService", "service"),
			method("a.UserService", "getUsers()"),
			endpoint("GET", "/api/users"),
		},
		[]*model.Edge{
			edge(model.EdgeHasMethod, "a.UserService", "a.UserService#getUsers()"),
			edge(model.EdgeExposesEndpoint, "a.UserService#getUsers()", "GET /api/users"),
		},
	)
}

func TestExplain_UserService(t *testing.T) {
	e := New(userService(t))

	sg, err := e.Explain(context.Background(), "a.UserService", Options{MaxDepth: 2})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if sg.CountKind(model.KindClass) != 1 || sg.CountKind(model.KindMethod) != 1 || sg.CountKind(model.KindEndpoint) != 1 {
		t.Fatalf("nodes = %+v", sg.Nodes)
	}
	var exposes int
	for _, se := range sg.Edges {
		if se.Type == model.EdgeExposesEndpoint {
			exposes++
		}
		if se.Closure {
			t.Errorf("unexpected closure edge %s", se.Key())
		}
	}
	if exposes != 1 {
		t.Fatalf("EXPOSES_ENDPOINT edges = %d, want 1", exposes)
	}
	if ep := sg.Node("GET /api/users"); ep == nil || ep.Depth != 2 {
		t.Fatalf("endpoint node %+v", ep)
	}
	if sg.Generation != 1 || sg.Truncated {
		t.Errorf("generation=%d truncated=%v", sg.Generation, sg.Truncated)
	}
}

func TestExplain_FromEndpoint(t *testing.T) {
	e := New(userService(t))

	sg, err := e.Explain(context.Background(), "get /api/users/", Options{MaxDepth: 2})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if sg.Root != "GET /api/users" {
		t.Errorf("root = %q", sg.Root)
	}
	want := []string{"GET /api/users", "a.UserService#getUsers()", "a.UserService"}
	if len(sg.Nodes) != len(want) {
		t.Fatalf("got %d nodes, want %d", len(sg.Nodes), len(want))
	}
	for i, k := range want {
		if sg.Nodes[i].Key != k || sg.Nodes[i].Depth != i {
			t.Errorf("node %d = %s@%d, want %s@%d", i, sg.Nodes[i].Key, sg.Nodes[i].Depth, k, i)
		}
	}
}

func TestExplain_CycleTerminates(t *testing.T) {
	s := graph(t,
		[]*model.Node{method("a.A", "x()"), method("a.B", "y()")},
		[]*model.Edge{
			edge(model.EdgeCalls, "a.A#x()", "a.B#y()"),
			edge(model.EdgeCalls, "a.B#y()", "a.A#x()"),
		},
	)
	e := New(s)

	sg, err := e.Explain(context.Background(), "a.A#x()", Options{MaxDepth: 10})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(sg.Nodes) != 2 || len(sg.Edges) != 2 {
		t.Fatalf("nodes=%d edges=%d, want 2 and 2", len(sg.Nodes), len(sg.Edges))
	}
	if !sg.Node("a.A#x()").CycleClosure {
		t.Error("root should carry the cycle-closure marker")
	}
	if sg.Node("a.B#y()").CycleClosure {
		t.Error("B is not re-entered")
	}
	back := sg.Edges[1]
	if back.From != "a.B#y()" || !back.Closure {
		t.Errorf("back edge %+v closure=%v", back.Edge, back.Closure)
	}
}

func TestExplain_SelfRecursion(t *testing.T) {
	s := graph(t,
		[]*model.Node{method("a.A", "fact(int)")},
		[]*model.Edge{edge(model.EdgeCalls, "a.A#fact(int)", "a.A#fact(int)")},
	)
	sg, err := New(s).Explain(context.Background(), "a.A#fact(int)", Options{})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(sg.Nodes) != 1 || !sg.Nodes[0].CycleClosure || len(sg.Edges) != 1 {
		t.Fatalf("got %+v / %+v", sg.Nodes, sg.Edges)
	}
}

func TestExplain_Deterministic(t *testing.T) {
	s := graph(t,
		[]*model.Node{
			method("a.A", "x()"), method("a.B", "y()"), method("a.C", "z()"), method("a.D", "w()"),
		},
		[]*model.Edge{
			edge(model.EdgeCalls, "a.A#x()", "a.D#w()"),
			edge(model.EdgeCalls, "a.A#x()", "a.B#y()"),
			edge(model.EdgeCalls, "a.A#x()", "a.C#z()"),
			edge(model.EdgeCalls, "a.C#z()", "a.B#y()"),
			edge(model.EdgeCalls, "a.B#y()", "a.A#x()"),
		},
	)
	e := New(s)
	ctx := context.Background()

	var outs [][]byte
	for i := 0; i < 3; i++ {
		sg, err := e.Explain(ctx, "a.A#x()", Options{MaxDepth: 4})
		if err != nil {
			t.Fatalf("Explain: %v", err)
		}
		b, err := json.Marshal(sg)
		if err != nil {
			t.Fatal(err)
		}
		outs = append(outs, b)
	}
	for i := 1; i < len(outs); i++ {
		if string(outs[i]) != string(outs[0]) {
			t.Fatalf("run %d differs:\n%s\n%s", i, outs[0], outs[i])
		}
	}

	sg, _ := e.Explain(ctx, "a.A#x()", Options{MaxDepth: 4})
	order := []string{"a.A#x()", "a.B#y()", "a.C#z()", "a.D#w()"}
	for i, k := range order {
		if sg.Nodes[i].Key != k {
			t.Errorf("node %d = %s, want %s", i, sg.Nodes[i].Key, k)
		}
	}
}

func TestExplain_DepthBound(t *testing.T) {
	s := graph(t,
		[]*model.Node{class("a.A"), class("a.B"), class("a.C"), class("a.D")},
		[]*model.Edge{
			{Type: model.EdgeDependsOn, From: "a.A", To: "a.B", FieldName: "b"},
			{Type: model.EdgeDependsOn, From: "a.B", To: "a.C", FieldName: "c"},
			{Type: model.EdgeDependsOn, From: "a.C", To: "a.D", FieldName: "d"},
		},
	)
	sg, err := New(s).Explain(context.Background(), "a.A", Options{MaxDepth: 2})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(sg.Nodes) != 3 || sg.Node("a.D") != nil {
		t.Fatalf("depth 2 reached %d nodes", len(sg.Nodes))
	}
	if sg.Truncated {
		t.Error("depth cutoff is not truncation")
	}
}

func TestExplain_EdgeTypeFilter(t *testing.T) {
	e := New(userService(t))
	sg, err := e.Explain(context.Background(), "a.UserService", Options{EdgeTypes: []model.EdgeType{model.EdgeDependsOn}})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(sg.Nodes) != 1 || len(sg.Edges) != 0 {
		t.Fatalf("filtered walk reached %d nodes", len(sg.Nodes))
	}

	_, err = e.Explain(context.Background(), "a.UserService", Options{EdgeTypes: []model.EdgeType{"USES"}})
	if !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
}

func TestExplain_NodeBudget(t *testing.T) {
	nodes := []*model.Node{method("a.Hub", "run()")}
	var edges []*model.Edge
	for _, sig := range []string{"a()", "b()", "c()", "d()", "e()"} {
		nodes = append(nodes, method("a.Leaf", sig))
		edges = append(edges, edge(model.EdgeCalls, "a.Hub#run()", "a.Leaf#"+sig))
	}
	sg, err := New(graph(t, nodes, edges)).Explain(context.Background(), "a.Hub#run()", Options{MaxNodes: 3})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if !sg.Truncated || len(sg.Nodes) != 3 {
		t.Fatalf("truncated=%v nodes=%d", sg.Truncated, len(sg.Nodes))
	}
}

func TestExplain_CancelledContext(t *testing.T) {
	e := New(userService(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sg, err := e.Explain(ctx, "a.UserService", Options{})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if !sg.Truncated || len(sg.Nodes) != 1 {
		t.Fatalf("truncated=%v nodes=%d", sg.Truncated, len(sg.Nodes))
	}
}

func TestExplain_NotFound(t *testing.T) {
	e := New(userService(t))
	_, err := e.Explain(context.Background(), "a.Missing", Options{})
	if !errors.Is(err, model.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestOptionsNormalize(t *testing.T) {
	o, err := Options{MaxDepth: 99}.normalize()
	if err != nil {
		t.Fatal(err)
	}
	if o.MaxDepth != MaxDepthLimit || o.MaxNodes != DefaultMaxNodes || len(o.EdgeTypes) != 4 {
		t.Fatalf("got %+v", o)
	}
	if _, err := (Options{MaxDepth: -1}).normalize(); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("negative depth: %v", err)
	}
}

func TestListEntities(t *testing.T) {
	e := New(userService(t))
	ctx := context.Background()

	page, err := e.ListEntities(ctx, model.NodeFilter{})
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if page.Total != 3 || len(page.Entities) != 3 {
		t.Fatalf("total=%d entities=%d", page.Total, len(page.Entities))
	}
	if page.Entities[0].Key != "GET /api/users" || page.Entities[0].Name != "GET /api/users" {
		t.Errorf("first entity %+v", page.Entities[0])
	}

	page, err = e.ListEntities(ctx, model.NodeFilter{Label: "service"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Entities[0].Kind != model.KindClass {
		t.Fatalf("label filter: %+v", page)
	}

	if _, err := e.ListEntities(ctx, model.NodeFilter{Kind: []model.Kind{"table"}}); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
}

func TestShow(t *testing.T) {
	e := New(userService(t))
	n, err := e.Show(context.Background(), "GET /api/users/")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if n.Kind != model.KindEndpoint || n.Path != "/api/users" {
		t.Fatalf("got %+v", n)
	}
}
