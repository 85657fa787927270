package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/store"
)

func class(fqn string) *model.Node {
	return (&model.ClassFact{FullName: fqn}).ClassNode()
}

func method(class, sig string) *model.Node {
	return (&model.MethodFact{ClassName: class, Signature: sig}).MethodNode()
}

func endpoint(verb, path string) *model.Node {
	return (&model.EndpointFact{HTTPMethod: verb, Path: path}).EndpointNode()
}

func seed(t *testing.T, s *Store, gen int64, nodes ...*model.Node) {
	t.Helper()
	ctx := context.Background()
	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		for _, n := range nodes {
			if _, err := tx.MergeNode(ctx, gen, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestMergeNode_StableID(t *testing.T) {
	ctx := context.Background()
	s := New()

	id1, err := s.MergeNode(ctx, 1, class("a.UserService"))
	if err != nil {
		t.Fatalf("MergeNode: %v", err)
	}
	upd := class("a.UserService")
	upd.Labels = []string{"service"}
	id2, err := s.MergeNode(ctx, 2, upd)
	if err != nil {
		t.Fatalf("MergeNode: %v", err)
	}
	if id1 == "" || id1 != id2 {
		t.Fatalf("surrogate ID changed: %q -> %q", id1, id2)
	}

	got, err := s.GetNode(ctx, "a.UserService")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if !got.HasLabel("service") || got.Name != "UserService" {
		t.Errorf("merged node %+v", got)
	}
}

func TestMergeEdge_Dangling(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, 1, class("a.A"))

	err := s.MergeEdge(ctx, 1, &model.Edge{Type: model.EdgeDependsOn, From: "a.A", To: "a.Missing"})
	if !errors.Is(err, model.ErrConstraintViolation) {
		t.Fatalf("got %v, want ErrConstraintViolation", err)
	}
}

func TestMergeEdge_ExposureUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, 1, method("a.C", "x()"), method("a.D", "y()"), endpoint("GET", "/u"))

	if err := s.MergeEdge(ctx, 1, &model.Edge{Type: model.EdgeExposesEndpoint, From: "a.C#x()", To: "GET /u"}); err != nil {
		t.Fatalf("MergeEdge: %v", err)
	}
	if err := s.MergeEdge(ctx, 1, &model.Edge{Type: model.EdgeExposesEndpoint, From: "a.C#x()", To: "GET /u"}); err != nil {
		t.Fatalf("repeat MergeEdge must be a no-op: %v", err)
	}
	err := s.MergeEdge(ctx, 1, &model.Edge{Type: model.EdgeExposesEndpoint, From: "a.D#y()", To: "GET /u"})
	if !errors.Is(err, model.ErrConstraintViolation) {
		t.Fatalf("got %v, want ErrConstraintViolation", err)
	}
}

func TestMergeEdge_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, 1, method("a.A", "x()"), method("a.B", "y()"))

	e := &model.Edge{Type: model.EdgeCalls, From: "a.A#x()", To: "a.B#y()", LineNumbers: []int{4}}
	for i := 0; i < 3; i++ {
		if err := s.MergeEdge(ctx, 1, e); err != nil {
			t.Fatalf("MergeEdge: %v", err)
		}
	}
	edges, err := s.ListEdges(ctx, model.EdgeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(edges))
	}
}

func TestRunInTransaction_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		if _, err := tx.MergeNode(ctx, 1, class("a.A")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if _, err := s.GetNode(ctx, "a.A"); !errors.Is(err, model.ErrEntityNotFound) {
		t.Fatalf("rolled back node is visible: %v", err)
	}
}

func TestSnapshot_IsolatedFromCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, 1, class("a.A"))

	err := s.Snapshot(ctx, func(r store.Reader) error {
		seed(t, s, 2, class("a.B"))
		if _, err := r.GetNode(ctx, "a.B"); !errors.Is(err, model.ErrEntityNotFound) {
			t.Errorf("snapshot observed a later commit: %v", err)
		}
		_, total, err := r.ListNodes(ctx, model.NodeFilter{})
		if err != nil {
			return err
		}
		if total != 1 {
			t.Errorf("snapshot total = %d, want 1", total)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetNode(ctx, "a.B"); err != nil {
		t.Errorf("commit not visible after snapshot: %v", err)
	}
}

func TestPruneEdges(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, 1, class("a.A"), class("a.B"), class("a.C"))

	s.MergeEdge(ctx, 1, &model.Edge{Type: model.EdgeDependsOn, From: "a.A", To: "a.B", FieldName: "b"})
	s.MergeEdge(ctx, 1, &model.Edge{Type: model.EdgeDependsOn, From: "a.A", To: "a.C", FieldName: "c"})
	s.MergeEdge(ctx, 2, &model.Edge{Type: model.EdgeDependsOn, From: "a.A", To: "a.B", FieldName: "b"})

	n, err := s.PruneEdges(ctx, 2, "a.A")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	out, _ := s.Edges(ctx, "a.A", model.Outgoing, nil)
	if len(out) != 1 || out[0].To != "a.B" {
		t.Errorf("remaining edges %+v", out)
	}
	in, _ := s.Edges(ctx, "a.C", model.Incoming, nil)
	if len(in) != 0 {
		t.Errorf("incoming index not cleaned: %+v", in)
	}
}

func TestPruneEdges_StaleExposureOfEndpoint(t *testing.T) {
	ctx := context.Background()
	s := New()
	ep := endpoint("GET", "/api/users")
	seed(t, s, 1, method("a.C", "old()"), method("a.C", "renamed()"), ep)

	if err := s.MergeEdge(ctx, 1, &model.Edge{Type: model.EdgeExposesEndpoint, From: "a.C#old()", To: ep.Key}); err != nil {
		t.Fatal(err)
	}
	moved := &model.Edge{Type: model.EdgeExposesEndpoint, From: "a.C#renamed()", To: ep.Key}
	if err := s.MergeEdge(ctx, 2, moved); !errors.Is(err, model.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}

	// Pruning the endpoint drops its stale handler even though the handler
	// itself was not touched.
	n, err := s.PruneEdges(ctx, 2, ep.Key)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if err := s.MergeEdge(ctx, 2, moved); err != nil {
		t.Fatalf("merge after prune: %v", err)
	}
	in, _ := s.Edges(ctx, ep.Key, model.Incoming, nil)
	if len(in) != 1 || in[0].From != "a.C#renamed()" {
		t.Errorf("exposure edges %+v", in)
	}

	// A current-generation exposure survives.
	if n, _ := s.PruneEdges(ctx, 2, ep.Key); n != 0 {
		t.Errorf("pruned current exposure: %d", n)
	}
}

func TestListNodes_FilterAndPage(t *testing.T) {
	ctx := context.Background()
	s := New()
	svc := class("com.shop.UserService")
	svc.Labels = []string{"service"}
	seed(t, s, 1, svc, class("com.shop.OrderService"), class("org.other.Thing"), method("com.shop.UserService", "list()"))

	nodes, total, err := s.ListNodes(ctx, model.NodeFilter{Kind: []model.Kind{model.KindClass}, Package: "com.shop", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(nodes) != 1 || nodes[0].Key != "com.shop.OrderService" {
		t.Fatalf("total=%d nodes=%+v", total, nodes)
	}

	nodes, total, _ = s.ListNodes(ctx, model.NodeFilter{Label: "service"})
	if total != 1 || nodes[0].Key != "com.shop.UserService" {
		t.Fatalf("label filter: total=%d", total)
	}
}

func TestGenerations(t *testing.T) {
	ctx := context.Background()
	s := New()

	if g, err := s.LatestGeneration(ctx); err != nil || g != nil {
		t.Fatalf("empty store: %v %v", g, err)
	}
	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		g, err := tx.BeginGeneration(ctx, "run-1")
		if err != nil {
			return err
		}
		g.Nodes = 3
		return tx.CommitGeneration(ctx, g)
	})
	if err != nil {
		t.Fatal(err)
	}
	g, err := s.LatestGeneration(ctx)
	if err != nil || g == nil {
		t.Fatalf("LatestGeneration: %v %v", g, err)
	}
	if g.Number != 1 || g.RunID != "run-1" || g.Nodes != 3 || g.CommittedAt == nil {
		t.Errorf("generation %+v", g)
	}
}

func TestClosed_Unavailable(t *testing.T) {
	s := New()
	s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("got %v, want ErrStoreUnavailable", err)
	}
}
