package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

func classNode(fqn string, labels ...string) *model.Node {
	n := (&model.ClassFact{FullName: fqn}).ClassNode()
	n.Labels = labels
	return n
}

func methodNode(class, sig string) *model.Node {
	return (&model.MethodFact{ClassName: class, Signature: sig}).MethodNode()
}

func TestUpsert_CreateThenMerge(t *testing.T) {
	r := New()

	h, err := r.Upsert(classNode("a.UserService"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !h.Created || h.Key != "a.UserService" || h.Kind != model.KindClass {
		t.Fatalf("unexpected handle %+v", h)
	}

	h, err = r.Upsert(classNode("a.UserService", "service"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if h.Created {
		t.Error("second upsert must merge, not create")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	n, _ := r.Lookup("a.UserService")
	if !reflect.DeepEqual(n.Labels, []string{"service"}) {
		t.Errorf("Labels = %v", n.Labels)
	}
}

func TestUpsert_OrderIndependent(t *testing.T) {
	decl := classNode("a.UserService", "service")
	decl.Modifiers = []string{"public"}
	ref := classNode("a.UserService")

	r1, r2 := New(), New()
	for _, n := range []*model.Node{decl, ref} {
		if _, err := r1.Upsert(n); err != nil {
			t.Fatal(err)
		}
	}
	for _, n := range []*model.Node{ref, decl} {
		if _, err := r2.Upsert(n); err != nil {
			t.Fatal(err)
		}
	}
	a, _ := r1.Lookup("a.UserService")
	b, _ := r2.Lookup("a.UserService")
	if !reflect.DeepEqual(a, b) {
		t.Errorf("merge depends on order:\n%+v\n%+v", a, b)
	}
}

func TestUpsert_Malformed(t *testing.T) {
	r := New()
	if _, err := r.Upsert(&model.Node{Kind: model.KindClass}); !errors.Is(err, model.ErrMalformedEntity) {
		t.Errorf("empty key: got %v, want ErrMalformedEntity", err)
	}
	if _, err := r.Upsert(&model.Node{Key: "x", Kind: "field"}); !errors.Is(err, model.ErrMalformedEntity) {
		t.Errorf("bad kind: got %v, want ErrMalformedEntity", err)
	}
}

func TestUpsert_KindClash(t *testing.T) {
	r := New()
	if _, err := r.Upsert(&model.Node{Key: "x", Kind: model.KindClass}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Upsert(&model.Node{Key: "x", Kind: model.KindEndpoint}); !errors.Is(err, model.ErrConflictingIdentity) {
		t.Errorf("got %v, want ErrConflictingIdentity", err)
	}
}

func TestUpsert_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := classNode("a.Shared", fmt.Sprintf("l%02d", i%5))
			if _, err := r.Upsert(n); err != nil {
				t.Errorf("Upsert: %v", err)
			}
			if _, err := r.Upsert(classNode(fmt.Sprintf("a.C%d", i))); err != nil {
				t.Errorf("Upsert: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 51 {
		t.Fatalf("Len = %d, want 51", r.Len())
	}
	n, _ := r.Lookup("a.Shared")
	if want := []string{"l00", "l01", "l02", "l03", "l04"}; !reflect.DeepEqual(n.Labels, want) {
		t.Errorf("Labels = %v, want %v", n.Labels, want)
	}
}

func TestFreeze_IndexesAndRejects(t *testing.T) {
	r := New()
	for _, n := range []*model.Node{
		classNode("a.UserService"),
		methodNode("a.UserService", "find(int)"),
		methodNode("a.UserService", "find(java.lang.String)"),
		methodNode("a.OrderService", "find(int)"),
	} {
		if _, err := r.Upsert(n); err != nil {
			t.Fatal(err)
		}
	}
	r.Freeze()

	if got := len(r.MethodsOf("a.UserService")); got != 2 {
		t.Errorf("MethodsOf = %d, want 2", got)
	}
	if got := len(r.MethodsNamed("find")); got != 3 {
		t.Errorf("MethodsNamed = %d, want 3", got)
	}
	nodes := r.Nodes()
	for i := 1; i < len(nodes); i++ {
		if nodes[i-1].Key >= nodes[i].Key {
			t.Fatalf("Nodes not sorted at %d: %q >= %q", i, nodes[i-1].Key, nodes[i].Key)
		}
	}
	if _, err := r.Upsert(classNode("a.Late")); !errors.Is(err, model.ErrRegistryFrozen) {
		t.Errorf("got %v, want ErrRegistryFrozen", err)
	}
	if _, ok := r.Lookup("a.UserService#find(int)"); !ok {
		t.Error("Lookup after freeze failed")
	}
}

func TestCountByKind(t *testing.T) {
	r := New()
	r.Upsert(classNode("a.B"))
	r.Upsert(methodNode("a.B", "x()"))
	r.Upsert((&model.EndpointFact{HTTPMethod: "GET", Path: "/x"}).EndpointNode())

	got := r.CountByKind()
	want := map[model.Kind]int{model.KindClass: 1, model.KindMethod: 1, model.KindEndpoint: 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CountByKind = %v, want %v", got, want)
	}
}
