package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/archgraph/internal/events"
	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/traverse"
	"github.com/alfredjeanlab/archgraph/internal/ui"
)

func TestMain(m *testing.M) {
	ui.ForceNoColor()
	os.Exit(m.Run())
}

func node(key string, kind model.Kind, depth int) *model.SubgraphNode {
	return &model.SubgraphNode{Node: &model.Node{Key: key, Kind: kind}, Depth: depth}
}

func edge(t model.EdgeType, from, to string, closure bool) *model.SubgraphEdge {
	return &model.SubgraphEdge{Edge: &model.Edge{Type: t, From: from, To: to}, Closure: closure}
}

func TestPrintSubgraphTree(t *testing.T) {
	sg := &model.Subgraph{
		Root:       "a.UserService",
		MaxDepth:   2,
		Generation: 3,
		Nodes: []*model.SubgraphNode{
			node("a.UserService", model.KindClass, 0),
			node("a.UserService#getUsers()", model.KindMethod, 1),
			node("a.UserController", model.KindClass, 1),
			node("GET /api/users", model.KindEndpoint, 2),
		},
		Edges: []*model.SubgraphEdge{
			edge(model.EdgeHasMethod, "a.UserService", "a.UserService#getUsers()", false),
			edge(model.EdgeDependsOn, "a.UserController", "a.UserService", false),
			edge(model.EdgeExposesEndpoint, "a.UserService#getUsers()", "GET /api/users", false),
			edge(model.EdgeCalls, "a.UserService#getUsers()", "a.UserService#getUsers()", true),
		},
	}

	var buf bytes.Buffer
	printSubgraphTree(&buf, sg)

	want := `a.UserService [class]
├─-HAS_METHOD-> a.UserService#getUsers() [method]
│  ├─-EXPOSES_ENDPOINT-> GET /api/users [endpoint]
│  └─-CALLS-> a.UserService#getUsers() ↺
└─<-DEPENDS_ON- a.UserController [class]

4 entities, 4 relationships (depth 2, generation 3)
`
	if got := buf.String(); got != want {
		t.Errorf("tree mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestPrintSubgraphTree_Truncated(t *testing.T) {
	sg := &model.Subgraph{
		Root:      "a.B",
		Nodes:     []*model.SubgraphNode{node("a.B", model.KindClass, 0)},
		Truncated: true,
	}
	var buf bytes.Buffer
	printSubgraphTree(&buf, sg)
	if !strings.Contains(buf.String(), "truncated") {
		t.Errorf("missing truncation notice:\n%s", buf.String())
	}
}

func TestPrintRunSummary(t *testing.T) {
	sum := model.NewRunSummary("run-1", time.Now())
	sum.Generation = 2
	sum.Facts, sum.Units = 10, 3
	sum.Nodes[model.KindClass] = 2
	sum.Nodes[model.KindMethod] = 4
	sum.Edges[model.EdgeCalls] = 1
	for i := 1; i <= 3; i++ {
		sum.AddIssue(model.Issue{Kind: model.IssueUnresolved, Unit: "A.java", Seq: i, Message: "unresolved reference"})
	}

	var buf bytes.Buffer
	printRunSummary(&buf, sum, 2)
	out := buf.String()

	for _, want := range []string{
		"Generation 2 committed (run run-1)",
		"entities:  class=2 method=4",
		"relations: CALLS=1",
		"0 malformed, 3 unresolved, 0 conflicts",
		"A.java #2: unresolved reference",
		"... and 1 more",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "A.java #3") {
		t.Errorf("printed more than max issues:\n%s", out)
	}
}

func TestFormatCounts(t *testing.T) {
	if got := formatCounts(map[model.Kind]int{}); got != "none" {
		t.Errorf("empty = %q", got)
	}
	got := formatCounts(map[model.EdgeType]int{model.EdgeDependsOn: 2, model.EdgeCalls: 5})
	if got != "CALLS=5 DEPENDS_ON=2" {
		t.Errorf("formatCounts = %q", got)
	}
}

func TestPrintEntityTable(t *testing.T) {
	page := &traverse.Page{
		Entities: []traverse.Summary{
			{Key: "a.UserService", Kind: model.KindClass, Labels: []string{"service"}},
		},
		Total: 12,
	}
	var buf bytes.Buffer
	printEntityTable(&buf, page)
	if !strings.Contains(buf.String(), "a.UserService") || !strings.Contains(buf.String(), "1 entities (12 total)") {
		t.Errorf("table:\n%s", buf.String())
	}
}

func TestPrintEvent(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	for _, tc := range []struct {
		name  string
		topic string
		event any
		want  string
	}{
		{"Started", events.TopicIngestStarted,
			events.IngestStarted{RunID: "r1", Facts: 12, FullResync: true, StartedAt: started},
			"09:30:00 run r1 started: 12 facts (full resync)"},
		{"Committed", events.TopicGenerationCommitted,
			events.GenerationCommitted{Generation: &model.Generation{Number: 4, RunID: "r1", Nodes: 3, Edges: 2}},
			"+ generation 4 committed by run r1: 3 entities, 2 relationships"},
		{"Failed", events.TopicIngestFailed,
			events.IngestFailed{RunID: "r2", Error: "store unavailable"},
			"✗ run r2 failed: store unavailable"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.event)
			if err != nil {
				t.Fatal(err)
			}
			var buf bytes.Buffer
			printEvent(&buf, events.Message{Topic: tc.topic, Data: data})
			if got := strings.TrimSpace(buf.String()); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestApplyProjectScope(t *testing.T) {
	dir := t.TempDir()
	project := filepath.Join(dir, "archgraph.toml")
	if err := os.WriteFile(project, []byte("name = \"shop\"\n\n[[scope]]\nexclude = \"**/test/**\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	in := strings.Join([]string{
		`{"type":"class","unit":"src/main/A.java","data":{"full_name":"a.A"}}`,
		`{"type":"class","unit":"src/test/ATest.java","data":{"full_name":"a.ATest"}}`,
		`not json`,
	}, "\n")

	var errOut bytes.Buffer
	r, err := applyProjectScope(&errOut, strings.NewReader(in), project)
	if err != nil {
		t.Fatalf("applyProjectScope: %v", err)
	}
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"a.A"`) {
		t.Errorf("kept facts:\n%s", out.String())
	}
	if !strings.Contains(errOut.String(), "skipping fact #3") || !strings.Contains(errOut.String(), "1 facts out of scope") {
		t.Errorf("stderr:\n%s", errOut.String())
	}
}

func TestColorizeHelpOutput(t *testing.T) {
	in := "Graph:\n  explain  Show the neighbourhood\n\nFlags:\n      --depth int   hops (default 3)\n"
	// Color is off under TestMain, so the text comes back with only the
	// no-op renderers applied.
	if got := colorizeHelpOutput(in, map[string]bool{"explain": true}); got != in {
		t.Errorf("colorizeHelpOutput changed text without color:\n%s", got)
	}
}

func TestColorCommands(t *testing.T) {
	in := "Graph:\n  explain  Show the neighbourhood\n  stats    Show counts\n\nExamples:\n  ag explain a.UserService\n  a.B#c()  not a command\n"
	got := colorCommands(in, map[string]bool{"explain": true, "stats": true}, func(s string) string { return "<" + s + ">" })
	want := "Graph:\n  <explain>  Show the neighbourhood\n  <stats>    Show counts\n\nExamples:\n  ag explain a.UserService\n  a.B#c()  not a command\n"
	if got != want {
		t.Errorf("colorCommands:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestSubcommandNames(t *testing.T) {
	names := subcommandNames(rootCmd)
	for _, want := range []string{"explain", "list", "ingest", "serve", "remote"} {
		if !names[want] {
			t.Errorf("missing %q in %v", want, names)
		}
	}
}
