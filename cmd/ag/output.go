package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/traverse"
	"github.com/alfredjeanlab/archgraph/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// treeChild is one rendered branch of an explain tree.
type treeChild struct {
	edge    *model.SubgraphEdge
	key     string
	dir     model.Direction
	closure bool
}

// printSubgraphTree renders an explain result as an indented tree rooted
// at the explained entity. Each node appears once; an edge back to a node
// already shown is printed as a leaf marked with "↺".
func printSubgraphTree(w io.Writer, sg *model.Subgraph) {
	kinds := make(map[string]model.Kind, len(sg.Nodes))
	for _, n := range sg.Nodes {
		kinds[n.Key] = n.Kind
	}

	placed := map[string]bool{sg.Root: true}
	children := make(map[string][]treeChild)
	for _, e := range sg.Edges {
		switch {
		case e.Closure:
			children[e.From] = append(children[e.From], treeChild{edge: e, key: e.To, dir: model.Outgoing, closure: true})
		case placed[e.From]:
			children[e.From] = append(children[e.From], treeChild{edge: e, key: e.To, dir: model.Outgoing})
			placed[e.To] = true
		default:
			children[e.To] = append(children[e.To], treeChild{edge: e, key: e.From, dir: model.Incoming})
			placed[e.From] = true
		}
	}

	fmt.Fprintf(w, "%s %s\n", ui.RenderKey(kinds[sg.Root], sg.Root), ui.RenderMuted("["+string(kinds[sg.Root])+"]"))
	printBranches(w, sg.Root, "", children, kinds)

	if sg.Truncated {
		fmt.Fprintln(w, ui.RenderWarn("(truncated: node limit or timeout reached)"))
	}
	fmt.Fprintf(w, "\n%d entities, %d relationships (depth %d, generation %d)\n",
		len(sg.Nodes), len(sg.Edges), sg.MaxDepth, sg.Generation)
}

func printBranches(w io.Writer, key, prefix string, children map[string][]treeChild, kinds map[string]model.Kind) {
	kids := children[key]
	for i, c := range kids {
		last := i == len(kids)-1
		branch, indent := "├─", "│  "
		if last {
			branch, indent = "└─", "   "
		}
		label := ui.RenderKey(kinds[c.key], c.key)
		if c.closure {
			label += " " + ui.RenderMuted("↺")
		} else {
			label += " " + ui.RenderMuted("["+string(kinds[c.key])+"]")
		}
		fmt.Fprintf(w, "%s%s%s %s\n", prefix, branch, ui.RenderEdge(c.edge.Type, c.dir), label)
		if !c.closure {
			printBranches(w, c.key, prefix+indent, children, kinds)
		}
	}
}

func printEntityTable(w io.Writer, page *traverse.Page) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tKEY\tLABELS")
	for _, e := range page.Entities {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Kind, ui.Truncate(e.Key, 80), strings.Join(e.Labels, ","))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d entities (%d total)\n", len(page.Entities), page.Total)
}

func printNode(w io.Writer, n *model.Node) {
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-13s%s\n", name+":", value)
		}
	}
	field("Key", n.Key)
	field("ID", n.ID)
	field("Kind", string(n.Kind))
	field("Name", n.Name)
	field("Package", n.PackageName)
	field("Class", n.ClassName)
	field("Signature", n.Signature)
	field("Returns", n.ReturnType)
	field("Parameters", n.Parameters)
	field("HTTP Method", n.HTTPMethod)
	field("Path", n.Path)
	field("Produces", n.Produces)
	field("Consumes", n.Consumes)
	field("Labels", strings.Join(n.Labels, ", "))
	field("Modifiers", strings.Join(n.Modifiers, " "))
}

func printStats(w io.Writer, stats *model.GraphStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITIES\tCOUNT")
	for _, k := range []model.Kind{model.KindClass, model.KindMethod, model.KindEndpoint} {
		fmt.Fprintf(tw, "%s\t%d\n", k, stats.Nodes[k])
	}
	fmt.Fprintln(tw, "\t")
	fmt.Fprintln(tw, "RELATIONSHIPS\tCOUNT")
	for _, t := range model.AllEdgeTypes {
		fmt.Fprintf(tw, "%s\t%d\n", t, stats.Edges[t])
	}
	tw.Flush()

	if g := stats.Generation; g != nil {
		fmt.Fprintf(w, "\nGeneration %d (run %s", g.Number, g.RunID)
		if g.CommittedAt != nil {
			fmt.Fprintf(w, ", committed %s", g.CommittedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(w, ")")
	} else {
		fmt.Fprintln(w, "\nNo generation committed yet")
	}
}

func printGenerations(w io.Writer, gens []*model.Generation) {
	if len(gens) == 0 {
		fmt.Fprintln(w, "No generations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GEN\tRUN\tNODES\tEDGES\tISSUES\tCOMMITTED")
	for _, g := range gens {
		committed := "-"
		if g.CommittedAt != nil {
			committed = g.CommittedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\n", g.Number, g.RunID, g.Nodes, g.Edges, g.Issues, committed)
	}
	tw.Flush()
}

// printRunSummary prints the outcome of an ingestion run followed by up to
// maxIssues of its issues.
func printRunSummary(w io.Writer, sum *model.RunSummary, maxIssues int) {
	fmt.Fprintf(w, "Generation %d committed (run %s)\n", sum.Generation, sum.RunID)
	fmt.Fprintf(w, "  facts:     %d in %d units\n", sum.Facts, sum.Units)
	fmt.Fprintf(w, "  entities:  %s\n", formatCounts(sum.Nodes))
	fmt.Fprintf(w, "  relations: %s\n", formatCounts(sum.Edges))
	if sum.Pruned > 0 {
		fmt.Fprintf(w, "  pruned:    %d\n", sum.Pruned)
	}
	if len(sum.Issues) == 0 {
		return
	}
	fmt.Fprintf(w, "  issues:    %d malformed, %d unresolved, %d conflicts\n", sum.Malformed, sum.Unresolved, sum.Conflicts)
	for i, is := range sum.Issues {
		if i == maxIssues {
			fmt.Fprintf(w, "  ... and %d more (use --json for all)\n", len(sum.Issues)-maxIssues)
			break
		}
		loc := is.Unit
		if is.Seq > 0 {
			loc = fmt.Sprintf("%s #%d", loc, is.Seq)
		}
		fmt.Fprintf(w, "  %s %s: %s\n", ui.RenderWarn(string(is.Kind)), loc, is.Message)
	}
}

// formatCounts renders a count map as "a=1 b=2" in key order.
func formatCounts[K ~string](m map[K]int) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[K(k)])
	}
	return strings.Join(parts, " ")
}
