package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/store"
)

// FormatVersion is written in every export header.
const FormatVersion = "1"

// Header is the first JSONL record of an export.
type Header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Generation int64     `json:"generation"`
	NodeCount  int       `json:"node_count"`
	EdgeCount  int       `json:"edge_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ExportJSONL writes the committed graph as JSONL to w: a header, then
// every node sorted by key, then every edge sorted by edge key. The graph
// is read from a single snapshot, so the export is one generation.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) (*Header, error) {
	var (
		nodes []*model.Node
		edges []*model.Edge
		gen   *model.Generation
	)
	err := s.Snapshot(ctx, func(r store.Reader) error {
		var err error
		if nodes, _, err = r.ListNodes(ctx, model.NodeFilter{}); err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}
		if edges, err = r.ListEdges(ctx, model.EdgeFilter{}); err != nil {
			return fmt.Errorf("list edges: %w", err)
		}
		if gen, err = r.LatestGeneration(ctx); err != nil {
			return fmt.Errorf("latest generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Backends order by their own collation; the export is byte-ordered.
	model.SortNodes(nodes)
	model.SortEdges(edges)

	h := &Header{
		Version:   FormatVersion,
		Type:      "header",
		Timestamp: time.Now().UTC(),
		NodeCount: len(nodes),
		EdgeCount: len(edges),
	}
	if gen != nil {
		h.Generation = gen.Number
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	for _, n := range nodes {
		if err := encodeRecord(enc, "node", n); err != nil {
			return nil, fmt.Errorf("encode node %s: %w", n.Key, err)
		}
	}
	for _, e := range edges {
		if err := encodeRecord(enc, "edge", e); err != nil {
			return nil, fmt.Errorf("encode edge %s: %w", e.Key(), err)
		}
	}
	return h, nil
}

func encodeRecord(enc *json.Encoder, typ string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return enc.Encode(record{Type: typ, Data: data})
}

// Graph is a decoded export.
type Graph struct {
	Header *Header
	Nodes  []*model.Node
	Edges  []*model.Edge
}

// ReadJSONL decodes an export written by ExportJSONL.
func ReadJSONL(r io.Reader) (*Graph, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)

	g := &Graph{}
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		if g.Header == nil {
			var h Header
			if err := json.Unmarshal(b, &h); err != nil || h.Type != "header" {
				return nil, fmt.Errorf("line %d: missing export header", line)
			}
			if h.Version != FormatVersion {
				return nil, fmt.Errorf("unsupported export version %q", h.Version)
			}
			g.Header = &h
			continue
		}
		var rec record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		switch rec.Type {
		case "node":
			var n model.Node
			if err := json.Unmarshal(rec.Data, &n); err != nil {
				return nil, fmt.Errorf("line %d: node: %w", line, err)
			}
			g.Nodes = append(g.Nodes, &n)
		case "edge":
			var e model.Edge
			if err := json.Unmarshal(rec.Data, &e); err != nil {
				return nil, fmt.Errorf("line %d: edge: %w", line, err)
			}
			g.Edges = append(g.Edges, &e)
		default:
			return nil, fmt.Errorf("line %d: unknown record type %q", line, rec.Type)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	if g.Header == nil {
		return nil, fmt.Errorf("empty export")
	}
	return g, nil
}

// Restore merges an export into s as one new generation. Merging is
// idempotent, so restoring the same export twice leaves the graph as it
// was after the first restore.
func Restore(ctx context.Context, s store.Store, g *Graph, runID string) (*model.Generation, error) {
	var gen *model.Generation
	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		var err error
		if gen, err = tx.BeginGeneration(ctx, runID); err != nil {
			return err
		}
		for _, n := range g.Nodes {
			if _, err := tx.MergeNode(ctx, gen.Number, n); err != nil {
				return fmt.Errorf("restore node %s: %w", n.Key, err)
			}
		}
		for _, e := range g.Edges {
			if err := tx.MergeEdge(ctx, gen.Number, e); err != nil {
				return fmt.Errorf("restore edge %s: %w", e.Key(), err)
			}
		}
		gen.Nodes, gen.Edges = len(g.Nodes), len(g.Edges)
		return tx.CommitGeneration(ctx, gen)
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}
