package traverse

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/store"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Summary is the listing view of an entity.
type Summary struct {
	Key    string     `json:"key"`
	Kind   model.Kind `json:"kind"`
	Name   string     `json:"name,omitempty"`
	Labels []string   `json:"labels,omitempty"`
}

// Page is one page of an entity listing. Total counts every match, not
// just the returned page.
type Page struct {
	Entities []Summary `json:"entities"`
	Total    int       `json:"total"`
}

// SummaryOf returns the listing view of n. Endpoints are named after
// their key since they carry no simple name.
func SummaryOf(n *model.Node) Summary {
	s := Summary{Key: n.Key, Kind: n.Kind, Name: n.Name, Labels: n.Labels}
	if s.Name == "" && n.Kind == model.KindEndpoint {
		s.Name = n.Key
	}
	return s
}

// ListEntities returns entity summaries matching filter, ordered by key.
func (e *Engine) ListEntities(ctx context.Context, filter model.NodeFilter) (*Page, error) {
	for _, k := range filter.Kind {
		if !k.IsValid() {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidOption, k)
		}
	}
	if filter.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrInvalidOption)
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}

	page := &Page{Entities: []Summary{}}
	err := e.store.Snapshot(ctx, func(r store.Reader) error {
		nodes, total, err := r.ListNodes(ctx, filter)
		if err != nil {
			return err
		}
		page.Total = total
		for _, n := range nodes {
			page.Entities = append(page.Entities, SummaryOf(n))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return page, nil
}

// Show returns the full entity stored under key.
func (e *Engine) Show(ctx context.Context, key string) (*model.Node, error) {
	return e.store.GetNode(ctx, model.NormalizeKey(key))
}

// Stats returns aggregate graph counts.
func (e *Engine) Stats(ctx context.Context) (*model.GraphStats, error) {
	return e.store.Stats(ctx)
}

// Generations returns the most recent committed generations, newest first.
func (e *Engine) Generations(ctx context.Context, limit int) ([]*model.Generation, error) {
	return e.store.ListGenerations(ctx, limit)
}
