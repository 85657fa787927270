package neo4j

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/alfredjeanlab/archgraph/internal/idgen"
	"github.com/alfredjeanlab/archgraph/internal/model"
	"github.com/alfredjeanlab/archgraph/internal/store"
)

// runner is satisfied by neo4j.ExplicitTransaction and neo4j.ManagedTransaction.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4jdrv.ResultWithContext, error)
}

// txStore implements store.Tx over one explicit transaction. Transactions
// are not safe for concurrent use, so every call holds mu.
type txStore struct {
	tx  runner
	mu  sync.Mutex
	now func() time.Time
}

// Compile-time check that txStore implements store.Tx.
var _ store.Tx = (*txStore)(nil)

const edgeReturn = `RETURN type(r) AS type, s.key AS from, t.key AS to,
	coalesce(r.field, '') AS field, coalesce(r.injection, '') AS injection,
	coalesce(r.lines, []) AS lines, coalesce(r.generation, 0) AS generation
	ORDER BY type, from, to, field`

const generationReturn = `RETURN g.number AS number, g.run_id AS run_id, g.started_at AS started_at,
	g.committed_at AS committed_at, coalesce(g.nodes, 0) AS nodes,
	coalesce(g.edges, 0) AS edges, coalesce(g.issues, 0) AS issues`

func (s *txStore) collect(ctx context.Context, cypher string, params map[string]any) ([]*neo4jdrv.Record, error) {
	res, err := s.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, classify(err)
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return records, nil
}

func (s *txStore) MergeNode(ctx context.Context, gen int64, n *model.Node) (string, error) {
	if n == nil || n.Key == "" || !n.Kind.IsValid() {
		return "", fmt.Errorf("%w: node needs a key and a valid kind", model.ErrMalformedEntity)
	}
	id, err := idgen.NodeID(n.Kind)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cypher := `
		MERGE (n:Entity {key: $key})
		ON CREATE SET n.id = $id, n.kind = $kind
		WITH n WHERE n.kind = $kind
		SET n:` + kindLabel(n.Kind) + `, n += $props, n.generation = $gen
		RETURN n.id AS id`
	records, err := s.collect(ctx, cypher, map[string]any{
		"key":   n.Key,
		"id":    id,
		"kind":  string(n.Kind),
		"props": nodeProps(n),
		"gen":   gen,
	})
	if err != nil {
		return "", fmt.Errorf("merge node %s: %w", n.Key, err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%w: %s is registered under another kind", model.ErrConstraintViolation, n.Key)
	}
	return recordString(records[0], "id"), nil
}

func (s *txStore) MergeEdge(ctx context.Context, gen int64, e *model.Edge) error {
	if e == nil || !e.Type.IsValid() {
		return fmt.Errorf("%w: invalid edge", model.ErrMalformedEntity)
	}
	fromKind, toKind := e.Type.Endpoints()
	k := e.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Type == model.EdgeExposesEndpoint {
		records, err := s.collect(ctx, `
			MATCH (m:Entity)-[r:EXPOSES_ENDPOINT]->(p:Entity)
			WHERE (m.key = $from AND p.key <> $to) OR (p.key = $to AND m.key <> $from)
			RETURN count(r) AS n`,
			map[string]any{"from": k.From, "to": k.To})
		if err != nil {
			return fmt.Errorf("check exposure %s: %w", k, err)
		}
		if len(records) > 0 && recordInt(records[0], "n") > 0 {
			return fmt.Errorf("%w: exposure %s -> %s conflicts with an existing one", model.ErrConstraintViolation, k.From, k.To)
		}
	}

	cypher := `
		MATCH (s:Entity {key: $from}) WHERE s.kind = $fromKind
		MATCH (t:Entity {key: $to}) WHERE t.kind = $toKind
		MERGE (s)-[r:` + string(k.Type) + ` {field: $field}]->(t)
		SET r.generation = $gen,
			r.injection = CASE WHEN $injection <> '' THEN $injection ELSE coalesce(r.injection, '') END,
			r.lines = CASE WHEN size($lines) > 0 THEN $lines ELSE coalesce(r.lines, []) END
		RETURN count(r) AS n`
	records, err := s.collect(ctx, cypher, map[string]any{
		"from":      k.From,
		"to":        k.To,
		"fromKind":  string(fromKind),
		"toKind":    string(toKind),
		"field":     k.FieldName,
		"injection": string(e.InjectionType),
		"lines":     int64s(e.LineNumbers),
		"gen":       gen,
	})
	if err != nil {
		return fmt.Errorf("merge edge %s: %w", k, err)
	}
	if len(records) == 0 || recordInt(records[0], "n") == 0 {
		return fmt.Errorf("%w: dangling %s edge %s -> %s", model.ErrConstraintViolation, e.Type, e.From, e.To)
	}
	return nil
}

func (s *txStore) PruneEdges(ctx context.Context, gen int64, sourceKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	params := map[string]any{"key": sourceKey, "gen": gen}
	total := 0
	for _, query := range []string{pruneOutgoing, pruneExposedBy} {
		records, err := s.collect(ctx, query, params)
		if err != nil {
			return 0, fmt.Errorf("prune edges of %s: %w", sourceKey, err)
		}
		if len(records) > 0 {
			total += int(recordInt(records[0], "n"))
		}
	}
	return total, nil
}

const (
	pruneOutgoing = `
		MATCH (s:Entity {key: $key})-[r]->(:Entity)
		WHERE r.generation < $gen
		DELETE r
		RETURN count(*) AS n`

	pruneExposedBy = `
		MATCH (:Entity)-[r:EXPOSES_ENDPOINT]->(p:Entity {key: $key})
		WHERE r.generation < $gen
		DELETE r
		RETURN count(*) AS n`
)

func (s *txStore) BeginGeneration(ctx context.Context, runID string) (*model.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.now().UTC()
	records, err := s.collect(ctx, `
		MERGE (c:GenerationCounter {id: 'graph'})
		ON CREATE SET c.value = 0
		SET c.value = c.value + 1
		WITH c
		CREATE (g:Generation {number: c.value, run_id: $run, started_at: $started})
		`+generationReturn,
		map[string]any{"run": runID, "started": started.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("begin generation: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("begin generation: no row returned")
	}
	return generationFromRecord(records[0]), nil
}

func (s *txStore) CommitGeneration(ctx context.Context, g *model.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	committed := s.now().UTC()
	records, err := s.collect(ctx, `
		MATCH (g:Generation {number: $number})
		SET g.committed_at = $committed, g.nodes = $nodes, g.edges = $edges, g.issues = $issues
		RETURN g.number AS number`,
		map[string]any{
			"number":    g.Number,
			"committed": committed.UnixMilli(),
			"nodes":     int64(g.Nodes),
			"edges":     int64(g.Edges),
			"issues":    int64(g.Issues),
		})
	if err != nil {
		return fmt.Errorf("commit generation: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: generation %d", model.ErrEntityNotFound, g.Number)
	}
	t := time.UnixMilli(committed.UnixMilli()).UTC()
	g.CommittedAt = &t
	return nil
}

func (s *txStore) GetNode(ctx context.Context, key string) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.collect(ctx, `MATCH (n:Entity {key: $key}) RETURN n`, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", key, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrEntityNotFound, key)
	}
	return nodeFromRecord(records[0], "n")
}

func (s *txStore) Edges(ctx context.Context, key string, dir model.Direction, types []model.EdgeType) ([]*model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern := `MATCH (s:Entity {key: $key})-[r]->(t:Entity)`
	if dir == model.Incoming {
		pattern = `MATCH (s:Entity)-[r]->(t:Entity {key: $key})`
	}
	records, err := s.collect(ctx, pattern+`
		WHERE size($types) = 0 OR type(r) IN $types
		`+edgeReturn,
		map[string]any{"key": key, "types": edgeTypeStrings(types)})
	if err != nil {
		return nil, fmt.Errorf("edges of %s: %w", key, err)
	}
	return edgesFromRecords(records), nil
}

func (s *txStore) ListEdges(ctx context.Context, filter model.EdgeFilter) ([]*model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.collect(ctx, `
		MATCH (s:Entity)-[r]->(t:Entity)
		WHERE (size($types) = 0 OR type(r) IN $types)
		  AND ($from = '' OR s.key = $from)
		  AND ($to = '' OR t.key = $to)
		`+edgeReturn,
		map[string]any{"types": edgeTypeStrings(filter.Types), "from": filter.From, "to": filter.To})
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	return edgesFromRecords(records), nil
}

func (s *txStore) ListNodes(ctx context.Context, filter model.NodeFilter) ([]*model.Node, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where, params := nodeWhere(filter)
	match := `MATCH (n:Entity)` + where

	records, err := s.collect(ctx, match+` RETURN count(n) AS total`, params)
	if err != nil {
		return nil, 0, fmt.Errorf("count nodes: %w", err)
	}
	total := 0
	if len(records) > 0 {
		total = int(recordInt(records[0], "total"))
	}

	page := match + ` RETURN n ORDER BY n.key SKIP $offset`
	params["offset"] = int64(filter.Offset)
	if filter.Limit > 0 {
		page += ` LIMIT $limit`
		params["limit"] = int64(filter.Limit)
	}
	records, err = s.collect(ctx, page, params)
	if err != nil {
		return nil, 0, fmt.Errorf("list nodes: %w", err)
	}
	nodes := make([]*model.Node, 0, len(records))
	for _, rec := range records {
		n, err := nodeFromRecord(rec, "n")
		if err != nil {
			return nil, 0, err
		}
		nodes = append(nodes, n)
	}
	return nodes, total, nil
}

func (s *txStore) Stats(ctx context.Context) (*model.GraphStats, error) {
	stats := &model.GraphStats{
		Nodes: make(map[model.Kind]int),
		Edges: make(map[model.EdgeType]int),
	}

	s.mu.Lock()
	records, err := s.collect(ctx, `MATCH (n:Entity) RETURN n.kind AS kind, count(*) AS n`, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	for _, rec := range records {
		stats.Nodes[model.Kind(recordString(rec, "kind"))] = int(recordInt(rec, "n"))
	}

	records, err = s.collect(ctx, `MATCH (:Entity)-[r]->(:Entity) RETURN type(r) AS type, count(*) AS n`, nil)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("count edges: %w", err)
	}
	for _, rec := range records {
		stats.Edges[model.EdgeType(recordString(rec, "type"))] = int(recordInt(rec, "n"))
	}

	g, err := s.LatestGeneration(ctx)
	if err != nil {
		return nil, err
	}
	stats.Generation = g
	return stats, nil
}

func (s *txStore) LatestGeneration(ctx context.Context) (*model.Generation, error) {
	gens, err := s.ListGenerations(ctx, 1)
	if err != nil || len(gens) == 0 {
		return nil, err
	}
	return gens[0], nil
}

func (s *txStore) ListGenerations(ctx context.Context, limit int) ([]*model.Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.collect(ctx, `
		MATCH (g:Generation) WHERE g.committed_at IS NOT NULL
		`+generationReturn+`
		ORDER BY number DESC LIMIT $limit`,
		map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	gens := make([]*model.Generation, 0, len(records))
	for _, rec := range records {
		gens = append(gens, generationFromRecord(rec))
	}
	return gens, nil
}

// nodeWhere builds the WHERE clause and parameters for a node filter.
func nodeWhere(filter model.NodeFilter) (string, map[string]any) {
	var clauses []string
	params := map[string]any{}

	if len(filter.Kind) > 0 {
		kinds := make([]string, len(filter.Kind))
		for i, k := range filter.Kind {
			kinds[i] = string(k)
		}
		clauses = append(clauses, "n.kind IN $kinds")
		params["kinds"] = kinds
	}
	if filter.Label != "" {
		clauses = append(clauses, "$label IN coalesce(n.roles, [])")
		params["label"] = filter.Label
	}
	if filter.Package != "" {
		clauses = append(clauses,
			"(CASE n.kind WHEN 'method' THEN coalesce(n.class_name, '') WHEN 'class' THEN coalesce(n.package_name, '') ELSE '' END) STARTS WITH $package")
		params["package"] = filter.Package
	}
	if filter.Search != "" {
		clauses = append(clauses,
			"(toLower(n.key) CONTAINS toLower($search) OR toLower(coalesce(n.name, '')) CONTAINS toLower($search))")
		params["search"] = filter.Search
	}

	if len(clauses) == 0 {
		return "", params
	}
	return " WHERE " + strings.Join(clauses, " AND "), params
}
