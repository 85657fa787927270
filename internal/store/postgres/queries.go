package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/archgraph/internal/idgen"
	"github.com/alfredjeanlab/archgraph/internal/model"
)

// nodeColumns is the column list used for SELECT statements on the nodes table.
const nodeColumns = `id, natural_key, kind, name, full_name, package_name,
	class_name, signature, return_type, parameters,
	http_method, path, produces, consumes, labels, modifiers, generation`

// edgeColumns is the column list used for SELECT statements on the edges table.
const edgeColumns = `edge_type, source_key, target_key, field_name, injection_type, line_numbers, generation`

// generationColumns is the column list used for SELECT statements on the generations table.
const generationColumns = `number, run_id, started_at, committed_at, node_count, edge_count, issue_count`

// Keys compare byte-wise under the "C" collation, matching Go string
// order whatever the database default collation is.
const (
	// edgeOrder sorts edges the way model.EdgeKey.Less does.
	edgeOrder = ` ORDER BY edge_type COLLATE "C", source_key COLLATE "C", target_key COLLATE "C", field_name COLLATE "C"`
	nodeOrder = ` ORDER BY natural_key COLLATE "C"`
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryMergeNode upserts a node on its natural key. Non-empty attributes
// overwrite; the existing surrogate ID is kept. A key already registered
// under a different kind matches no row and is reported as a violation.
func queryMergeNode(ctx context.Context, db executor, gen int64, n *model.Node) (string, error) {
	if n == nil || n.Key == "" || !n.Kind.IsValid() {
		return "", fmt.Errorf("%w: node needs a key and a valid kind", model.ErrMalformedEntity)
	}
	id, err := idgen.NodeID(n.Kind)
	if err != nil {
		return "", err
	}

	var got string
	err = db.QueryRowContext(ctx, `
		INSERT INTO nodes (
			id, natural_key, kind, name, full_name, package_name,
			class_name, signature, return_type, parameters,
			http_method, path, produces, consumes, labels, modifiers, generation
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (natural_key) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), nodes.name),
			full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), nodes.full_name),
			package_name = COALESCE(NULLIF(EXCLUDED.package_name, ''), nodes.package_name),
			class_name = COALESCE(NULLIF(EXCLUDED.class_name, ''), nodes.class_name),
			signature = COALESCE(NULLIF(EXCLUDED.signature, ''), nodes.signature),
			return_type = COALESCE(NULLIF(EXCLUDED.return_type, ''), nodes.return_type),
			parameters = COALESCE(NULLIF(EXCLUDED.parameters, ''), nodes.parameters),
			http_method = COALESCE(NULLIF(EXCLUDED.http_method, ''), nodes.http_method),
			path = COALESCE(NULLIF(EXCLUDED.path, ''), nodes.path),
			produces = COALESCE(NULLIF(EXCLUDED.produces, ''), nodes.produces),
			consumes = COALESCE(NULLIF(EXCLUDED.consumes, ''), nodes.consumes),
			labels = CASE WHEN cardinality(EXCLUDED.labels) > 0 THEN EXCLUDED.labels ELSE nodes.labels END,
			modifiers = CASE WHEN cardinality(EXCLUDED.modifiers) > 0 THEN EXCLUDED.modifiers ELSE nodes.modifiers END,
			generation = EXCLUDED.generation,
			updated_at = NOW()
		WHERE nodes.kind = EXCLUDED.kind
		RETURNING id`,
		id,
		n.Key,
		string(n.Kind),
		n.Name,
		n.FullName,
		n.PackageName,
		n.ClassName,
		n.Signature,
		n.ReturnType,
		n.Parameters,
		n.HTTPMethod,
		n.Path,
		n.Produces,
		n.Consumes,
		textArray(n.Labels),
		textArray(n.Modifiers),
		gen,
	).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s is registered under another kind", model.ErrConstraintViolation, n.Key)
	}
	if err != nil {
		return "", fmt.Errorf("merge node %s: %w", n.Key, classify(err))
	}
	return got, nil
}

// queryMergeEdge upserts an edge on its key. The INSERT selects both
// endpoints from nodes with the kinds the edge type requires, so a missing
// endpoint inserts nothing and is reported as a dangling edge.
func queryMergeEdge(ctx context.Context, db executor, gen int64, e *model.Edge) error {
	if e == nil || !e.Type.IsValid() {
		return fmt.Errorf("%w: invalid edge", model.ErrMalformedEntity)
	}
	fromKind, toKind := e.Type.Endpoints()
	k := e.Key()

	res, err := db.ExecContext(ctx, `
		INSERT INTO edges (edge_type, source_key, target_key, field_name, injection_type, line_numbers, generation)
		SELECT $1, s.natural_key, t.natural_key, $4, $5, $6, $7
		FROM nodes s, nodes t
		WHERE s.natural_key = $2 AND s.kind = $8
		  AND t.natural_key = $3 AND t.kind = $9
		ON CONFLICT (edge_type, source_key, target_key, field_name) DO UPDATE SET
			injection_type = COALESCE(NULLIF(EXCLUDED.injection_type, ''), edges.injection_type),
			line_numbers = CASE WHEN cardinality(EXCLUDED.line_numbers) > 0 THEN EXCLUDED.line_numbers ELSE edges.line_numbers END,
			generation = EXCLUDED.generation,
			updated_at = NOW()`,
		string(k.Type),
		k.From,
		k.To,
		k.FieldName,
		string(e.InjectionType),
		intArray(e.LineNumbers),
		gen,
		string(fromKind),
		string(toKind),
	)
	if err != nil {
		return fmt.Errorf("merge edge %s: %w", k, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: dangling %s edge %s -> %s", model.ErrConstraintViolation, e.Type, e.From, e.To)
	}
	return nil
}

func queryPruneEdges(ctx context.Context, db executor, gen int64, sourceKey string) (int, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM edges
		WHERE generation < $2
		  AND (source_key = $1 OR (target_key = $1 AND edge_type = 'EXPOSES_ENDPOINT'))`,
		sourceKey, gen,
	)
	if err != nil {
		return 0, fmt.Errorf("prune edges of %s: %w", sourceKey, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func queryGetNode(ctx context.Context, db executor, key string) (*model.Node, error) {
	row := db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE natural_key = $1`, key)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrEntityNotFound, key)
	}
	if err != nil {
		return nil, classify(err)
	}
	return n, nil
}

func queryEdges(ctx context.Context, db executor, key string, dir model.Direction, types []model.EdgeType) ([]*model.Edge, error) {
	col := "source_key"
	if dir == model.Incoming {
		col = "target_key"
	}
	q := `SELECT ` + edgeColumns + ` FROM edges WHERE ` + col + ` = $1`
	args := []any{key}
	if len(types) > 0 {
		q += ` AND edge_type = ANY($2)`
		args = append(args, edgeTypeArray(types))
	}
	return collectEdges(ctx, db, q+edgeOrder, args...)
}

func queryListEdges(ctx context.Context, db executor, filter model.EdgeFilter) ([]*model.Edge, error) {
	var (
		whereClauses []string
		args         []any
	)
	if len(filter.Types) > 0 {
		args = append(args, edgeTypeArray(filter.Types))
		whereClauses = append(whereClauses, fmt.Sprintf("edge_type = ANY($%d)", len(args)))
	}
	if filter.From != "" {
		args = append(args, filter.From)
		whereClauses = append(whereClauses, fmt.Sprintf("source_key = $%d", len(args)))
	}
	if filter.To != "" {
		args = append(args, filter.To)
		whereClauses = append(whereClauses, fmt.Sprintf("target_key = $%d", len(args)))
	}
	q := `SELECT ` + edgeColumns + ` FROM edges`
	if len(whereClauses) > 0 {
		q += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	return collectEdges(ctx, db, q+edgeOrder, args...)
}

func collectEdges(ctx context.Context, db executor, q string, args ...any) ([]*model.Edge, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", classify(err))
	}
	defer rows.Close()

	var edges []*model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edges: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan edges: %w", classify(err))
	}
	return edges, nil
}

func queryListNodes(ctx context.Context, db executor, filter model.NodeFilter) ([]*model.Node, int, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if len(filter.Kind) > 0 {
		placeholders := make([]string, len(filter.Kind))
		for i, k := range filter.Kind {
			placeholders[i] = nextArg()
			args = append(args, string(k))
		}
		whereClauses = append(whereClauses, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.Label != "" {
		whereClauses = append(whereClauses, nextArg()+" = ANY(labels)")
		args = append(args, filter.Label)
	}

	if filter.Package != "" {
		p := nextArg()
		whereClauses = append(whereClauses,
			fmt.Sprintf("(CASE kind WHEN 'method' THEN class_name WHEN 'class' THEN package_name ELSE '' END) LIKE %s || '%%'", p))
		args = append(args, filter.Package)
	}

	if filter.Search != "" {
		p := nextArg()
		whereClauses = append(whereClauses,
			fmt.Sprintf("(natural_key ILIKE '%%' || %s || '%%' OR name ILIKE '%%' || %s || '%%')", p, p))
		args = append(args, filter.Search)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + nodeColumns + " FROM nodes" + whereSQL + nodeOrder

	if filter.Limit > 0 {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		dataQuery += " OFFSET " + nextArg()
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list nodes: %w", classify(err))
	}
	defer rows.Close()

	var nodes []*model.Node
	var total int
	for rows.Next() {
		n, t, err := scanNodeWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan nodes: %w", err)
		}
		total = t
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan nodes: %w", classify(err))
	}

	return nodes, total, nil
}

func queryStats(ctx context.Context, db executor) (*model.GraphStats, error) {
	stats := &model.GraphStats{
		Nodes: make(map[model.Kind]int),
		Edges: make(map[model.EdgeType]int),
	}

	rows, err := db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM nodes GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count nodes: %w", classify(err))
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan node counts: %w", err)
		}
		stats.Nodes[model.Kind(kind)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan node counts: %w", classify(err))
	}

	rows, err = db.QueryContext(ctx, `SELECT edge_type, COUNT(*) FROM edges GROUP BY edge_type`)
	if err != nil {
		return nil, fmt.Errorf("count edges: %w", classify(err))
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan edge counts: %w", err)
		}
		stats.Edges[model.EdgeType(typ)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan edge counts: %w", classify(err))
	}

	g, err := queryLatestGeneration(ctx, db)
	if err != nil {
		return nil, err
	}
	stats.Generation = g
	return stats, nil
}

func queryBeginGeneration(ctx context.Context, db executor, runID string) (*model.Generation, error) {
	g := &model.Generation{RunID: runID}
	err := db.QueryRowContext(ctx, `
		INSERT INTO generations (run_id) VALUES ($1)
		RETURNING number, started_at`,
		runID,
	).Scan(&g.Number, &g.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("begin generation: %w", classify(err))
	}
	return g, nil
}

func queryCommitGeneration(ctx context.Context, db executor, g *model.Generation) error {
	var committed sql.NullTime
	err := db.QueryRowContext(ctx, `
		UPDATE generations
		SET committed_at = NOW(), node_count = $2, edge_count = $3, issue_count = $4
		WHERE number = $1
		RETURNING committed_at`,
		g.Number, g.Nodes, g.Edges, g.Issues,
	).Scan(&committed)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: generation %d", model.ErrEntityNotFound, g.Number)
	}
	if err != nil {
		return fmt.Errorf("commit generation: %w", classify(err))
	}
	g.CommittedAt = nullTimeToPtr(committed)
	return nil
}

func queryLatestGeneration(ctx context.Context, db executor) (*model.Generation, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+generationColumns+` FROM generations
		WHERE committed_at IS NOT NULL
		ORDER BY number DESC LIMIT 1`)
	g, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest generation: %w", classify(err))
	}
	return g, nil
}

func queryListGenerations(ctx context.Context, db executor, limit int) ([]*model.Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+generationColumns+` FROM generations
		WHERE committed_at IS NOT NULL
		ORDER BY number DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", classify(err))
	}
	defer rows.Close()

	var gens []*model.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generations: %w", err)
		}
		gens = append(gens, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan generations: %w", classify(err))
	}
	return gens, nil
}

func edgeTypeArray(types []model.EdgeType) pq.StringArray {
	out := make(pq.StringArray, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
