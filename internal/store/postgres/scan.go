package postgres

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanNode scans a single row into a model.Node.
// The row must contain columns in the order defined by nodeColumns.
func scanNode(row scannable) (*model.Node, error) {
	n, _, err := scanNodeRow(row, false)
	return n, err
}

// scanNodeWithTotal scans a row that has a leading total_count column
// followed by the standard node columns. Used by queryListNodes with
// COUNT(*) OVER().
func scanNodeWithTotal(row scannable) (*model.Node, int, error) {
	return scanNodeRow(row, true)
}

func scanNodeRow(row scannable, withTotal bool) (*model.Node, int, error) {
	var (
		n         model.Node
		kind      string
		labels    pq.StringArray
		modifiers pq.StringArray
		total     int
	)
	dest := []any{
		&n.ID,
		&n.Key,
		&kind,
		&n.Name,
		&n.FullName,
		&n.PackageName,
		&n.ClassName,
		&n.Signature,
		&n.ReturnType,
		&n.Parameters,
		&n.HTTPMethod,
		&n.Path,
		&n.Produces,
		&n.Consumes,
		&labels,
		&modifiers,
		&n.Generation,
	}
	if withTotal {
		dest = append([]any{&total}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}
	n.Kind = model.Kind(kind)
	if len(labels) > 0 {
		n.Labels = []string(labels)
	}
	if len(modifiers) > 0 {
		n.Modifiers = []string(modifiers)
	}
	return &n, total, nil
}

// scanEdge scans a single row into a model.Edge.
func scanEdge(row scannable) (*model.Edge, error) {
	var (
		e         model.Edge
		typ       string
		injection string
		lines     pq.Int64Array
	)
	err := row.Scan(
		&typ,
		&e.From,
		&e.To,
		&e.FieldName,
		&injection,
		&lines,
		&e.Generation,
	)
	if err != nil {
		return nil, err
	}
	e.Type = model.EdgeType(typ)
	e.InjectionType = model.InjectionType(injection)
	for _, l := range lines {
		e.LineNumbers = append(e.LineNumbers, int(l))
	}
	return &e, nil
}

// scanGeneration scans a single row into a model.Generation.
func scanGeneration(row scannable) (*model.Generation, error) {
	var (
		g         model.Generation
		committed sql.NullTime
	)
	err := row.Scan(&g.Number, &g.RunID, &g.StartedAt, &committed, &g.Nodes, &g.Edges, &g.Issues)
	if err != nil {
		return nil, err
	}
	g.CommittedAt = nullTimeToPtr(committed)
	return &g, nil
}

// nullTimeToPtr converts a sql.NullTime to a *time.Time.
func nullTimeToPtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// textArray converts a string slice to a TEXT[] parameter. A nil slice
// becomes an empty array rather than NULL so NOT NULL columns accept it.
func textArray(s []string) pq.StringArray {
	if s == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(s)
}

// intArray converts line numbers to an INTEGER[] parameter.
func intArray(lines []int) pq.Int64Array {
	out := make(pq.Int64Array, len(lines))
	for i, l := range lines {
		out[i] = int64(l)
	}
	return out
}
