package neo4j

import (
	"errors"
	"fmt"
	"strings"
	"time"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

// kindLabel returns the secondary node label for a kind. Labels cannot be
// query parameters, so only these fixed values are ever spliced into Cypher.
func kindLabel(k model.Kind) string {
	switch k {
	case model.KindMethod:
		return "Method"
	case model.KindEndpoint:
		return "Endpoint"
	default:
		return "Class"
	}
}

// nodeProps returns the properties to SET on a merged node. Empty strings
// and empty sets are omitted so they never clear a stored value.
func nodeProps(n *model.Node) map[string]any {
	props := map[string]any{}
	for name, v := range map[string]string{
		"name":         n.Name,
		"full_name":    n.FullName,
		"package_name": n.PackageName,
		"class_name":   n.ClassName,
		"signature":    n.Signature,
		"return_type":  n.ReturnType,
		"parameters":   n.Parameters,
		"http_method":  n.HTTPMethod,
		"path":         n.Path,
		"produces":     n.Produces,
		"consumes":     n.Consumes,
	} {
		if v != "" {
			props[name] = v
		}
	}
	if len(n.Labels) > 0 {
		props["roles"] = model.UnionStrings(nil, n.Labels)
	}
	if len(n.Modifiers) > 0 {
		props["modifiers"] = model.UnionStrings(nil, n.Modifiers)
	}
	return props
}

// nodeFromProps rebuilds a model.Node from stored properties.
func nodeFromProps(props map[string]any) *model.Node {
	str := func(k string) string {
		if v, ok := props[k].(string); ok {
			return v
		}
		return ""
	}
	n := &model.Node{
		ID:          str("id"),
		Key:         str("key"),
		Kind:        model.Kind(str("kind")),
		Name:        str("name"),
		FullName:    str("full_name"),
		PackageName: str("package_name"),
		ClassName:   str("class_name"),
		Signature:   str("signature"),
		ReturnType:  str("return_type"),
		Parameters:  str("parameters"),
		HTTPMethod:  str("http_method"),
		Path:        str("path"),
		Produces:    str("produces"),
		Consumes:    str("consumes"),
		Labels:      stringList(props["roles"]),
		Modifiers:   stringList(props["modifiers"]),
	}
	if g, ok := props["generation"].(int64); ok {
		n.Generation = g
	}
	return n
}

func nodeFromRecord(rec *neo4jdrv.Record, key string) (*model.Node, error) {
	v, ok := rec.Get(key)
	if !ok {
		return nil, fmt.Errorf("record has no %q column", key)
	}
	node, ok := v.(neo4jdrv.Node)
	if !ok {
		return nil, fmt.Errorf("column %q is %T, not a node", key, v)
	}
	return nodeFromProps(node.Props), nil
}

func edgesFromRecords(records []*neo4jdrv.Record) []*model.Edge {
	edges := make([]*model.Edge, 0, len(records))
	for _, rec := range records {
		e := &model.Edge{
			Type:          model.EdgeType(recordString(rec, "type")),
			From:          recordString(rec, "from"),
			To:            recordString(rec, "to"),
			FieldName:     recordString(rec, "field"),
			InjectionType: model.InjectionType(recordString(rec, "injection")),
			Generation:    recordInt(rec, "generation"),
		}
		if v, ok := rec.Get("lines"); ok {
			if list, ok := v.([]any); ok {
				for _, l := range list {
					if i, ok := l.(int64); ok {
						e.LineNumbers = append(e.LineNumbers, int(i))
					}
				}
			}
		}
		edges = append(edges, e)
	}
	return edges
}

func generationFromRecord(rec *neo4jdrv.Record) *model.Generation {
	g := &model.Generation{
		Number:    recordInt(rec, "number"),
		RunID:     recordString(rec, "run_id"),
		StartedAt: time.UnixMilli(recordInt(rec, "started_at")).UTC(),
		Nodes:     int(recordInt(rec, "nodes")),
		Edges:     int(recordInt(rec, "edges")),
		Issues:    int(recordInt(rec, "issues")),
	}
	if ms := recordInt(rec, "committed_at"); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		g.CommittedAt = &t
	}
	return g
}

func recordString(rec *neo4jdrv.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordInt(rec *neo4jdrv.Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	i, _ := v.(int64)
	return i
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func int64s(lines []int) []int64 {
	out := make([]int64, len(lines))
	for i, l := range lines {
		out[i] = int64(l)
	}
	return out
}

func edgeTypeStrings(types []model.EdgeType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// classify maps driver errors onto the model's sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrStoreUnavailable) || errors.Is(err, model.ErrConstraintViolation) {
		return err
	}
	if neo4jdrv.IsConnectivityError(err) {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	var dbErr *neo4jdrv.Neo4jError
	if errors.As(err, &dbErr) {
		switch {
		case strings.HasPrefix(dbErr.Code, "Neo.ClientError.Schema.ConstraintValidationFailed"):
			return fmt.Errorf("%w: %w", model.ErrConstraintViolation, err)
		case strings.HasPrefix(dbErr.Code, "Neo.TransientError.General.DatabaseUnavailable"),
			strings.HasPrefix(dbErr.Code, "Neo.ClientError.Cluster.NotALeader"):
			return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
		}
	}
	return err
}
