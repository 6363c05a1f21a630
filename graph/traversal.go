package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"hivehub.dev/fault"
)

const (
	// MaxDepth caps every variable-length traversal.
	MaxDepth = 5

	// MaxNodes caps the node count any traversal may return.
	MaxNodes = 100

	defaultPathLimit = 10
)

// NodeSummary is the reduced node shape traversals return.
type NodeSummary struct {
	ID     string   `json:"id"`
	Labels []string `json:"labels"`
}

// Path is a single route between two nodes.
type Path struct {
	Length   int64         `json:"length"`
	Nodes    []NodeSummary `json:"nodes"`
	RelTypes []string      `json:"rel_types"`
}

// Edge is one directed edge of a subgraph.
type Edge struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Type   string `json:"type"`
}

// Subgraph is a radius-bounded neighborhood with its internal edges.
type Subgraph struct {
	Nodes []map[string]interface{} `json:"nodes"`
	Edges []Edge                   `json:"edges"`
}

// RelStat aggregates a node's edges by type and neighbor label.
type RelStat struct {
	Type          string `json:"type"`
	NeighborLabel string `json:"neighbor_label"`
	Count         int64  `json:"count"`
}

// Traversal provides multi-hop read operations.
type Traversal struct {
	pool *Pool
}

// NewTraversal creates the traversal operations over a pool.
func NewTraversal(pool *Pool) *Traversal {
	return &Traversal{pool: pool}
}

// clampDepth bounds depth to [1, MaxDepth]. Depth is interpolated into the
// query text because Cypher cannot parameterize variable-length bounds.
func clampDepth(depth int) int {
	if depth < 1 {
		return 1
	}
	if depth > MaxDepth {
		return MaxDepth
	}
	return depth
}

// Connected returns the distinct nodes reachable within maxDepth steps,
// capped at MaxNodes. Depth 1 is the immediate neighborhood.
func (t *Traversal) Connected(ctx context.Context, label, id string, maxDepth int) ([]map[string]interface{}, error) {
	label, err := safeLabel(label)
	if err != nil {
		return nil, err
	}
	depth := clampDepth(maxDepth)

	result, err := t.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (n:%s {id: $id})-[*1..%d]-(m)
			WHERE m <> n
			RETURN DISTINCT properties(m) AS props, labels(m) AS labels
			LIMIT %d
		`, label, depth, MaxNodes)
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": id})
		if err != nil {
			return nil, err
		}
		nodes := []map[string]interface{}{}
		for res.Next(ctx) {
			record := res.Record()
			props, _ := record.Get("props")
			labels, _ := record.Get("labels")
			node := props.(map[string]interface{})
			node["_labels"] = labels
			nodes = append(nodes, node)
		}
		return nodes, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]map[string]interface{}), nil
}

// ShortestPath returns the shortest route between two nodes within
// maxDepth hops, or nil when unreachable.
func (t *Traversal) ShortestPath(ctx context.Context, from, to Ref, maxDepth int) (*Path, error) {
	from, err := checkRef(from)
	if err != nil {
		return nil, err
	}
	to, err = checkRef(to)
	if err != nil {
		return nil, err
	}
	depth := clampDepth(maxDepth)

	result, err := t.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (a:%s {id: $fromId}), (b:%s {id: $toId})
			MATCH p = shortestPath((a)-[*..%d]-(b))
			RETURN length(p) AS length,
			       [node IN nodes(p) | {id: node.id, labels: labels(node)}] AS nodes,
			       [rel IN relationships(p) | type(rel)] AS rel_types
		`, from.Label, to.Label, depth)
		res, err := tx.Run(ctx, query, map[string]interface{}{"fromId": from.ID, "toId": to.ID})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			return recordToPath(res.Record())
		}
		return (*Path)(nil), res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.(*Path), nil
}

// AllPaths returns up to limit routes between two nodes ordered by length
// ascending.
func (t *Traversal) AllPaths(ctx context.Context, from, to Ref, maxDepth, limit int) ([]*Path, error) {
	from, err := checkRef(from)
	if err != nil {
		return nil, err
	}
	to, err = checkRef(to)
	if err != nil {
		return nil, err
	}
	depth := clampDepth(maxDepth)
	limit = clampLimit(limit, defaultPathLimit, MaxNodes)

	result, err := t.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (a:%s {id: $fromId}), (b:%s {id: $toId})
			MATCH p = (a)-[*..%d]-(b)
			RETURN length(p) AS length,
			       [node IN nodes(p) | {id: node.id, labels: labels(node)}] AS nodes,
			       [rel IN relationships(p) | type(rel)] AS rel_types
			ORDER BY length ASC
			LIMIT $limit
		`, from.Label, to.Label, depth)
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"fromId": from.ID,
			"toId":   to.ID,
			"limit":  limit,
		})
		if err != nil {
			return nil, err
		}
		paths := []*Path{}
		for res.Next(ctx) {
			path, err := recordToPath(res.Record())
			if err != nil {
				return nil, err
			}
			paths = append(paths, path)
		}
		return paths, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]*Path), nil
}

// Subgraph returns the neighborhood within radius hops plus every edge
// between the collected nodes. nodeCap bounds the neighborhood size.
func (t *Traversal) Subgraph(ctx context.Context, label, id string, radius, nodeCap int) (*Subgraph, error) {
	label, err := safeLabel(label)
	if err != nil {
		return nil, err
	}
	depth := clampDepth(radius)
	most := clampLimit(nodeCap, MaxNodes, MaxNodes)

	result, err := t.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		// Pass 1: the center plus its neighborhood, keyed by element id
		// so same-valued ids on different labels cannot collide.
		nodeQuery := fmt.Sprintf(`
			MATCH (n:%s {id: $id})
			OPTIONAL MATCH (n)-[*1..%d]-(m)
			WITH n, collect(DISTINCT m)[..%d] AS others
			WITH [n] + others AS ns
			UNWIND ns AS node
			RETURN DISTINCT elementId(node) AS eid, properties(node) AS props, labels(node) AS labels
		`, label, depth, most)
		res, err := tx.Run(ctx, nodeQuery, map[string]interface{}{"id": id})
		if err != nil {
			return nil, err
		}

		sg := &Subgraph{Nodes: []map[string]interface{}{}, Edges: []Edge{}}
		eids := []interface{}{}
		for res.Next(ctx) {
			record := res.Record()
			eid, _ := record.Get("eid")
			props, _ := record.Get("props")
			labels, _ := record.Get("labels")
			if props == nil {
				continue
			}
			node := props.(map[string]interface{})
			node["_labels"] = labels
			sg.Nodes = append(sg.Nodes, node)
			eids = append(eids, eid)
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		if len(sg.Nodes) == 0 {
			return nil, fault.Missing("entity %s/%s not found", label, id)
		}

		// Pass 2: edges with both endpoints inside the neighborhood.
		edgeRes, err := tx.Run(ctx, `
			MATCH (a)-[rel]->(b)
			WHERE elementId(a) IN $eids AND elementId(b) IN $eids
			RETURN a.id AS from_id, b.id AS to_id, type(rel) AS rel_type
		`, map[string]interface{}{"eids": eids})
		if err != nil {
			return nil, err
		}
		for edgeRes.Next(ctx) {
			record := edgeRes.Record()
			edge := Edge{}
			if v, ok := record.Get("from_id"); ok && v != nil {
				edge.FromID = v.(string)
			}
			if v, ok := record.Get("to_id"); ok && v != nil {
				edge.ToID = v.(string)
			}
			if v, ok := record.Get("rel_type"); ok {
				edge.Type = v.(string)
			}
			sg.Edges = append(sg.Edges, edge)
		}
		return sg, edgeRes.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.(*Subgraph), nil
}

// RelStats aggregates a node's edges by relationship type and neighbor
// label, most common first.
func (t *Traversal) RelStats(ctx context.Context, label, id string) ([]RelStat, error) {
	label, err := safeLabel(label)
	if err != nil {
		return nil, err
	}

	result, err := t.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (n:%s {id: $id})-[rel]-(m)
			RETURN type(rel) AS rel_type, head(labels(m)) AS neighbor_label, count(*) AS count
			ORDER BY count DESC
		`, label)
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": id})
		if err != nil {
			return nil, err
		}
		stats := []RelStat{}
		for res.Next(ctx) {
			record := res.Record()
			stat := RelStat{}
			if v, ok := record.Get("rel_type"); ok {
				stat.Type = v.(string)
			}
			if v, ok := record.Get("neighbor_label"); ok && v != nil {
				stat.NeighborLabel = v.(string)
			}
			if v, ok := record.Get("count"); ok {
				stat.Count = v.(int64)
			}
			stats = append(stats, stat)
		}
		return stats, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]RelStat), nil
}

// SearchByText matches query case-insensitively as a substring of the
// listed property fields, OR across fields.
func (t *Traversal) SearchByText(ctx context.Context, label, query string, fields []string, limit int) ([]map[string]interface{}, error) {
	label, err := safeLabel(label)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fault.Invalid("search query must not be empty")
	}
	if len(fields) == 0 {
		return nil, fault.Invalid("search fields must not be empty")
	}
	limit = clampLimit(limit, defaultFindLimit, maxFindLimit)

	result, err := t.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		cypher := fmt.Sprintf(`
			MATCH (n:%s)
			WHERE ANY(field IN $fields WHERE n[field] IS NOT NULL
			          AND toLower(toString(n[field])) CONTAINS toLower($query))
			RETURN properties(n) AS props
			LIMIT $limit
		`, label)
		res, err := tx.Run(ctx, cypher, map[string]interface{}{
			"fields": fields,
			"query":  query,
			"limit":  limit,
		})
		if err != nil {
			return nil, err
		}
		return collectProps(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return result.([]map[string]interface{}), nil
}

func recordToPath(record *neo4j.Record) (*Path, error) {
	path := &Path{Nodes: []NodeSummary{}, RelTypes: []string{}}

	if v, ok := record.Get("length"); ok {
		length, ok := v.(int64)
		if !ok {
			return nil, fault.New(fault.Internal, "path length has unexpected type %T", v)
		}
		path.Length = length
	}
	if v, ok := record.Get("nodes"); ok && v != nil {
		for _, raw := range v.([]interface{}) {
			entry := raw.(map[string]interface{})
			summary := NodeSummary{}
			if id, ok := entry["id"].(string); ok {
				summary.ID = id
			}
			if labels, ok := entry["labels"].([]interface{}); ok {
				for _, l := range labels {
					summary.Labels = append(summary.Labels, l.(string))
				}
			}
			path.Nodes = append(path.Nodes, summary)
		}
	}
	if v, ok := record.Get("rel_types"); ok && v != nil {
		for _, raw := range v.([]interface{}) {
			path.RelTypes = append(path.RelTypes, raw.(string))
		}
	}
	return path, nil
}
