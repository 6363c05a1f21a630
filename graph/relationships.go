package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

// Ref addresses a node by label and id.
type Ref struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

func (r Ref) String() string {
	return r.Label + "/" + r.ID
}

// Related is one edge of a node's neighborhood: the relationship plus the
// far endpoint.
type Related struct {
	Type        string                 `json:"type"`
	Direction   string                 `json:"direction"`
	Props       map[string]interface{} `json:"props"`
	Other       map[string]interface{} `json:"other"`
	OtherLabels []string               `json:"other_labels"`
}

// Relationships provides directed edge operations between entities.
type Relationships struct {
	pool *Pool
}

// NewRelationships creates the relationship operations over a pool.
func NewRelationships(pool *Pool) *Relationships {
	return &Relationships{pool: pool}
}

func checkRef(ref Ref) (Ref, error) {
	label, err := safeLabel(ref.Label)
	if err != nil {
		return Ref{}, err
	}
	if ref.ID == "" {
		return Ref{}, fault.Invalid("node id must not be empty")
	}
	return Ref{Label: label, ID: ref.ID}, nil
}

// Create adds a directed edge. Both endpoints must exist.
func (r *Relationships) Create(ctx context.Context, from Ref, relType string, to Ref, props map[string]interface{}) (map[string]interface{}, error) {
	from, err := checkRef(from)
	if err != nil {
		return nil, err
	}
	to, err = checkRef(to)
	if err != nil {
		return nil, err
	}
	relType, err = safeRelType(relType)
	if err != nil {
		return nil, err
	}
	if err := checkProps(props); err != nil {
		return nil, err
	}
	if props == nil {
		props = map[string]interface{}{}
	}

	result, err := r.pool.WriteTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (a:%s {id: $fromId}), (b:%s {id: $toId})
			CREATE (a)-[rel:%s]->(b)
			SET rel = $props, rel.created_at = $now
			RETURN properties(rel) AS props
		`, from.Label, to.Label, relType)
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"fromId": from.ID,
			"toId":   to.ID,
			"props":  props,
			"now":    common.NowISO(),
		})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			value, _ := res.Record().Get("props")
			return value.(map[string]interface{}), nil
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return nil, fault.Missing("endpoints %s and %s must both exist", from, to)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

// GetFor returns the neighborhood of a node: every matching edge with its
// far endpoint. direction is in, out, or both; relType "" matches any type.
func (r *Relationships) GetFor(ctx context.Context, label, id, direction, relType string) ([]Related, error) {
	label, err := safeLabel(label)
	if err != nil {
		return nil, err
	}
	typePart := ""
	if relType != "" {
		relType, err = safeRelType(relType)
		if err != nil {
			return nil, err
		}
		typePart = ":" + relType
	}

	var pattern string
	switch direction {
	case "out":
		pattern = fmt.Sprintf("(n:%s {id: $id})-[rel%s]->(m)", label, typePart)
	case "in":
		pattern = fmt.Sprintf("(n:%s {id: $id})<-[rel%s]-(m)", label, typePart)
	case "both", "":
		pattern = fmt.Sprintf("(n:%s {id: $id})-[rel%s]-(m)", label, typePart)
	default:
		return nil, fault.Invalid("direction must be in, out, or both; got %q", direction)
	}

	query := fmt.Sprintf(`
		MATCH %s
		RETURN type(rel) AS rel_type,
		       properties(rel) AS rel_props,
		       properties(m) AS other,
		       labels(m) AS other_labels,
		       CASE WHEN startNode(rel) = n THEN 'out' ELSE 'in' END AS direction
	`, pattern)

	result, err := r.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": id})
		if err != nil {
			return nil, err
		}
		related := []Related{}
		for res.Next(ctx) {
			record := res.Record()
			item := Related{Props: map[string]interface{}{}, Other: map[string]interface{}{}}
			if v, ok := record.Get("rel_type"); ok {
				item.Type = v.(string)
			}
			if v, ok := record.Get("direction"); ok {
				item.Direction = v.(string)
			}
			if v, ok := record.Get("rel_props"); ok && v != nil {
				item.Props = v.(map[string]interface{})
			}
			if v, ok := record.Get("other"); ok && v != nil {
				item.Other = v.(map[string]interface{})
			}
			if v, ok := record.Get("other_labels"); ok && v != nil {
				for _, l := range v.([]interface{}) {
					item.OtherLabels = append(item.OtherLabels, l.(string))
				}
			}
			related = append(related, item)
		}
		return related, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]Related), nil
}

// Find returns the properties of the edge from→to of the given type, or
// NotFound. When several exist the first is returned.
func (r *Relationships) Find(ctx context.Context, from Ref, relType string, to Ref) (map[string]interface{}, error) {
	from, err := checkRef(from)
	if err != nil {
		return nil, err
	}
	to, err = checkRef(to)
	if err != nil {
		return nil, err
	}
	relType, err = safeRelType(relType)
	if err != nil {
		return nil, err
	}

	result, err := r.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (a:%s {id: $fromId})-[rel:%s]->(b:%s {id: $toId})
			RETURN properties(rel) AS props
			LIMIT 1
		`, from.Label, relType, to.Label)
		res, err := tx.Run(ctx, query, map[string]interface{}{"fromId": from.ID, "toId": to.ID})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			value, _ := res.Record().Get("props")
			return value.(map[string]interface{}), nil
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return nil, fault.Missing("relationship %s-[%s]->%s not found", from, relType, to)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

// Update merges props into an existing edge.
func (r *Relationships) Update(ctx context.Context, from Ref, relType string, to Ref, props map[string]interface{}) (map[string]interface{}, error) {
	from, err := checkRef(from)
	if err != nil {
		return nil, err
	}
	to, err = checkRef(to)
	if err != nil {
		return nil, err
	}
	relType, err = safeRelType(relType)
	if err != nil {
		return nil, err
	}
	if err := checkProps(props); err != nil {
		return nil, err
	}

	result, err := r.pool.WriteTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (a:%s {id: $fromId})-[rel:%s]->(b:%s {id: $toId})
			SET rel += $props
			RETURN properties(rel) AS props
		`, from.Label, relType, to.Label)
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"fromId": from.ID,
			"toId":   to.ID,
			"props":  props,
		})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			value, _ := res.Record().Get("props")
			return value.(map[string]interface{}), nil
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return nil, fault.Missing("relationship %s-[%s]->%s not found", from, relType, to)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

// Delete removes the edge from→to of the given type. Reports whether an
// edge was removed.
func (r *Relationships) Delete(ctx context.Context, from Ref, relType string, to Ref) (bool, error) {
	from, err := checkRef(from)
	if err != nil {
		return false, err
	}
	to, err = checkRef(to)
	if err != nil {
		return false, err
	}
	relType, err = safeRelType(relType)
	if err != nil {
		return false, err
	}

	result, err := r.pool.WriteTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (a:%s {id: $fromId})-[rel:%s]->(b:%s {id: $toId})
			DELETE rel
			RETURN count(rel) AS removed
		`, from.Label, relType, to.Label)
		res, err := tx.Run(ctx, query, map[string]interface{}{"fromId": from.ID, "toId": to.ID})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			value, _ := res.Record().Get("removed")
			return value.(int64) > 0, nil
		}
		return false, res.Err()
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// DeleteAllFor removes every edge touching the node and returns the count.
func (r *Relationships) DeleteAllFor(ctx context.Context, label, id string) (int64, error) {
	label, err := safeLabel(label)
	if err != nil {
		return 0, err
	}

	result, err := r.pool.WriteTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (n:%s {id: $id})-[rel]-()
			DELETE rel
			RETURN count(rel) AS removed
		`, label)
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": id})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			value, _ := res.Record().Get("removed")
			return value.(int64), nil
		}
		return int64(0), res.Err()
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// CountFor counts edges touching the node, optionally restricted by type.
func (r *Relationships) CountFor(ctx context.Context, label, id, relType string) (int64, error) {
	label, err := safeLabel(label)
	if err != nil {
		return 0, err
	}
	typePart := ""
	if relType != "" {
		relType, err = safeRelType(relType)
		if err != nil {
			return 0, err
		}
		typePart = ":" + relType
	}

	result, err := r.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf("MATCH (n:%s {id: $id})-[rel%s]-() RETURN count(rel) AS count", label, typePart)
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": id})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			value, _ := res.Record().Get("count")
			return value.(int64), nil
		}
		return int64(0), res.Err()
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}
