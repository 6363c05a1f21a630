package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

const (
	defaultFindLimit = 25
	maxFindLimit     = 500
)

// Entities provides label-scoped node operations.
type Entities struct {
	pool *Pool
}

// NewEntities creates the entity operations over a pool.
func NewEntities(pool *Pool) *Entities {
	return &Entities{pool: pool}
}

// Create inserts a node. props must carry a non-empty id; (label, id) must
// not exist yet. created_at/updated_at are stamped when absent.
func (e *Entities) Create(ctx context.Context, label string, props map[string]interface{}) (map[string]interface{}, error) {
	label, err := safeLabel(label)
	if err != nil {
		return nil, err
	}
	id, err := requireID(props)
	if err != nil {
		return nil, err
	}
	if err := checkProps(props); err != nil {
		return nil, err
	}

	result, err := e.pool.WriteTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		return createNode(ctx, tx, label, id, props)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

// CreateBatch inserts nodes atomically; any failure rolls back the whole
// batch. Returns the number of nodes created.
func (e *Entities) CreateBatch(ctx context.Context, label string, items []map[string]interface{}) (int, error) {
	label, err := safeLabel(label)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, fault.Invalid("entities list must not be empty")
	}

	type pending struct {
		id    string
		props map[string]interface{}
	}
	batch := make([]pending, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, props := range items {
		id, err := requireID(props)
		if err != nil {
			return 0, fault.Invalid("entities[%d]: %v", i, err)
		}
		if err := checkProps(props); err != nil {
			return 0, fault.Invalid("entities[%d]: %v", i, err)
		}
		if seen[id] {
			return 0, fault.Duplicated("entities[%d]: duplicate id %q in batch", i, id)
		}
		seen[id] = true
		batch = append(batch, pending{id: id, props: props})
	}

	_, err = e.pool.WriteTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		for _, item := range batch {
			if _, err := createNode(ctx, tx, label, item.id, item.props); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return 0, err
	}
	return len(batch), nil
}

// createNode runs the duplicate check and insert inside an open transaction.
func createNode(ctx context.Context, tx neo4j.ManagedTransaction, label, id string, props map[string]interface{}) (map[string]interface{}, error) {
	check, err := tx.Run(ctx,
		fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN n LIMIT 1", label),
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if check.Next(ctx) {
		return nil, fault.Duplicated("entity %s/%s already exists", label, id)
	}
	if err := check.Err(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		CREATE (n:%s)
		SET n = $props,
		    n.created_at = coalesce($props.created_at, $now),
		    n.updated_at = coalesce($props.updated_at, $now)
		RETURN properties(n) AS props
	`, label)
	result, err := tx.Run(ctx, query, map[string]interface{}{
		"props": props,
		"now":   common.NowISO(),
	})
	if err != nil {
		return nil, err
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, err
		}
		return nil, fault.New(fault.Internal, "create returned no row for %s/%s", label, id)
	}
	value, _ := result.Record().Get("props")
	return value.(map[string]interface{}), nil
}

// Get returns the node properties, or NotFound.
func (e *Entities) Get(ctx context.Context, label, id string) (map[string]interface{}, error) {
	label, err := safeLabel(label)
	if err != nil {
		return nil, err
	}

	result, err := e.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN properties(n) AS props LIMIT 1", label)
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": id})
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
		return nil, fault.Missing("entity %s/%s not found", label, id)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

// Find returns up to limit nodes whose properties equal match. Ordering is
// unspecified unless newestFirst requests created_at DESC.
func (e *Entities) Find(ctx context.Context, label string, match map[string]interface{}, limit int, newestFirst bool) ([]map[string]interface{}, error) {
	label, err := safeLabel(label)
	if err != nil {
		return nil, err
	}
	if err := checkProps(match); err != nil {
		return nil, err
	}
	if match == nil {
		match = map[string]interface{}{}
	}
	limit = clampLimit(limit, defaultFindLimit, maxFindLimit)

	order := ""
	if newestFirst {
		order = "ORDER BY n.created_at DESC"
	}
	query := fmt.Sprintf(`
		MATCH (n:%s)
		WHERE ALL(key IN keys($match) WHERE n[key] = $match[key])
		RETURN properties(n) AS props
		%s
		LIMIT $limit
	`, label, order)

	result, err := e.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"match": match,
			"limit": limit,
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

// Update merges props into an existing node and refreshes updated_at.
// created_at and id are immutable.
func (e *Entities) Update(ctx context.Context, label, id string, props map[string]interface{}) (map[string]interface{}, error) {
	label, err := safeLabel(label)
	if err != nil {
		return nil, err
	}
	if err := checkProps(props); err != nil {
		return nil, err
	}
	if newID, ok := props["id"].(string); ok && newID != id {
		return nil, fault.Invalid("entity id is immutable")
	}

	merge := make(map[string]interface{}, len(props))
	for key, value := range props {
		if key == "created_at" || key == "id" {
			continue
		}
		merge[key] = value
	}

	result, err := e.pool.WriteTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (n:%s {id: $id})
			SET n += $props, n.updated_at = $now
			RETURN properties(n) AS props
		`, label)
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"id":    id,
			"props": merge,
			"now":   common.NowISO(),
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
		return nil, fault.Missing("entity %s/%s not found", label, id)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

// Delete detaches and removes the node. Reports whether a node was removed.
func (e *Entities) Delete(ctx context.Context, label, id string) (bool, error) {
	label, err := safeLabel(label)
	if err != nil {
		return false, err
	}

	result, err := e.pool.WriteTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf("MATCH (n:%s {id: $id}) DETACH DELETE n RETURN count(n) AS removed", label)
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": id})
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

// Count returns the number of nodes carrying the label.
func (e *Entities) Count(ctx context.Context, label string) (int64, error) {
	label, err := safeLabel(label)
	if err != nil {
		return 0, err
	}

	result, err := e.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS count", label)
		res, err := tx.Run(ctx, query, nil)
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

// LabelCounts returns node counts per label, sorted by the store.
func (e *Entities) LabelCounts(ctx context.Context) (map[string]int64, error) {
	result, err := e.pool.ReadTx(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (n)
			UNWIND labels(n) AS label
			RETURN label, count(*) AS count
			ORDER BY count DESC
		`, nil)
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int64)
		for res.Next(ctx) {
			record := res.Record()
			label, _ := record.Get("label")
			count, _ := record.Get("count")
			counts[label.(string)] = count.(int64)
		}
		return counts, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]int64), nil
}

// collectProps drains a result whose rows carry a props column.
func collectProps(ctx context.Context, res neo4j.ResultWithContext) ([]map[string]interface{}, error) {
	out := []map[string]interface{}{}
	for res.Next(ctx) {
		value, ok := res.Record().Get("props")
		if !ok {
			continue
		}
		out = append(out, value.(map[string]interface{}))
	}
	return out, res.Err()
}
