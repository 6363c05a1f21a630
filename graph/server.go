package graph

import (
	"context"
	"encoding/json"

	"hivehub.dev/common"
	"hivehub.dev/fault"
	"hivehub.dev/mcp"
)

// labelsResource is the URI of the label-count resource.
const labelsResource = "graph://labels"

// NewServer builds the graph-memory MCP surface over the backend ops.
func NewServer(entities *Entities, relationships *Relationships, traversal *Traversal) *mcp.Server {
	srv := mcp.NewServer("graph-memory",
		"Entity and relationship memory over the property graph store")

	refProperties := func(prefix string) map[string]interface{} {
		return map[string]interface{}{
			prefix + "Label": map[string]interface{}{"type": "string"},
			prefix + "Id":    map[string]interface{}{"type": "string"},
		}
	}

	srv.MustRegister(mcp.Tool{
		Name:        "create_entity",
		Description: "Create an entity node; (label, id) must be unique",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"label":      map[string]interface{}{"type": "string", "description": "Category tag; namespace for the id"},
				"id":         map[string]interface{}{"type": "string"},
				"properties": map[string]interface{}{"type": "object"},
			},
			"required": []string{"label", "id"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		props := common.DecodeJSONMap(args["properties"])
		if props == nil {
			props = map[string]interface{}{}
		}
		props["id"] = common.AsString(args["id"])
		created, err := entities.Create(ctx, common.AsString(args["label"]), props)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"entity":  created,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "create_entities",
		Description: "Create a batch of entities atomically; any failure rolls back all",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"label": map[string]interface{}{"type": "string"},
				"entities": map[string]interface{}{
					"type":     "array",
					"items":    map[string]interface{}{"type": "object"},
					"minItems": 1,
				},
			},
			"required": []string{"label", "entities"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		raw, _ := args["entities"].([]interface{})
		items := make([]map[string]interface{}, 0, len(raw))
		for _, entry := range raw {
			props, ok := entry.(map[string]interface{})
			if !ok {
				return nil, fault.Invalid("entities must be an array of objects")
			}
			items = append(items, props)
		}
		created, err := entities.CreateBatch(ctx, common.AsString(args["label"]), items)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"created": created,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "get_entity",
		Description: "Fetch one entity by label and id",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"label": map[string]interface{}{"type": "string"},
				"id":    map[string]interface{}{"type": "string"},
			},
			"required": []string{"label", "id"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		props, err := entities.Get(ctx, common.AsString(args["label"]), common.AsString(args["id"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"entity":  props,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "find_entities",
		Description: "Find entities whose properties equal the given match map",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"label":       map[string]interface{}{"type": "string"},
				"properties":  map[string]interface{}{"type": "object", "description": "Equality match; empty matches all"},
				"limit":       map[string]interface{}{"type": "integer", "minimum": 1},
				"newestFirst": map[string]interface{}{"type": "boolean", "description": "Order by created_at descending"},
			},
			"required": []string{"label"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		rows, err := entities.Find(ctx,
			common.AsString(args["label"]),
			common.DecodeJSONMap(args["properties"]),
			common.AsInt(args["limit"]),
			common.AsBool(args["newestFirst"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":  true,
			"count":    len(rows),
			"entities": rows,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "update_entity",
		Description: "Merge properties into an entity and refresh updated_at",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"label":      map[string]interface{}{"type": "string"},
				"id":         map[string]interface{}{"type": "string"},
				"properties": map[string]interface{}{"type": "object"},
			},
			"required": []string{"label", "id", "properties"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		updated, err := entities.Update(ctx,
			common.AsString(args["label"]),
			common.AsString(args["id"]),
			common.DecodeJSONMap(args["properties"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"entity":  updated,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "delete_entity",
		Description: "Detach-delete an entity and every touching relationship",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"label": map[string]interface{}{"type": "string"},
				"id":    map[string]interface{}{"type": "string"},
			},
			"required": []string{"label", "id"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		removed, err := entities.Delete(ctx, common.AsString(args["label"]), common.AsString(args["id"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"deleted": removed,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "count_entities",
		Description: "Count the entities carrying a label",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"label": map[string]interface{}{"type": "string"},
			},
			"required": []string{"label"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		count, err := entities.Count(ctx, common.AsString(args["label"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"label":   common.AsString(args["label"]),
			"count":   count,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "create_relationship",
		Description: "Create a directed typed edge between two existing entities",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": mergeMaps(refProperties("from"), refProperties("to"), map[string]interface{}{
				"type":       map[string]interface{}{"type": "string", "description": "Relationship type, conventionally UPPER_SNAKE"},
				"properties": map[string]interface{}{"type": "object"},
			}),
			"required": []string{"fromLabel", "fromId", "type", "toLabel", "toId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		props, err := relationships.Create(ctx,
			refFromArgs(args, "from"),
			common.AsString(args["type"]),
			refFromArgs(args, "to"),
			common.DecodeJSONMap(args["properties"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":      true,
			"relationship": props,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "get_relationships",
		Description: "List the relationships of an entity with their far endpoints",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"label": map[string]interface{}{"type": "string"},
				"id":    map[string]interface{}{"type": "string"},
				"direction": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"in", "out", "both"},
					"description": "Defaults to both",
				},
				"type": map[string]interface{}{"type": "string", "description": "Filter by relationship type"},
			},
			"required": []string{"label", "id"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		direction := common.AsString(args["direction"])
		if direction == "" {
			direction = "both"
		}
		related, err := relationships.GetFor(ctx,
			common.AsString(args["label"]),
			common.AsString(args["id"]),
			direction,
			common.AsString(args["type"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":       true,
			"count":         len(related),
			"relationships": related,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "delete_relationship",
		Description: "Delete the typed edge between two entities",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": mergeMaps(refProperties("from"), refProperties("to"), map[string]interface{}{
				"type": map[string]interface{}{"type": "string"},
			}),
			"required": []string{"fromLabel", "fromId", "type", "toLabel", "toId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		removed, err := relationships.Delete(ctx,
			refFromArgs(args, "from"),
			common.AsString(args["type"]),
			refFromArgs(args, "to"))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"deleted": removed,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "query_graph",
		Description: "Traverse around an entity: connected set, paths to a target, or edge stats",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": mergeMaps(refProperties("to"), map[string]interface{}{
				"mode": map[string]interface{}{
					"type": "string",
					"enum": []string{"connected", "path", "stats"},
				},
				"label":    map[string]interface{}{"type": "string"},
				"id":       map[string]interface{}{"type": "string"},
				"maxDepth": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": MaxDepth},
				"limit":    map[string]interface{}{"type": "integer", "minimum": 1},
			}),
			"required": []string{"mode", "label", "id"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		label := common.AsString(args["label"])
		id := common.AsString(args["id"])
		maxDepth := common.AsInt(args["maxDepth"])

		switch mode := common.AsString(args["mode"]); mode {
		case "connected":
			nodes, err := traversal.Connected(ctx, label, id, maxDepth)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"success": true,
				"mode":    mode,
				"count":   len(nodes),
				"nodes":   nodes,
			}, nil

		case "path":
			to := refFromArgs(args, "to")
			if to.Label == "" || to.ID == "" {
				return nil, fault.Invalid("path mode requires toLabel and toId")
			}
			paths, err := traversal.AllPaths(ctx, Ref{Label: label, ID: id}, to, maxDepth, common.AsInt(args["limit"]))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"success": true,
				"mode":    mode,
				"count":   len(paths),
				"paths":   paths,
			}, nil

		case "stats":
			stats, err := traversal.RelStats(ctx, label, id)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"success": true,
				"mode":    mode,
				"stats":   stats,
			}, nil

		default:
			return nil, fault.Invalid("unknown query mode %q", mode)
		}
	})

	srv.MustRegister(mcp.Tool{
		Name:        "find_shortest_path",
		Description: "Find the shortest path between two entities within a depth bound",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": mergeMaps(refProperties("from"), refProperties("to"), map[string]interface{}{
				"maxDepth": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": MaxDepth},
			}),
			"required": []string{"fromLabel", "fromId", "toLabel", "toId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		path, err := traversal.ShortestPath(ctx,
			refFromArgs(args, "from"),
			refFromArgs(args, "to"),
			common.AsInt(args["maxDepth"]))
		if err != nil {
			return nil, err
		}
		if path == nil {
			return map[string]interface{}{
				"success": true,
				"found":   false,
			}, nil
		}
		return map[string]interface{}{
			"success": true,
			"found":   true,
			"path": map[string]interface{}{
				"length":        path.Length,
				"nodes":         path.Nodes,
				"relationships": path.RelTypes,
			},
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "search_entities",
		Description: "Case-insensitive substring search across listed property fields",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"label": map[string]interface{}{"type": "string"},
				"query": map[string]interface{}{"type": "string"},
				"fields": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Property fields to scan; OR across fields",
				},
				"limit": map[string]interface{}{"type": "integer", "minimum": 1},
			},
			"required": []string{"label", "query"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		rows, err := traversal.SearchByText(ctx,
			common.AsString(args["label"]),
			common.AsString(args["query"]),
			common.AsStringSlice(args["fields"]),
			common.AsInt(args["limit"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":  true,
			"count":    len(rows),
			"entities": rows,
		}, nil
	})

	err := srv.RegisterResources("graph://",
		func(ctx context.Context) ([]mcp.Resource, error) {
			return []mcp.Resource{{
				URI:         labelsResource,
				Name:        "labels",
				Description: "Entity counts per label",
				MimeType:    "application/json",
			}}, nil
		},
		func(ctx context.Context, uri string) (*mcp.ResourceContent, error) {
			if uri != labelsResource {
				return nil, fault.Missing("resource %s not found", uri)
			}
			counts, err := entities.LabelCounts(ctx)
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(counts)
			if err != nil {
				return nil, fault.Unexpected(err, "cannot encode label counts")
			}
			return &mcp.ResourceContent{
				URI:      labelsResource,
				MimeType: "application/json",
				Text:     string(encoded),
			}, nil
		})
	if err != nil {
		panic(err)
	}

	return srv
}

func refFromArgs(args map[string]interface{}, prefix string) Ref {
	return Ref{
		Label: common.AsString(args[prefix+"Label"]),
		ID:    common.AsString(args[prefix+"Id"]),
	}
}

func mergeMaps(maps ...map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
