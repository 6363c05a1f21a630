package tasks

import (
	"context"

	"hivehub.dev/common"
	"hivehub.dev/mcp"
)

// NewServer builds the tasks MCP surface over the service.
func NewServer(svc *Service) *mcp.Server {
	srv := mcp.NewServer("tasks",
		"Hierarchical tasks with typed dependencies persisted in the graph")

	statusEnum := []string{StatusPending, StatusInProgress, StatusBlocked, StatusDeferred, StatusCompleted, StatusCancelled}
	priorityEnum := []string{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	depEnum := []string{DepMustCompleteBefore, DepShouldCompleteBefore, DepBlocks}

	createProperties := map[string]interface{}{
		"title":       map[string]interface{}{"type": "string"},
		"description": map[string]interface{}{"type": "string"},
		"status":      map[string]interface{}{"type": "string", "enum": statusEnum},
		"priority":    map[string]interface{}{"type": "string", "enum": priorityEnum},
		"assignee":    map[string]interface{}{"type": "string"},
		"tags": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"dueDate": map[string]interface{}{"type": "string", "description": "ISO date the task is due"},
	}

	srv.MustRegister(mcp.Tool{
		Name:        "create_task",
		Description: "Create a task, optionally under a parent task",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": mergeProperties(createProperties, map[string]interface{}{
				"parentTaskId": map[string]interface{}{"type": "string"},
			}),
			"required": []string{"title"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		task, err := svc.Create(ctx, createInputFromArgs(args))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"taskId":  task.ID,
			"task":    task,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "get_task",
		Description: "Fetch a task, optionally with its subtasks",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"taskId":          map[string]interface{}{"type": "string"},
				"includeSubtasks": map[string]interface{}{"type": "boolean", "description": "Defaults to true"},
			},
			"required": []string{"taskId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		includeSubtasks := true
		if v, ok := args["includeSubtasks"].(bool); ok {
			includeSubtasks = v
		}
		task, err := svc.Get(ctx, common.AsString(args["taskId"]), includeSubtasks)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"task":    task,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "update_task",
		Description: "Merge fields into a task; completing it forces progress to 100",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": mergeProperties(createProperties, map[string]interface{}{
				"taskId":   map[string]interface{}{"type": "string"},
				"progress": map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 100},
				"result":   map[string]interface{}{"type": "string"},
			}),
			"required": []string{"taskId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		task, err := svc.Update(ctx, common.AsString(args["taskId"]), updateInputFromArgs(args))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"task":    task,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "complete_task",
		Description: "Mark a task completed with an optional result",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"taskId": map[string]interface{}{"type": "string"},
				"result": map[string]interface{}{"type": "string"},
			},
			"required": []string{"taskId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		task, err := svc.Complete(ctx, common.AsString(args["taskId"]), common.AsString(args["result"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"task":    task,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "delete_task",
		Description: "Delete a task, optionally cascading through its subtasks",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"taskId":         map[string]interface{}{"type": "string"},
				"deleteSubtasks": map[string]interface{}{"type": "boolean"},
			},
			"required": []string{"taskId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		deleted, err := svc.Delete(ctx, common.AsString(args["taskId"]), common.AsBool(args["deleteSubtasks"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"deleted": deleted,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks newest first with optional filters",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"status":   map[string]interface{}{"type": "string", "enum": statusEnum},
				"priority": map[string]interface{}{"type": "string", "enum": priorityEnum},
				"assignee": map[string]interface{}{"type": "string"},
				"tags": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Match tasks carrying any of these tags",
				},
				"parentTaskId": map[string]interface{}{"type": "string"},
				"limit":        map[string]interface{}{"type": "integer", "minimum": 1},
			},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		list, err := svc.List(ctx, Filter{
			Status:   common.AsString(args["status"]),
			Priority: common.AsString(args["priority"]),
			Assignee: common.AsString(args["assignee"]),
			Tags:     common.AsStringSlice(args["tags"]),
			ParentID: common.AsString(args["parentTaskId"]),
			Limit:    common.AsInt(args["limit"]),
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"count":   len(list),
			"tasks":   list,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "add_subtask",
		Description: "Create a task under an existing parent",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": mergeProperties(createProperties, map[string]interface{}{
				"parentTaskId": map[string]interface{}{"type": "string"},
			}),
			"required": []string{"parentTaskId", "title"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		in := createInputFromArgs(args)
		in.ParentID = ""
		task, err := svc.AddSubtask(ctx, common.AsString(args["parentTaskId"]), in)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":      true,
			"taskId":       task.ID,
			"parentTaskId": task.ParentID,
			"task":         task,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "set_dependency",
		Description: "Record a typed dependency between two tasks",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"taskId":      map[string]interface{}{"type": "string"},
				"dependsOnId": map[string]interface{}{"type": "string"},
				"type": map[string]interface{}{
					"type":        "string",
					"enum":        depEnum,
					"description": "Defaults to MUST_COMPLETE_BEFORE",
				},
			},
			"required": []string{"taskId", "dependsOnId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		dep, err := svc.SetDependency(ctx,
			common.AsString(args["taskId"]),
			common.AsString(args["dependsOnId"]),
			common.AsString(args["type"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":    true,
			"dependency": dep,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "get_dependencies",
		Description: "List the typed dependency edges of a task",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"taskId": map[string]interface{}{"type": "string"},
				"direction": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"in", "out", "both"},
					"description": "Defaults to both",
				},
			},
			"required": []string{"taskId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		deps, err := svc.GetDependencies(ctx, common.AsString(args["taskId"]), common.AsString(args["direction"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":      true,
			"count":        len(deps),
			"dependencies": deps,
		}, nil
	})

	return srv
}

func createInputFromArgs(args map[string]interface{}) CreateInput {
	return CreateInput{
		Title:       common.AsString(args["title"]),
		Description: common.AsString(args["description"]),
		Status:      common.AsString(args["status"]),
		Priority:    common.AsString(args["priority"]),
		Assignee:    common.AsString(args["assignee"]),
		Tags:        common.AsStringSlice(args["tags"]),
		DueDate:     common.AsString(args["dueDate"]),
		ParentID:    common.AsString(args["parentTaskId"]),
	}
}

func updateInputFromArgs(args map[string]interface{}) UpdateInput {
	in := UpdateInput{}
	if _, ok := args["title"]; ok {
		v := common.AsString(args["title"])
		in.Title = &v
	}
	if _, ok := args["description"]; ok {
		v := common.AsString(args["description"])
		in.Description = &v
	}
	if _, ok := args["status"]; ok {
		v := common.AsString(args["status"])
		in.Status = &v
	}
	if _, ok := args["priority"]; ok {
		v := common.AsString(args["priority"])
		in.Priority = &v
	}
	if _, ok := args["assignee"]; ok {
		v := common.AsString(args["assignee"])
		in.Assignee = &v
	}
	if _, ok := args["tags"]; ok {
		in.Tags = common.AsStringSlice(args["tags"])
	}
	if _, ok := args["dueDate"]; ok {
		v := common.AsString(args["dueDate"])
		in.DueDate = &v
	}
	if _, ok := args["progress"]; ok {
		v := common.AsInt(args["progress"])
		in.Progress = &v
	}
	if _, ok := args["result"]; ok {
		v := common.AsString(args["result"])
		in.Result = &v
	}
	return in
}

func mergeProperties(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
