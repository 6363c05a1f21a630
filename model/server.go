package model

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"hivehub.dev/common"
	"hivehub.dev/fault"
	"hivehub.dev/mcp"
)

// NewServer builds the model-router MCP surface over the router.
func NewServer(router *Router) *mcp.Server {
	srv := mcp.NewServer("model-router",
		"Task-class model routing over the local inference runtime")

	routeOptions := func(args map[string]interface{}) RouteOptions {
		return RouteOptions{
			Model:     common.AsString(args["model"]),
			Options:   common.DecodeJSONMap(args["options"]),
			KeepAlive: common.AsString(args["keepAlive"]),
		}
	}

	promptProperties := map[string]interface{}{
		"prompt":    map[string]interface{}{"type": "string"},
		"model":     map[string]interface{}{"type": "string", "description": "Override the class table"},
		"options":   map[string]interface{}{"type": "object", "description": "Runtime sampling parameters"},
		"keepAlive": map[string]interface{}{"type": "string"},
	}

	srv.MustRegister(mcp.Tool{
		Name:        "chat",
		Description: "Multi-turn chat through the chat-class model",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"messages": map[string]interface{}{
					"type":     "array",
					"minItems": 1,
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"role":    map[string]interface{}{"type": "string", "enum": []string{"system", "user", "assistant"}},
							"content": map[string]interface{}{"type": "string"},
						},
						"required": []string{"role", "content"},
					},
				},
				"model":     map[string]interface{}{"type": "string"},
				"options":   map[string]interface{}{"type": "object"},
				"keepAlive": map[string]interface{}{"type": "string"},
			},
			"required": []string{"messages"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		raw, _ := args["messages"].([]interface{})
		messages := make([]ChatMessage, 0, len(raw))
		for _, entry := range raw {
			m, ok := entry.(map[string]interface{})
			if !ok {
				return nil, fault.Invalid("messages must be an array of objects")
			}
			messages = append(messages, ChatMessage{
				Role:    common.AsString(m["role"]),
				Content: common.AsString(m["content"]),
			})
		}
		result, err := router.Chat(ctx, messages, common.AsString(args["model"]), routeOptions(args))
		if err != nil {
			return nil, err
		}
		return chatResult(result), nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "complete",
		Description: "One-shot completion through the general-class model",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": promptProperties,
			"required":   []string{"prompt"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		result, err := router.Route(ctx, ClassGeneral, common.AsString(args["prompt"]), routeOptions(args))
		if err != nil {
			return nil, err
		}
		return chatResult(result), nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "embed",
		Description: "Embed text through the embedding-class model",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text":  map[string]interface{}{"type": "string"},
				"model": map[string]interface{}{"type": "string"},
			},
			"required": []string{"text"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		embedding, err := router.Embed(ctx, common.AsString(args["text"]), common.AsString(args["model"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":    true,
			"model":      embedding.Model,
			"dimensions": embedding.Dimensions,
			"embedding":  embedding.Vector,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "vision",
		Description: "Describe an image through the vision-class model",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"image":  map[string]interface{}{"type": "string", "description": "Base64 image data or a local file path"},
				"prompt": map[string]interface{}{"type": "string"},
				"model":  map[string]interface{}{"type": "string"},
			},
			"required": []string{"image", "prompt"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		result, err := router.Vision(ctx,
			common.AsString(args["image"]),
			common.AsString(args["prompt"]),
			common.AsString(args["model"]))
		if err != nil {
			return nil, err
		}
		return chatResult(result), nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "list_models",
		Description: "List the installed models from the cached inventory",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"forceRefresh": map[string]interface{}{"type": "boolean"},
			},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		entries, err := router.List(ctx, common.AsBool(args["forceRefresh"]))
		if err != nil {
			return nil, err
		}
		models := make([]map[string]interface{}, 0, len(entries))
		for _, entry := range entries {
			models = append(models, map[string]interface{}{
				"name":        entry.Name,
				"size":        entry.Size,
				"sizeHuman":   humanize.Bytes(uint64(entry.Size)),
				"digest":      entry.Digest,
				"modified_at": entry.ModifiedAt,
			})
		}
		return map[string]interface{}{
			"success": true,
			"count":   len(models),
			"models":  models,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "get_model_info",
		Description: "Show the runtime metadata of one model",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"model": map[string]interface{}{"type": "string"},
			},
			"required": []string{"model"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		info, err := router.Info(ctx, common.AsString(args["model"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"model":   common.AsString(args["model"]),
			"info":    info,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "pull_model",
		Description: "Pull a model into the runtime and refresh the inventory",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"model": map[string]interface{}{"type": "string"},
			},
			"required": []string{"model"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		name := common.AsString(args["model"])
		if err := router.Pull(ctx, name); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"model":   name,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "set_default_model",
		Description: "Override the default model of a task class for this process",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"class": map[string]interface{}{"type": "string", "enum": Classes()},
				"model": map[string]interface{}{"type": "string"},
			},
			"required": []string{"class", "model"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		class := common.AsString(args["class"])
		if err := router.SetDefault(class, common.AsString(args["model"])); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":  true,
			"defaults": router.Defaults(),
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "reasoning",
		Description: "Route a prompt to the reasoning-class model",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": promptProperties,
			"required":   []string{"prompt"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		result, err := router.Route(ctx, ClassReasoning, common.AsString(args["prompt"]), routeOptions(args))
		if err != nil {
			return nil, err
		}
		return chatResult(result), nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "coding",
		Description: "Route a prompt to the coding-class model with an optional language hint",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": mergeProperties(promptProperties, map[string]interface{}{
				"language": map[string]interface{}{"type": "string", "description": "Programming language hint"},
			}),
			"required": []string{"prompt"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		prompt := common.AsString(args["prompt"])
		if language := common.AsString(args["language"]); language != "" {
			prompt = fmt.Sprintf("Language: %s\n\n%s", language, prompt)
		}
		result, err := router.Route(ctx, ClassCoding, prompt, routeOptions(args))
		if err != nil {
			return nil, err
		}
		return chatResult(result), nil
	})

	return srv
}

// chatResult renders a routed result for the envelope.
func chatResult(result *Result) map[string]interface{} {
	out := map[string]interface{}{
		"success":     true,
		"model":       result.Model,
		"response":    result.Response,
		"duration_ms": result.DurationMS,
	}
	if result.PromptEvalCount > 0 {
		out["prompt_eval_count"] = result.PromptEvalCount
	}
	if result.EvalCount > 0 {
		out["eval_count"] = result.EvalCount
	}
	if result.Downgraded {
		out["model_downgraded"] = true
	}
	return out
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
