package chains

import (
	"context"

	"hivehub.dev/common"
	"hivehub.dev/mcp"
)

// NewServer builds the reasoning-chains MCP surface over the service.
func NewServer(svc *Service) *mcp.Server {
	srv := mcp.NewServer("reasoning-chains",
		"Structured reasoning traces with branching and notebook export")

	srv.MustRegister(mcp.Tool{
		Name:        "start_thinking",
		Description: "Start a new reasoning chain from an initial prompt",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"prompt":  map[string]interface{}{"type": "string", "description": "Initial prompt or question"},
				"context": map[string]interface{}{"type": "string", "description": "Background context for the chain"},
				"goal":    map[string]interface{}{"type": "string", "description": "What the chain should produce"},
				"tags": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"branchFrom": map[string]interface{}{"type": "string", "description": "Existing chain id to link as parent"},
			},
			"required": []string{"prompt"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		chain, err := svc.StartThinking(ctx, StartInput{
			Prompt:     common.AsString(args["prompt"]),
			Context:    common.AsString(args["context"]),
			Goal:       common.AsString(args["goal"]),
			Tags:       common.AsStringSlice(args["tags"]),
			BranchFrom: common.AsString(args["branchFrom"]),
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"chainId": chain.ID,
			"status":  chain.Status,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "add_step",
		Description: "Append a reasoning step to an in-progress chain",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"chainId": map[string]interface{}{"type": "string"},
				"thought": map[string]interface{}{"type": "string", "description": "The reasoning content of this step"},
				"stepType": map[string]interface{}{
					"type": "string",
					"enum": []string{"observation", "analysis", "inference", "conclusion", "question", "hypothesis"},
				},
				"confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
				"data":       map[string]interface{}{"type": "object", "description": "Structured payload attached to the step"},
			},
			"required": []string{"chainId", "thought"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		data, _ := args["data"].(map[string]interface{})
		step, err := svc.AddStep(ctx, AddStepInput{
			ChainID:    common.AsString(args["chainId"]),
			Thought:    common.AsString(args["thought"]),
			Type:       common.AsString(args["stepType"]),
			Confidence: common.AsFloat(args["confidence"]),
			Data:       data,
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":    true,
			"chainId":    common.AsString(args["chainId"]),
			"stepNumber": step.Number,
			"step":       step,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "conclude",
		Description: "Conclude a chain and export it to the notebook",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"chainId":    map[string]interface{}{"type": "string"},
				"conclusion": map[string]interface{}{"type": "string"},
				"success":    map[string]interface{}{"type": "boolean", "description": "false marks the chain failed"},
				"confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			},
			"required": []string{"chainId", "conclusion"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		success := true
		if v, ok := args["success"].(bool); ok {
			success = v
		}
		chain, err := svc.Conclude(ctx, ConcludeInput{
			ChainID:    common.AsString(args["chainId"]),
			Conclusion: common.AsString(args["conclusion"]),
			Success:    success,
			Confidence: common.AsFloat(args["confidence"]),
		})
		if err != nil {
			return nil, err
		}
		result := map[string]interface{}{
			"success": true,
			"chainId": chain.ID,
			"status":  chain.Status,
		}
		if svc.notebook != nil {
			result["notebookFile"] = exportName(chain)
		}
		return result, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "get_chain",
		Description: "Fetch a chain with its ordered steps",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"chainId":      map[string]interface{}{"type": "string"},
				"includeSteps": map[string]interface{}{"type": "boolean", "description": "Defaults to true"},
			},
			"required": []string{"chainId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		includeSteps := true
		if v, ok := args["includeSteps"].(bool); ok {
			includeSteps = v
		}
		chain, err := svc.Get(ctx, common.AsString(args["chainId"]), includeSteps)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"chain":   chain,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "list_chains",
		Description: "List chains newest first, optionally filtered by status",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"status": map[string]interface{}{
					"type": "string",
					"enum": []string{"in_progress", "completed", "failed"},
				},
				"limit": map[string]interface{}{"type": "integer", "minimum": 1},
			},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		chains, err := svc.List(ctx, common.AsString(args["status"]), common.AsInt(args["limit"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"count":   len(chains),
			"chains":  chains,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "branch_chain",
		Description: "Copy a chain's steps up to a point into a new in-progress chain",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"chainId": map[string]interface{}{"type": "string"},
				"atStep":  map[string]interface{}{"type": "integer", "minimum": 0, "description": "Copy steps 1..atStep; 0 copies all"},
			},
			"required": []string{"chainId"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		child, err := svc.Branch(ctx, common.AsString(args["chainId"]), common.AsInt(args["atStep"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":      true,
			"chainId":      child.ID,
			"branchedFrom": child.BranchFrom,
			"atStep":       child.BranchStep,
			"stepsCopied":  len(child.Steps),
			"status":       child.Status,
		}, nil
	})

	return srv
}
