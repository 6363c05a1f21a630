// Package chains implements the reasoning-chain sub-server: ordered
// reasoning traces persisted as ReasoningChain/ReasoningStep nodes in the
// graph and exported to the notebook vault when they conclude.
package chains

import (
	"strconv"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

// Chain lifecycle statuses. completed and failed are terminal.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Graph labels and relationship types the sub-server owns.
const (
	labelChain  = "ReasoningChain"
	labelStep   = "ReasoningStep"
	relHasStep  = "HAS_STEP"
	relBranched = "BRANCHED_TO"
)

// defaultStepType applies when add_step omits stepType.
const defaultStepType = "observation"

var stepTypes = map[string]bool{
	"observation": true,
	"analysis":    true,
	"inference":   true,
	"conclusion":  true,
	"question":    true,
	"hypothesis":  true,
}

// Step is one numbered thought in a chain. Steps are immutable once added.
type Step struct {
	Number     int                    `json:"stepNumber"`
	Thought    string                 `json:"thought"`
	Type       string                 `json:"stepType"`
	Confidence float64                `json:"confidence,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	CreatedAt  string                 `json:"createdAt"`
}

// Chain is an ordered reasoning trace. Steps are numbered 1..N with no
// gaps; a terminal status is irreversible.
type Chain struct {
	ID          string   `json:"chainId"`
	Prompt      string   `json:"prompt"`
	Context     string   `json:"context,omitempty"`
	Goal        string   `json:"goal,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Status      string   `json:"status"`
	Steps       []Step   `json:"steps,omitempty"`
	StepCount   int      `json:"stepCount"`
	Conclusion  string   `json:"conclusion,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	BranchFrom  string   `json:"branchFrom,omitempty"`
	BranchStep  int      `json:"branchStep,omitempty"`
	Exported    bool     `json:"exported,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
	CompletedAt string   `json:"completedAt,omitempty"`
}

// Terminal reports whether the chain reached a final status.
func (c *Chain) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed
}

// clone copies the chain so callers never share the cached instance. Step
// data maps are shared; steps are immutable once added.
func (c *Chain) clone() *Chain {
	out := *c
	out.Steps = make([]Step, len(c.Steps))
	copy(out.Steps, c.Steps)
	out.Tags = append([]string(nil), c.Tags...)
	return &out
}

func validStatus(status string) bool {
	switch status {
	case StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func checkStepType(stepType string) (string, error) {
	if stepType == "" {
		return defaultStepType, nil
	}
	if !stepTypes[stepType] {
		return "", fault.Invalid("unknown step type %q", stepType)
	}
	return stepType, nil
}

func checkConfidence(confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return fault.Invalid("confidence must be between 0 and 1")
	}
	return nil
}

func stepID(chainID string, number int) string {
	return chainID + "-step-" + strconv.Itoa(number)
}

// chainProps renders the chain node properties. Steps live in their own
// nodes; only the counter is kept on the chain.
func chainProps(c *Chain) map[string]interface{} {
	props := map[string]interface{}{
		"id":         c.ID,
		"prompt":     c.Prompt,
		"status":     c.Status,
		"step_count": len(c.Steps),
		"exported":   c.Exported,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
	}
	if c.Context != "" {
		props["context"] = c.Context
	}
	if c.Goal != "" {
		props["goal"] = c.Goal
	}
	if len(c.Tags) > 0 {
		props["tags"] = c.Tags
	}
	if c.Conclusion != "" {
		props["conclusion"] = c.Conclusion
	}
	if c.Confidence > 0 {
		props["confidence"] = c.Confidence
	}
	if c.BranchFrom != "" {
		props["branch_from"] = c.BranchFrom
		props["branch_step"] = c.BranchStep
	}
	if c.CompletedAt != "" {
		props["completed_at"] = c.CompletedAt
	}
	return props
}

func chainFromProps(props map[string]interface{}) *Chain {
	return &Chain{
		ID:          common.AsString(props["id"]),
		Prompt:      common.AsString(props["prompt"]),
		Context:     common.AsString(props["context"]),
		Goal:        common.AsString(props["goal"]),
		Tags:        common.AsStringSlice(props["tags"]),
		Status:      common.AsString(props["status"]),
		StepCount:   common.AsInt(props["step_count"]),
		Conclusion:  common.AsString(props["conclusion"]),
		Confidence:  common.AsFloat(props["confidence"]),
		BranchFrom:  common.AsString(props["branch_from"]),
		BranchStep:  common.AsInt(props["branch_step"]),
		Exported:    common.AsBool(props["exported"]),
		CreatedAt:   common.AsString(props["created_at"]),
		UpdatedAt:   common.AsString(props["updated_at"]),
		CompletedAt: common.AsString(props["completed_at"]),
	}
}

func stepProps(chainID string, s Step) map[string]interface{} {
	props := map[string]interface{}{
		"id":          stepID(chainID, s.Number),
		"chain_id":    chainID,
		"step_number": s.Number,
		"thought":     s.Thought,
		"step_type":   s.Type,
		"created_at":  s.CreatedAt,
	}
	if s.Confidence > 0 {
		props["confidence"] = s.Confidence
	}
	if data := common.EncodeJSONMap(s.Data); data != "" {
		props["data"] = data
	}
	return props
}

func stepFromProps(props map[string]interface{}) Step {
	return Step{
		Number:     common.AsInt(props["step_number"]),
		Thought:    common.AsString(props["thought"]),
		Type:       common.AsString(props["step_type"]),
		Confidence: common.AsFloat(props["confidence"]),
		Data:       common.DecodeJSONMap(props["data"]),
		CreatedAt:  common.AsString(props["created_at"]),
	}
}
