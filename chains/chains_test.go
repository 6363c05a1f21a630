package chains

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivehub.dev/fault"
)

func TestChainPropsRoundTrip(t *testing.T) {
	chain := &Chain{
		ID:          "c-1",
		Prompt:      "why",
		Context:     "background",
		Goal:        "an answer",
		Tags:        []string{"a", "b"},
		Status:      StatusCompleted,
		Conclusion:  "because",
		Confidence:  0.8,
		BranchFrom:  "c-0",
		BranchStep:  2,
		CreatedAt:   "2026-08-25T10:00:00.000Z",
		UpdatedAt:   "2026-08-25T10:05:00.000Z",
		CompletedAt: "2026-08-25T10:05:00.000Z",
	}

	decoded := chainFromProps(chainProps(chain))
	assert.Equal(t, chain.ID, decoded.ID)
	assert.Equal(t, chain.Prompt, decoded.Prompt)
	assert.Equal(t, chain.Context, decoded.Context)
	assert.Equal(t, chain.Goal, decoded.Goal)
	assert.Equal(t, chain.Tags, decoded.Tags)
	assert.Equal(t, chain.Status, decoded.Status)
	assert.Equal(t, chain.Conclusion, decoded.Conclusion)
	assert.Equal(t, chain.Confidence, decoded.Confidence)
	assert.Equal(t, chain.BranchFrom, decoded.BranchFrom)
	assert.Equal(t, chain.BranchStep, decoded.BranchStep)
	assert.Equal(t, chain.CompletedAt, decoded.CompletedAt)
}

// TestChainFromDriverProps feeds the integer widths and list shape the
// graph driver actually returns.
func TestChainFromDriverProps(t *testing.T) {
	decoded := chainFromProps(map[string]interface{}{
		"id":          "c-1",
		"prompt":      "why",
		"status":      "in_progress",
		"step_count":  int64(3),
		"branch_step": int64(2),
		"tags":        []interface{}{"x", "y"},
		"exported":    false,
	})

	assert.Equal(t, 3, decoded.StepCount)
	assert.Equal(t, 2, decoded.BranchStep)
	assert.Equal(t, []string{"x", "y"}, decoded.Tags)
	assert.False(t, decoded.Exported)
}

func TestStepPropsEncodeDataAsJSON(t *testing.T) {
	step := Step{
		Number:     2,
		Thought:    "observed",
		Type:       "observation",
		Confidence: 0.5,
		Data:       map[string]interface{}{"metric": "latency", "value": 120.0},
		CreatedAt:  "2026-08-25T10:00:00.000Z",
	}

	props := stepProps("c-1", step)
	assert.Equal(t, "c-1-step-2", props["id"])
	assert.Equal(t, "c-1", props["chain_id"])
	data, ok := props["data"].(string)
	require.True(t, ok, "nested data must flatten to a JSON string property")
	assert.Contains(t, data, `"metric":"latency"`)

	decoded := stepFromProps(props)
	assert.Equal(t, step.Number, decoded.Number)
	assert.Equal(t, step.Thought, decoded.Thought)
	assert.Equal(t, "latency", decoded.Data["metric"])
	assert.Equal(t, 120.0, decoded.Data["value"])
}

func TestCheckStepType(t *testing.T) {
	got, err := checkStepType("")
	require.NoError(t, err)
	assert.Equal(t, defaultStepType, got)

	for _, valid := range []string{"observation", "analysis", "inference", "conclusion", "question", "hypothesis"} {
		got, err := checkStepType(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, got)
	}

	_, err = checkStepType("vibes")
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}

func TestCheckConfidence(t *testing.T) {
	assert.NoError(t, checkConfidence(0))
	assert.NoError(t, checkConfidence(1))
	assert.Error(t, checkConfidence(-0.1))
	assert.Error(t, checkConfidence(1.1))
}

func TestCloneIsolation(t *testing.T) {
	chain := &Chain{
		ID:    "c-1",
		Tags:  []string{"a"},
		Steps: []Step{{Number: 1, Thought: "x"}},
	}

	copied := chain.clone()
	copied.Tags[0] = "mutated"
	copied.Steps[0].Thought = "mutated"

	assert.Equal(t, "a", chain.Tags[0])
	assert.Equal(t, "x", chain.Steps[0].Thought)
}

// TestChainStepNumberingProperty drives random step sequences through the
// service and checks numbering stays 1..N with no gaps, terminal chains
// reject appends, and conclude is idempotent only for the same outcome.
func TestChainStepNumberingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("steps number 1..N and freeze at conclusion", prop.ForAll(
		func(thoughts []string, failChain bool) bool {
			mem := newMemGraph()
			svc := NewService(mem, relStore{mem}, nil, nil)
			ctx := context.Background()

			chain, err := svc.StartThinking(ctx, StartInput{Prompt: "p"})
			if err != nil {
				return false
			}
			for i, thought := range thoughts {
				step, err := svc.AddStep(ctx, AddStepInput{ChainID: chain.ID, Thought: thought})
				if err != nil || step.Number != i+1 {
					return false
				}
			}

			concluded, err := svc.Conclude(ctx, ConcludeInput{ChainID: chain.ID, Conclusion: "c", Success: !failChain})
			if err != nil || !concluded.Terminal() {
				return false
			}
			if len(concluded.Steps) != len(thoughts) {
				return false
			}

			// Appending after the terminal transition must fail.
			if _, err := svc.AddStep(ctx, AddStepInput{ChainID: chain.ID, Thought: "late"}); !fault.IsKind(err, fault.InvalidInput) {
				return false
			}
			// Same conclusion repeats, a conflicting one is rejected.
			if _, err := svc.Conclude(ctx, ConcludeInput{ChainID: chain.ID, Conclusion: "c", Success: !failChain}); err != nil {
				return false
			}
			if _, err := svc.Conclude(ctx, ConcludeInput{ChainID: chain.ID, Conclusion: "other", Success: !failChain}); !fault.IsKind(err, fault.InvalidInput) {
				return false
			}
			return true
		},
		gen.SliceOf(gen.AlphaString().SuchThat(func(s string) bool { return s != "" })).WithLabel("thoughts"),
		gen.Bool().WithLabel("fail"),
	))

	properties.TestingRun(t)
}

// TestBranchPreservesPrefixProperty checks that branching at any valid
// point copies exactly that prefix and never mutates the parent.
func TestBranchPreservesPrefixProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("branch copies steps 1..k", prop.ForAll(
		func(total int, at int) bool {
			if at > total {
				at = total
			}
			mem := newMemGraph()
			svc := NewService(mem, relStore{mem}, nil, nil)
			ctx := context.Background()

			chain, err := svc.StartThinking(ctx, StartInput{Prompt: "p"})
			if err != nil {
				return false
			}
			for i := 1; i <= total; i++ {
				if _, err := svc.AddStep(ctx, AddStepInput{ChainID: chain.ID, Thought: fmt.Sprintf("t%d", i)}); err != nil {
					return false
				}
			}

			child, err := svc.Branch(ctx, chain.ID, at)
			if err != nil {
				return false
			}
			want := at
			if want == 0 {
				want = total
			}
			if len(child.Steps) != want {
				return false
			}
			for i, step := range child.Steps {
				if step.Number != i+1 || step.Thought != fmt.Sprintf("t%d", i+1) {
					return false
				}
			}

			parent, err := svc.Get(ctx, chain.ID, true)
			return err == nil && len(parent.Steps) == total && parent.Status == StatusInProgress
		},
		gen.IntRange(0, 6).WithLabel("total"),
		gen.IntRange(0, 6).WithLabel("at"),
	))

	properties.TestingRun(t)
}
