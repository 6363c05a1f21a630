package chains

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hivehub.dev/vault"
)

// exportName builds the notebook filename for a concluded chain:
// reasoning-YYYY-MM-DD-<first 8 of chain id>.md. The date comes from the
// conclusion timestamp so retried exports land on the same file.
func exportName(c *Chain) string {
	stamp := c.CompletedAt
	if stamp == "" {
		stamp = c.CreatedAt
	}
	date := time.Now().UTC().Format("2006-01-02")
	if len(stamp) >= 10 {
		date = stamp[:10]
	}
	return "reasoning-" + date + "-" + shortID(c.ID) + ".md"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func exportTitle(c *Chain) string {
	title := c.Prompt
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > 60 {
		title = title[:57] + "..."
	}
	return "Reasoning: " + title
}

// renderExport produces the frontmatter and markdown body of the chain's
// notebook file.
func renderExport(c *Chain) (*vault.Frontmatter, string) {
	fm := vault.NewFrontmatter().
		Set("title", exportTitle(c)).
		Set("chain_id", c.ID).
		Set("status", c.Status).
		Set("created", c.CreatedAt)
	if c.Goal != "" {
		fm.Set("goal", c.Goal)
	}
	if len(c.Tags) > 0 {
		fm.Set("tags", c.Tags)
	}

	var b strings.Builder
	b.WriteString("# " + exportTitle(c) + "\n\n")

	b.WriteString("## Prompt\n\n")
	b.WriteString(c.Prompt + "\n\n")

	if c.Context != "" {
		b.WriteString("## Context\n\n")
		b.WriteString(c.Context + "\n\n")
	}

	b.WriteString("## Reasoning Steps\n\n")
	for _, step := range c.Steps {
		fmt.Fprintf(&b, "### Step %d: %s\n\n", step.Number, step.Type)
		b.WriteString(step.Thought + "\n\n")
		if len(step.Data) > 0 {
			b.WriteString("```json\n" + encodeIndented(step.Data) + "\n```\n\n")
		}
		if step.Confidence > 0 {
			fmt.Fprintf(&b, "*Confidence: %.2f*\n\n", step.Confidence)
		}
	}

	b.WriteString("## Conclusion\n\n")
	b.WriteString(c.Conclusion + "\n")
	if c.Confidence > 0 {
		fmt.Fprintf(&b, "\n*Confidence: %.2f*\n", c.Confidence)
	}

	return fm, b.String()
}

func encodeIndented(m map[string]interface{}) string {
	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
