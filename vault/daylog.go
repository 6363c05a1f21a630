package vault

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"hivehub.dev/common"
	"hivehub.dev/version"
)

// LogEntry is one action record for the daily log.
type LogEntry struct {
	// Timestamp in the hub layout; stamped with now when empty.
	Timestamp string

	// Type classifies the record, e.g. tool_call or http_request.
	Type string

	// Source is the sub-server or transport that produced the record.
	Source string

	Metadata   map[string]interface{}
	Context    string
	Changes    []string
	Result     string
	Artifacts  []string
	References []string
}

// DayLogName returns the per-day log file name for t.
func (v *Vault) DayLogName(t time.Time) string {
	name := fmt.Sprintf("Log_Global_%s.md", t.UTC().Format("2006-01-02"))
	if v.logsFolder != "" {
		return path.Join(v.logsFolder, name)
	}
	return name
}

// AppendLog appends a formatted record block to today's log file, creating
// the file with its frontmatter when absent. Returns the log note name.
func (v *Vault) AppendLog(entry LogEntry) (string, error) {
	now := time.Now().UTC()
	if entry.Timestamp == "" {
		entry.Timestamp = common.FormatISO(now)
	}

	name := v.DayLogName(now)
	block := renderLogBlock(entry)

	if !v.Exists(name) {
		fm := NewFrontmatter().
			Set("date", now.Format("2006-01-02")).
			Set("cli", "all-clients").
			Set("version", version.GetHubVersion())
		header := fmt.Sprintf("# Global Log — %s\n\n", now.Format("2006-01-02"))
		if _, err := v.Write(name, header+block, fm); err != nil {
			return "", err
		}
		return name, nil
	}

	return v.Append(name, block)
}

// renderLogBlock renders one record as a level-3 heading plus its
// sections. References render only when present.
func renderLogBlock(entry LogEntry) string {
	var b strings.Builder

	source := strings.ToUpper(entry.Source)
	if source == "" {
		source = "UNKNOWN"
	}
	recordType := entry.Type
	if recordType == "" {
		recordType = "action"
	}
	fmt.Fprintf(&b, "### [%s] %s :: %s\n\n", entry.Timestamp, source, recordType)

	b.WriteString("**Metadata:**\n")
	if len(entry.Metadata) == 0 {
		b.WriteString("- none\n")
	} else {
		keys := make([]string, 0, len(entry.Metadata))
		for key := range entry.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", key, renderValue(entry.Metadata[key]))
		}
	}

	b.WriteString("\n**Context:**\n")
	if entry.Context == "" {
		b.WriteString("none\n")
	} else {
		b.WriteString(entry.Context + "\n")
	}

	b.WriteString("\n**Changes:**\n")
	writeBullets(&b, entry.Changes)

	b.WriteString("\n**Result:**\n")
	if entry.Result == "" {
		b.WriteString("none\n")
	} else {
		b.WriteString(entry.Result + "\n")
	}

	b.WriteString("\n**Artifacts:**\n")
	writeBullets(&b, entry.Artifacts)

	if len(entry.References) > 0 {
		b.WriteString("\n**References:**\n")
		writeBullets(&b, entry.References)
	}

	return b.String()
}

func writeBullets(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("- none\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func renderValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
