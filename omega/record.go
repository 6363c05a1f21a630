// Package omega implements the governance protocol: every externally
// visible action is conditional on a durable, schema-valid record in the
// notebook journal, written before the action and mirrored after it.
package omega

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"hivehub.dev/common"
	"hivehub.dev/fault"
	"hivehub.dev/vault"
)

// Record types written by the pipeline.
const (
	TypeToolCall          = "tool_call"
	TypeHTTPRequest       = "http_request"
	TypeHTTPRequestResult = "http_request_result"
)

const maxSummaryChars = 200

// Record is one governance log record. All four of timestamp, type,
// source and action are required by the default policy.
type Record struct {
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Action    string                 `json:"action"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewRecord builds a record stamped with the current time.
func NewRecord(recordType, source, action string, data map[string]interface{}) Record {
	return Record{
		Timestamp: common.NowISO(),
		Type:      recordType,
		Source:    source,
		Action:    action,
		Data:      data,
	}
}

// timestampRe is the hub timestamp shape: RFC-3339 UTC with Z suffix and
// optional millisecond fraction.
var timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{3})?Z$`)

// Validate checks the record against the configured policy. Violations
// carry the GovernanceInvalidFormat kind.
func (r Record) Validate(cfg Config) error {
	if !cfg.ValidateSchema {
		return nil
	}

	if strings.TrimSpace(r.Type) == "" {
		return fault.BadRecord("record type must not be empty")
	}
	if cfg.RequireTimestamp && strings.TrimSpace(r.Timestamp) == "" {
		return fault.BadRecord("record timestamp must not be empty")
	}
	if cfg.RequireSource && strings.TrimSpace(r.Source) == "" {
		return fault.BadRecord("record source must not be empty")
	}
	if cfg.RequireAction && strings.TrimSpace(r.Action) == "" {
		return fault.BadRecord("record action must not be empty")
	}

	if r.Timestamp == "" {
		return nil
	}
	if cfg.ISO8601Strict {
		if !timestampRe.MatchString(r.Timestamp) {
			return fault.BadRecord("record timestamp %q is not ISO-8601 UTC", r.Timestamp)
		}
		layout := "2006-01-02T15:04:05Z"
		if strings.Contains(r.Timestamp, ".") {
			layout = common.ISOMillis
		}
		if _, err := time.Parse(layout, r.Timestamp); err != nil {
			return fault.BadRecord("record timestamp %q does not parse: %v", r.Timestamp, err)
		}
		return nil
	}
	if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
		return fault.BadRecord("record timestamp %q does not parse: %v", r.Timestamp, err)
	}
	return nil
}

// logEntry renders the record for the journal. The action travels in the
// metadata; a string "result" in the data becomes the result section.
func (r Record) logEntry() vault.LogEntry {
	metadata := map[string]interface{}{"action": r.Action}
	var result string
	for key, value := range r.Data {
		if key == "result" {
			if text, ok := value.(string); ok {
				result = text
				continue
			}
		}
		metadata[key] = value
	}
	return vault.LogEntry{
		Timestamp: r.Timestamp,
		Type:      r.Type,
		Source:    r.Source,
		Metadata:  metadata,
		Result:    result,
	}
}

// summarizeArgs compacts tool arguments for the journal so large
// payloads never bloat the daily log.
func summarizeArgs(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for key, value := range args {
		out[key] = summarizeValue(value)
	}
	return out
}

func summarizeValue(value interface{}) string {
	var text string
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		text = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(encoded)
		}
	}
	return truncate(text, maxSummaryChars)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
