// Package mcp implements the hub's tool-invocation protocol: per-server
// tool registries with schema validation, the uniform call envelope, and
// the dispatcher multiplexing transports onto sub-servers.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"hivehub.dev/fault"
)

// Dispatcher operations carried over the wire.
const (
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

// Tool describes one callable tool.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Content is one block of a call result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the uniform tool-call envelope.
type CallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the first text block, or "".
func (r *CallResult) Text() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

// Resource describes one readable resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// ResourceContent is the payload of one read resource.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type,omitempty"`
	Text     string `json:"text"`
}

// Handler implements one tool. The returned value is stringified into the
// envelope; an error is wrapped as a text-encoded ToolError.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ResourceLister enumerates the resources a server currently exposes.
type ResourceLister func(ctx context.Context) ([]Resource, error)

// ResourceReader resolves one resource URI to its content.
type ResourceReader func(ctx context.Context, uri string) (*ResourceContent, error)

// ToolError is the JSON body of an error envelope.
type ToolError struct {
	Error   string                 `json:"error"`
	Tool    string                 `json:"tool"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// TextResult wraps text in a success envelope.
func TextResult(text string) *CallResult {
	return &CallResult{Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult wraps text in an error envelope.
func ErrorResult(text string) *CallResult {
	return &CallResult{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}

// errorEnvelope encodes err uniformly for tool. Fault kinds travel in the
// details map.
func errorEnvelope(tool string, err error) *CallResult {
	body := ToolError{Error: err.Error(), Tool: tool}
	if kind := fault.KindOf(err); kind != "" {
		body.Details = map[string]interface{}{"kind": string(kind)}
	}
	encoded, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		return ErrorResult(fmt.Sprintf(`{"error":%q,"tool":%q}`, err.Error(), tool))
	}
	return ErrorResult(string(encoded))
}

// stringify renders a handler result for the envelope: strings pass
// through, everything else is JSON-encoded.
func stringify(result interface{}) (string, error) {
	switch v := result.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fault.Unexpected(err, "cannot encode tool result")
		}
		return string(encoded), nil
	}
}
