package vault

import (
	"context"
	"sort"
	"strings"

	"hivehub.dev/common"
	"hivehub.dev/fault"
	"hivehub.dev/mcp"
)

// noteScheme prefixes note resource URIs, e.g. note://daily-summary.md.
const noteScheme = "note://"

// resourceListLimit caps how many notes resources/list exposes.
const resourceListLimit = 50

// NewServer builds the notebook MCP surface over the vault.
func NewServer(v *Vault) *mcp.Server {
	srv := mcp.NewServer("notebook",
		"Markdown notebook vault with frontmatter and daily action logs")

	srv.MustRegister(mcp.Tool{
		Name:        "write_note",
		Description: "Replace a note's contents, optionally with a frontmatter block",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name":        map[string]interface{}{"type": "string", "description": "Vault-relative note name, .md appended when missing"},
				"body":        map[string]interface{}{"type": "string"},
				"frontmatter": map[string]interface{}{"type": "object"},
			},
			"required": []string{"name", "body"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		name, err := v.Write(
			common.AsString(args["name"]),
			common.AsString(args["body"]),
			frontmatterFromArgs(args["frontmatter"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"name":    name,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "read_note",
		Description: "Read a note, split into frontmatter and body",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{"type": "string"},
			},
			"required": []string{"name"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		fm, body, err := v.Read(common.AsString(args["name"]))
		if err != nil {
			return nil, err
		}
		out := map[string]interface{}{
			"success": true,
			"body":    body,
		}
		if fm != nil && fm.Len() > 0 {
			out["frontmatter"] = fm.Map()
		}
		return out, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "append_note",
		Description: "Append to a note with a blank-line separator, creating it if absent",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{"type": "string"},
				"body": map[string]interface{}{"type": "string"},
			},
			"required": []string{"name", "body"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		name, err := v.Append(common.AsString(args["name"]), common.AsString(args["body"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"name":    name,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "list_notes",
		Description: "List notes by modification time",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"limit": map[string]interface{}{"type": "integer", "minimum": 1},
				"order": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"newest", "oldest"},
					"description": "Defaults to newest",
				},
			},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		notes, err := v.List(common.AsInt(args["limit"]), common.AsString(args["order"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"count":   len(notes),
			"notes":   notes,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "search_notes",
		Description: "Search notes by filename, optionally scanning bodies",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query":      map[string]interface{}{"type": "string"},
				"searchBody": map[string]interface{}{"type": "boolean", "description": "Also scan note contents (bounded)"},
				"limit":      map[string]interface{}{"type": "integer", "minimum": 1},
			},
			"required": []string{"query"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		notes, err := v.Search(
			common.AsString(args["query"]),
			common.AsBool(args["searchBody"]),
			common.AsInt(args["limit"]))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"count":   len(notes),
			"notes":   notes,
		}, nil
	})

	srv.MustRegister(mcp.Tool{
		Name:        "log_entry",
		Description: "Append a structured action record to today's daily log",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type":     map[string]interface{}{"type": "string", "description": "Record type, e.g. tool_call"},
				"source":   map[string]interface{}{"type": "string"},
				"context":  map[string]interface{}{"type": "string"},
				"metadata": map[string]interface{}{"type": "object"},
				"changes": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"result": map[string]interface{}{"type": "string"},
				"artifacts": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"references": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
			},
			"required": []string{"type", "source"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		name, err := v.AppendLog(LogEntry{
			Type:       common.AsString(args["type"]),
			Source:     common.AsString(args["source"]),
			Context:    common.AsString(args["context"]),
			Metadata:   common.DecodeJSONMap(args["metadata"]),
			Changes:    common.AsStringSlice(args["changes"]),
			Result:     common.AsString(args["result"]),
			Artifacts:  common.AsStringSlice(args["artifacts"]),
			References: common.AsStringSlice(args["references"]),
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success": true,
			"logFile": name,
		}, nil
	})

	err := srv.RegisterResources(noteScheme,
		func(ctx context.Context) ([]mcp.Resource, error) {
			notes, err := v.List(resourceListLimit, "newest")
			if err != nil {
				return nil, err
			}
			out := make([]mcp.Resource, 0, len(notes))
			for _, note := range notes {
				out = append(out, mcp.Resource{
					URI:      noteScheme + note.Name,
					Name:     note.Name,
					MimeType: "text/markdown",
				})
			}
			return out, nil
		},
		func(ctx context.Context, uri string) (*mcp.ResourceContent, error) {
			name := strings.TrimPrefix(uri, noteScheme)
			if name == "" {
				return nil, fault.Missing("resource %s not found", uri)
			}
			fm, body, err := v.Read(name)
			if err != nil {
				return nil, err
			}
			text := body
			if fm != nil && fm.Len() > 0 {
				rendered, err := fm.Render()
				if err != nil {
					return nil, err
				}
				text = rendered + body
			}
			return &mcp.ResourceContent{
				URI:      uri,
				MimeType: "text/markdown",
				Text:     text,
			}, nil
		})
	if err != nil {
		panic(err)
	}

	return srv
}

// frontmatterFromArgs builds a deterministic frontmatter from a JSON
// object argument: keys are emitted sorted since JSON objects carry no
// order of their own.
func frontmatterFromArgs(arg interface{}) *Frontmatter {
	props := common.DecodeJSONMap(arg)
	if len(props) == 0 {
		return nil
	}
	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fm := NewFrontmatter()
	for _, key := range keys {
		fm.Set(key, props[key])
	}
	return fm
}
