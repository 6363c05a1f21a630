package vault

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivehub.dev/mcp"
)

func callTool(t *testing.T, srv *mcp.Server, name string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, err := srv.Call(context.Background(), name, args)
	require.NoError(t, err)
	require.False(t, result.IsError, "unexpected tool error: %s", result.Text())

	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(result.Text()), &out))
	return out
}

func TestServerToolInventory(t *testing.T) {
	srv := NewServer(newTestVault(t))

	assert.Equal(t, "notebook", srv.Name())
	assert.Equal(t, []string{
		"write_note", "read_note", "append_note",
		"list_notes", "search_notes", "log_entry",
	}, srv.ToolNames())
}

func TestWriteReadViaTools(t *testing.T) {
	srv := NewServer(newTestVault(t))

	written := callTool(t, srv, "write_note", map[string]interface{}{
		"name": "meeting",
		"body": "# Agenda\n\n- review",
		"frontmatter": map[string]interface{}{
			"title": "Meeting",
			"tags":  []string{"work"},
		},
	})
	assert.Equal(t, "meeting.md", written["name"])

	read := callTool(t, srv, "read_note", map[string]interface{}{"name": "meeting"})
	assert.Contains(t, read["body"], "# Agenda")
	fm, _ := read["frontmatter"].(map[string]interface{})
	require.NotNil(t, fm)
	assert.Equal(t, "Meeting", fm["title"])
}

func TestReadMissingViaTool(t *testing.T) {
	srv := NewServer(newTestVault(t))

	result, err := srv.Call(context.Background(), "read_note", map[string]interface{}{"name": "ghost"})
	require.Error(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "not_found")
}

func TestAppendAndSearchViaTools(t *testing.T) {
	srv := NewServer(newTestVault(t))

	callTool(t, srv, "write_note", map[string]interface{}{"name": "scratch", "body": "first"})
	callTool(t, srv, "append_note", map[string]interface{}{"name": "scratch", "body": "second thought"})

	read := callTool(t, srv, "read_note", map[string]interface{}{"name": "scratch"})
	assert.Contains(t, read["body"], "first")
	assert.Contains(t, read["body"], "second thought")

	byName := callTool(t, srv, "search_notes", map[string]interface{}{"query": "scratch"})
	assert.Equal(t, float64(1), byName["count"])

	byBody := callTool(t, srv, "search_notes", map[string]interface{}{
		"query":      "second thought",
		"searchBody": true,
	})
	assert.Equal(t, float64(1), byBody["count"])
}

func TestLogEntryViaTool(t *testing.T) {
	v := newTestVault(t)
	srv := NewServer(v)

	out := callTool(t, srv, "log_entry", map[string]interface{}{
		"type":    "tool_call",
		"source":  "graph-memory",
		"context": "manual entry",
		"result":  "ok",
	})
	logFile, _ := out["logFile"].(string)
	assert.Equal(t, v.DayLogName(time.Now()), logFile)

	_, body, err := v.Read(logFile)
	require.NoError(t, err)
	assert.Contains(t, body, "GRAPH-MEMORY :: tool_call")
	assert.Contains(t, body, "manual entry")
}

func TestNoteResources(t *testing.T) {
	v := newTestVault(t)
	srv := NewServer(v)
	ctx := context.Background()

	callTool(t, srv, "write_note", map[string]interface{}{
		"name": "exposed",
		"body": "visible",
		"frontmatter": map[string]interface{}{
			"title": "Exposed",
		},
	})

	resources, err := srv.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "note://exposed.md", resources[0].URI)
	assert.Equal(t, "text/markdown", resources[0].MimeType)

	content, err := srv.ReadResource(ctx, "note://exposed.md")
	require.NoError(t, err)
	assert.Contains(t, content.Text, "visible")
	assert.Contains(t, content.Text, "title: Exposed")

	_, err = srv.ReadResource(ctx, "note://absent.md")
	require.Error(t, err)
}
