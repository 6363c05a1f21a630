package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayLogName(t *testing.T) {
	noon := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("RootFolder", func(t *testing.T) {
		v := newTestVault(t)
		assert.Equal(t, "Log_Global_2026-08-24.md", v.DayLogName(noon))
	})

	t.Run("LogsFolder", func(t *testing.T) {
		v, err := New(t.TempDir(), "Logs")
		require.NoError(t, err)
		assert.Equal(t, "Logs/Log_Global_2026-08-24.md", v.DayLogName(noon))
	})

	t.Run("ConvertsToUTC", func(t *testing.T) {
		v := newTestVault(t)
		east := time.FixedZone("UTC+5", 5*60*60)
		early := time.Date(2026, 8, 24, 2, 0, 0, 0, east)
		assert.Equal(t, "Log_Global_2026-08-23.md", v.DayLogName(early))
	})
}

func TestAppendLog_CreatesWithFrontmatter(t *testing.T) {
	v := newTestVault(t)

	name, err := v.AppendLog(LogEntry{
		Timestamp: "2026-08-24T10:00:00.000Z",
		Type:      "tool_call",
		Source:    "graph",
		Metadata:  map[string]interface{}{"tool": "create_entity"},
		Result:    "created Person/alice",
	})
	require.NoError(t, err)
	assert.Equal(t, v.DayLogName(time.Now()), name)

	fm, body, err := v.Read(name)
	require.NoError(t, err)
	require.NotNil(t, fm)
	assert.Equal(t, []string{"date", "cli", "version"}, fm.Keys())
	assert.Equal(t, "all-clients", fm.GetString("cli"))
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), fm.GetString("date"))
	assert.NotEmpty(t, fm.GetString("version"))

	assert.True(t, strings.HasPrefix(body, "# Global Log — "))
	assert.Contains(t, body, "### [2026-08-24T10:00:00.000Z] GRAPH :: tool_call")
}

func TestAppendLog_AppendsWithoutNewFrontmatter(t *testing.T) {
	v := newTestVault(t)

	name, err := v.AppendLog(LogEntry{Source: "vault", Type: "tool_call"})
	require.NoError(t, err)
	_, err = v.AppendLog(LogEntry{Source: "model", Type: "tool_call"})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(v.Root(), filepath.FromSlash(name)))
	require.NoError(t, err)
	content := string(raw)

	assert.Equal(t, 2, strings.Count(content, "### ["))
	assert.Equal(t, 1, strings.Count(content, "# Global Log"))
	assert.Equal(t, 2, strings.Count(content, "---\n"), "frontmatter fences must appear once")
	assert.Contains(t, content, "VAULT :: tool_call")
	assert.Contains(t, content, "MODEL :: tool_call")
}

func TestAppendLog_StampsMissingTimestamp(t *testing.T) {
	v := newTestVault(t)

	name, err := v.AppendLog(LogEntry{Source: "omega", Type: "http_request"})
	require.NoError(t, err)

	_, body, err := v.Read(name)
	require.NoError(t, err)
	stamped := regexp.MustCompile(`### \[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z\] OMEGA :: http_request`)
	assert.Regexp(t, stamped, body)
}

func TestAppendLog_LogsFolder(t *testing.T) {
	v, err := New(t.TempDir(), "Logs")
	require.NoError(t, err)

	name, err := v.AppendLog(LogEntry{Source: "graph", Type: "tool_call"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "Logs/"))
	assert.True(t, v.Exists(name))
}

func TestRenderLogBlock(t *testing.T) {
	entry := LogEntry{
		Timestamp: "2026-08-24T10:00:00.000Z",
		Type:      "tool_call",
		Source:    "graph",
		Metadata: map[string]interface{}{
			"tool":     "create_entity",
			"duration": 42,
			"cached":   false,
			"labels":   []string{"Person"},
		},
		Context:   "client requested a new entity",
		Changes:   []string{"created node Person/alice"},
		Result:    "success",
		Artifacts: []string{"graph://Person/alice"},
	}

	got := renderLogBlock(entry)
	want := "### [2026-08-24T10:00:00.000Z] GRAPH :: tool_call\n" +
		"\n" +
		"**Metadata:**\n" +
		"- cached: false\n" +
		"- duration: 42\n" +
		"- labels: [\"Person\"]\n" +
		"- tool: create_entity\n" +
		"\n" +
		"**Context:**\n" +
		"client requested a new entity\n" +
		"\n" +
		"**Changes:**\n" +
		"- created node Person/alice\n" +
		"\n" +
		"**Result:**\n" +
		"success\n" +
		"\n" +
		"**Artifacts:**\n" +
		"- graph://Person/alice\n"
	assert.Equal(t, want, got)
}

func TestRenderLogBlock_EmptyEntry(t *testing.T) {
	got := renderLogBlock(LogEntry{Timestamp: "2026-08-24T10:00:00.000Z"})

	assert.Contains(t, got, "### [2026-08-24T10:00:00.000Z] UNKNOWN :: action\n")
	assert.Contains(t, got, "**Metadata:**\n- none\n")
	assert.Contains(t, got, "**Context:**\nnone\n")
	assert.Contains(t, got, "**Changes:**\n- none\n")
	assert.Contains(t, got, "**Result:**\nnone\n")
	assert.Contains(t, got, "**Artifacts:**\n- none\n")
	assert.NotContains(t, got, "**References:**")
}

func TestRenderLogBlock_References(t *testing.T) {
	got := renderLogBlock(LogEntry{
		Timestamp:  "2026-08-24T10:00:00.000Z",
		Source:     "chains",
		Type:       "export",
		References: []string{"[[reasoning-2026-08-24-abc12345]]"},
	})

	assert.Contains(t, got, "**References:**\n- [[reasoning-2026-08-24-abc12345]]\n")
}

func TestRenderValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{name: "Nil", value: nil, want: "null"},
		{name: "String", value: "plain", want: "plain"},
		{name: "Bool", value: true, want: "true"},
		{name: "Int", value: 7, want: "7"},
		{name: "Float", value: 2.5, want: "2.5"},
		{name: "Map", value: map[string]int{"a": 1}, want: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderValue(tt.value))
		})
	}
}

func TestAppendLog_ManyRecordsKeepOrder(t *testing.T) {
	v := newTestVault(t)

	for i := 0; i < 3; i++ {
		_, err := v.AppendLog(LogEntry{
			Timestamp: fmt.Sprintf("2026-08-24T10:00:0%d.000Z", i),
			Source:    "graph",
			Type:      "tool_call",
		})
		require.NoError(t, err)
	}

	_, body, err := v.Read(v.DayLogName(time.Now()))
	require.NoError(t, err)
	first := strings.Index(body, "10:00:00")
	second := strings.Index(body, "10:00:01")
	third := strings.Index(body, "10:00:02")
	assert.True(t, first < second && second < third)
}
