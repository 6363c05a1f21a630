package model

import (
	"context"
	"encoding/json"
	"testing"

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
	f := &fakeRuntime{}
	srv := NewServer(newTestRouter(t, f, defaultTestOptions()))

	assert.Equal(t, "model-router", srv.Name())
	assert.Equal(t, []string{
		"chat", "complete", "embed", "vision", "list_models",
		"get_model_info", "pull_model", "set_default_model",
		"reasoning", "coding",
	}, srv.ToolNames())
}

func TestReasoningViaTool(t *testing.T) {
	f := &fakeRuntime{models: []string{"deepseek-r1:14b", "llama3.2:3b"}}
	srv := NewServer(newTestRouter(t, f, defaultTestOptions()))

	out := callTool(t, srv, "reasoning", map[string]interface{}{"prompt": "why"})
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "deepseek-r1:14b", out["model"])
	assert.Equal(t, "generated", out["response"])
}

func TestReasoningFallbackViaTool(t *testing.T) {
	// Primary absent, fallback installed: the tool reports the fallback.
	f := &fakeRuntime{models: []string{"llama3.2:3b"}}
	srv := NewServer(newTestRouter(t, f, defaultTestOptions()))

	out := callTool(t, srv, "reasoning", map[string]interface{}{"prompt": "why"})
	assert.Equal(t, "llama3.2:3b", out["model"])
	assert.Equal(t, true, out["model_downgraded"])
}

func TestChatViaTool(t *testing.T) {
	f := &fakeRuntime{models: []string{"llama3.1:8b"}}
	srv := NewServer(newTestRouter(t, f, defaultTestOptions()))

	out := callTool(t, srv, "chat", map[string]interface{}{
		"messages": []map[string]interface{}{
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hello"},
		},
	})
	assert.Equal(t, "llama3.1:8b", out["model"])
	assert.NotEmpty(t, out["response"])
}

func TestChatSchemaRejectsBadRole(t *testing.T) {
	f := &fakeRuntime{models: []string{"llama3.1:8b"}}
	srv := NewServer(newTestRouter(t, f, defaultTestOptions()))

	result, err := srv.Call(context.Background(), "chat", map[string]interface{}{
		"messages": []map[string]interface{}{
			{"role": "narrator", "content": "once upon a time"},
		},
	})
	require.Error(t, err)
	assert.True(t, result.IsError)
}

func TestCodingPrependsLanguageHint(t *testing.T) {
	f := &fakeRuntime{models: []string{"qwen2.5-coder:14b"}}
	srv := NewServer(newTestRouter(t, f, defaultTestOptions()))

	callTool(t, srv, "coding", map[string]interface{}{
		"prompt":   "reverse a list",
		"language": "go",
	})

	f.mu.Lock()
	prompt := f.lastPrompt
	f.mu.Unlock()
	assert.Contains(t, prompt, "Language: go")
	assert.Contains(t, prompt, "reverse a list")
}

func TestListModelsViaTool(t *testing.T) {
	f := &fakeRuntime{models: []string{"llama3.1:8b", "nomic-embed-text"}}
	srv := NewServer(newTestRouter(t, f, defaultTestOptions()))

	out := callTool(t, srv, "list_models", nil)
	assert.Equal(t, float64(2), out["count"])
	models, _ := out["models"].([]interface{})
	require.Len(t, models, 2)
	first, _ := models[0].(map[string]interface{})
	assert.NotEmpty(t, first["name"])
	assert.NotEmpty(t, first["sizeHuman"])
}

func TestEmbedViaTool(t *testing.T) {
	f := &fakeRuntime{models: []string{"nomic-embed-text"}}
	srv := NewServer(newTestRouter(t, f, defaultTestOptions()))

	out := callTool(t, srv, "embed", map[string]interface{}{"text": "vectorize me"})
	assert.Equal(t, "nomic-embed-text", out["model"])
	vector, _ := out["embedding"].([]interface{})
	assert.NotEmpty(t, vector)
}

func TestSetDefaultModelViaTool(t *testing.T) {
	f := &fakeRuntime{models: []string{"custom:7b"}}
	router := newTestRouter(t, f, defaultTestOptions())
	srv := NewServer(router)

	out := callTool(t, srv, "set_default_model", map[string]interface{}{
		"class": "reasoning",
		"model": "custom:7b",
	})
	defaults, _ := out["defaults"].(map[string]interface{})
	require.NotNil(t, defaults)
	assert.Equal(t, "custom:7b", defaults["reasoning"])

	// Unknown classes fail the enum before the handler runs.
	result, err := srv.Call(context.Background(), "set_default_model", map[string]interface{}{
		"class": "poetry",
		"model": "custom:7b",
	})
	require.Error(t, err)
	assert.True(t, result.IsError)
}
