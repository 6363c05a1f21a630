package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hivehub.dev/fault"
)

// Client talks to an ollama-style model runtime over its REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a runtime client. timeout bounds every request
// end-to-end; zero means no client-side limit.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the runtime endpoint the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ModelDetails carries the runtime's per-model metadata.
type ModelDetails struct {
	Format            string `json:"format,omitempty"`
	Family            string `json:"family,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty"`
}

// ModelEntry is one installed model from the runtime inventory.
type ModelEntry struct {
	Name       string       `json:"name"`
	Model      string       `json:"model,omitempty"`
	ModifiedAt string       `json:"modified_at,omitempty"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest,omitempty"`
	Details    ModelDetails `json:"details,omitempty"`
}

type tagsResponse struct {
	Models []ModelEntry `json:"models"`
}

// ChatMessage is one turn of a chat conversation. Images carry base64
// payloads for vision models.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ChatRequest invokes /api/chat.
type ChatRequest struct {
	Model     string                 `json:"model"`
	Messages  []ChatMessage          `json:"messages"`
	Stream    bool                   `json:"stream"`
	Options   map[string]interface{} `json:"options,omitempty"`
	KeepAlive string                 `json:"keep_alive,omitempty"`
}

// ChatResponse is the non-streaming /api/chat reply.
type ChatResponse struct {
	Model           string      `json:"model"`
	CreatedAt       string      `json:"created_at"`
	Message         ChatMessage `json:"message"`
	Done            bool        `json:"done"`
	TotalDuration   int64       `json:"total_duration"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// GenerateRequest invokes /api/generate.
type GenerateRequest struct {
	Model     string                 `json:"model"`
	Prompt    string                 `json:"prompt"`
	Images    []string               `json:"images,omitempty"`
	Stream    bool                   `json:"stream"`
	Options   map[string]interface{} `json:"options,omitempty"`
	KeepAlive string                 `json:"keep_alive,omitempty"`
}

// GenerateResponse is the non-streaming /api/generate reply.
type GenerateResponse struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// ShowResponse is the /api/show reply for one model.
type ShowResponse struct {
	License    string                 `json:"license,omitempty"`
	Modelfile  string                 `json:"modelfile,omitempty"`
	Parameters string                 `json:"parameters,omitempty"`
	Template   string                 `json:"template,omitempty"`
	Details    ModelDetails           `json:"details,omitempty"`
	ModelInfo  map[string]interface{} `json:"model_info,omitempty"`
}

type showRequest struct {
	Model string `json:"model"`
}

type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type pullResponse struct {
	Status string `json:"status"`
}

type runtimeError struct {
	Error string `json:"error"`
}

// Tags lists the runtime's installed models.
func (c *Client) Tags(ctx context.Context) ([]ModelEntry, error) {
	var out tagsResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Show returns metadata for one installed model.
func (c *Client) Show(ctx context.Context, model string) (*ShowResponse, error) {
	var out ShowResponse
	if err := c.do(ctx, http.MethodPost, "/api/show", showRequest{Model: model}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat runs a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	var out ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate runs a non-streaming completion.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	req.Stream = false
	var out GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Embeddings computes the embedding vector for one prompt.
func (c *Client) Embeddings(ctx context.Context, model, prompt string) ([]float64, error) {
	var out embeddingsResponse
	req := embeddingsRequest{Model: model, Prompt: prompt}
	if err := c.do(ctx, http.MethodPost, "/api/embeddings", req, &out); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

// Pull downloads a model into the runtime. Pulling an installed model
// succeeds without work.
func (c *Client) Pull(ctx context.Context, model string) error {
	var out pullResponse
	if err := c.do(ctx, http.MethodPost, "/api/pull", pullRequest{Model: model, Stream: false}, &out); err != nil {
		return err
	}
	if out.Status != "" && out.Status != "success" {
		return fault.New(fault.Internal, "pull of %s ended with status %q", model, out.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fault.Unexpected(err, "cannot encode runtime request")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fault.Unexpected(err, "cannot build runtime request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return translateTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Unexpected(err, "cannot read runtime response")
	}

	if resp.StatusCode != http.StatusOK {
		return translateStatus(resp.StatusCode, payload)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fault.Unexpected(err, "cannot decode runtime response from %s", path)
	}
	return nil
}

// translateTransport maps connection-level failures into the taxonomy:
// deadline overruns become Timeout, anything else BackendUnavailable.
func translateTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fault.Expired(err, "model runtime request timed out")
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fault.Expired(err, "model runtime request timed out")
	}
	return fault.Unavailable(err, "model runtime unreachable")
}

func translateStatus(status int, payload []byte) error {
	message := strings.TrimSpace(string(payload))
	var re runtimeError
	if json.Unmarshal(payload, &re) == nil && re.Error != "" {
		message = re.Error
	}
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusNotFound:
		return fault.Missing("%s", message)
	case status == http.StatusBadRequest:
		return fault.Invalid("%s", message)
	case status == http.StatusTooManyRequests,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return fault.Unavailable(errors.New(message), "model runtime overloaded")
	case status >= 500 && strings.Contains(message, "not found"):
		// The runtime reports unknown models as 500 on generate paths.
		return fault.Missing("%s", message)
	default:
		return fault.Unexpected(fmt.Errorf("runtime returned %d: %s", status, message), "model runtime call failed")
	}
}
