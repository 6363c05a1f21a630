// Package model routes inference requests onto a local ollama-style
// runtime: task classes map to configured models, availability is checked
// against a TTL-cached inventory, and unavailable models fall back with a
// downgrade marker.
package model

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

// Task classes the router understands.
const (
	ClassReasoning = "reasoning"
	ClassCoding    = "coding"
	ClassVision    = "vision"
	ClassChat      = "chat"
	ClassEmbedding = "embedding"
	ClassGeneral   = "general"
)

// Classes returns all task classes in a stable order.
func Classes() []string {
	return []string{ClassReasoning, ClassCoding, ClassVision, ClassChat, ClassEmbedding, ClassGeneral}
}

// ValidClass reports whether class is a known task class.
func ValidClass(class string) bool {
	switch class {
	case ClassReasoning, ClassCoding, ClassVision, ClassChat, ClassEmbedding, ClassGeneral:
		return true
	}
	return false
}

// Options configures a Router.
type Options struct {
	// Table maps task class to its primary model.
	Table map[string]string

	// Fallback substitutes for unavailable primaries.
	Fallback string

	// Retries is the total attempt count per runtime call.
	Retries int

	// InventoryTTL bounds how long the cached model list stays fresh.
	InventoryTTL time.Duration

	// KeepAlive is passed through to the runtime on every call.
	KeepAlive string

	// MaxImagePixels bounds vision inputs; larger images are downscaled.
	MaxImagePixels int
}

// RouteOptions tune a single routed call.
type RouteOptions struct {
	// Model overrides the class table.
	Model string

	// Options passes runtime sampling parameters (temperature etc.).
	Options map[string]interface{}

	// KeepAlive overrides the router-wide keep_alive.
	KeepAlive string
}

// Result is the outcome of a routed inference call.
type Result struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	DurationMS      int64  `json:"duration_ms"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Downgraded      bool   `json:"model_downgraded,omitempty"`
}

// Embedding is the outcome of an embed call.
type Embedding struct {
	Model      string    `json:"model"`
	Vector     []float64 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
	DurationMS int64     `json:"duration_ms"`
	Downgraded bool      `json:"model_downgraded,omitempty"`
}

// Router selects models per task class and invokes the runtime with
// bounded retries.
type Router struct {
	client *Client

	retries   int
	retryBase time.Duration
	ttl       time.Duration
	keepAlive string
	maxPixels int

	mu        sync.Mutex
	table     map[string]string
	fallback  string
	inventory []ModelEntry
	fetchedAt time.Time
}

// NewRouter builds a router over client. Zero option fields take the
// documented defaults.
func NewRouter(client *Client, opts Options) *Router {
	table := map[string]string{}
	for class, name := range opts.Table {
		table[class] = name
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = 3
	}
	ttl := opts.InventoryTTL
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	maxPixels := opts.MaxImagePixels
	if maxPixels <= 0 {
		maxPixels = 1920 * 1080
	}
	return &Router{
		client:    client,
		retries:   retries,
		retryBase: time.Second,
		ttl:       ttl,
		keepAlive: opts.KeepAlive,
		maxPixels: maxPixels,
		table:     table,
		fallback:  opts.Fallback,
	}
}

// Defaults returns the current class table plus the fallback.
func (r *Router) Defaults() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.table)+1)
	for class, name := range r.table {
		out[class] = name
	}
	out["fallback"] = r.fallback
	return out
}

// SetDefault overrides the model for one task class. The override lives
// for the process lifetime only.
func (r *Router) SetDefault(class, model string) error {
	if !ValidClass(class) {
		return fault.Invalid("unknown task class %q", class)
	}
	if strings.TrimSpace(model) == "" {
		return fault.Invalid("model name must not be empty")
	}
	r.mu.Lock()
	r.table[class] = model
	r.mu.Unlock()
	common.Logger.WithFields(logrus.Fields{"class": class, "model": model}).Info("Model default overridden")
	return nil
}

// Route picks a model for class and runs prompt through it. Embedding
// class requests return the vector JSON-encoded in Response.
func (r *Router) Route(ctx context.Context, class, prompt string, opts RouteOptions) (*Result, error) {
	if !ValidClass(class) {
		return nil, fault.Invalid("unknown task class %q", class)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fault.Invalid("prompt must not be empty")
	}

	if class == ClassEmbedding {
		embedding, err := r.Embed(ctx, prompt, opts.Model)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(embedding.Vector)
		if err != nil {
			return nil, fault.Unexpected(err, "cannot encode embedding")
		}
		return &Result{
			Model:      embedding.Model,
			Response:   string(encoded),
			DurationMS: embedding.DurationMS,
			Downgraded: embedding.Downgraded,
		}, nil
	}

	model, downgraded := r.resolveModel(ctx, class, opts.Model)
	req := GenerateRequest{
		Model:     model,
		Prompt:    prompt,
		Options:   opts.Options,
		KeepAlive: r.effectiveKeepAlive(opts),
	}

	start := time.Now()
	var resp *GenerateResponse
	err := r.withRetry(ctx, model, func(ctx context.Context) error {
		var callErr error
		resp, callErr = r.client.Generate(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Model:           model,
		Response:        resp.Response,
		DurationMS:      time.Since(start).Milliseconds(),
		PromptEvalCount: resp.PromptEvalCount,
		EvalCount:       resp.EvalCount,
		Downgraded:      downgraded,
	}, nil
}

// Chat runs a multi-turn conversation through the chat class model.
func (r *Router) Chat(ctx context.Context, messages []ChatMessage, override string, opts RouteOptions) (*Result, error) {
	if len(messages) == 0 {
		return nil, fault.Invalid("messages must not be empty")
	}
	for i, msg := range messages {
		switch msg.Role {
		case "system", "user", "assistant", "tool":
		default:
			return nil, fault.Invalid("message %d has unknown role %q", i, msg.Role)
		}
	}
	if override == "" {
		override = opts.Model
	}

	model, downgraded := r.resolveModel(ctx, ClassChat, override)
	req := ChatRequest{
		Model:     model,
		Messages:  messages,
		Options:   opts.Options,
		KeepAlive: r.effectiveKeepAlive(opts),
	}

	start := time.Now()
	var resp *ChatResponse
	err := r.withRetry(ctx, model, func(ctx context.Context) error {
		var callErr error
		resp, callErr = r.client.Chat(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Model:           model,
		Response:        resp.Message.Content,
		DurationMS:      time.Since(start).Milliseconds(),
		PromptEvalCount: resp.PromptEvalCount,
		EvalCount:       resp.EvalCount,
		Downgraded:      downgraded,
	}, nil
}

// Embed computes the embedding for text through the embedding class model.
func (r *Router) Embed(ctx context.Context, text, override string) (*Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fault.Invalid("text must not be empty")
	}

	model, downgraded := r.resolveModel(ctx, ClassEmbedding, override)
	start := time.Now()
	var vector []float64
	err := r.withRetry(ctx, model, func(ctx context.Context) error {
		var callErr error
		vector, callErr = r.client.Embeddings(ctx, model, text)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return &Embedding{
		Model:      model,
		Vector:     vector,
		Dimensions: len(vector),
		DurationMS: time.Since(start).Milliseconds(),
		Downgraded: downgraded,
	}, nil
}

// EmbedBatch embeds each text in order with the same model selection.
func (r *Router) EmbedBatch(ctx context.Context, texts []string, override string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, fault.Invalid("texts must not be empty")
	}
	out := make([]Embedding, 0, len(texts))
	for i, text := range texts {
		embedding, err := r.Embed(ctx, text, override)
		if err != nil {
			return nil, fault.Wrap(fault.KindOf(err), err, "embedding %d of %d failed", i+1, len(texts))
		}
		out = append(out, *embedding)
	}
	return out, nil
}

// Vision answers prompt about one image through the vision class model.
// image accepts raw base64 or a data: URI; oversized images are
// orientation-normalized and downscaled first.
func (r *Router) Vision(ctx context.Context, image, prompt, override string) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fault.Invalid("prompt must not be empty")
	}
	data, err := DecodeImageInput(image)
	if err != nil {
		return nil, err
	}
	prepared, err := PrepareImage(data, r.maxPixels)
	if err != nil {
		return nil, err
	}

	model, downgraded := r.resolveModel(ctx, ClassVision, override)
	req := GenerateRequest{
		Model:     model,
		Prompt:    prompt,
		Images:    []string{prepared},
		KeepAlive: r.keepAlive,
	}

	start := time.Now()
	var resp *GenerateResponse
	err = r.withRetry(ctx, model, func(ctx context.Context) error {
		var callErr error
		resp, callErr = r.client.Generate(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Model:           model,
		Response:        resp.Response,
		DurationMS:      time.Since(start).Milliseconds(),
		PromptEvalCount: resp.PromptEvalCount,
		EvalCount:       resp.EvalCount,
		Downgraded:      downgraded,
	}, nil
}

// List returns the runtime inventory, refreshing the cache when stale or
// when forced.
func (r *Router) List(ctx context.Context, forceRefresh bool) ([]ModelEntry, error) {
	return r.inventorySnapshot(ctx, forceRefresh)
}

// Info returns runtime metadata for one model.
func (r *Router) Info(ctx context.Context, model string) (*ShowResponse, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fault.Invalid("model name must not be empty")
	}
	return r.client.Show(ctx, model)
}

// Pull downloads model into the runtime and refreshes the inventory.
// Pulling an installed model is a cheap no-op on the runtime side.
func (r *Router) Pull(ctx context.Context, model string) error {
	if strings.TrimSpace(model) == "" {
		return fault.Invalid("model name must not be empty")
	}
	if err := r.client.Pull(ctx, model); err != nil {
		return err
	}
	if _, err := r.inventorySnapshot(ctx, true); err != nil {
		common.Logger.WithFields(logrus.Fields{"model": model}).Warn("Inventory refresh after pull failed")
	}
	return nil
}

// resolveModel applies the selection chain override, class table, fallback,
// then swaps in the fallback when the pick is absent from the inventory.
// An unreachable inventory never blocks the call; the invoke reports the
// real error.
func (r *Router) resolveModel(ctx context.Context, class, override string) (string, bool) {
	r.mu.Lock()
	selected := override
	if selected == "" {
		selected = r.table[class]
	}
	fallback := r.fallback
	r.mu.Unlock()
	if selected == "" {
		selected = fallback
	}

	entries, err := r.inventorySnapshot(ctx, false)
	if err != nil {
		common.Logger.WithFields(logrus.Fields{"class": class, "model": selected}).
			Warn("Model inventory unavailable, skipping availability check")
		return selected, false
	}
	if modelInstalled(entries, selected) {
		return selected, false
	}
	if selected != fallback && fallback != "" && modelInstalled(entries, fallback) {
		common.Logger.WithFields(logrus.Fields{
			"class":    class,
			"model":    selected,
			"fallback": fallback,
		}).Warn("Model unavailable, downgrading to fallback")
		return fallback, true
	}
	return selected, false
}

func modelInstalled(entries []ModelEntry, name string) bool {
	if name == "" {
		return false
	}
	for _, entry := range entries {
		if entry.Name == name || entry.Model == name {
			return true
		}
		// An untagged name matches any tag of the same model.
		if !strings.Contains(name, ":") && strings.HasPrefix(entry.Name, name+":") {
			return true
		}
	}
	return false
}

// inventorySnapshot returns a copy of the cached inventory, refreshing it
// first when forced, stale, or never fetched. The mutex also serializes
// concurrent refreshes.
func (r *Router) inventorySnapshot(ctx context.Context, force bool) ([]ModelEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := r.inventory == nil || time.Since(r.fetchedAt) >= r.ttl
	if force || stale {
		entries, err := r.client.Tags(ctx)
		if err != nil {
			return nil, err
		}
		r.inventory = entries
		r.fetchedAt = time.Now()
	}

	out := make([]ModelEntry, len(r.inventory))
	copy(out, r.inventory)
	return out, nil
}

func (r *Router) effectiveKeepAlive(opts RouteOptions) string {
	if opts.KeepAlive != "" {
		return opts.KeepAlive
	}
	return r.keepAlive
}

// withRetry runs fn up to the configured attempt count, waiting 2^k
// seconds between attempts. Only retryable kinds (timeouts, unreachable
// backend) are retried.
func (r *Router) withRetry(ctx context.Context, model string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.retries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !fault.Retryable(err) {
			return err
		}
		if attempt == r.retries-1 {
			break
		}

		delay := r.retryBase << uint(attempt)
		common.Logger.WithFields(logrus.Fields{
			"model":   model,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warn("Model call failed, retrying")

		select {
		case <-ctx.Done():
			return fault.Expired(ctx.Err(), "model call aborted during retry wait")
		case <-time.After(delay):
		}
	}
	return lastErr
}
