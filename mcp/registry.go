package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"hivehub.dev/fault"
)

type toolEntry struct {
	tool     Tool
	compiled *jsonschema.Schema
	handler  Handler
}

type resourceSet struct {
	prefix string
	list   ResourceLister
	read   ResourceReader
}

// Registry holds one sub-server's tools and resources. Tools list in
// registration order; input schemas compile at registration and validate
// every call before its handler runs.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	tools     map[string]*toolEntry
	resources []resourceSet
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]*toolEntry{}}
}

// Register adds a tool. The input schema is compiled here so malformed
// schemas fail fast.
func (r *Registry) Register(tool Tool, handler Handler) error {
	if strings.TrimSpace(tool.Name) == "" {
		return fault.Invalid("tool name must not be empty")
	}
	if handler == nil {
		return fault.Invalid("tool %s has no handler", tool.Name)
	}

	var compiled *jsonschema.Schema
	if tool.InputSchema != nil {
		// Round-trip the schema document so literals built from typed Go
		// values reach the compiler as canonical JSON types.
		doc, err := normalizeArgs(tool.InputSchema)
		if err != nil {
			return fault.Invalid("tool %s: invalid input schema: %v", tool.Name, err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("tool.json", doc); err != nil {
			return fault.Invalid("tool %s: invalid input schema: %v", tool.Name, err)
		}
		schema, err := compiler.Compile("tool.json")
		if err != nil {
			return fault.Invalid("tool %s: invalid input schema: %v", tool.Name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fault.Duplicated("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = &toolEntry{tool: tool, compiled: compiled, handler: handler}
	r.order = append(r.order, tool.Name)
	return nil
}

// MustRegister is Register for construction-time wiring; registration
// failures there are programming errors.
func (r *Registry) MustRegister(tool Tool, handler Handler) {
	if err := r.Register(tool, handler); err != nil {
		panic(err)
	}
}

// RegisterResources adds a resource family addressed by a URI prefix.
func (r *Registry) RegisterResources(prefix string, list ResourceLister, read ResourceReader) error {
	if strings.TrimSpace(prefix) == "" {
		return fault.Invalid("resource prefix must not be empty")
	}
	if list == nil || read == nil {
		return fault.Invalid("resource family %s needs a lister and a reader", prefix)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range r.resources {
		if set.prefix == prefix {
			return fault.Duplicated("resource family %s already registered", prefix)
		}
	}
	r.resources = append(r.resources, resourceSet{prefix: prefix, list: list, read: read})
	return nil
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool)
	}
	return out
}

// Has reports whether the registry owns the named tool.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Call runs the named tool and wraps the outcome in the uniform envelope.
// The returned error mirrors the envelope's failure for callers that need
// the taxonomy kind; the envelope itself is always usable.
func (r *Registry) Call(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult("tool not found"), fault.Missing("tool %s not found", name)
	}

	normalized, err := normalizeArgs(args)
	if err != nil {
		ferr := fault.Invalid("invalid arguments for %s: %v", name, err)
		return errorEnvelope(name, ferr), ferr
	}

	if entry.compiled != nil {
		if err := entry.compiled.Validate(normalized); err != nil {
			ferr := fault.Invalid("invalid arguments for %s: %v", name, err)
			return errorEnvelope(name, ferr), ferr
		}
	}

	result, err := invoke(ctx, name, entry.handler, normalized)
	if err != nil {
		return errorEnvelope(name, err), err
	}

	text, err := stringify(result)
	if err != nil {
		return errorEnvelope(name, err), err
	}
	return TextResult(text), nil
}

// invoke runs the handler, converting panics into Internal errors so a
// faulty tool never takes the process down.
func invoke(ctx context.Context, name string, handler Handler, args map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fault.New(fault.Internal, "tool %s panicked: %v", name, p)
		}
	}()
	return handler(ctx, args)
}

// normalizeArgs round-trips args through JSON so validation and handlers
// see canonical types regardless of how the map was built.
func normalizeArgs(args map[string]interface{}) (map[string]interface{}, error) {
	if args == nil {
		return map[string]interface{}{}, nil
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	normalized := map[string]interface{}{}
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// ListResources enumerates all resource families in registration order.
func (r *Registry) ListResources(ctx context.Context) ([]Resource, error) {
	r.mu.RLock()
	sets := make([]resourceSet, len(r.resources))
	copy(sets, r.resources)
	r.mu.RUnlock()

	out := []Resource{}
	for _, set := range sets {
		resources, err := set.list(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resources...)
	}
	return out, nil
}

// CanRead reports whether some resource family covers the URI.
func (r *Registry) CanRead(uri string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, set := range r.resources {
		if strings.HasPrefix(uri, set.prefix) {
			return true
		}
	}
	return false
}

// ReadResource resolves the URI through its resource family.
func (r *Registry) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	r.mu.RLock()
	var reader ResourceReader
	for _, set := range r.resources {
		if strings.HasPrefix(uri, set.prefix) {
			reader = set.read
			break
		}
	}
	r.mu.RUnlock()

	if reader == nil {
		return nil, fault.Missing("resource %s not found", uri)
	}
	return reader(ctx, uri)
}
