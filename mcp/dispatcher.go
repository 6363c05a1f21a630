package mcp

import (
	"context"
	"strings"
	"sync"
	"time"

	"hivehub.dev/common"
	"hivehub.dev/fault"
	"hivehub.dev/sinks"
)

// ServerSource resolves sub-servers for dispatch. The discovery registry
// implements it.
type ServerSource interface {
	// Server returns the sub-server registered under name.
	Server(name string) (*Server, bool)

	// RouteTool returns the first registered sub-server providing tool.
	RouteTool(tool string) (*Server, bool)

	// Servers lists all sub-servers in registration order.
	Servers() []*Server
}

// Guard vets tool calls before they run and observes completed ones.
// A nil guard admits everything.
type Guard interface {
	// Before may reject the call; governance failures carry the
	// GovernanceBlocked or GovernanceInvalidFormat kind.
	Before(ctx context.Context, server, tool string, args map[string]interface{}) error

	// After observes a call that actually ran.
	After(ctx context.Context, server, tool string, result *CallResult, callErr error)
}

// Dispatcher multiplexes transport requests onto sub-servers, wrapping
// every call with governance, tracking and sink fanout.
type Dispatcher struct {
	source  ServerSource
	guard   Guard
	sink    sinks.Sink
	tracker *Tracker

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// NewDispatcher wires the dispatcher. guard, sink and tracker may each be
// nil to disable that layer.
func NewDispatcher(source ServerSource, guard Guard, sink sinks.Sink, tracker *Tracker) *Dispatcher {
	return &Dispatcher{
		source:  source,
		guard:   guard,
		sink:    sink,
		tracker: tracker,
	}
}

// ToolsList returns the tools of one server, or of every server when
// name is empty.
func (d *Dispatcher) ToolsList(ctx context.Context, server string) ([]Tool, error) {
	if server != "" {
		srv, ok := d.source.Server(server)
		if !ok {
			return nil, fault.Missing("server %s not registered", server)
		}
		return srv.List(), nil
	}

	out := []Tool{}
	for _, srv := range d.source.Servers() {
		out = append(out, srv.List()...)
	}
	return out, nil
}

// ToolsCall routes one tool call. An explicit server name pins the
// target; an empty name routes by tool in registration order. The
// envelope is always usable; the error mirrors its failure for callers
// that need the taxonomy kind.
func (d *Dispatcher) ToolsCall(ctx context.Context, server, tool string, args map[string]interface{}) (*CallResult, error) {
	if strings.TrimSpace(tool) == "" {
		err := fault.Invalid("tool name must not be empty")
		return errorEnvelope(tool, err), err
	}

	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		err := fault.New(fault.BackendUnavailable, "hub is shutting down")
		return errorEnvelope(tool, err), err
	}
	d.inflight.Add(1)
	d.mu.Unlock()
	defer d.inflight.Done()

	srv, err := d.resolve(server, tool)
	if err != nil {
		return errorEnvelope(tool, err), err
	}

	start := time.Now()
	var trackID string
	if d.tracker != nil {
		trackID = d.tracker.Begin(srv.Name(), tool)
	}

	result, callErr := d.invokeGuarded(ctx, srv, tool, args)

	if d.tracker != nil {
		d.tracker.End(trackID, callErr)
	}
	d.emit(srv.Name(), tool, callErr, time.Since(start))
	return result, callErr
}

// ResourcesList returns the resources of one server, or of every server
// when name is empty.
func (d *Dispatcher) ResourcesList(ctx context.Context, server string) ([]Resource, error) {
	if server != "" {
		srv, ok := d.source.Server(server)
		if !ok {
			return nil, fault.Missing("server %s not registered", server)
		}
		return srv.ListResources(ctx)
	}

	out := []Resource{}
	for _, srv := range d.source.Servers() {
		resources, err := srv.ListResources(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resources...)
	}
	return out, nil
}

// ResourcesRead resolves one resource URI, searching all servers when no
// server name is given.
func (d *Dispatcher) ResourcesRead(ctx context.Context, server, uri string) (*ResourceContent, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fault.Invalid("resource uri must not be empty")
	}

	if server != "" {
		srv, ok := d.source.Server(server)
		if !ok {
			return nil, fault.Missing("server %s not registered", server)
		}
		return srv.ReadResource(ctx, uri)
	}

	for _, srv := range d.source.Servers() {
		if srv.CanRead(uri) {
			return srv.ReadResource(ctx, uri)
		}
	}
	return nil, fault.Missing("resource %s not found", uri)
}

// Stats reports dispatch counters for the state surface.
func (d *Dispatcher) Stats() *DispatchStats {
	if d.tracker == nil {
		return &DispatchStats{}
	}
	return d.tracker.Stats()
}

// Recent returns up to limit recent dispatches, newest first.
func (d *Dispatcher) Recent(limit int) []*Dispatch {
	if d.tracker == nil {
		return nil
	}
	return d.tracker.Recent(limit)
}

// Drain refuses new calls and waits up to timeout for in-flight ones.
// It reports whether the hub drained cleanly.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		common.Logger.Warn("Dispatch drain timed out with calls still in flight")
		return false
	}
}

func (d *Dispatcher) resolve(server, tool string) (*Server, error) {
	if server != "" {
		srv, ok := d.source.Server(server)
		if !ok {
			return nil, fault.Missing("server %s not registered", server)
		}
		return srv, nil
	}

	srv, ok := d.source.RouteTool(tool)
	if !ok {
		return nil, fault.Missing("no server provides tool %s", tool)
	}
	return srv, nil
}

// invokeGuarded runs Before, the tool, then After. After fires only for
// calls that actually ran; a blocked call never reaches the tool.
func (d *Dispatcher) invokeGuarded(ctx context.Context, srv *Server, tool string, args map[string]interface{}) (*CallResult, error) {
	if d.guard != nil {
		if err := d.guard.Before(ctx, srv.Name(), tool, args); err != nil {
			return errorEnvelope(tool, err), err
		}
	}

	result, err := srv.Call(ctx, tool, args)
	if d.guard != nil {
		d.guard.After(ctx, srv.Name(), tool, result, err)
	}
	return result, err
}

func (d *Dispatcher) emit(server, tool string, callErr error, elapsed time.Duration) {
	if d.sink == nil {
		return
	}

	event := sinks.Event{
		Time:       common.NowISO(),
		Server:     server,
		Tool:       tool,
		Outcome:    sinks.OutcomeSuccess,
		DurationMS: elapsed.Milliseconds(),
	}
	if callErr != nil {
		event.Outcome = sinks.OutcomeError
		event.Kind = string(fault.KindOf(callErr))
	}
	d.sink.Emit(event)
}
