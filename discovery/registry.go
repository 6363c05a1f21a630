// Package discovery keeps the live catalog of sub-servers: registration,
// tool routing, health probing and the bbolt snapshot that survives
// restarts.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/fault"
	"hivehub.dev/mcp"
	"hivehub.dev/worker"
)

// Probe statuses reported on entries.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusUnknown  = "unknown"
)

// HealthFunc probes the backend behind a sub-server.
type HealthFunc func(ctx context.Context) error

// Entry is the published view of one registered sub-server.
type Entry struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Endpoint     string   `json:"endpoint,omitempty"`
	Tools        []string `json:"tools"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
	Reason       string   `json:"reason,omitempty"`
	RegisteredAt string   `json:"registered_at"`
	LastChecked  string   `json:"last_checked,omitempty"`
}

type registration struct {
	server *mcp.Server
	health HealthFunc
	info   Entry
}

// Registry maps sub-server names to their registrations. It implements
// the dispatcher's server source; RouteTool resolves in registration
// order so the first provider of a tool wins.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*registration

	restored map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  map[string]*registration{},
		restored: map[string]Entry{},
	}
}

// Restore seeds registration metadata from a snapshot so re-registered
// servers keep their original registered_at across restarts.
func (r *Registry) Restore(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range entries {
		r.restored[entry.Name] = entry
	}
}

// Register adds a sub-server. Registering the same name again is
// idempotent: the existing entry is kept and a warning logged. health
// may be nil for servers without a probeable backend.
func (r *Registry) Register(srv *mcp.Server, health HealthFunc) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := srv.Name()
	if existing, ok := r.entries[name]; ok {
		common.Logger.WithFields(logrus.Fields{"server": name}).Warn("Server already registered, keeping existing entry")
		return existing.info
	}

	info := Entry{
		Name:         name,
		Description:  srv.Description(),
		Tools:        srv.ToolNames(),
		Capabilities: srv.Capabilities(),
		Status:       StatusUnknown,
		RegisteredAt: common.NowISO(),
	}
	if snap, ok := r.restored[name]; ok && snap.RegisteredAt != "" {
		info.RegisteredAt = snap.RegisteredAt
	}
	if health == nil {
		info.Status = StatusHealthy
	}

	r.entries[name] = &registration{server: srv, health: health, info: info}
	r.order = append(r.order, name)

	common.Logger.WithFields(logrus.Fields{
		"server": name,
		"tools":  len(info.Tools),
	}).Info("Server registered")
	return info
}

// Unregister removes a sub-server, reporting whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	common.Logger.WithFields(logrus.Fields{"server": name}).Info("Server unregistered")
	return true
}

// Server returns the sub-server registered under name.
func (r *Registry) Server(name string) (*mcp.Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return reg.server, true
}

// RouteTool returns the first registered sub-server providing tool.
func (r *Registry) RouteTool(tool string) (*mcp.Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if r.entries[name].server.Has(tool) {
			return r.entries[name].server, true
		}
	}
	return nil, false
}

// Servers lists all sub-servers in registration order.
func (r *Registry) Servers() []*mcp.Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*mcp.Server, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].server)
	}
	return out
}

// Entry returns the published view of one registration.
func (r *Registry) Entry(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	if !ok {
		return Entry{}, fault.Missing("server %s not registered", name)
	}
	return copyEntry(reg.info), nil
}

// Entries returns the published view of all registrations in
// registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, copyEntry(r.entries[name].info))
	}
	return out
}

// HealthProbe runs every registered health func and updates statuses.
// It returns the status per server.
func (r *Registry) HealthProbe(ctx context.Context) map[string]string {
	r.mu.RLock()
	probes := make(map[string]HealthFunc, len(r.entries))
	for name, reg := range r.entries {
		probes[name] = reg.health
	}
	r.mu.RUnlock()

	results := map[string]string{}
	reasons := map[string]string{}
	for name, probe := range probes {
		if probe == nil {
			results[name] = StatusHealthy
			continue
		}
		if err := probe(ctx); err != nil {
			results[name] = StatusDegraded
			reasons[name] = err.Error()
			common.Logger.WithFields(logrus.Fields{
				"server": name,
				"error":  err.Error(),
			}).Warn("Server backend probe failed")
			continue
		}
		results[name] = StatusHealthy
	}

	now := common.NowISO()
	r.mu.Lock()
	for name, status := range results {
		if reg, ok := r.entries[name]; ok {
			reg.info.Status = status
			reg.info.Reason = reasons[name]
			reg.info.LastChecked = now
		}
	}
	r.mu.Unlock()
	return results
}

// Healthy reports whether every registered backend passed its last probe.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.entries {
		if reg.info.Status == StatusDegraded {
			return false
		}
	}
	return true
}

// Watch probes all backends every interval until ctx is cancelled. The
// sweep itself runs on the worker pool so a hanging backend never stalls
// the ticker; store, when not nil, receives a snapshot after each sweep.
func (r *Registry) Watch(ctx context.Context, pool *worker.Pool, store *Store, interval, probeTimeout time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job := worker.Func{
				Name: "discovery-probe",
				Max:  probeTimeout,
				Fn: func(jobCtx context.Context) error {
					r.HealthProbe(jobCtx)
					if store != nil {
						return store.Save(r.Entries())
					}
					return nil
				},
			}
			if err := pool.Submit(job); err != nil {
				common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("Probe sweep skipped")
			}
		}
	}
}

func copyEntry(entry Entry) Entry {
	copied := entry
	copied.Tools = append([]string(nil), entry.Tools...)
	copied.Capabilities = append([]string(nil), entry.Capabilities...)
	return copied
}
