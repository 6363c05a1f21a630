package mcp

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hivehub.dev/fault"
)

// DispatchStatus is the state of one tracked tool call.
type DispatchStatus string

const (
	DispatchRunning   DispatchStatus = "running"
	DispatchSucceeded DispatchStatus = "succeeded"
	DispatchFailed    DispatchStatus = "failed"
)

// Dispatch is one tracked tool call.
type Dispatch struct {
	ID          string         `json:"id"`
	Server      string         `json:"server"`
	Tool        string         `json:"tool"`
	Status      DispatchStatus `json:"status"`
	Kind        string         `json:"kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Duration    string         `json:"duration,omitempty"`
}

// DispatchStats aggregates the tracked window plus lifetime counters.
type DispatchStats struct {
	Recorded        int                    `json:"recorded"`
	TotalCalls      int64                  `json:"total_calls"`
	FailedCalls     int64                  `json:"failed_calls"`
	ByStatus        map[DispatchStatus]int `json:"by_status"`
	ByServer        map[string]int64       `json:"by_server"`
	ByTool          map[string]int64       `json:"by_tool"`
	AverageDuration string                 `json:"average_duration,omitempty"`
}

// Tracker keeps a bounded window of recent dispatches plus lifetime
// counters that survive eviction.
type Tracker struct {
	mu      sync.RWMutex
	max     int
	entries map[string]*Dispatch

	totalCalls  int64
	failedCalls int64
	byServer    map[string]int64
	byTool      map[string]int64
}

// NewTracker creates a tracker keeping the last max dispatches; max <= 0
// takes the default of 1000.
func NewTracker(max int) *Tracker {
	if max <= 0 {
		max = 1000
	}
	return &Tracker{
		max:      max,
		entries:  map[string]*Dispatch{},
		byServer: map[string]int64{},
		byTool:   map[string]int64{},
	}
}

// Begin records a dispatch in running state and returns its id.
func (t *Tracker) Begin(server, tool string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= t.max {
		t.evictOldest()
	}

	id := uuid.New().String()
	t.entries[id] = &Dispatch{
		ID:        id,
		Server:    server,
		Tool:      tool,
		Status:    DispatchRunning,
		StartedAt: time.Now(),
	}
	t.totalCalls++
	t.byServer[server]++
	t.byTool[tool]++
	return id
}

// End closes a dispatch, recording failure kind and message when err is
// not nil.
func (t *Tracker) End(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return
	}

	now := time.Now()
	entry.CompletedAt = &now
	entry.Duration = now.Sub(entry.StartedAt).String()
	if err != nil {
		entry.Status = DispatchFailed
		entry.Kind = string(fault.KindOf(err))
		entry.Error = err.Error()
		t.failedCalls++
		return
	}
	entry.Status = DispatchSucceeded
}

// Get retrieves a dispatch copy by id.
func (t *Tracker) Get(id string) *Dispatch {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if entry, ok := t.entries[id]; ok {
		copied := *entry
		return &copied
	}
	return nil
}

// Recent returns up to limit tracked dispatches, newest first.
func (t *Tracker) Recent(limit int) []*Dispatch {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Dispatch, 0, len(t.entries))
	for _, entry := range t.entries {
		copied := *entry
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats aggregates the tracked window and the lifetime counters.
func (t *Tracker) Stats() *DispatchStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := &DispatchStats{
		Recorded:    len(t.entries),
		TotalCalls:  t.totalCalls,
		FailedCalls: t.failedCalls,
		ByStatus:    map[DispatchStatus]int{},
		ByServer:    map[string]int64{},
		ByTool:      map[string]int64{},
	}
	for server, n := range t.byServer {
		stats.ByServer[server] = n
	}
	for tool, n := range t.byTool {
		stats.ByTool[tool] = n
	}

	var totalDuration time.Duration
	var completed int
	for _, entry := range t.entries {
		stats.ByStatus[entry.Status]++
		if entry.CompletedAt != nil {
			totalDuration += entry.CompletedAt.Sub(entry.StartedAt)
			completed++
		}
	}
	if completed > 0 {
		stats.AverageDuration = (totalDuration / time.Duration(completed)).String()
	}
	return stats
}

// evictOldest removes the oldest finished dispatch, falling back to the
// oldest overall when everything is still running. Caller holds the lock.
func (t *Tracker) evictOldest() {
	var oldestID, oldestDoneID string
	var oldestAt, oldestDoneAt time.Time

	for id, entry := range t.entries {
		if oldestID == "" || entry.StartedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = entry.StartedAt
		}
		if entry.Status != DispatchRunning {
			if oldestDoneID == "" || entry.StartedAt.Before(oldestDoneAt) {
				oldestDoneID = id
				oldestDoneAt = entry.StartedAt
			}
		}
	}

	if oldestDoneID != "" {
		delete(t.entries, oldestDoneID)
		return
	}
	if oldestID != "" {
		delete(t.entries, oldestID)
	}
}
