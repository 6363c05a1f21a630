package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivehub.dev/fault"
	"hivehub.dev/mcp"
	"hivehub.dev/worker"
)

func newServer(t *testing.T, name string, tools ...string) *mcp.Server {
	t.Helper()
	srv := mcp.NewServer(name, name+" server")
	for _, tool := range tools {
		require.NoError(t, srv.Register(mcp.Tool{Name: tool}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "ok", nil
		}))
	}
	return srv
}

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	info := reg.Register(newServer(t, "graph-memory", "create_entity", "get_entity"), nil)

	assert.Equal(t, "graph-memory", info.Name)
	assert.Equal(t, []string{"create_entity", "get_entity"}, info.Tools)
	assert.Equal(t, StatusHealthy, info.Status, "no health func means always healthy")
	assert.NotEmpty(t, info.RegisteredAt)

	srv, ok := reg.Server("graph-memory")
	require.True(t, ok)
	assert.Equal(t, "graph-memory", srv.Name())

	_, ok = reg.Server("nope")
	assert.False(t, ok)
}

func TestRegisterIdempotent(t *testing.T) {
	reg := NewRegistry()
	first := reg.Register(newServer(t, "tasks", "create_task"), nil)
	second := reg.Register(newServer(t, "tasks", "create_task", "delete_task"), nil)

	assert.Equal(t, first.RegisteredAt, second.RegisteredAt)
	assert.Equal(t, first.Tools, second.Tools, "existing registration wins")
	assert.Len(t, reg.Servers(), 1)
}

func TestUnregister(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newServer(t, "tasks", "create_task"), nil)

	assert.True(t, reg.Unregister("tasks"))
	assert.False(t, reg.Unregister("tasks"))
	assert.Empty(t, reg.Servers())

	_, err := reg.Entry("tasks")
	require.Error(t, err)
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestRouteToolRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newServer(t, "first", "shared_tool", "only_first"), nil)
	reg.Register(newServer(t, "second", "shared_tool", "only_second"), nil)

	srv, ok := reg.RouteTool("shared_tool")
	require.True(t, ok)
	assert.Equal(t, "first", srv.Name(), "first registered provider wins")

	srv, ok = reg.RouteTool("only_second")
	require.True(t, ok)
	assert.Equal(t, "second", srv.Name())

	_, ok = reg.RouteTool("nobody")
	assert.False(t, ok)
}

func TestHealthProbe(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newServer(t, "healthy", "a"), func(ctx context.Context) error { return nil })
	reg.Register(newServer(t, "broken", "b"), func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	reg.Register(newServer(t, "probeless", "c"), nil)

	results := reg.HealthProbe(context.Background())
	assert.Equal(t, StatusHealthy, results["healthy"])
	assert.Equal(t, StatusDegraded, results["broken"])
	assert.Equal(t, StatusHealthy, results["probeless"])
	assert.False(t, reg.Healthy())

	entry, err := reg.Entry("broken")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, entry.Status)
	assert.Equal(t, "connection refused", entry.Reason)
	assert.NotEmpty(t, entry.LastChecked)
}

func TestRestoreKeepsRegisteredAt(t *testing.T) {
	reg := NewRegistry()
	reg.Restore([]Entry{{Name: "graph-memory", RegisteredAt: "2026-01-01T00:00:00.000Z"}})

	info := reg.Register(newServer(t, "graph-memory", "create_entity"), nil)
	assert.Equal(t, "2026-01-01T00:00:00.000Z", info.RegisteredAt)
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discovery.db")
	store, err := OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	entries := []Entry{
		{Name: "graph-memory", Tools: []string{"create_entity"}, Status: StatusHealthy, RegisteredAt: "2026-01-01T00:00:00.000Z"},
		{Name: "notebook", Tools: []string{"write_note"}, Status: StatusDegraded, RegisteredAt: "2026-01-02T00:00:00.000Z"},
	}
	require.NoError(t, store.Save(entries))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byName := map[string]Entry{}
	for _, entry := range loaded {
		byName[entry.Name] = entry
	}
	assert.Equal(t, []string{"create_entity"}, byName["graph-memory"].Tools)
	assert.Equal(t, StatusDegraded, byName["notebook"].Status)

	// Saving a smaller set drops stale entries.
	require.NoError(t, store.Save(entries[:1]))
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestWatchProbesOnWorkerPool(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newServer(t, "flaky", "x"), func(ctx context.Context) error {
		return errors.New("backend down")
	})

	pool := worker.NewPool(worker.NewMemoryQueue(8), 1, time.Second)
	pool.Start()
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Watch(ctx, pool, nil, 20*time.Millisecond, time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entry, err := reg.Entry("flaky")
		require.NoError(t, err)
		if entry.Status == StatusDegraded {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("probe sweep never marked the backend degraded")
}
