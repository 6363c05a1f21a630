package tasks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivehub.dev/common"
	"hivehub.dev/fault"
	"hivehub.dev/graph"
)

// memStore is an in-memory stand-in for the graph stores with DETACH
// DELETE semantics: deleting a node removes every touching edge.
type memStore struct {
	mu    sync.Mutex
	nodes map[string]map[string]interface{}
	edges []memEdge
}

type memEdge struct {
	fromLabel, fromID string
	relType           string
	toLabel, toID     string
	props             map[string]interface{}
}

func newMemStore() *memStore {
	return &memStore{nodes: map[string]map[string]interface{}{}}
}

func nodeKey(label, id string) string { return label + "/" + id }

func copyProps(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func (m *memStore) Create(ctx context.Context, label string, props map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, _ := props["id"].(string)
	if id == "" {
		return nil, fault.Invalid("props.id must be a non-empty string")
	}
	key := nodeKey(label, id)
	if _, exists := m.nodes[key]; exists {
		return nil, fault.Duplicated("entity %s/%s already exists", label, id)
	}
	m.nodes[key] = copyProps(props)
	return copyProps(props), nil
}

func (m *memStore) Get(ctx context.Context, label, id string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	props, ok := m.nodes[nodeKey(label, id)]
	if !ok {
		return nil, fault.Missing("entity %s/%s not found", label, id)
	}
	return copyProps(props), nil
}

func (m *memStore) Find(ctx context.Context, label string, match map[string]interface{}, limit int, newestFirst bool) ([]map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 25
	}
	prefix := label + "/"
	out := []map[string]interface{}{}
	for key, props := range m.nodes {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		matched := true
		for mk, mv := range match {
			if props[mk] != mv {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, copyProps(props))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return common.AsString(out[i]["created_at"]) > common.AsString(out[j]["created_at"])
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Update(ctx context.Context, label, id string, props map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.nodes[nodeKey(label, id)]
	if !ok {
		return nil, fault.Missing("entity %s/%s not found", label, id)
	}
	for k, v := range props {
		if k == "id" || k == "created_at" {
			continue
		}
		stored[k] = v
	}
	stored["updated_at"] = common.NowISO()
	return copyProps(stored), nil
}

func (m *memStore) Delete(ctx context.Context, label, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nodeKey(label, id)
	if _, ok := m.nodes[key]; !ok {
		return false, nil
	}
	delete(m.nodes, key)

	kept := m.edges[:0]
	for _, edge := range m.edges {
		if (edge.fromLabel == label && edge.fromID == id) || (edge.toLabel == label && edge.toID == id) {
			continue
		}
		kept = append(kept, edge)
	}
	m.edges = kept
	return true, nil
}

func (m *memStore) CreateRel(ctx context.Context, from graph.Ref, relType string, to graph.Ref, props map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[nodeKey(from.Label, from.ID)]; !ok {
		return nil, fault.Missing("endpoints %s and %s must both exist", from, to)
	}
	if _, ok := m.nodes[nodeKey(to.Label, to.ID)]; !ok {
		return nil, fault.Missing("endpoints %s and %s must both exist", from, to)
	}
	m.edges = append(m.edges, memEdge{
		fromLabel: from.Label, fromID: from.ID,
		relType: relType,
		toLabel: to.Label, toID: to.ID,
		props: copyProps(props),
	})
	return copyProps(props), nil
}

func (m *memStore) GetFor(ctx context.Context, label, id, direction, relType string) ([]graph.Related, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []graph.Related{}
	for _, edge := range m.edges {
		if relType != "" && edge.relType != relType {
			continue
		}
		if (direction == "out" || direction == "both") && edge.fromLabel == label && edge.fromID == id {
			out = append(out, graph.Related{
				Type:        edge.relType,
				Direction:   "out",
				Props:       copyProps(edge.props),
				Other:       copyProps(m.nodes[nodeKey(edge.toLabel, edge.toID)]),
				OtherLabels: []string{edge.toLabel},
			})
		}
		if (direction == "in" || direction == "both") && edge.toLabel == label && edge.toID == id {
			out = append(out, graph.Related{
				Type:        edge.relType,
				Direction:   "in",
				Props:       copyProps(edge.props),
				Other:       copyProps(m.nodes[nodeKey(edge.fromLabel, edge.fromID)]),
				OtherLabels: []string{edge.fromLabel},
			})
		}
	}
	return out, nil
}

// relStore adapts memStore to the RelationStore method names.
type relStore struct{ *memStore }

func (r relStore) Create(ctx context.Context, from graph.Ref, relType string, to graph.Ref, props map[string]interface{}) (map[string]interface{}, error) {
	return r.CreateRel(ctx, from, relType, to, props)
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	return NewService(store, relStore{store}), store
}

func TestCreateDefaultsAndRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "Plan rollout", Tags: []string{"ops"}})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, 0, task.Progress)
	assert.NotEmpty(t, task.CreatedAt)

	got, err := svc.Get(ctx, task.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "Plan rollout", got.Title)
	assert.Equal(t, []string{"ops"}, got.Tags)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{})
	assert.True(t, fault.IsKind(err, fault.InvalidInput))

	_, err = svc.Create(ctx, CreateInput{Title: "x", Status: "done"})
	assert.True(t, fault.IsKind(err, fault.InvalidInput))

	_, err = svc.Create(ctx, CreateInput{Title: "x", Priority: "urgent"})
	assert.True(t, fault.IsKind(err, fault.InvalidInput))

	_, err = svc.Create(ctx, CreateInput{Title: "x", ParentID: "missing"})
	assert.True(t, fault.IsKind(err, fault.NotFound))
}

func TestSubtaskLinksParent(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateInput{Title: "Parent"})
	require.NoError(t, err)
	child, err := svc.AddSubtask(ctx, parent.ID, CreateInput{Title: "Child"})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentID)

	related, err := store.GetFor(ctx, labelTask, parent.ID, "out", relSubtask)
	require.NoError(t, err)
	require.Len(t, related, 1)

	got, err := svc.Get(ctx, parent.ID, true)
	require.NoError(t, err)
	require.Len(t, got.Subtasks, 1)
	assert.Equal(t, child.ID, got.Subtasks[0].ID)
}

func TestUpdateMergesAndCompletionForcesProgress(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "Ship"})
	require.NoError(t, err)

	status := StatusInProgress
	progress := 40
	updated, err := svc.Update(ctx, task.ID, UpdateInput{Status: &status, Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)
	assert.Equal(t, 40, updated.Progress)
	assert.Empty(t, updated.CompletedAt)

	done := StatusCompleted
	updated, err = svc.Update(ctx, task.ID, UpdateInput{Status: &done})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
	assert.Equal(t, 100, updated.Progress)
	assert.NotEmpty(t, updated.CompletedAt)
	assert.GreaterOrEqual(t, updated.CompletedAt, task.CreatedAt)
}

func TestCompleteShortcut(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "Review"})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, task.ID, "looks good")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, "looks good", done.Result)

	// Repeating is a no-op.
	again, err := svc.Complete(ctx, task.ID, "ignored")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
	assert.Equal(t, "looks good", again.Result)
}

func TestCompleteRejectsCancelled(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{Title: "Drop"})
	require.NoError(t, err)

	cancelled := StatusCancelled
	_, err = svc.Update(ctx, task.ID, UpdateInput{Status: &cancelled})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, task.ID, "")
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}

func TestDeleteCascade(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateInput{Title: "P"})
	require.NoError(t, err)
	child, err := svc.AddSubtask(ctx, parent.ID, CreateInput{Title: "S"})
	require.NoError(t, err)
	grandchild, err := svc.AddSubtask(ctx, child.ID, CreateInput{Title: "SS"})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, grandchild.ID, "")
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, parent.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	for _, id := range []string{parent.ID, child.ID, grandchild.ID} {
		_, err := svc.Get(ctx, id, false)
		assert.True(t, fault.IsKind(err, fault.NotFound), "task %s should be gone", id)
	}
}

func TestDeleteWithoutCascadeKeepsSubtasks(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateInput{Title: "P"})
	require.NoError(t, err)
	child, err := svc.AddSubtask(ctx, parent.ID, CreateInput{Title: "S"})
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, parent.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	got, err := svc.Get(ctx, child.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "S", got.Title)
}

func TestListFilters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Title: "a", Assignee: "ivy", Tags: []string{"infra"}})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Title: "b", Assignee: "ivy", Tags: []string{"docs"}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Title: "c", Assignee: "max"})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, b.ID, "")
	require.NoError(t, err)

	byAssignee, err := svc.List(ctx, Filter{Assignee: "ivy"})
	require.NoError(t, err)
	assert.Len(t, byAssignee, 2)

	byStatus, err := svc.List(ctx, Filter{Status: StatusCompleted})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "b", byStatus[0].Title)

	byTag, err := svc.List(ctx, Filter{Tags: []string{"docs", "unused"}})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "b", byTag[0].Title)

	_, err = svc.List(ctx, Filter{Status: "nope"})
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}

func TestListByParent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateInput{Title: "P"})
	require.NoError(t, err)
	_, err = svc.AddSubtask(ctx, parent.ID, CreateInput{Title: "S1"})
	require.NoError(t, err)
	_, err = svc.AddSubtask(ctx, parent.ID, CreateInput{Title: "S2"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Title: "other"})
	require.NoError(t, err)

	children, err := svc.List(ctx, Filter{ParentID: parent.ID})
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestSetDependencyAndCycleGuard(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Title: "A"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Title: "B"})
	require.NoError(t, err)
	c, err := svc.Create(ctx, CreateInput{Title: "C"})
	require.NoError(t, err)

	// B must complete before A, C before B.
	_, err = svc.SetDependency(ctx, a.ID, b.ID, DepMustCompleteBefore)
	require.NoError(t, err)
	_, err = svc.SetDependency(ctx, b.ID, c.ID, DepShouldCompleteBefore)
	require.NoError(t, err)

	// Closing the loop C -> A is a cycle.
	_, err = svc.SetDependency(ctx, c.ID, a.ID, DepBlocks)
	assert.True(t, fault.IsKind(err, fault.InvalidInput))

	_, err = svc.SetDependency(ctx, a.ID, a.ID, DepBlocks)
	assert.True(t, fault.IsKind(err, fault.InvalidInput))

	_, err = svc.SetDependency(ctx, a.ID, b.ID, "NEEDS")
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}

func TestGetDependencies(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Title: "A"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Title: "B"})
	require.NoError(t, err)

	_, err = svc.SetDependency(ctx, a.ID, b.ID, DepMustCompleteBefore)
	require.NoError(t, err)

	incoming, err := svc.GetDependencies(ctx, a.ID, "in")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, b.ID, incoming[0].TaskID)
	assert.Equal(t, DepMustCompleteBefore, incoming[0].Type)
	assert.Equal(t, "B", incoming[0].Title)

	outgoing, err := svc.GetDependencies(ctx, b.ID, "out")
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, a.ID, outgoing[0].TaskID)

	_, err = svc.GetDependencies(ctx, a.ID, "sideways")
	assert.True(t, fault.IsKind(err, fault.InvalidInput))
}
