// Package tasks implements the task sub-server: hierarchical work items
// persisted as Task nodes in the graph, linked by HAS_SUBTASK and typed
// dependency edges.
package tasks

import (
	"hivehub.dev/common"
	"hivehub.dev/fault"
)

// Task lifecycle statuses. completed and cancelled are terminal for the
// complete shortcut; update may still set any status explicitly.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusDeferred   = "deferred"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Task priorities.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Typed dependency edges between tasks.
const (
	DepMustCompleteBefore   = "MUST_COMPLETE_BEFORE"
	DepShouldCompleteBefore = "SHOULD_COMPLETE_BEFORE"
	DepBlocks               = "BLOCKS"
)

// Graph label and structural relationship the sub-server owns.
const (
	labelTask  = "Task"
	relSubtask = "HAS_SUBTASK"
)

var statuses = map[string]bool{
	StatusPending:    true,
	StatusInProgress: true,
	StatusBlocked:    true,
	StatusDeferred:   true,
	StatusCompleted:  true,
	StatusCancelled:  true,
}

var priorities = map[string]bool{
	PriorityCritical: true,
	PriorityHigh:     true,
	PriorityMedium:   true,
	PriorityLow:      true,
}

var depTypes = map[string]bool{
	DepMustCompleteBefore:   true,
	DepShouldCompleteBefore: true,
	DepBlocks:               true,
}

// Task is one work item. A subtask has exactly one parent; completed
// tasks always carry progress 100 and a completion timestamp.
type Task struct {
	ID          string   `json:"taskId"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Assignee    string   `json:"assignee,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	Progress    int      `json:"progress"`
	Result      string   `json:"result,omitempty"`
	ParentID    string   `json:"parentTaskId,omitempty"`
	Subtasks    []*Task  `json:"subtasks,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
	CompletedAt string   `json:"completedAt,omitempty"`
}

// Terminal reports whether the task reached a final status.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

// Dependency is one typed edge between two tasks, seen from the task a
// query was issued for.
type Dependency struct {
	TaskID    string `json:"taskId"`
	Type      string `json:"type"`
	Direction string `json:"direction"`
	Title     string `json:"title,omitempty"`
	Status    string `json:"status,omitempty"`
}

func checkStatus(status string) error {
	if !statuses[status] {
		return fault.Invalid("unknown task status %q", status)
	}
	return nil
}

func checkPriority(priority string) error {
	if !priorities[priority] {
		return fault.Invalid("unknown task priority %q", priority)
	}
	return nil
}

func checkDepType(depType string) error {
	if !depTypes[depType] {
		return fault.Invalid("unknown dependency type %q", depType)
	}
	return nil
}

func checkProgress(progress int) error {
	if progress < 0 || progress > 100 {
		return fault.Invalid("progress must be between 0 and 100")
	}
	return nil
}

// taskProps renders the task node properties. Subtasks live as edges;
// the parent id is kept on the node so one lookup finds the parent.
func taskProps(t *Task) map[string]interface{} {
	props := map[string]interface{}{
		"id":         t.ID,
		"title":      t.Title,
		"status":     t.Status,
		"priority":   t.Priority,
		"progress":   t.Progress,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
	if t.Description != "" {
		props["description"] = t.Description
	}
	if t.Assignee != "" {
		props["assignee"] = t.Assignee
	}
	if len(t.Tags) > 0 {
		props["tags"] = toInterfaceSlice(t.Tags)
	}
	if t.DueDate != "" {
		props["due_date"] = t.DueDate
	}
	if t.Result != "" {
		props["result"] = t.Result
	}
	if t.ParentID != "" {
		props["parent_task_id"] = t.ParentID
	}
	if t.CompletedAt != "" {
		props["completed_at"] = t.CompletedAt
	}
	return props
}

// taskFromProps rebuilds a task from its node properties.
func taskFromProps(props map[string]interface{}) *Task {
	return &Task{
		ID:          common.AsString(props["id"]),
		Title:       common.AsString(props["title"]),
		Description: common.AsString(props["description"]),
		Status:      common.AsString(props["status"]),
		Priority:    common.AsString(props["priority"]),
		Assignee:    common.AsString(props["assignee"]),
		Tags:        common.AsStringSlice(props["tags"]),
		DueDate:     common.AsString(props["due_date"]),
		Progress:    common.AsInt(props["progress"]),
		Result:      common.AsString(props["result"]),
		ParentID:    common.AsString(props["parent_task_id"]),
		CreatedAt:   common.AsString(props["created_at"]),
		UpdatedAt:   common.AsString(props["updated_at"]),
		CompletedAt: common.AsString(props["completed_at"]),
	}
}

func toInterfaceSlice(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func hasAnyTag(task *Task, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range task.Tags {
			if t == w {
				return true
			}
		}
	}
	return false
}
