package tasks

import (
	"context"

	"github.com/google/uuid"

	"hivehub.dev/common"
	"hivehub.dev/fault"
	"hivehub.dev/graph"
)

// Subtask cascades walk at most this deep before giving up; the
// hierarchy is a tree, so hitting the bound means corrupted edges.
const maxCascadeDepth = 32

// EntityStore is the slice of the graph entity operations the task
// service needs. *graph.Entities satisfies it.
type EntityStore interface {
	Create(ctx context.Context, label string, props map[string]interface{}) (map[string]interface{}, error)
	Get(ctx context.Context, label, id string) (map[string]interface{}, error)
	Find(ctx context.Context, label string, match map[string]interface{}, limit int, newestFirst bool) ([]map[string]interface{}, error)
	Update(ctx context.Context, label, id string, props map[string]interface{}) (map[string]interface{}, error)
	Delete(ctx context.Context, label, id string) (bool, error)
}

// RelationStore is the slice of the graph relationship operations the
// task service needs. *graph.Relationships satisfies it.
type RelationStore interface {
	Create(ctx context.Context, from graph.Ref, relType string, to graph.Ref, props map[string]interface{}) (map[string]interface{}, error)
	GetFor(ctx context.Context, label, id, direction, relType string) ([]graph.Related, error)
}

// Service owns tasks. The graph holds all durable state; the service
// keeps no cache, every operation round-trips to the store.
type Service struct {
	entities  EntityStore
	relations RelationStore
}

// NewService creates the task service over the graph stores.
func NewService(entities EntityStore, relations RelationStore) *Service {
	return &Service{entities: entities, relations: relations}
}

// CreateInput are the arguments accepted by create_task and add_subtask.
type CreateInput struct {
	Title       string
	Description string
	Status      string
	Priority    string
	Assignee    string
	Tags        []string
	DueDate     string
	ParentID    string
}

// UpdateInput are the arguments accepted by update_task. Nil fields are
// left untouched.
type UpdateInput struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	Assignee    *string
	Tags        []string
	DueDate     *string
	Progress    *int
	Result      *string
}

// Filter selects tasks for list_tasks. Equality filters run in the
// backend; tags post-filter with any-match semantics.
type Filter struct {
	Status   string
	Priority string
	Assignee string
	Tags     []string
	ParentID string
	Limit    int
}

// Create persists a new task. A ParentID links it under its parent with
// a HAS_SUBTASK edge; the parent must exist.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Task, error) {
	if in.Title == "" {
		return nil, fault.Invalid("title must not be empty")
	}
	if in.Status == "" {
		in.Status = StatusPending
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if err := checkStatus(in.Status); err != nil {
		return nil, err
	}
	if err := checkPriority(in.Priority); err != nil {
		return nil, err
	}
	if in.ParentID != "" {
		if _, err := s.entities.Get(ctx, labelTask, in.ParentID); err != nil {
			return nil, taskLookupErr(in.ParentID, err)
		}
	}

	now := common.NowISO()
	task := &Task{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		Assignee:    in.Assignee,
		Tags:        append([]string(nil), in.Tags...),
		DueDate:     in.DueDate,
		ParentID:    in.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Status == StatusCompleted {
		task.Progress = 100
		task.CompletedAt = now
	}

	if _, err := s.entities.Create(ctx, labelTask, taskProps(task)); err != nil {
		return nil, err
	}
	if in.ParentID != "" {
		from := graph.Ref{Label: labelTask, ID: in.ParentID}
		to := graph.Ref{Label: labelTask, ID: task.ID}
		if _, err := s.relations.Create(ctx, from, relSubtask, to, nil); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// Get returns the task, optionally with shallow subtask summaries from
// the outgoing HAS_SUBTASK set.
func (s *Service) Get(ctx context.Context, taskID string, includeSubtasks bool) (*Task, error) {
	task, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if includeSubtasks {
		subtasks, err := s.subtasks(ctx, taskID)
		if err != nil {
			return nil, err
		}
		task.Subtasks = subtasks
	}
	return task, nil
}

// Update merges the supplied fields. A transition to completed forces
// progress 100 and stamps completed_at.
func (s *Service) Update(ctx context.Context, taskID string, in UpdateInput) (*Task, error) {
	if in.Status != nil {
		if err := checkStatus(*in.Status); err != nil {
			return nil, err
		}
	}
	if in.Priority != nil {
		if err := checkPriority(*in.Priority); err != nil {
			return nil, err
		}
	}
	if in.Progress != nil {
		if err := checkProgress(*in.Progress); err != nil {
			return nil, err
		}
	}

	current, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}

	update := map[string]interface{}{}
	if in.Title != nil {
		if *in.Title == "" {
			return nil, fault.Invalid("title must not be empty")
		}
		update["title"] = *in.Title
	}
	if in.Description != nil {
		update["description"] = *in.Description
	}
	if in.Priority != nil {
		update["priority"] = *in.Priority
	}
	if in.Assignee != nil {
		update["assignee"] = *in.Assignee
	}
	if in.Tags != nil {
		update["tags"] = toInterfaceSlice(in.Tags)
	}
	if in.DueDate != nil {
		update["due_date"] = *in.DueDate
	}
	if in.Progress != nil {
		update["progress"] = *in.Progress
	}
	if in.Result != nil {
		update["result"] = *in.Result
	}
	if in.Status != nil {
		update["status"] = *in.Status
		if *in.Status == StatusCompleted && current.Status != StatusCompleted {
			update["progress"] = 100
			update["completed_at"] = common.NowISO()
		}
	}
	if len(update) == 0 {
		return current, nil
	}

	props, err := s.entities.Update(ctx, labelTask, taskID, update)
	if err != nil {
		return nil, err
	}
	return taskFromProps(props), nil
}

// Complete is the update shortcut to status completed. Repeating it on a
// completed task is a no-op; a cancelled task cannot be completed.
func (s *Service) Complete(ctx context.Context, taskID, result string) (*Task, error) {
	current, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCompleted {
		return current, nil
	}
	if current.Status == StatusCancelled {
		return nil, fault.Invalid("task %s is cancelled and cannot be completed", taskID)
	}

	status := StatusCompleted
	in := UpdateInput{Status: &status}
	if result != "" {
		in.Result = &result
	}
	return s.Update(ctx, taskID, in)
}

// Delete removes the task via DETACH DELETE. With deleteSubtasks the
// outgoing HAS_SUBTASK tree goes first, leaves inward.
func (s *Service) Delete(ctx context.Context, taskID string, deleteSubtasks bool) (int, error) {
	if _, err := s.load(ctx, taskID); err != nil {
		return 0, err
	}

	deleted := 0
	if deleteSubtasks {
		n, err := s.deleteTree(ctx, taskID, 0)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}

	removed, err := s.entities.Delete(ctx, labelTask, taskID)
	if err != nil {
		return deleted, err
	}
	if removed {
		deleted++
	}
	return deleted, nil
}

func (s *Service) deleteTree(ctx context.Context, taskID string, depth int) (int, error) {
	if depth >= maxCascadeDepth {
		return 0, fault.New(fault.Internal, "subtask hierarchy of %s exceeds depth %d", taskID, maxCascadeDepth)
	}

	subtasks, err := s.subtasks(ctx, taskID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, sub := range subtasks {
		n, err := s.deleteTree(ctx, sub.ID, depth+1)
		if err != nil {
			return deleted, err
		}
		deleted += n
		removed, err := s.entities.Delete(ctx, labelTask, sub.ID)
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}

// List returns tasks newest first. Status, priority, assignee and parent
// filter by equality in the backend; tags post-filter with any-match.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Task, error) {
	if filter.Status != "" {
		if err := checkStatus(filter.Status); err != nil {
			return nil, err
		}
	}
	if filter.Priority != "" {
		if err := checkPriority(filter.Priority); err != nil {
			return nil, err
		}
	}

	match := map[string]interface{}{}
	if filter.Status != "" {
		match["status"] = filter.Status
	}
	if filter.Priority != "" {
		match["priority"] = filter.Priority
	}
	if filter.Assignee != "" {
		match["assignee"] = filter.Assignee
	}
	if filter.ParentID != "" {
		match["parent_task_id"] = filter.ParentID
	}

	rows, err := s.entities.Find(ctx, labelTask, match, filter.Limit, true)
	if err != nil {
		return nil, err
	}

	out := make([]*Task, 0, len(rows))
	for _, props := range rows {
		task := taskFromProps(props)
		if len(filter.Tags) > 0 && !hasAnyTag(task, filter.Tags) {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

// AddSubtask creates a task under parentID.
func (s *Service) AddSubtask(ctx context.Context, parentID string, in CreateInput) (*Task, error) {
	if parentID == "" {
		return nil, fault.Invalid("parentTaskId must not be empty")
	}
	in.ParentID = parentID
	return s.Create(ctx, in)
}

// SetDependency records that dependsOnID stands in the given relation to
// taskID, as an edge dependsOn→task. A dependency that would close a
// cycle is rejected.
func (s *Service) SetDependency(ctx context.Context, taskID, dependsOnID, depType string) (*Dependency, error) {
	if depType == "" {
		depType = DepMustCompleteBefore
	}
	if err := checkDepType(depType); err != nil {
		return nil, err
	}
	if taskID == dependsOnID {
		return nil, fault.Invalid("task %s cannot depend on itself", taskID)
	}
	if _, err := s.load(ctx, taskID); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, dependsOnID); err != nil {
		return nil, err
	}

	cyclic, err := s.wouldCreateCycle(ctx, taskID, dependsOnID)
	if err != nil {
		return nil, err
	}
	if cyclic {
		return nil, fault.Invalid("dependency %s -> %s would create a cycle", dependsOnID, taskID)
	}

	from := graph.Ref{Label: labelTask, ID: dependsOnID}
	to := graph.Ref{Label: labelTask, ID: taskID}
	if _, err := s.relations.Create(ctx, from, depType, to, map[string]interface{}{"created_at": common.NowISO()}); err != nil {
		return nil, err
	}
	return &Dependency{TaskID: dependsOnID, Type: depType, Direction: "in"}, nil
}

// GetDependencies returns the typed dependency edges of a task in the
// given direction (in, out or both).
func (s *Service) GetDependencies(ctx context.Context, taskID, direction string) ([]Dependency, error) {
	switch direction {
	case "":
		direction = "both"
	case "in", "out", "both":
	default:
		return nil, fault.Invalid("direction must be in, out or both")
	}
	if _, err := s.load(ctx, taskID); err != nil {
		return nil, err
	}

	out := []Dependency{}
	for depType := range depTypes {
		related, err := s.relations.GetFor(ctx, labelTask, taskID, direction, depType)
		if err != nil {
			return nil, err
		}
		for _, rel := range related {
			other := taskFromProps(rel.Other)
			out = append(out, Dependency{
				TaskID:    other.ID,
				Type:      rel.Type,
				Direction: rel.Direction,
				Title:     other.Title,
				Status:    other.Status,
			})
		}
	}
	return out, nil
}

// wouldCreateCycle reports whether an edge dependsOn→task would close a
// dependency cycle, i.e. whether dependsOn is already reachable from
// task along outgoing dependency edges.
func (s *Service) wouldCreateCycle(ctx context.Context, taskID, dependsOnID string) (bool, error) {
	seen := map[string]bool{taskID: true}
	frontier := []string{taskID}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		for depType := range depTypes {
			related, err := s.relations.GetFor(ctx, labelTask, current, "out", depType)
			if err != nil {
				return false, err
			}
			for _, rel := range related {
				next := common.AsString(rel.Other["id"])
				if next == dependsOnID {
					return true, nil
				}
				if next != "" && !seen[next] {
					seen[next] = true
					frontier = append(frontier, next)
				}
			}
		}
	}
	return false, nil
}

func (s *Service) load(ctx context.Context, taskID string) (*Task, error) {
	if taskID == "" {
		return nil, fault.Invalid("taskId must not be empty")
	}
	props, err := s.entities.Get(ctx, labelTask, taskID)
	if err != nil {
		return nil, taskLookupErr(taskID, err)
	}
	return taskFromProps(props), nil
}

// subtasks returns shallow summaries of the outgoing HAS_SUBTASK set.
func (s *Service) subtasks(ctx context.Context, taskID string) ([]*Task, error) {
	related, err := s.relations.GetFor(ctx, labelTask, taskID, "out", relSubtask)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(related))
	for _, rel := range related {
		out = append(out, taskFromProps(rel.Other))
	}
	return out, nil
}

// taskLookupErr keeps backend faults as-is but speaks task language for
// missing ids.
func taskLookupErr(taskID string, err error) error {
	if fault.IsKind(err, fault.NotFound) {
		return fault.Missing("task %s not found", taskID)
	}
	return err
}
