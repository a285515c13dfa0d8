package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zvello-project/microservices/taskgraph-service/graph"
	"zvello-project/microservices/taskgraph-service/logging"
	"zvello-project/microservices/taskgraph-service/models"
	"zvello-project/microservices/taskgraph-service/permissions"
	"zvello-project/microservices/taskgraph-service/repositories"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

const (
	storageRetries = 3
	retryBaseDelay = 100 * time.Millisecond
)

// TaskService sequences the permission engine, the dependency graph and the
// task-record store into operations that either land completely or are
// rejected. The record write always comes last as the authoritative commit;
// graph and grant mutations before it are compensated on failure.
type TaskService struct {
	tasks        repositories.TaskRepository
	history      repositories.HistoryRepository
	permissions  *permissions.PermissionEngine
	graph        graph.DependencyGraph
	graphBreaker *gobreaker.CircuitBreaker
	locks        taskLocker
}

func NewTaskService(
	tasks repositories.TaskRepository,
	history repositories.HistoryRepository,
	engine *permissions.PermissionEngine,
	dependencyGraph graph.DependencyGraph,
	graphBreaker *gobreaker.CircuitBreaker,
) *TaskService {
	return &TaskService{
		tasks:        tasks,
		history:      history,
		permissions:  engine,
		graph:        dependencyGraph,
		graphBreaker: graphBreaker,
	}
}

// withRetry retries transient store failures a bounded number of times with
// backoff. Validation and authorization errors are returned as is.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < storageRetries; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, models.ErrStorageUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, ctx.Err())
		case <-time.After(retryBaseDelay << attempt):
		}
	}
	return err
}

// graphDo routes a graph-store call through the circuit breaker. Domain
// outcomes such as a detected cycle are not store failures and must not trip
// the breaker, so they come back through the result value.
func (s *TaskService) graphDo(op func() error) error {
	if s.graphBreaker == nil {
		return op()
	}
	result, err := s.graphBreaker.Execute(func() (interface{}, error) {
		if opErr := op(); opErr != nil {
			if errors.Is(opErr, models.ErrStorageUnavailable) {
				return nil, opErr
			}
			return opErr, nil
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: graph store circuit open: %v", models.ErrStorageUnavailable, err)
		}
		return err
	}
	if result != nil {
		return result.(error)
	}
	return nil
}

// CreateTask validates the input, registers the new node (and parent edge if
// requested) in the graph, then persists the record.
func (s *TaskService) CreateTask(ctx context.Context, creatorID, title, description string, status models.TaskStatus, softDeadline, hardDeadline *time.Time, parentID string) (*models.Task, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", models.ErrValidation)
	}
	if status == "" {
		status = models.StatusTodo
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, status)
	}

	taskID := uuid.New().String()

	// The parent's stripe is held so a concurrent delete of the parent cannot
	// race the child-edge insert.
	unlock := s.locks.lock(taskID, parentID)
	defer unlock()

	if parentID != "" {
		if err := withRetry(ctx, func() error {
			_, err := s.tasks.GetByID(ctx, parentID)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if err := withRetry(ctx, func() error {
		return s.graphDo(func() error { return s.graph.EnsureNode(ctx, taskID) })
	}); err != nil {
		return nil, err
	}
	if parentID != "" {
		if err := withRetry(ctx, func() error {
			return s.graphDo(func() error { return s.graph.AddEdge(ctx, parentID, taskID) })
		}); err != nil {
			return nil, err
		}
	}

	task := &models.Task{
		ID:           taskID,
		Title:        title,
		Description:  description,
		Status:       status,
		CreatorID:    creatorID,
		CreatedAt:    time.Now().UTC(),
		SoftDeadline: softDeadline,
		HardDeadline: hardDeadline,
	}
	if status == models.StatusDone {
		now := task.CreatedAt
		task.CompletedAt = &now
	}

	if err := withRetry(ctx, func() error { return s.tasks.Insert(ctx, task) }); err != nil {
		// The node is already in the graph, take it back out so no orphan
		// vertex survives a failed create.
		if compErr := s.graphDo(func() error { return s.graph.RemoveNode(ctx, taskID) }); compErr != nil {
			partial := &models.PartialFailureError{TaskID: taskID, Stage: "record-insert", Err: err}
			logging.Logger.Errorf("Event ID: PARTIAL_FAILURE, Description: %v (compensation failed: %v)", partial, compErr)
			return nil, partial
		}
		return nil, err
	}

	logging.Logger.Infof("Event ID: TASK_CREATED, Description: Task %s created by user %s", taskID, creatorID)
	return task, nil
}

// UpdateTask applies field changes and an optional reparent. The new edge is
// added before the old one is removed, so the task is never left detached
// mid-update unless the caller explicitly asked for no parent.
func (s *TaskService) UpdateTask(ctx context.Context, actorID, taskID string, update models.TaskUpdate) (*models.Task, error) {
	lockIDs := []string{taskID}
	if update.ParentID != nil && *update.ParentID != "" {
		lockIDs = append(lockIDs, *update.ParentID)
	}

	var unlock func()
	var oldParents []string
	if update.ParentID == nil {
		unlock = s.locks.lock(lockIDs...)
	} else {
		// Reparenting removes, and on failure re-adds, edges on the current
		// parents, so their stripes must be held too. Otherwise a concurrent
		// delete of an old parent could pass its children check between the
		// edge removal here and a compensating re-add. The parent set can
		// change between reads, so re-acquire until it is stable under the
		// held locks.
		for {
			unlock = s.locks.lock(lockIDs...)
			parents, err := s.graphParents(ctx, taskID)
			if err != nil {
				unlock()
				return nil, err
			}
			if stripesCovered(lockIDs, parents) {
				oldParents = parents
				break
			}
			unlock()
			lockIDs = appendMissingIDs(lockIDs, parents)
		}
	}
	defer unlock()

	var task *models.Task
	if err := withRetry(ctx, func() error {
		var err error
		task, err = s.tasks.GetByID(ctx, taskID)
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.permissions.Authorize(ctx, taskID, actorID, task.CreatorID, models.ActionEdit); err != nil {
		return nil, err
	}

	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", models.ErrValidation)
	}
	if update.Status != nil && !update.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, *update.Status)
	}
	if update.ParentID != nil && *update.ParentID == taskID {
		return nil, fmt.Errorf("%w: %s", models.ErrSelfReference, taskID)
	}

	updated := *task
	var changes []models.HistoryEntry
	now := time.Now().UTC()

	record := func(field, oldValue, newValue string) {
		if oldValue == newValue {
			return
		}
		changes = append(changes, models.HistoryEntry{
			ID:           uuid.New().String(),
			TaskID:       taskID,
			UserID:       actorID,
			FieldChanged: field,
			OldValue:     oldValue,
			NewValue:     newValue,
			ChangedAt:    now,
		})
	}

	if update.Title != nil {
		record("title", task.Title, *update.Title)
		updated.Title = *update.Title
	}
	if update.Description != nil {
		record("description", task.Description, *update.Description)
		updated.Description = *update.Description
	}
	if update.Status != nil {
		record("status", string(task.Status), string(*update.Status))
		updated.Status = *update.Status
		if updated.Status == models.StatusDone && task.Status != models.StatusDone {
			updated.CompletedAt = &now
		} else if updated.Status != models.StatusDone {
			updated.CompletedAt = nil
		}
	}
	if update.SoftDeadline != nil {
		record("soft_deadline", formatTime(task.SoftDeadline), formatTime(update.SoftDeadline))
		updated.SoftDeadline = update.SoftDeadline
	}
	if update.HardDeadline != nil {
		record("hard_deadline", formatTime(task.HardDeadline), formatTime(update.HardDeadline))
		updated.HardDeadline = update.HardDeadline
	}

	// Structural change, tracked for compensation if the record write fails.
	var addedParent string
	var removedParents []string
	if update.ParentID != nil {
		newParent := *update.ParentID

		switch {
		case newParent == "":
			// Explicit detach.
			for _, parent := range oldParents {
				if err := withRetry(ctx, func() error {
					return s.graphDo(func() error { return s.graph.RemoveEdge(ctx, parent, taskID) })
				}); err != nil {
					return nil, err
				}
				removedParents = append(removedParents, parent)
			}
			record("parent", strings.Join(oldParents, ","), "")
		case containsID(oldParents, newParent):
			// Already the parent, nothing to rewire or record.
		default:
			if err := withRetry(ctx, func() error {
				_, err := s.tasks.GetByID(ctx, newParent)
				return err
			}); err != nil {
				return nil, err
			}
			// New edge first, old edges after, so the cycle check sees the
			// full edge set and a failure leaves the previous parent intact.
			if err := withRetry(ctx, func() error {
				return s.graphDo(func() error { return s.graph.AddEdge(ctx, newParent, taskID) })
			}); err != nil {
				return nil, err
			}
			addedParent = newParent
			for _, parent := range oldParents {
				if err := withRetry(ctx, func() error {
					return s.graphDo(func() error { return s.graph.RemoveEdge(ctx, parent, taskID) })
				}); err != nil {
					s.compensateReparent(ctx, taskID, addedParent, removedParents)
					return nil, err
				}
				removedParents = append(removedParents, parent)
			}
			record("parent", strings.Join(oldParents, ","), newParent)
		}
	}

	// A grant revoked while this edit was in flight must fail it before the
	// commit, not after.
	if err := s.permissions.Authorize(ctx, taskID, actorID, task.CreatorID, models.ActionEdit); err != nil {
		s.compensateReparent(ctx, taskID, addedParent, removedParents)
		return nil, err
	}

	if err := withRetry(ctx, func() error { return s.tasks.Update(ctx, &updated) }); err != nil {
		if compErr := s.compensateReparent(ctx, taskID, addedParent, removedParents); compErr != nil {
			partial := &models.PartialFailureError{TaskID: taskID, Stage: "record-update", Err: err}
			logging.Logger.Errorf("Event ID: PARTIAL_FAILURE, Description: %v (compensation failed: %v)", partial, compErr)
			return nil, partial
		}
		return nil, err
	}

	for _, change := range changes {
		if err := s.history.Insert(ctx, change); err != nil {
			// History is best effort, the update itself already landed.
			logging.Logger.Warnf("Event ID: HISTORY_WRITE_FAILED, Description: Failed to record history for task %s field %s: %v", taskID, change.FieldChanged, err)
		}
	}

	return &updated, nil
}

// compensateReparent undoes a partially applied edge swap: the freshly added
// edge goes away and the previously removed ones come back. Re-adding edges
// that existed before cannot introduce a cycle once the new edge is gone.
func (s *TaskService) compensateReparent(ctx context.Context, taskID, addedParent string, removedParents []string) error {
	var firstErr error
	if addedParent != "" {
		if err := s.graphDo(func() error { return s.graph.RemoveEdge(ctx, addedParent, taskID) }); err != nil {
			firstErr = err
		}
	}
	for _, parent := range removedParents {
		if err := s.graphDo(func() error { return s.graph.AddEdge(ctx, parent, taskID) }); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeleteTask removes a task that has no children left: grants first, then the
// graph node, then the record as the authoritative final write.
func (s *TaskService) DeleteTask(ctx context.Context, actorID, taskID string) error {
	unlock := s.locks.lock(taskID)
	defer unlock()

	var task *models.Task
	if err := withRetry(ctx, func() error {
		var err error
		task, err = s.tasks.GetByID(ctx, taskID)
		return err
	}); err != nil {
		return err
	}

	if err := s.permissions.Authorize(ctx, taskID, actorID, task.CreatorID, models.ActionDelete); err != nil {
		return err
	}

	var hasChildren bool
	if err := withRetry(ctx, func() error {
		return s.graphDo(func() error {
			var err error
			hasChildren, err = s.graph.HasChildren(ctx, taskID)
			return err
		})
	}); err != nil {
		return err
	}
	if hasChildren {
		// No cascading delete. Descendants must be reassigned or deleted
		// first.
		return fmt.Errorf("%w: %s", models.ErrHasChildren, taskID)
	}

	if err := withRetry(ctx, func() error { return s.permissions.RemoveAllForTask(ctx, taskID) }); err != nil {
		return err
	}
	if err := withRetry(ctx, func() error {
		return s.graphDo(func() error { return s.graph.RemoveNode(ctx, taskID) })
	}); err != nil {
		partial := &models.PartialFailureError{TaskID: taskID, Stage: "graph-remove", Err: err}
		logging.Logger.Errorf("Event ID: PARTIAL_FAILURE, Description: %v", partial)
		return partial
	}
	if err := withRetry(ctx, func() error { return s.tasks.Delete(ctx, taskID) }); err != nil {
		partial := &models.PartialFailureError{TaskID: taskID, Stage: "record-delete", Err: err}
		logging.Logger.Errorf("Event ID: PARTIAL_FAILURE, Description: %v", partial)
		return partial
	}
	if err := s.history.DeleteByTask(ctx, taskID); err != nil {
		logging.Logger.Warnf("Event ID: HISTORY_DELETE_FAILED, Description: Failed to delete history for task %s: %v", taskID, err)
	}

	logging.Logger.Infof("Event ID: TASK_DELETED, Description: Task %s deleted by user %s", taskID, actorID)
	return nil
}

// GetTask assembles the record, its graph neighborhood and the requesting
// user's effective level into one view.
func (s *TaskService) GetTask(ctx context.Context, actorID, taskID string) (*models.TaskView, error) {
	var task *models.Task
	if err := withRetry(ctx, func() error {
		var err error
		task, err = s.tasks.GetByID(ctx, taskID)
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.permissions.Authorize(ctx, taskID, actorID, task.CreatorID, models.ActionView); err != nil {
		return nil, err
	}

	parents, err := s.graphParents(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var children []string
	if err := withRetry(ctx, func() error {
		return s.graphDo(func() error {
			var err error
			children, err = s.graph.Children(ctx, taskID)
			return err
		})
	}); err != nil {
		return nil, err
	}

	level, err := s.permissions.EffectiveLevel(ctx, taskID, actorID, task.CreatorID)
	if err != nil {
		return nil, err
	}

	return &models.TaskView{
		Task:           *task,
		ParentIDs:      parents,
		ChildrenIDs:    children,
		EffectiveLevel: level,
	}, nil
}

// ListVisibleTasks returns the union of tasks the user created and tasks with
// a stored grant at read level or above, deduplicated by id.
func (s *TaskService) ListVisibleTasks(ctx context.Context, userID string) ([]models.TaskSummary, error) {
	var own []models.Task
	if err := withRetry(ctx, func() error {
		var err error
		own, err = s.tasks.FindByCreator(ctx, userID)
		return err
	}); err != nil {
		return nil, err
	}

	grants, err := s.permissions.VisibleGrants(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(own))
	summaries := make([]models.TaskSummary, 0, len(own)+len(grants))
	for _, task := range own {
		seen[task.ID] = struct{}{}
		summaries = append(summaries, task.Summary())
	}

	var grantedIDs []string
	for _, grant := range grants {
		if _, ok := seen[grant.TaskID]; !ok {
			grantedIDs = append(grantedIDs, grant.TaskID)
		}
	}
	var granted []models.Task
	if err := withRetry(ctx, func() error {
		var err error
		granted, err = s.tasks.FindByIDs(ctx, grantedIDs)
		return err
	}); err != nil {
		return nil, err
	}
	for _, task := range granted {
		if _, ok := seen[task.ID]; ok {
			continue
		}
		seen[task.ID] = struct{}{}
		summaries = append(summaries, task.Summary())
	}

	return summaries, nil
}

// ShareTask grants or, for level none, revokes access for the target user.
func (s *TaskService) ShareTask(ctx context.Context, actorID, taskID, targetUserID string, level models.PermissionLevel) error {
	unlock := s.locks.lock(taskID)
	defer unlock()

	var task *models.Task
	if err := withRetry(ctx, func() error {
		var err error
		task, err = s.tasks.GetByID(ctx, taskID)
		return err
	}); err != nil {
		return err
	}

	if err := s.permissions.Authorize(ctx, taskID, actorID, task.CreatorID, models.ActionShare); err != nil {
		return err
	}

	if level == models.LevelNone {
		if err := withRetry(ctx, func() error { return s.permissions.Revoke(ctx, taskID, targetUserID) }); err != nil {
			return err
		}
	} else {
		if err := withRetry(ctx, func() error {
			return s.permissions.Grant(ctx, taskID, targetUserID, task.CreatorID, level)
		}); err != nil {
			return err
		}
	}

	logging.Logger.Infof("Event ID: TASK_SHARED, Description: Task %s shared with user %s at level %s by user %s", taskID, targetUserID, level, actorID)
	return nil
}

// GetTaskHistory returns the change log for a task, newest first.
func (s *TaskService) GetTaskHistory(ctx context.Context, actorID, taskID string) ([]models.HistoryEntry, error) {
	var task *models.Task
	if err := withRetry(ctx, func() error {
		var err error
		task, err = s.tasks.GetByID(ctx, taskID)
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.permissions.Authorize(ctx, taskID, actorID, task.CreatorID, models.ActionView); err != nil {
		return nil, err
	}

	var entries []models.HistoryEntry
	if err := withRetry(ctx, func() error {
		var err error
		entries, err = s.history.FindByTask(ctx, taskID)
		return err
	}); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *TaskService) graphParents(ctx context.Context, taskID string) ([]string, error) {
	var parents []string
	err := withRetry(ctx, func() error {
		return s.graphDo(func() error {
			var err error
			parents, err = s.graph.Parents(ctx, taskID)
			return err
		})
	})
	return parents, err
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
