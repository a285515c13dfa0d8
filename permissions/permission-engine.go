package permissions

import (
	"context"
	"fmt"

	"zvello-project/microservices/taskgraph-service/models"
	"zvello-project/microservices/taskgraph-service/repositories"
)

// PermissionEngine evaluates grants and computes effective access. The task
// creator holds an implicit owner level that is never stored as a grant row
// and always dominates any explicit grant for that pair.
type PermissionEngine struct {
	grants repositories.GrantRepository
}

func NewPermissionEngine(grants repositories.GrantRepository) *PermissionEngine {
	return &PermissionEngine{grants: grants}
}

// Grant upserts a grant for a user on a task. Owner may never be granted
// explicitly. Granting to the creator is a no-op success, the implicit owner
// level already dominates. Level none deletes the row instead of storing it.
func (e *PermissionEngine) Grant(ctx context.Context, taskID, userID, creatorID string, level models.PermissionLevel) error {
	if !level.Valid() {
		return fmt.Errorf("%w: unknown permission level %q", models.ErrValidation, level)
	}
	if level == models.LevelOwner {
		return fmt.Errorf("%w: owner level cannot be granted explicitly", models.ErrValidation)
	}
	if userID == creatorID {
		return nil
	}
	if level == models.LevelNone {
		return e.grants.Delete(ctx, taskID, userID)
	}
	return e.grants.Upsert(ctx, models.Grant{TaskID: taskID, UserID: userID, Level: level})
}

// Revoke deletes the grant if present. Idempotent.
func (e *PermissionEngine) Revoke(ctx context.Context, taskID, userID string) error {
	return e.grants.Delete(ctx, taskID, userID)
}

// EffectiveLevel returns owner for the creator, otherwise the stored grant
// level, otherwise none.
func (e *PermissionEngine) EffectiveLevel(ctx context.Context, taskID, userID, creatorID string) (models.PermissionLevel, error) {
	if userID == creatorID {
		return models.LevelOwner, nil
	}
	grant, err := e.grants.Get(ctx, taskID, userID)
	if err != nil {
		return models.LevelNone, err
	}
	if grant == nil {
		return models.LevelNone, nil
	}
	return grant.Level, nil
}

// Authorize compares the user's effective level against the minimum the
// action requires.
func (e *PermissionEngine) Authorize(ctx context.Context, taskID, userID, creatorID string, action models.Action) error {
	level, err := e.EffectiveLevel(ctx, taskID, userID, creatorID)
	if err != nil {
		return err
	}
	if !level.AtLeast(action.RequiredLevel()) {
		return fmt.Errorf("%w: user %s lacks %s on task %s", models.ErrPermissionDenied, userID, action, taskID)
	}
	return nil
}

// RemoveAllForTask drops every grant on a task, used during deletion.
func (e *PermissionEngine) RemoveAllForTask(ctx context.Context, taskID string) error {
	return e.grants.DeleteByTask(ctx, taskID)
}

// VisibleGrants returns the user's grants at read level or above.
func (e *PermissionEngine) VisibleGrants(ctx context.Context, userID string) ([]models.Grant, error) {
	grants, err := e.grants.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	visible := grants[:0]
	for _, grant := range grants {
		if grant.Level.AtLeast(models.LevelRead) {
			visible = append(visible, grant)
		}
	}
	return visible, nil
}
