package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"zvello-project/microservices/taskgraph-service/models"
)

// In-memory repository implementations backing the test suites, mirroring the
// mongo ones including error behavior.

type InMemoryTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]models.Task
}

func NewInMemoryTaskRepository() *InMemoryTaskRepository {
	return &InMemoryTaskRepository{tasks: make(map[string]models.Task)}
}

func (r *InMemoryTaskRepository) Insert(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = *task
	return nil
}

func (r *InMemoryTaskRepository) GetByID(ctx context.Context, taskID string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrTaskNotFound, taskID)
	}
	return &task, nil
}

func (r *InMemoryTaskRepository) Update(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrTaskNotFound, task.ID)
	}
	r.tasks[task.ID] = *task
	return nil
}

func (r *InMemoryTaskRepository) Delete(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
	return nil
}

func (r *InMemoryTaskRepository) FindByCreator(ctx context.Context, userID string) ([]models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Task
	for _, task := range r.tasks {
		if task.CreatorID == userID {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryTaskRepository) FindByIDs(ctx context.Context, taskIDs []string) ([]models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Task
	for _, id := range taskIDs {
		if task, ok := r.tasks[id]; ok {
			out = append(out, task)
		}
	}
	return out, nil
}

type grantKey struct {
	taskID string
	userID string
}

type InMemoryGrantRepository struct {
	mu     sync.RWMutex
	grants map[grantKey]models.Grant
}

func NewInMemoryGrantRepository() *InMemoryGrantRepository {
	return &InMemoryGrantRepository{grants: make(map[grantKey]models.Grant)}
}

func (r *InMemoryGrantRepository) Upsert(ctx context.Context, grant models.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[grantKey{grant.TaskID, grant.UserID}] = grant
	return nil
}

func (r *InMemoryGrantRepository) Get(ctx context.Context, taskID, userID string) (*models.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	grant, ok := r.grants[grantKey{taskID, userID}]
	if !ok {
		return nil, nil
	}
	return &grant, nil
}

func (r *InMemoryGrantRepository) Delete(ctx context.Context, taskID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants, grantKey{taskID, userID})
	return nil
}

func (r *InMemoryGrantRepository) DeleteByTask(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.grants {
		if key.taskID == taskID {
			delete(r.grants, key)
		}
	}
	return nil
}

func (r *InMemoryGrantRepository) FindByUser(ctx context.Context, userID string) ([]models.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Grant
	for key, grant := range r.grants {
		if key.userID == userID {
			out = append(out, grant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

type InMemoryHistoryRepository struct {
	mu      sync.RWMutex
	entries []models.HistoryEntry
}

func NewInMemoryHistoryRepository() *InMemoryHistoryRepository {
	return &InMemoryHistoryRepository{}
}

func (r *InMemoryHistoryRepository) Insert(ctx context.Context, entry models.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *InMemoryHistoryRepository) FindByTask(ctx context.Context, taskID string) ([]models.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.HistoryEntry
	for _, entry := range r.entries {
		if entry.TaskID == taskID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChangedAt.After(out[j].ChangedAt) })
	return out, nil
}

func (r *InMemoryHistoryRepository) DeleteByTask(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	for _, entry := range r.entries {
		if entry.TaskID != taskID {
			kept = append(kept, entry)
		}
	}
	r.entries = kept
	return nil
}
