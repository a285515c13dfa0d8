package models

import "time"

type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
	StatusBlocked    TaskStatus = "blocked"
	StatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether the status is one of the closed set. Statuses arrive
// as strings from clients, so every decode site has to go through this check.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

type Task struct {
	ID           string     `json:"id" bson:"_id"`
	Title        string     `json:"title" bson:"title"`
	Description  string     `json:"description" bson:"description"`
	Status       TaskStatus `json:"status" bson:"status"`
	CreatorID    string     `json:"creatorId" bson:"creatorId"`
	CreatedAt    time.Time  `json:"createdAt" bson:"createdAt"`
	SoftDeadline *time.Time `json:"softDeadline,omitempty" bson:"softDeadline,omitempty"`
	HardDeadline *time.Time `json:"hardDeadline,omitempty" bson:"hardDeadline,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}

// TaskUpdate carries the fields an edit may change. Nil pointers mean "leave
// as is". ParentID follows the same convention, with the empty string as an
// explicit request to detach the task from its current parent.
type TaskUpdate struct {
	Title        *string     `json:"title,omitempty"`
	Description  *string     `json:"description,omitempty"`
	Status       *TaskStatus `json:"status,omitempty"`
	SoftDeadline *time.Time  `json:"softDeadline,omitempty"`
	HardDeadline *time.Time  `json:"hardDeadline,omitempty"`
	ParentID     *string     `json:"parentId,omitempty"`
}

// TaskView is what the UI gets back for a single task: the record itself, its
// position in the dependency graph and the requesting user's effective level.
type TaskView struct {
	Task           Task            `json:"task"`
	ParentIDs      []string        `json:"parentIds"`
	ChildrenIDs    []string        `json:"childrenIds"`
	EffectiveLevel PermissionLevel `json:"effectiveLevel"`
}

type TaskSummary struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Status       TaskStatus `json:"status"`
	CreatorID    string     `json:"creatorId"`
	SoftDeadline *time.Time `json:"softDeadline,omitempty"`
	HardDeadline *time.Time `json:"hardDeadline,omitempty"`
}

func (t Task) Summary() TaskSummary {
	return TaskSummary{
		ID:           t.ID,
		Title:        t.Title,
		Status:       t.Status,
		CreatorID:    t.CreatorID,
		SoftDeadline: t.SoftDeadline,
		HardDeadline: t.HardDeadline,
	}
}
