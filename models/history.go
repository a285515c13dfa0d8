package models

import "time"

// HistoryEntry records a single field change on a task.
type HistoryEntry struct {
	ID           string    `json:"id" bson:"_id"`
	TaskID       string    `json:"taskId" bson:"taskId"`
	UserID       string    `json:"userId" bson:"userId"`
	FieldChanged string    `json:"fieldChanged" bson:"fieldChanged"`
	OldValue     string    `json:"oldValue" bson:"oldValue"`
	NewValue     string    `json:"newValue" bson:"newValue"`
	ChangedAt    time.Time `json:"changedAt" bson:"changedAt"`
}
