package models

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. Handlers match them with errors.Is
// to pick HTTP status codes, so services must wrap rather than replace them.
var (
	ErrValidation         = errors.New("validation failed")
	ErrTaskNotFound       = errors.New("task not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrCycleDetected      = errors.New("cycle detected")
	ErrSelfReference      = errors.New("task cannot depend on itself")
	ErrHasChildren        = errors.New("task has child tasks")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// PartialFailureError reports that an operation committed to one store but
// failed against another and could not be compensated. It carries enough to
// drive a reconciliation pass.
type PartialFailureError struct {
	TaskID string
	Stage  string
	Err    error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure for task %s at stage %s: %v", e.TaskID, e.Stage, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}
