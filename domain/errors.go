package domain

import "errors"

var (
	// ErrNotFound is returned when a task does not exist or belongs to another owner.
	ErrNotFound = errors.New("task not found")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError describes a rejected input. For reorder batches TaskID names
// the first offending task.
type ValidationError struct {
	Field  string
	TaskID string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	switch {
	case e.TaskID != "":
		msg += ": task " + e.TaskID
	case e.Field != "":
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
