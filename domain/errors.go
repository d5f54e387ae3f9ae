package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by NotFoundError. Callers treat it as a soft failure.
var ErrNotFound = errors.New("task not found")

// ValidationError reports user input the board refuses to apply.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError references a task id the board does not hold.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// RemoteWriteError wraps a rejected insert, update or delete.
type RemoteWriteError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *RemoteWriteError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s of task %s failed: %v", e.Op, e.TaskID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// RemoteReadError wraps a failed load of the remote task set.
type RemoteReadError struct {
	Err error
}

func (e *RemoteReadError) Error() string {
	return fmt.Sprintf("remote read failed: %v", e.Err)
}

func (e *RemoteReadError) Unwrap() error { return e.Err }

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
