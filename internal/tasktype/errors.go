package tasktype

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Lookup for an unregistered type name
	ErrNotFound = errors.New("task type not found")
	// ErrDuplicate is returned when a type name is registered twice
	ErrDuplicate = errors.New("task type already registered")
	// ErrInterrupted is reported by long-running tasks that stop on request
	ErrInterrupted = errors.New("interrupted")
)

// TaskError is the failure of a task invocation. Only its message is shown
// to operators; Err is kept for errors.Is/As.
type TaskError struct {
	Message string
	Err     error
}

func (e *TaskError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *TaskError) Unwrap() error { return e.Err }

// Errorf builds a TaskError. A %w verb is kept as the wrapped cause.
func Errorf(format string, args ...any) *TaskError {
	err := fmt.Errorf(format, args...)
	return &TaskError{Message: err.Error(), Err: errors.Unwrap(err)}
}

// Message returns the human-readable message of any error returned by a task
func Message(err error) string {
	if err == nil {
		return ""
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te.Error()
	}
	return err.Error()
}
