package task

import "errors"

// Business outcomes the engine signals to its caller. These are expected,
// recoverable conditions; store and infrastructure failures are returned
// wrapped and unmodified instead.
var (
	ErrNotFound              = errors.New("task not found")
	ErrValidation            = errors.New("validation failed")
	ErrParentNotFound        = errors.New("parent task not found")
	ErrParentCompleted       = errors.New("parent task is completed")
	ErrSelfParent            = errors.New("task cannot be its own parent")
	ErrIncompleteSubtasks    = errors.New("task has incomplete subtasks")
	ErrAlreadyCompleted      = errors.New("task is already completed")
	ErrCannotDeleteCompleted = errors.New("cannot delete completed task")
)
