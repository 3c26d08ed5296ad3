package task

import "errors"

// Common errors returned by the Manager
var (
	// ErrNotStarted is returned when work is submitted before Start.
	ErrNotStarted = errors.New("task manager is not started")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("task manager is already started")

	// ErrShutdown is returned when work is submitted after Shutdown,
	// or by a second call to Shutdown.
	ErrShutdown = errors.New("task manager is shut down")

	// ErrQueueFull is returned when admitting a task would exceed the
	// configured ceiling on simultaneously-live tasks.
	ErrQueueFull = errors.New("task queue is full")

	// ErrDuplicateTask is returned when a submitted task id collides with a
	// currently-live task.
	ErrDuplicateTask = errors.New("task id already exists")

	// ErrUnknownProcFunc is returned by RunInProcess when the named function
	// has not been registered.
	ErrUnknownProcFunc = errors.New("process function is not registered")
)
