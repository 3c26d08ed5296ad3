package task

import (
	"context"
	"sync"
)

// Status represents the current state of a tracked task
type Status string

// Possible task status values
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Record tracks one fire-and-forget task: its identity, display name,
// cancellation handle, lifecycle status, and outcome. A record is created
// when AddTask accepts a submission and removed from the manager's live map
// when the task reaches a terminal status; references retained by callers
// stay readable after removal, since a record is never reused.
type Record struct {
	id     string
	name   string
	cancel context.CancelFunc

	mu     sync.Mutex
	status Status
	result any
	err    error
}

func newRecord(id, name string, cancel context.CancelFunc) *Record {
	return &Record{
		id:     id,
		name:   name,
		cancel: cancel,
		status: StatusRunning,
	}
}

// ID returns the task's unique identifier.
func (r *Record) ID() string { return r.id }

// Name returns the task's display name.
func (r *Record) Name() string { return r.name }

// Status returns the task's current lifecycle status.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Result returns the task's return value and error. Both are zero until the
// task reaches a terminal status.
func (r *Record) Result() (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Cancel requests cooperative cancellation of the task. It does not wait for
// the task to stop; the status transitions to cancelled once the task
// observes its context.
func (r *Record) Cancel() {
	r.cancel()
}

// Snapshot is a point-in-time copy of a record's observable state.
type Snapshot struct {
	ID     string
	Name   string
	Status Status
	Result any
	Err    error
}

// Snapshot returns a copy of the record's current state.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:     r.id,
		Name:   r.name,
		Status: r.status,
		Result: r.result,
		Err:    r.err,
	}
}

// finish records the terminal outcome. The manager's execution wrapper calls
// it exactly once per task.
func (r *Record) finish(status Status, result any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.result = result
	r.err = err
}
