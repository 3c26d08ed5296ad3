package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultMaxQueue    = 10000
	DefaultTaskTimeout = 180 * time.Second
)

// Config holds the tunables for a Manager. Zero values select defaults.
type Config struct {
	// MaxQueue caps the number of simultaneously-live tracked tasks.
	MaxQueue int

	// DefaultTimeout applies to tasks submitted without an explicit timeout.
	// Negative disables the default deadline.
	DefaultTimeout time.Duration

	// GlobalLimit, ThreadLimit and ProcessLimit override the CPU-derived
	// limiter sizes. Zero or negative selects the default formula.
	GlobalLimit  int
	ThreadLimit  int
	ProcessLimit int
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() Config {
	return Config{
		MaxQueue:       DefaultMaxQueue,
		DefaultTimeout: DefaultTaskTimeout,
	}
}

// TaskFunc is the unit of work accepted by AddTask. The context is cancelled
// when the task is cancelled, the manager shuts down, or the task's deadline
// expires; functions are expected to honor it.
type TaskFunc func(ctx context.Context) (any, error)

type managerState int

const (
	stateNew managerState = iota
	stateRunning
	stateStopped
)

// Manager is the public-facing orchestrator. It composes the three capacity
// limiters and a shared execution runtime into which every tracked task is
// spawned, so that cancellation propagates top-down (Shutdown cancels all
// children) while one task's failure never disturbs its siblings.
//
// Multiple independent managers can coexist; all state is instance state.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	globalLimiter  *Limiter
	threadLimiter  *Limiter
	processLimiter *Limiter

	// mu guards state and records. Delegation callbacks run on real OS
	// threads, so the map needs a lock even though submissions usually
	// arrive from one goroutine.
	mu      sync.Mutex
	state   managerState
	records map[string]*Record

	// ctx is the root of every task's cancellation scope; cancel tears the
	// whole runtime down. wg tracks spawned tasks for Shutdown draining.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Manager from cfg. A nil logger falls back to slog.Default.
// The manager must be started with Start before submitting tasks.
func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = DefaultMaxQueue
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultTaskTimeout
	}

	globalLimit := cfg.GlobalLimit
	if globalLimit <= 0 {
		globalLimit = defaultGlobalLimit()
	}
	threadLimit := cfg.ThreadLimit
	if threadLimit <= 0 {
		threadLimit = defaultThreadLimit()
	}
	processLimit := cfg.ProcessLimit
	if processLimit <= 0 {
		processLimit = defaultProcessLimit()
	}

	return &Manager{
		cfg:            cfg,
		logger:         logger,
		globalLimiter:  NewLimiter(globalLimit),
		threadLimiter:  NewLimiter(threadLimit),
		processLimiter: NewLimiter(processLimit),
		records:        make(map[string]*Record),
	}
}

// Start transitions the manager to running. It must be called exactly once
// before any AddTask call; a second call returns ErrAlreadyStarted.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrShutdown
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.state = stateRunning

	m.logger.Info("task manager started",
		"max_queue", m.cfg.MaxQueue,
		"global_limit", m.globalLimiter.Cap(),
		"thread_limit", m.threadLimiter.Cap(),
		"process_limit", m.processLimiter.Cap())
	return nil
}

// Shutdown requests cancellation of every live task and waits until all
// spawned tasks have exited, or until ctx expires. After Shutdown the
// manager rejects further submissions with ErrShutdown. Passing an
// already-cancelled ctx skips the wait.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case stateNew:
		m.mu.Unlock()
		return ErrNotStarted
	case stateStopped:
		m.mu.Unlock()
		return ErrShutdown
	}
	m.state = stateStopped
	m.logger.Info("task manager shutting down", "live_tasks", len(m.records))
	for _, rec := range m.records {
		rec.Cancel()
	}
	cancel := m.cancel
	m.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("task manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait aborted: %w", ctx.Err())
	}
}

// TaskOption configures a single AddTask submission.
type TaskOption func(*taskOptions)

type taskOptions struct {
	name       string
	timeout    time.Duration
	timeoutSet bool
}

// WithName sets the task's display name used in logs and snapshots. The
// default is derived from the task function's symbol name.
func WithName(name string) TaskOption {
	return func(o *taskOptions) { o.name = name }
}

// WithTimeout sets the task's deadline, overriding the manager's default.
// Zero or negative disables the deadline entirely.
func WithTimeout(d time.Duration) TaskOption {
	return func(o *taskOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// AddTask submits fn as a fire-and-forget background task and returns its
// Record as soon as the task is scheduled, not when it completes. An empty
// id gets a generated one. Outcomes never propagate out of the task: they
// are recorded on the Record and discoverable via TaskStatuses or a retained
// Record reference.
//
// Admission failures are synchronous: ErrNotStarted, ErrShutdown,
// ErrQueueFull when MaxQueue live tasks exist, and ErrDuplicateTask when id
// collides with a live task.
func (m *Manager) AddTask(id string, fn TaskFunc, opts ...TaskOption) (*Record, error) {
	if fn == nil {
		return nil, errors.New("task func must not be nil")
	}

	var o taskOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = funcName(fn)
	}
	timeout := m.cfg.DefaultTimeout
	if o.timeoutSet {
		timeout = o.timeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateNew:
		return nil, ErrNotStarted
	case stateStopped:
		return nil, ErrShutdown
	}

	if len(m.records) >= m.cfg.MaxQueue {
		return nil, fmt.Errorf("%w: limit %d reached", ErrQueueFull, m.cfg.MaxQueue)
	}

	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := m.records[id]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateTask, id)
	}

	// The record is registered before the task runs, so a cancel issued
	// right after AddTask returns is observable.
	runCtx, cancel := context.WithCancel(m.ctx)
	rec := newRecord(id, o.name, cancel)
	m.records[id] = rec

	m.wg.Add(1)
	go m.runTask(runCtx, rec, fn, timeout)

	return rec, nil
}

// runTask is the execution wrapper for one tracked task. Every outcome is
// absorbed here; nothing escapes the goroutine.
func (m *Manager) runTask(ctx context.Context, rec *Record, fn TaskFunc, timeout time.Duration) {
	logger := m.logger.With("task_id", rec.ID(), "task_name", rec.Name())

	defer m.wg.Done()
	// Deferred cleanup is not interruptible by the cancellation it reacts
	// to, so the record leaves the live map even when the task was cancelled
	// while still waiting on the limiter.
	defer m.removeRecord(rec.ID())

	if err := m.globalLimiter.Acquire(ctx); err != nil {
		rec.finish(StatusCancelled, nil, err)
		logger.Info("task cancelled while awaiting admission")
		return
	}
	defer m.globalLimiter.Release()

	logger.Info("task started")

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := runProtected(runCtx, fn)

	switch {
	case err == nil:
		rec.finish(StatusCompleted, result, nil)
		logger.Info("task completed")
	case ctx.Err() != nil:
		// External cancellation wins over any error fn returned while
		// unwinding.
		rec.finish(StatusCancelled, nil, err)
		logger.Info("task cancelled")
	case runCtx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded):
		rec.finish(StatusTimeout, nil, err)
		logger.Error("task timed out", "timeout", timeout)
	default:
		rec.finish(StatusFailed, nil, err)
		logger.Error("task failed", "error", err)
	}
}

func (m *Manager) removeRecord(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}

// runProtected invokes fn, converting a panic into an error so one bad task
// cannot take down the shared runtime.
func runProtected(ctx context.Context, fn TaskFunc) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return fn(ctx)
}

// CancelTask requests cancellation of the live task with the given id and
// reports whether such a task existed. Cancelling an unknown or finished
// task is a benign no-op returning false. Cancellation is a request, not a
// synchronous guarantee: the task transitions to cancelled once it observes
// its context.
func (m *Manager) CancelTask(id string) bool {
	m.mu.Lock()
	rec, ok := m.records[id]
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("cancel requested for unknown task", "task_id", id)
		return false
	}
	rec.Cancel()
	m.logger.Info("task cancellation requested", "task_id", id)
	return true
}

// TaskStatuses returns a point-in-time copy of the live task map, keyed by
// task id. Concurrent completions do not affect the returned map.
func (m *Manager) TaskStatuses() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make(map[string]Status, len(m.records))
	for id, rec := range m.records {
		statuses[id] = rec.Status()
	}
	return statuses
}

// LiveCount returns the number of currently-live tasks.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// funcName derives a display name from a function's symbol, trimmed to the
// last path element.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return "func"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "func"
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
