package task

import (
	"context"
	"fmt"
	"time"
)

// BlockingFunc is a synchronous function delegated to a worker goroutine or
// worker process. It receives no context: it is expected to block.
type BlockingFunc func() (any, error)

// ThreadOptions configures a single RunInThread delegation.
type ThreadOptions struct {
	// Timeout bounds the wait for the function's result. Zero means no
	// deadline.
	Timeout time.Duration

	// Cancellable controls whether the wait may be abandoned. When true, a
	// timeout or caller cancellation returns immediately and the function
	// keeps running on its worker goroutine (which cannot be interrupted);
	// it still holds its thread-limiter token until it returns. When false,
	// the wait always lasts until the function returns, and only then is an
	// expired deadline reported.
	Cancellable bool
}

// RunInThread executes fn on a dedicated worker goroutine so the caller's
// cooperative flow is never stalled by blocking work, bounded by the thread
// limiter. Unlike AddTask this is a direct call-and-await: timeouts and
// cancellations propagate synchronously to the caller.
func (m *Manager) RunInThread(ctx context.Context, fn BlockingFunc, opts ThreadOptions) (any, error) {
	if fn == nil {
		return nil, fmt.Errorf("blocking func must not be nil")
	}
	name := funcName(fn)

	if err := m.threadLimiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("thread delegation aborted: %w", err)
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	m.logger.Debug("blocking call delegated to worker", "func", name)

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		// The token is held until the function truly finishes, even when
		// the caller abandoned the wait: the worker still occupies a slot.
		defer m.threadLimiter.Release()
		value, err := func() (_ any, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("blocking call panicked: %v", p)
				}
			}()
			return fn()
		}()
		done <- outcome{value, err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-waitCtx.Done():
	}

	werr := waitCtx.Err()
	if werr == context.DeadlineExceeded && ctx.Err() == nil {
		werr = fmt.Errorf("blocking call timed out after %s: %w", opts.Timeout, context.DeadlineExceeded)
	}

	if opts.Cancellable {
		m.logger.Warn("blocking call abandoned, worker keeps running",
			"func", name, "error", werr)
		return nil, werr
	}

	// Worker goroutines cannot be interrupted; a non-cancellable delegation
	// waits the call out and only then reports the expired deadline.
	<-done
	m.logger.Warn("blocking call finished after its deadline", "func", name)
	return nil, werr
}
