package task

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// GatherOptions configures a batch execution.
type GatherOptions struct {
	// TaskTimeout bounds each item individually. Zero means no per-item
	// deadline.
	TaskTimeout time.Duration

	// GlobalTimeout bounds the whole batch. When it fires, unfinished items
	// are cancelled and Gather returns the partial results.
	GlobalTimeout time.Duration

	// Jitter is the upper bound of a random delay inserted before each item
	// starts, desynchronizing simultaneous bursts. Zero disables it.
	Jitter time.Duration
}

// GatherResult holds the outcome of one batch item. Exactly one of Value and
// Err is meaningful, indicated by Status: StatusCompleted carries a value,
// every other status carries the error that ended the item.
type GatherResult[R any] struct {
	Value  R
	Err    error
	Status Status
}

// Gather executes fn once per input with bounded concurrency and returns the
// outcomes in input order regardless of completion order. Concurrency is
// bounded by the manager's global limiter, so batch work competes fairly
// with individually-submitted tasks for the same budget.
//
// Item failures and timeouts are recorded in place and never abort the rest
// of the batch; only GlobalTimeout cuts the batch short, and even then
// Gather returns the partial results rather than failing. The returned slice
// always has len(inputs) elements. An empty input returns immediately.
//
// Gather is a function rather than a method so it can be generic.
func Gather[A, R any](
	ctx context.Context,
	m *Manager,
	fn func(context.Context, A) (R, error),
	inputs []A,
	opts GatherOptions,
) []GatherResult[R] {
	results := make([]GatherResult[R], len(inputs))
	if len(inputs) == 0 {
		return results
	}

	logger := m.logger.With("batch_func", funcName(fn), "batch_size", len(inputs))

	batchCtx := ctx
	var cancel context.CancelFunc
	if opts.GlobalTimeout > 0 {
		batchCtx, cancel = context.WithTimeout(ctx, opts.GlobalTimeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int, input A) {
			defer wg.Done()
			res := &results[i]

			if opts.Jitter > 0 {
				if !sleepCtx(batchCtx, time.Duration(rand.Int63n(int64(opts.Jitter)))) {
					res.Status, res.Err = StatusCancelled, batchCtx.Err()
					return
				}
			}

			if err := m.globalLimiter.Acquire(batchCtx); err != nil {
				res.Status, res.Err = StatusCancelled, err
				logger.Debug("batch item cancelled before admission", "index", i)
				return
			}
			defer m.globalLimiter.Release()

			itemCtx := batchCtx
			if opts.TaskTimeout > 0 {
				var cancelItem context.CancelFunc
				itemCtx, cancelItem = context.WithTimeout(batchCtx, opts.TaskTimeout)
				defer cancelItem()
			}

			value, err := func() (_ R, err error) {
				defer func() {
					if p := recover(); p != nil {
						err = fmt.Errorf("batch item panicked: %v", p)
					}
				}()
				return fn(itemCtx, input)
			}()

			switch {
			case err == nil:
				res.Value, res.Status = value, StatusCompleted
			case batchCtx.Err() != nil:
				// Batch-level cancellation, normally the global timeout
				// cutting the whole fan-out short.
				res.Status, res.Err = StatusCancelled, err
				logger.Debug("batch item cancelled", "index", i)
			case itemCtx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded):
				res.Status, res.Err = StatusTimeout, err
				logger.Error("batch item timed out", "index", i, "task_timeout", opts.TaskTimeout)
			default:
				res.Status, res.Err = StatusFailed, err
				logger.Error("batch item failed", "index", i, "error", err)
			}
		}(i, inputs[i])
	}
	wg.Wait()

	if opts.GlobalTimeout > 0 && batchCtx.Err() == context.DeadlineExceeded {
		logger.Warn("batch hit global timeout, returning partial results",
			"global_timeout", opts.GlobalTimeout)
	}
	return results
}

// sleepCtx sleeps for d and reports true, or reports false early when ctx is
// done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
