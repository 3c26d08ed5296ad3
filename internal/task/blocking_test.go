package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInThread_RoundTrip(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, DefaultConfig())

	x := 21
	result, err := m.RunInThread(context.Background(), func() (any, error) {
		return x * 2, nil
	}, ThreadOptions{})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRunInThread_Error(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, DefaultConfig())

	_, err := m.RunInThread(context.Background(), func() (any, error) {
		return nil, errors.New("sync failure")
	}, ThreadOptions{})

	assert.EqualError(t, err, "sync failure")
}

func TestRunInThread_Panic(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, DefaultConfig())

	_, err := m.RunInThread(context.Background(), func() (any, error) {
		panic("sync panic")
	}, ThreadOptions{})

	assert.ErrorContains(t, err, "sync panic")
}

// TestRunInThread_TimeoutCancellable verifies that a cancellable delegation
// stops waiting at the deadline while the function keeps running and
// eventually releases its limiter token.
func TestRunInThread_TimeoutCancellable(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, Config{ThreadLimit: 1})

	var finished atomic.Bool
	start := time.Now()
	_, err := m.RunInThread(context.Background(), func() (any, error) {
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return nil, nil
	}, ThreadOptions{Timeout: 20 * time.Millisecond, Cancellable: true})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 80*time.Millisecond,
		"a cancellable wait must end at the deadline")
	assert.False(t, finished.Load(), "the worker should still be running when the caller returns")

	// The abandoned call still holds the only token; once it finishes, the
	// limiter frees up again.
	require.Eventually(t, func() bool {
		err := m.threadLimiter.Acquire(context.Background())
		if err == nil {
			m.threadLimiter.Release()
		}
		return err == nil
	}, time.Second, 10*time.Millisecond)
	assert.True(t, finished.Load())
}

// TestRunInThread_TimeoutNonCancellable verifies that a non-cancellable
// delegation waits the call out before reporting the expired deadline.
func TestRunInThread_TimeoutNonCancellable(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, DefaultConfig())

	start := time.Now()
	_, err := m.RunInThread(context.Background(), func() (any, error) {
		time.Sleep(100 * time.Millisecond)
		return "late", nil
	}, ThreadOptions{Timeout: 20 * time.Millisecond})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond,
		"a non-cancellable wait must last until the function returns")
}

func TestRunInThread_CallerCancellation(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := m.RunInThread(ctx, func() (any, error) {
		time.Sleep(time.Second)
		return nil, nil
	}, ThreadOptions{Cancellable: true})

	assert.ErrorIs(t, err, context.Canceled)
}

// TestRunInThread_LimiterBound verifies the thread limiter bounds concurrent
// delegations.
func TestRunInThread_LimiterBound(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, Config{ThreadLimit: 2})

	var active, peak int64
	results := GatherThreads(context.Background(), m, []BlockingFunc{
		countedSleep(&active, &peak), countedSleep(&active, &peak),
		countedSleep(&active, &peak), countedSleep(&active, &peak),
		countedSleep(&active, &peak), countedSleep(&active, &peak),
	}, GatherOptions{})

	for i, res := range results {
		assert.Equal(t, StatusCompleted, res.Status, "item %d", i)
	}
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func countedSleep(active, peak *int64) BlockingFunc {
	return func() (any, error) {
		now := atomic.AddInt64(active, 1)
		for {
			old := atomic.LoadInt64(peak)
			if now <= old || atomic.CompareAndSwapInt64(peak, old, now) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(active, -1)
		return nil, nil
	}
}

func TestGatherThreads_PerItemTimeout(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, DefaultConfig())

	results := GatherThreads(context.Background(), m, []BlockingFunc{
		func() (any, error) { return "fast", nil },
		func() (any, error) {
			time.Sleep(time.Second)
			return "slow", nil
		},
	}, GatherOptions{TaskTimeout: 30 * time.Millisecond})

	require.Len(t, results, 2)
	assert.Equal(t, StatusCompleted, results[0].Status)
	assert.Equal(t, "fast", results[0].Value)
	assert.Equal(t, StatusTimeout, results[1].Status)
}
