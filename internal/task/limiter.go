package task

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many operations of one class run at the same time.
// Acquisition suspends the caller when all tokens are held, providing
// backpressure instead of unbounded queuing. Capacity is fixed for the
// limiter's lifetime.
type Limiter struct {
	sem *semaphore.Weighted
	max int
}

// NewLimiter creates a limiter admitting at most max concurrent holders.
// Values below 1 are raised to 1.
func NewLimiter(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: max,
	}
}

// Acquire blocks until a token is available or ctx is done. The only error
// it returns is ctx's error; on success the caller must Release the token,
// typically via defer so release survives panics and early returns.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release returns a previously acquired token.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Cap returns the configured maximum number of concurrent holders.
func (l *Limiter) Cap() int {
	return l.max
}

// Default limiter sizes are pure functions of the logical CPU count,
// evaluated once at Manager construction. The global and thread limits are
// generous because I/O-bound work benefits from concurrency well above the
// CPU count; the process limit stays conservative because process spawn and
// IPC overhead make high concurrency counterproductive.

func defaultGlobalLimit() int {
	return clampInt(4*runtime.NumCPU(), 32, 256)
}

func defaultThreadLimit() int {
	return clampInt((2*defaultGlobalLimit())/3, 16, 128)
}

func defaultProcessLimit() int {
	return clampInt(runtime.NumCPU(), 1, 8)
}

func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
