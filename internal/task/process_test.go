package task_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilinzezzzzzz/asynctask/internal/task"
	"github.com/lilinzezzzzzz/asynctask/internal/task/procworker"
)

// TestMain doubles as the entry point for worker processes spawned by
// RunInProcess: the test binary re-executes itself, so the registry must be
// populated and procworker.Main consulted before any test runs.
func TestMain(m *testing.M) {
	task.RegisterProcFunc("double", func(arg any) (any, error) {
		n, ok := arg.(int)
		if !ok {
			return nil, fmt.Errorf("double expects an int, got %T", arg)
		}
		return n * 2, nil
	})
	task.RegisterProcFunc("fail", func(arg any) (any, error) {
		return nil, errors.New("deliberate failure")
	})
	task.RegisterProcFunc("sleep", func(arg any) (any, error) {
		ms, ok := arg.(int)
		if !ok {
			return nil, fmt.Errorf("sleep expects an int, got %T", arg)
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return "woke", nil
	})

	procworker.Main()

	os.Exit(m.Run())
}

func newProcessManager(t *testing.T) *task.Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := task.New(task.DefaultConfig(), logger)
	require.NoError(t, m.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestRunInProcess_RoundTrip(t *testing.T) {
	t.Parallel()

	m := newProcessManager(t)

	result, err := m.RunInProcess(context.Background(), "double", 21, task.ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRunInProcess_FunctionError(t *testing.T) {
	t.Parallel()

	m := newProcessManager(t)

	_, err := m.RunInProcess(context.Background(), "fail", nil, task.ProcessOptions{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "deliberate failure")
}

func TestRunInProcess_UnknownFunction(t *testing.T) {
	t.Parallel()

	m := newProcessManager(t)

	_, err := m.RunInProcess(context.Background(), "no-such-func", nil, task.ProcessOptions{})
	assert.ErrorIs(t, err, task.ErrUnknownProcFunc)
}

// TestRunInProcess_Timeout verifies that the deadline kills the child and
// propagates synchronously to the caller.
func TestRunInProcess_Timeout(t *testing.T) {
	t.Parallel()

	m := newProcessManager(t)

	start := time.Now()
	_, err := m.RunInProcess(context.Background(), "sleep", 5000,
		task.ProcessOptions{Timeout: 100 * time.Millisecond})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second,
		"the caller must not wait for the killed child's natural duration")
}

func TestGatherProcesses(t *testing.T) {
	t.Parallel()

	m := newProcessManager(t)

	results := task.GatherProcesses(context.Background(), m, []task.ProcCall{
		{Name: "double", Arg: 1},
		{Name: "no-such-func"},
		{Name: "double", Arg: 3},
	}, task.GatherOptions{})

	require.Len(t, results, 3)
	assert.Equal(t, task.StatusCompleted, results[0].Status)
	assert.Equal(t, 2, results[0].Value)
	assert.Equal(t, task.StatusFailed, results[1].Status)
	assert.ErrorIs(t, results[1].Err, task.ErrUnknownProcFunc)
	assert.Equal(t, task.StatusCompleted, results[2].Status)
	assert.Equal(t, 6, results[2].Value)
}
