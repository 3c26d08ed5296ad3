// Package main implements a small host application for the asynchronous
// task manager: it loads configuration, sets up logging, starts a manager,
// exercises each submission path, and shuts down gracefully on SIGINT or
// SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lilinzezzzzzz/asynctask/internal/config"
	"github.com/lilinzezzzzzz/asynctask/internal/platform/logger"
	"github.com/lilinzezzzzzz/asynctask/internal/task"
	"github.com/lilinzezzzzzz/asynctask/internal/task/procworker"
)

func main() {
	registerProcFuncs()

	// In a re-executed worker process this serves one delegated call and
	// exits; in the parent it returns immediately.
	procworker.Main()

	if err := run(); err != nil {
		log.Fatalf("taskdemo: %v", err)
	}
}

func registerProcFuncs() {
	task.RegisterProcFunc("fibonacci", func(arg any) (any, error) {
		n, ok := arg.(int)
		if !ok {
			return nil, fmt.Errorf("fibonacci expects an int, got %T", arg)
		}
		a, b := 0, 1
		for i := 0; i < n; i++ {
			a, b = b, a+b
		}
		return a, nil
	})
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logg, err := logger.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	manager := task.New(task.Config{
		MaxQueue:       cfg.Manager.MaxQueue,
		DefaultTimeout: cfg.Manager.DefaultTimeout,
		GlobalLimit:    cfg.Manager.GlobalLimit,
		ThreadLimit:    cfg.Manager.ThreadLimit,
		ProcessLimit:   cfg.Manager.ProcessLimit,
	}, logg)

	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start task manager: %w", err)
	}

	demo(manager, logg)

	// Block until the host is asked to terminate, then drain the manager.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// demo submits one example through each path the manager offers.
func demo(manager *task.Manager, logg *slog.Logger) {
	rec, err := manager.AddTask("demo-background", func(ctx context.Context) (any, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return "background work done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, task.WithName("demo_background"))
	if err != nil {
		logg.Error("add task failed", "error", err)
	} else {
		logg.Info("background task submitted", "task_id", rec.ID())
	}

	squares := task.Gather(context.Background(), manager,
		func(ctx context.Context, n int) (int, error) {
			return n * n, nil
		},
		[]int{1, 2, 3, 4, 5},
		task.GatherOptions{TaskTimeout: time.Second},
	)
	for i, res := range squares {
		if res.Status == task.StatusCompleted {
			logg.Info("gather item", "index", i, "value", res.Value)
		}
	}

	sum, err := manager.RunInThread(context.Background(), func() (any, error) {
		total := 0
		for i := 1; i <= 100; i++ {
			total += i
		}
		return total, nil
	}, task.ThreadOptions{Timeout: time.Second})
	if err != nil {
		logg.Error("thread delegation failed", "error", err)
	} else {
		logg.Info("thread delegation result", "sum", sum)
	}

	fib, err := manager.RunInProcess(context.Background(), "fibonacci", 30,
		task.ProcessOptions{Timeout: 5 * time.Second})
	switch {
	case errors.Is(err, task.ErrUnknownProcFunc):
		logg.Error("process function missing", "error", err)
	case err != nil:
		logg.Error("process delegation failed", "error", err)
	default:
		logg.Info("process delegation result", "fib", fib)
	}
}
