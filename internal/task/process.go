package task

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ProcWorkerEnv marks a child process as a process-delegation worker. Host
// binaries re-execute themselves with this variable set; procworker.Main
// detects it and serves a single request.
const ProcWorkerEnv = "ASYNCTASK_PROC_WORKER"

// ProcFunc is a function executable in a worker process. Argument and result
// must be gob-encodable; non-builtin concrete types carried in the any
// values need a gob.Register call in both parent and child (which are the
// same binary, so one registration site suffices).
type ProcFunc func(arg any) (any, error)

var procRegistry = struct {
	mu  sync.RWMutex
	fns map[string]ProcFunc
}{fns: make(map[string]ProcFunc)}

// RegisterProcFunc registers fn under name for process delegation. It must
// run before any RunInProcess call and before procworker.Main, so that the
// registry is populated in both the parent and the re-executed child.
// Registering a duplicate or empty name panics, as does a nil fn.
func RegisterProcFunc(name string, fn ProcFunc) {
	if name == "" {
		panic("task: RegisterProcFunc with empty name")
	}
	if fn == nil {
		panic("task: RegisterProcFunc with nil func")
	}
	procRegistry.mu.Lock()
	defer procRegistry.mu.Unlock()
	if _, exists := procRegistry.fns[name]; exists {
		panic(fmt.Sprintf("task: RegisterProcFunc called twice for %q", name))
	}
	procRegistry.fns[name] = fn
}

func lookupProcFunc(name string) (ProcFunc, bool) {
	procRegistry.mu.RLock()
	defer procRegistry.mu.RUnlock()
	fn, ok := procRegistry.fns[name]
	return fn, ok
}

// ProcessOptions configures a single RunInProcess delegation.
type ProcessOptions struct {
	// Timeout bounds the whole delegation. When it fires the child process
	// is killed; process delegation may terminate aggressively since the OS
	// reclaims everything.
	Timeout time.Duration
}

type procRequest struct {
	Name string
	Arg  any
}

type procResponse struct {
	Value  any
	Err    string
	Failed bool
}

// RunInProcess executes the registered function name in a freshly spawned
// worker process (a re-execution of the current binary), bounded by the
// process limiter. The call awaits the child's result; a timeout or caller
// cancellation kills the child and propagates synchronously.
func (m *Manager) RunInProcess(ctx context.Context, name string, arg any, opts ProcessOptions) (any, error) {
	if _, ok := lookupProcFunc(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcFunc, name)
	}

	if err := m.processLimiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("process delegation aborted: %w", err)
	}
	defer m.processLimiter.Release()

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable for worker process: %w", err)
	}

	cmd := exec.CommandContext(runCtx, exe)
	cmd.Env = append(os.Environ(), ProcWorkerEnv+"=1")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}
	m.logger.Debug("worker process started", "func", name, "pid", cmd.Process.Pid)

	encErr := gob.NewEncoder(stdin).Encode(procRequest{Name: name, Arg: arg})
	if cerr := stdin.Close(); encErr == nil {
		encErr = cerr
	}

	var resp procResponse
	var decErr error
	if encErr == nil {
		decErr = gob.NewDecoder(stdout).Decode(&resp)
	}

	waitErr := cmd.Wait()

	// Pipe errors after a kill are noise; the deadline is the real cause.
	if cause := runCtx.Err(); cause != nil {
		if cause == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("worker process killed after %s: %w", opts.Timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("process delegation cancelled: %w", cause)
	}
	if encErr != nil {
		return nil, fmt.Errorf("send request to worker process: %w", encErr)
	}
	if decErr != nil {
		return nil, fmt.Errorf("read response from worker process: %w", decErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("worker process exited abnormally: %w", waitErr)
	}
	if resp.Failed {
		return nil, fmt.Errorf("process function %q failed: %s", name, resp.Err)
	}
	return resp.Value, nil
}

// ServeProcRequest handles the child side of one delegation: it decodes a
// request from r, dispatches it through the registry, and encodes the
// response to w. procworker.Main is the intended caller.
func ServeProcRequest(r io.Reader, w io.Writer) error {
	var req procRequest
	if err := gob.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decode process request: %w", err)
	}

	fn, ok := lookupProcFunc(req.Name)
	if !ok {
		return encodeProcResponse(w, procResponse{
			Failed: true,
			Err:    fmt.Sprintf("function %q is not registered in the worker", req.Name),
		})
	}

	value, err := func() (_ any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("process function panicked: %v", p)
			}
		}()
		return fn(req.Arg)
	}()
	if err != nil {
		return encodeProcResponse(w, procResponse{Failed: true, Err: err.Error()})
	}
	return encodeProcResponse(w, procResponse{Value: value})
}

func encodeProcResponse(w io.Writer, resp procResponse) error {
	if err := gob.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("encode process response: %w", err)
	}
	return nil
}
