package task

import "context"

// ProcCall names one registered process function invocation for
// GatherProcesses.
type ProcCall struct {
	Name string
	Arg  any
}

// GatherThreads runs a batch of blocking functions through the thread
// delegation path with Gather's semantics: global-limiter admission, ordered
// results, per-item absorb-in-place failures, and the batch deadlines from
// opts. Delegations are cancellable so the batch deadlines can actually cut
// the waits short; abandoned functions keep running on their workers.
func GatherThreads(ctx context.Context, m *Manager, fns []BlockingFunc, opts GatherOptions) []GatherResult[any] {
	return Gather(ctx, m, func(ctx context.Context, fn BlockingFunc) (any, error) {
		return m.RunInThread(ctx, fn, ThreadOptions{Cancellable: true})
	}, fns, opts)
}

// GatherProcesses runs a batch of registered process functions with Gather's
// semantics. Each item occupies both a global-limiter and a process-limiter
// token while it runs; a batch deadline kills still-running children.
func GatherProcesses(ctx context.Context, m *Manager, calls []ProcCall, opts GatherOptions) []GatherResult[any] {
	return Gather(ctx, m, func(ctx context.Context, call ProcCall) (any, error) {
		return m.RunInProcess(ctx, call.Name, call.Arg, ProcessOptions{})
	}, calls, opts)
}
