// Package task provides an in-process asynchronous task manager. It offers
// fire-and-forget background tasks with cancellation and status tracking,
// bounded-concurrency batch execution with per-item and global deadlines,
// and delegation of blocking functions to worker goroutines or worker
// processes, all admission-controlled by capacity limiters.
package task
