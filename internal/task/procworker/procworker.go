// Package procworker implements the child side of process delegation. A
// binary that uses Manager.RunInProcess re-executes itself to run delegated
// functions; Main detects that mode and serves the request instead of
// letting the host application start.
package procworker

import (
	"fmt"
	"os"

	"github.com/lilinzezzzzzz/asynctask/internal/task"
)

// Main must be called at the top of the host binary's main function, after
// all RegisterProcFunc calls. In a normal process it returns immediately; in
// a process started by RunInProcess it serves one delegated call over
// stdin/stdout and exits.
func Main() {
	if os.Getenv(task.ProcWorkerEnv) != "1" {
		return
	}
	if err := task.ServeProcRequest(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "procworker:", err)
		os.Exit(1)
	}
	os.Exit(0)
}
