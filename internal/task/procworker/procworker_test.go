package procworker

import (
	"os"
	"testing"

	"github.com/lilinzezzzzzz/asynctask/internal/task"
)

// TestMain_NoopInParent verifies that Main returns instead of exiting when
// the worker marker is absent. The worker path itself is exercised by the
// task package's process tests, which re-execute the test binary.
func TestMain_NoopInParent(t *testing.T) {
	if os.Getenv(task.ProcWorkerEnv) != "" {
		t.Skipf("%s is set in the test environment", task.ProcWorkerEnv)
	}
	Main() // must not exit the process
}
