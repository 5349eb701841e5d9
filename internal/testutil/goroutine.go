// Package testutil holds helpers shared by package tests.
package testutil

import (
	"runtime"
	"testing"
	"time"
)

// leakDeadline bounds how long AssertNoGoroutineLeaks waits for producers
// and tick loops to wind down.
const leakDeadline = 10 * time.Second

// GoroutineBaseline settles the runtime and returns the goroutine count to
// compare against after the code under test has been stopped.
func GoroutineBaseline() int {
	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	return runtime.NumGoroutine()
}

// AssertNoGoroutineLeaks checks that the goroutine count returns to baseline
// within a deadline. On failure it logs every goroutine's stack.
func AssertNoGoroutineLeaks(t *testing.T, baseline int, margin int) {
	t.Helper()
	deadline := time.Now().Add(leakDeadline)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+margin {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	t.Errorf("goroutine leak: baseline=%d, current=%d, margin=%d", baseline, runtime.NumGoroutine(), margin)
	t.Logf("goroutine dump:\n%s", buf[:n])
}
