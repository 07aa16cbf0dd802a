// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// WaitFor polls condition every 50ms until it returns true, failing the test
// with message after timeout.
//
//	testutil.WaitFor(t, 5*time.Second, "node-01 offline", func() bool {
//	    return !statusOf(tracker, "node-01").Online
//	})
func WaitFor(t testing.TB, timeout time.Duration, message string, condition func() bool) {
	t.Helper()

	if condition() {
		return
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s (waited %v)", message, timeout)
		}
	}
}

// GetFreeAddress returns a localhost:port address that was free a moment ago.
func GetFreeAddress() string {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		panic(fmt.Sprintf("failed to get free port: %v", err))
	}
	defer listener.Close()
	return listener.Addr().String()
}

var metricsTestMutex sync.Mutex

// LockMetrics serializes tests that reset or assert on the global Prometheus
// collectors in util/metrics. The lock is released by t.Cleanup.
func LockMetrics(t *testing.T) {
	t.Helper()
	metricsTestMutex.Lock()
	t.Cleanup(metricsTestMutex.Unlock)
}
