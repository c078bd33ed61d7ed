//go:build leaktests
// +build leaktests

package daemonserver

import (
	"testing"

	"go.uber.org/goleak"
)

func TestServerShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	// newTestServer registers a t.Cleanup that shuts the server (and its
	// db) down before goleak.VerifyNone runs.
	_, sockPath := newTestServer(t)
	_ = sendRequest(t, sockPath, "PING")
}
