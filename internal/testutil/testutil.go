// Package testutil provides shared test helpers for the proxy.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// SeenFile returns a path for a throwaway seen-store file under the
// test's temp directory.
func SeenFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "seen-events.json")
}
