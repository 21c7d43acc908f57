package vision

import (
	"context"
	"testing"
)

// testContext substitutes for t.Context (Go 1.24+): it returns a context
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
