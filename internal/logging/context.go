package logging

import (
	"context"
	"time"
)

// DetachContextWithTimeout returns a context that survives cancellation of
// parent but carries its own deadline. Best-effort writes (memory append,
// provenance) run on it so a superseded turn does not abort them midway.
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
