package xcontext

import (
	"context"
	"time"
)

// DetachWithTimeout returns a context that survives the cancellation of ctx but keeps its
// values, bounded by timeout.
func DetachWithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, timeout)

	return ctx, cancel
}
