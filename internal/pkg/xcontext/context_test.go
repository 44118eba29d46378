package xcontext

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func TestDetachWithTimeout(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))

	ctx, stop := DetachWithTimeout(parent, time.Minute)
	defer stop()

	cancel()

	require.NoError(t, ctx.Err())
	require.Equal(t, "v", ctx.Value(ctxKey{}))

	_, ok := ctx.Deadline()
	require.True(t, ok)
}

func TestController(t *testing.T) {
	c := NewController()

	first, gen := c.Begin(context.Background())
	require.NoError(t, first.Err())
	require.EqualValues(t, 1, gen)

	second, gen := c.Begin(context.Background())
	require.EqualValues(t, 2, gen)
	require.ErrorIs(t, first.Err(), context.Canceled)
	require.ErrorIs(t, context.Cause(first), ErrSuperseded)
	require.NoError(t, second.Err())
	require.EqualValues(t, 2, c.Generation())

	c.Abort()
	require.ErrorIs(t, context.Cause(second), ErrStopped)

	// Aborting without an active batch is a no-op.
	c.Abort()
}

func TestController_End(t *testing.T) {
	c := NewController()

	first, _ := c.Begin(context.Background())
	second, _ := c.Begin(context.Background())

	c.End(first)
	require.NoError(t, second.Err())

	c.End(second)
	require.ErrorIs(t, second.Err(), context.Canceled)
	require.ErrorIs(t, context.Cause(second), context.Canceled)

	third, gen := c.Begin(context.Background())
	require.NoError(t, third.Err())
	require.EqualValues(t, 3, gen)
	require.EqualValues(t, 3, c.Generation())
}

func TestController_BeginReturnsOwnGeneration(t *testing.T) {
	c := NewController()

	const batches = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]bool)
	)

	for range batches {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ctx, gen := c.Begin(context.Background())
			defer c.End(ctx)

			mu.Lock()
			seen[gen] = true
			mu.Unlock()
		}()
	}

	wg.Wait()

	require.Len(t, seen, batches)
	require.EqualValues(t, batches, c.Generation())
}
