package xcontext

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is the cancel cause of a batch replaced by a newer one.
var ErrSuperseded = errors.New("superseded by a newer batch")

// ErrStopped is the cancel cause of a batch aborted through Abort.
var ErrStopped = errors.New("stopped by caller")

// Controller hands out one shared cancellation scope per batch of work. Beginning a new batch
// cancels the previous one, so every request tied to a stage stops together.
type Controller struct {
	mu      sync.Mutex
	current context.Context
	cancel  context.CancelCauseFunc
	gen     uint64
}

func NewController() *Controller {
	return &Controller{}
}

// Begin cancels the current batch, if any, and returns the context of a new one derived
// from parent together with its generation.
func (c *Controller) Begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancelCause(parent)

	c.mu.Lock()
	prev := c.cancel
	c.current = ctx
	c.cancel = cancel
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if prev != nil {
		prev(ErrSuperseded)
	}

	return ctx, gen
}

// Abort cancels the current batch.
func (c *Controller) Abort() {
	c.mu.Lock()
	cancel := c.cancel
	c.current = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel(ErrStopped)
	}
}

// End releases the batch of ctx once its work is done. Ending a batch that was already
// superseded or aborted is a no-op.
func (c *Controller) End(ctx context.Context) {
	c.mu.Lock()
	if c.current != ctx {
		c.mu.Unlock()
		return
	}

	cancel := c.cancel
	c.current = nil
	c.cancel = nil
	c.mu.Unlock()

	cancel(nil)
}

// Generation counts the batches begun so far.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gen
}
