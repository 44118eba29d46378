package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/pkg/watcher"
)

// InvalidationChannel is the redis channel carrying invalidations between instances.
const InvalidationChannel = "reportflow:cache:invalidate"

// Invalidation is the broadcast form of Store.Invalidate.
type Invalidation struct {
	Origin  string `json:"origin"`
	Pattern string `json:"pattern"`
}

// Broadcaster invalidates a store and propagates the invalidation to the other instances
// subscribed to the same notifier. Remote invalidations only touch the local tier; the
// origin already cleared the shared one.
type Broadcaster[T any] struct {
	store    *Store[T]
	notifier watcher.Notifier[Invalidation]
	origin   string

	once sync.Once
	stop func()
	done chan struct{}
}

func NewBroadcaster[T any](store *Store[T], notifier watcher.Notifier[Invalidation]) *Broadcaster[T] {
	return &Broadcaster[T]{
		store:    store,
		notifier: notifier,
		origin:   uuid.NewString(),
		done:     make(chan struct{}),
	}
}

// Start applies remote invalidations until Close.
func (b *Broadcaster[T]) Start() {
	ch, stop := b.notifier.Watch()
	b.stop = stop

	go func() {
		defer close(b.done)

		for inv := range ch {
			if inv.Origin == b.origin {
				continue
			}

			ctx := context.Background()
			removed := b.store.invalidateLocal(inv.Pattern)

			events.Emit(ctx, b.store.sink, events.CacheInvalidate, events.Data{
				"pattern": inv.Pattern,
				"removed": removed,
				"remote":  true,
			})
		}
	}()
}

// Invalidate clears matching entries locally and notifies the other instances.
func (b *Broadcaster[T]) Invalidate(ctx context.Context, pattern string) int {
	removed := b.store.Invalidate(ctx, pattern)

	if err := b.notifier.Notify(ctx, Invalidation{Origin: b.origin, Pattern: pattern}); err != nil {
		log.Warn(ctx, "failed to broadcast cache invalidation", log.String("pattern", pattern), log.Cause(err))
	}

	return removed
}

func (b *Broadcaster[T]) Close() error {
	var err error

	b.once.Do(func() {
		if b.stop != nil {
			b.stop()
			<-b.done
		}

		err = b.notifier.Close()
	})

	return err
}
