// Package watcher broadcasts best effort signals between goroutines or, through redis
// pub/sub, between instances. Slow subscribers drop events.
package watcher

import "context"

// Watcher is the subscriber side. The stop function must be called exactly once.
type Watcher[T any] interface {
	Watch() (<-chan T, func())
}

// Notifier is a Watcher that can also publish events.
type Notifier[T any] interface {
	Watcher[T]

	Notify(ctx context.Context, v T) error
	Close() error
}

type Options struct {
	// Channel is the redis pub/sub channel.
	Channel string
	// Buffer is the per subscriber queue length.
	Buffer int
}

func (o Options) buffer() int {
	if o.Buffer <= 0 {
		return 1
	}

	return o.Buffer
}
