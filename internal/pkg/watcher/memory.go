package watcher

import "context"

type memoryWatcher[T any] struct {
	subs *subscribers[T]
}

// NewMemory returns a watcher local to the process.
func NewMemory[T any](opts Options) Notifier[T] {
	return &memoryWatcher[T]{subs: newSubscribers[T](opts.buffer())}
}

func (w *memoryWatcher[T]) Watch() (<-chan T, func()) {
	return w.subs.add()
}

func (w *memoryWatcher[T]) Notify(_ context.Context, v T) error {
	w.subs.broadcast(v)
	return nil
}

func (w *memoryWatcher[T]) Close() error {
	w.subs.closeAll()
	return nil
}
