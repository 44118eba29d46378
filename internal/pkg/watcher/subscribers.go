package watcher

import "sync"

// subscribers is the fan out shared by the memory and redis watchers.
type subscribers[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan T
	buffer int

	// onChange runs under the lock with the subscriber count after each change.
	onChange func(active int)
}

func newSubscribers[T any](buffer int) *subscribers[T] {
	return &subscribers[T]{subs: make(map[uint64]chan T), buffer: buffer}
}

func (s *subscribers[T]) add() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan T, s.buffer)
	s.subs[id] = ch

	if s.onChange != nil {
		s.onChange(len(s.subs))
	}

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		sub, ok := s.subs[id]
		if !ok {
			return
		}

		delete(s.subs, id)
		close(sub)

		if s.onChange != nil {
			s.onChange(len(s.subs))
		}
	}
}

func (s *subscribers[T]) broadcast(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *subscribers[T]) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
