package streams

// Stream is a pull based sequence. Callers loop on Next, read Current, then check Err.
// Close must be called once the stream is no longer consumed.
type Stream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

type sliceStream[T any] struct {
	items []T
	index int
}

// SliceStream returns a stream over the given items.
func SliceStream[T any](items []T) Stream[T] {
	return &sliceStream[T]{items: items, index: -1}
}

func (s *sliceStream[T]) Next() bool {
	if s.index+1 >= len(s.items) {
		return false
	}

	s.index++

	return true
}

func (s *sliceStream[T]) Current() T {
	if s.index < 0 || s.index >= len(s.items) {
		var zero T
		return zero
	}

	return s.items[s.index]
}

func (s *sliceStream[T]) Err() error   { return nil }
func (s *sliceStream[T]) Close() error { return nil }

// ErrorStream yields the items and then fails with err.
func ErrorStream[T any](items []T, err error) Stream[T] {
	return &errorStream[T]{sliceStream: sliceStream[T]{items: items, index: -1}, err: err}
}

type errorStream[T any] struct {
	sliceStream[T]

	err error
}

func (s *errorStream[T]) Err() error {
	if s.index+1 >= len(s.items) {
		return s.err
	}

	return nil
}

type onCloseStream[T any] struct {
	Stream[T]

	closed  bool
	onClose func()
}

// OnClose runs fn exactly once when the stream is closed.
func OnClose[T any](stream Stream[T], fn func()) Stream[T] {
	return &onCloseStream[T]{Stream: stream, onClose: fn}
}

func (s *onCloseStream[T]) Close() error {
	err := s.Stream.Close()

	if !s.closed {
		s.closed = true
		s.onClose()
	}

	return err
}
