package streams

// All drains the stream into a slice.
func All[T any](stream Stream[T]) ([]T, error) {
	var result []T

	for stream.Next() {
		result = append(result, stream.Current())
	}

	return result, stream.Err()
}

// Fold drains the stream, calling visit for every item and folding it into the accumulator.
// It stops at the first visit error. The stream is always closed.
func Fold[T, A any](stream Stream[T], acc A, visit func(A, T) (A, error)) (A, error) {
	defer stream.Close()

	for stream.Next() {
		var err error

		acc, err = visit(acc, stream.Current())
		if err != nil {
			return acc, err
		}
	}

	return acc, stream.Err()
}

type filterMapStream[T, U any] struct {
	source  Stream[T]
	fn      func(T) (U, bool, error)
	current U
	err     error
}

// FilterMap converts every item with fn, dropping the items for which fn reports false.
// The first fn error ends the stream.
func FilterMap[T, U any](source Stream[T], fn func(T) (U, bool, error)) Stream[U] {
	return &filterMapStream[T, U]{source: source, fn: fn}
}

func (s *filterMapStream[T, U]) Next() bool {
	if s.err != nil {
		return false
	}

	for s.source.Next() {
		value, ok, err := s.fn(s.source.Current())
		if err != nil {
			s.err = err
			return false
		}

		if ok {
			s.current = value
			return true
		}
	}

	return false
}

func (s *filterMapStream[T, U]) Current() U {
	return s.current
}

func (s *filterMapStream[T, U]) Err() error {
	if s.err != nil {
		return s.err
	}

	return s.source.Err()
}

func (s *filterMapStream[T, U]) Close() error {
	return s.source.Close()
}
