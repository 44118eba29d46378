package cache

import (
	"context"
	"time"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/log"
)

// CallOptions tune a single WithCache call.
type CallOptions struct {
	// Lifetime of the produced value; the store default when zero.
	TTL time.Duration

	// Bypass reads but still store the fresh value.
	Refresh bool
}

// WithCache returns the cached value for key or runs producer once for all concurrent
// callers of the same key. Errors are never cached. The producer runs detached from any single
// caller: a caller whose ctx ends while waiting gets an abort error and the producer keeps
// running for the others. It is canceled once the last waiter has left.
func (s *Store[T]) WithCache(
	ctx context.Context,
	key string,
	producer func(ctx context.Context) (T, error),
	opts CallOptions,
) (T, error) {
	var zero T

	if !opts.Refresh {
		if value, ok := s.Get(ctx, key); ok {
			return value, nil
		}

		if value, ok := s.getShared(ctx, key); ok {
			return value, nil
		}
	}

	events.Emit(ctx, s.sink, events.CacheMiss, events.Data{"key": key})

	s.mu.Lock()

	if f, ok := s.pending[key]; ok && s.now().Sub(f.startedAt) > s.cfg.PendingTimeout {
		// The producer stalled; later callers start over.
		s.releaseFlightLocked(key, f)

		log.Warn(ctx, "dropping stale pending cache request", log.String("key", key))
		events.Emit(ctx, s.sink, events.CacheStale, events.Data{"key": key})
	}

	f, ok := s.pending[key]
	if ok {
		s.dedups.Add(1)
		events.Emit(ctx, s.sink, events.CacheDedup, events.Data{"key": key})
	} else {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{startedAt: s.now(), ctx: flightCtx, cancel: cancel}
		s.pending[key] = f
	}

	f.waiters++

	// pending and the singleflight call are registered and released together under s.mu,
	// so a caller that finds f always joins f's call.
	ch := s.group.DoChan(key, func() (any, error) {
		defer func() {
			s.mu.Lock()
			s.releaseFlightLocked(key, f)
			s.mu.Unlock()
			f.cancel()
		}()

		value, err := producer(f.ctx)
		if err != nil {
			return nil, err
		}

		s.Set(f.ctx, key, value, opts.TTL)

		return value, nil
	})

	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.leaveFlight(key, f)
		return zero, llm.Aborted(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		value, _ := res.Val.(T)

		return value, nil
	}
}

// leaveFlight drops a waiter that gave up; the producer is canceled with the last one.
func (s *Store[T]) leaveFlight(key string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}

	s.releaseFlightLocked(key, f)
	f.cancel()
}

func (s *Store[T]) releaseFlightLocked(key string, f *flight) {
	if s.pending[key] != f {
		return
	}

	delete(s.pending, key)
	s.group.Forget(key)
}
