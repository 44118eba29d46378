// Package ratelimit bounds the number of concurrent and per-minute requests sent to the
// provider transports.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/log"
)

type Config struct {
	MaxConcurrent int `conf:"max_concurrent" yaml:"max_concurrent" json:"max_concurrent"`
	MaxPerMinute  int `conf:"max_per_minute" yaml:"max_per_minute" json:"max_per_minute"`
}

// DefaultConfig mirrors the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 5,
		MaxPerMinute:  60,
	}
}

const window = time.Minute

// Status is a read-only snapshot of the limiter.
type Status struct {
	Active            int `json:"active"`
	Queued            int `json:"queued"`
	InWindow          int `json:"in_window"`
	MaxConcurrent     int `json:"max_concurrent"`
	MaxPerMinute      int `json:"max_per_minute"`
	RemainingSlots    int `json:"remaining_slots"`
	RemainingInWindow int `json:"remaining_in_window"`
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// Limiter admits requests in FIFO order once both the concurrency bound and the trailing
// one minute volume allow it.
type Limiter struct {
	mu sync.Mutex

	maxConcurrent int
	maxPerMinute  int

	active int
	starts []time.Time
	queue  *list.List

	timer *time.Timer
	now   func() time.Time
	sink  events.Sink
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithEventSink reports waits to the diagnostic sink.
func WithEventSink(sink events.Sink) Option {
	return func(l *Limiter) {
		l.sink = sink
	}
}

// New creates a limiter. Non positive bounds disable the corresponding check.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		maxConcurrent: cfg.MaxConcurrent,
		maxPerMinute:  cfg.MaxPerMinute,
		queue:         list.New(),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Acquire blocks until a slot is available or ctx is done. A successful Acquire must be
// paired with exactly one Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()

	if l.queue.Len() == 0 && l.admissibleLocked(l.now()) {
		l.grantLocked(l.now())
		l.mu.Unlock()

		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	elem := l.queue.PushBack(w)
	queued := l.queue.Len()
	l.scheduleLocked()
	l.mu.Unlock()

	events.Emit(ctx, l.sink, events.RateLimitWait, events.Data{"queued": queued})

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		defer l.mu.Unlock()

		if w.granted {
			// Lost the race with a grant: hand the slot on.
			l.active--
			l.dispatchLocked()
		} else {
			l.queue.Remove(elem)
		}

		return ctx.Err()
	}
}

// Release frees a slot and wakes the next queued acquirer.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == 0 {
		log.Warn(context.Background(), "rate limiter released more than acquired")
		return
	}

	l.active--
	l.dispatchLocked()
}

// Do runs fn while holding a slot.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	return fn(ctx)
}

// Status reports the current usage without changing state.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	inWindow := 0

	for _, start := range l.starts {
		if now.Sub(start) < window {
			inWindow++
		}
	}

	status := Status{
		Active:        l.active,
		Queued:        l.queue.Len(),
		InWindow:      inWindow,
		MaxConcurrent: l.maxConcurrent,
		MaxPerMinute:  l.maxPerMinute,
	}

	if l.maxConcurrent > 0 {
		status.RemainingSlots = max(l.maxConcurrent-l.active, 0)
	}

	if l.maxPerMinute > 0 {
		status.RemainingInWindow = max(l.maxPerMinute-inWindow, 0)
	}

	return status
}

func (l *Limiter) admissibleLocked(now time.Time) bool {
	if l.maxConcurrent > 0 && l.active >= l.maxConcurrent {
		return false
	}

	if l.maxPerMinute > 0 {
		l.pruneLocked(now)

		if len(l.starts) >= l.maxPerMinute {
			return false
		}
	}

	return true
}

func (l *Limiter) grantLocked(now time.Time) {
	l.active++

	if l.maxPerMinute > 0 {
		l.starts = append(l.starts, now)
	}
}

func (l *Limiter) pruneLocked(now time.Time) {
	drop := 0
	for drop < len(l.starts) && now.Sub(l.starts[drop]) >= window {
		drop++
	}

	if drop > 0 {
		l.starts = append(l.starts[:0], l.starts[drop:]...)
	}
}

// dispatchLocked releases queued waiters in FIFO order while capacity allows.
func (l *Limiter) dispatchLocked() {
	for l.queue.Len() > 0 {
		now := l.now()
		if !l.admissibleLocked(now) {
			break
		}

		front := l.queue.Front()
		l.queue.Remove(front)

		//nolint:forcetypeassert // Only waiters are queued.
		w := front.Value.(*waiter)
		w.granted = true
		l.grantLocked(now)
		close(w.ready)
	}

	l.scheduleLocked()
}

// scheduleLocked arms a timer for when the oldest start leaves the window, if waiters are
// blocked by the per-minute bound rather than by concurrency.
func (l *Limiter) scheduleLocked() {
	if l.queue.Len() == 0 || l.maxPerMinute <= 0 || l.timer != nil {
		return
	}

	if len(l.starts) < l.maxPerMinute {
		return
	}

	wait := window - l.now().Sub(l.starts[0])
	if wait < 0 {
		wait = 0
	}

	l.timer = time.AfterFunc(wait, func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		l.timer = nil
		l.dispatchLocked()
	})
}
