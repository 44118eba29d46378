// Package events defines the diagnostic event contract. Every significant action of the
// orchestration layer is emitted as a named event with structured data.
package events

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/looplj/reportflow/internal/log"
)

const (
	CacheHit        = "cache.hit"
	CacheMiss       = "cache.miss"
	CacheSet        = "cache.set"
	CacheDedup      = "cache.dedup"
	CacheCleanup    = "cache.cleanup"
	CacheEvict      = "cache.evict"
	CacheInvalidate = "cache.invalidate"
	CacheStale      = "cache.pending_stale"

	RetryAttempt   = "retry.attempt"
	RetryExhausted = "retry.exhausted"

	CircuitOpen     = "circuit.open"
	CircuitClose    = "circuit.close"
	CircuitHalfOpen = "circuit.half_open"
	CircuitReject   = "circuit.reject"

	RateLimitWait = "ratelimit.wait"

	ProviderFallback  = "provider.fallback"
	ProviderExhausted = "provider.exhausted"

	TaskStart   = "task.start"
	TaskSuccess = "task.success"
	TaskFailure = "task.failure"
	TaskAborted = "task.aborted"

	GroundingRetry    = "grounding.retry"
	GroundingResolved = "grounding.resolved"
	GroundingFallback = "grounding.fallback"

	RundownStart   = "rundown.start"
	RundownSection = "rundown.section"
	RundownDone    = "rundown.done"
)

// Data carries the structured payload of an event.
type Data = map[string]any

// Event is a named diagnostic record.
type Event struct {
	Name string    `json:"name"`
	Data Data      `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Sink receives diagnostic events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

// Emit sends a named event to the sink, tolerating a nil sink.
func Emit(ctx context.Context, sink Sink, name string, data Data) {
	if sink == nil {
		return
	}

	sink.Emit(ctx, Event{Name: name, Data: data, At: time.Now()})
}

// Nop discards all events.
var Nop Sink = SinkFunc(func(context.Context, Event) {})

type multiSink []Sink

// Multi fans an event out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	return multiSink(lo.Filter(sinks, func(s Sink, _ int) bool { return s != nil }))
}

func (m multiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		sink.Emit(ctx, event)
	}
}

// LogSink writes every event as a structured log record.
type LogSink struct {
	logger *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, event Event) {
	logger := s.logger
	if logger == nil {
		logger = log.GetGlobalLogger()
	}

	fields := make([]log.Field, 0, len(event.Data)+1)
	fields = append(fields, log.String("event", event.Name))

	for _, key := range slices.Sorted(maps.Keys(event.Data)) {
		if err, ok := event.Data[key].(error); ok {
			fields = append(fields, log.String(key, err.Error()))
			continue
		}

		fields = append(fields, log.Any(key, event.Data[key]))
	}

	switch event.Name {
	case TaskFailure, RetryExhausted, ProviderExhausted, CircuitOpen:
		logger.Warn(ctx, event.Name, fields...)
	case TaskStart, TaskSuccess, ProviderFallback, CircuitClose, GroundingRetry:
		logger.Info(ctx, event.Name, fields...)
	default:
		logger.Debug(ctx, event.Name, fields...)
	}
}

// Recorder keeps the most recent events in memory.
type Recorder struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// NewRecorder keeps up to capacity events; zero means unbounded.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{capacity: capacity}
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	if r.capacity > 0 && len(r.events) > r.capacity {
		r.events = slices.Delete(r.events, 0, len(r.events)-r.capacity)
	}
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}

// Names returns the recorded event names, oldest first.
func (r *Recorder) Names() []string {
	return lo.Map(r.Events(), func(e Event, _ int) string { return e.Name })
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(name string) int {
	return lo.CountBy(r.Events(), func(e Event) bool { return e.Name == name })
}

// Filter returns the recorded events with the given name.
func (r *Recorder) Filter(name string) []Event {
	return lo.Filter(r.Events(), func(e Event, _ int) bool { return e.Name == name })
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}
