package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/log"
)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed the circuit is "complete." Requests flow through to the provider.
	StateClosed CircuitBreakerState = "closed"

	// StateHalfOpen the reset window elapsed and a single trial request may pass.
	StateHalfOpen CircuitBreakerState = "half_open"

	// StateOpen the circuit is "open." Requests fail fast.
	StateOpen CircuitBreakerState = "open"
)

// BreakerPolicy configures when a provider circuit opens and when it may be probed again.
type BreakerPolicy struct {
	// Consecutive failures that open the circuit.
	Threshold int `conf:"threshold" yaml:"threshold" json:"threshold"`

	// Time since the last failure after which a single trial request is allowed.
	ResetWindow time.Duration `conf:"reset_window" yaml:"reset_window" json:"reset_window"`
}

// DefaultBreakerPolicy returns the default circuit breaker policy.
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{
		Threshold:   5,
		ResetWindow: 30 * time.Second,
	}
}

// CircuitOpenError is returned without attempting a call while a provider circuit is open.
type CircuitOpenError struct {
	Provider string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %s", e.Provider)
}

type breakerStats struct {
	consecutiveFailures int
	lastFailureAt       time.Time
	open                bool

	// A trial was handed out and its outcome is not yet recorded.
	probing        bool
	probeStartedAt time.Time
}

// ProviderStats is a snapshot of one provider circuit.
type ProviderStats struct {
	Provider            string              `json:"provider"`
	State               CircuitBreakerState `json:"state"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastFailureAt       time.Time           `json:"last_failure_at,omitzero"`
}

// CircuitBreaker tracks consecutive failures per provider identity.
type CircuitBreaker struct {
	mu     sync.Mutex
	stats  map[string]*breakerStats
	policy BreakerPolicy
	now    func() time.Time
	sink   events.Sink
}

type BreakerOption func(*CircuitBreaker)

func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

func WithBreakerEventSink(sink events.Sink) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.sink = sink
	}
}

// NewCircuitBreaker creates a breaker registry. Zero policy fields take the defaults.
func NewCircuitBreaker(policy BreakerPolicy, opts ...BreakerOption) *CircuitBreaker {
	def := DefaultBreakerPolicy()
	if policy.Threshold <= 0 {
		policy.Threshold = def.Threshold
	}

	if policy.ResetWindow <= 0 {
		policy.ResetWindow = def.ResetWindow
	}

	cb := &CircuitBreaker{
		stats:  make(map[string]*breakerStats),
		policy: policy,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

func (cb *CircuitBreaker) Policy() BreakerPolicy {
	return cb.policy
}

func (cb *CircuitBreaker) getStatsLocked(provider string) *breakerStats {
	stats, ok := cb.stats[provider]
	if !ok {
		stats = &breakerStats{}
		cb.stats[provider] = stats
	}

	return stats
}

// IsOpen reports whether calls to provider must fail fast. Once the reset window has elapsed
// on an open circuit, exactly one call observes false and becomes the trial request; the
// circuit stays open for everyone else until the trial outcome is recorded.
func (cb *CircuitBreaker) IsOpen(ctx context.Context, provider string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats, ok := cb.stats[provider]
	if !ok || !stats.open {
		return false
	}

	now := cb.now()

	// A trial whose outcome was never recorded (e.g. canceled) expires after a window.
	if stats.probing && now.Sub(stats.probeStartedAt) < cb.policy.ResetWindow {
		return true
	}

	if now.Sub(stats.lastFailureAt) < cb.policy.ResetWindow {
		return true
	}

	stats.probing = true
	stats.probeStartedAt = now

	events.Emit(ctx, cb.sink, events.CircuitHalfOpen, events.Data{
		"provider": provider,
		"failures": stats.consecutiveFailures,
	})

	return false
}

// RecordFailure counts a failed call and opens the circuit at the threshold. A failed trial
// re-opens the circuit with a fresh timer.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := cb.getStatsLocked(provider)
	wasOpen := stats.open
	wasProbing := stats.probing

	stats.consecutiveFailures++
	stats.lastFailureAt = cb.now()
	stats.probing = false

	if stats.consecutiveFailures < cb.policy.Threshold {
		return
	}

	stats.open = true

	if !wasOpen || wasProbing {
		log.Warn(ctx, "provider circuit opened due to consecutive failures",
			log.String("provider", provider),
			log.Int("failures", stats.consecutiveFailures),
			log.Bool("trial", wasProbing),
		)

		events.Emit(ctx, cb.sink, events.CircuitOpen, events.Data{
			"provider": provider,
			"failures": stats.consecutiveFailures,
			"trial":    wasProbing,
		})
	}
}

// RecordSuccess resets the provider circuit to closed.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats, ok := cb.stats[provider]
	if !ok {
		return
	}

	if stats.open {
		log.Info(ctx, "provider circuit recovered to closed state",
			log.String("provider", provider),
			log.Int("previous_failures", stats.consecutiveFailures),
		)

		events.Emit(ctx, cb.sink, events.CircuitClose, events.Data{
			"provider":          provider,
			"previous_failures": stats.consecutiveFailures,
		})
	}

	*stats = breakerStats{}
}

// Reset manually closes a provider circuit.
func (cb *CircuitBreaker) Reset(ctx context.Context, provider string) {
	cb.RecordSuccess(ctx, provider)
}

// Stats returns the snapshot of a single provider.
func (cb *CircuitBreaker) Stats(provider string) ProviderStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats, ok := cb.stats[provider]
	if !ok {
		return ProviderStats{Provider: provider, State: StateClosed}
	}

	return cb.snapshotLocked(provider, stats)
}

// Snapshot returns every tracked provider, sorted by identity.
func (cb *CircuitBreaker) Snapshot() []ProviderStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	result := make([]ProviderStats, 0, len(cb.stats))
	for provider, stats := range cb.stats {
		result = append(result, cb.snapshotLocked(provider, stats))
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Provider < result[j].Provider })

	return result
}

func (cb *CircuitBreaker) snapshotLocked(provider string, stats *breakerStats) ProviderStats {
	state := StateClosed

	switch {
	case stats.open && stats.probing:
		state = StateHalfOpen
	case stats.open && cb.now().Sub(stats.lastFailureAt) >= cb.policy.ResetWindow:
		state = StateHalfOpen
	case stats.open:
		state = StateOpen
	}

	return ProviderStats{
		Provider:            provider,
		State:               state,
		ConsecutiveFailures: stats.consecutiveFailures,
		LastFailureAt:       stats.lastFailureAt,
	}
}
