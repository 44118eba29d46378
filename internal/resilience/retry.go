package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/log"
)

// RetryPolicy configures retryWithBackoff.
type RetryPolicy struct {
	MaxRetries int           `conf:"max_retries" yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `conf:"base_delay" yaml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `conf:"max_delay" yaml:"max_delay" json:"max_delay"`
	MaxJitter  time.Duration `conf:"max_jitter" yaml:"max_jitter" json:"max_jitter"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		MaxJitter:  time.Second,
	}
}

// Delay returns the backoff before retry number attempt (zero based).
func (p RetryPolicy) Delay(attempt int, jitter time.Duration) time.Duration {
	delay := p.BaseDelay
	for range attempt {
		if p.MaxDelay > 0 && delay > p.MaxDelay/2 {
			delay = p.MaxDelay
			break
		}

		delay *= 2
	}

	delay += jitter
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}

// RetryError is returned once every attempt failed with a retryable error.
type RetryError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("provider %s failed after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// RetryOption overrides the engine policy for a single call.
type RetryOption func(*RetryPolicy)

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) RetryOption {
	return func(p *RetryPolicy) {
		p.MaxRetries = n
	}
}

// Engine runs provider calls with exponential backoff, guarded by the circuit breaker.
type Engine struct {
	breaker *CircuitBreaker
	policy  RetryPolicy
	sink    events.Sink
	jitter  func(max time.Duration) time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

type EngineOption func(*Engine)

func WithEngineEventSink(sink events.Sink) EngineOption {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithSleeper overrides how backoff sleeps are performed.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// WithJitter overrides the jitter source.
func WithJitter(jitter func(max time.Duration) time.Duration) EngineOption {
	return func(e *Engine) {
		e.jitter = jitter
	}
}

func NewEngine(breaker *CircuitBreaker, policy RetryPolicy, opts ...EngineOption) *Engine {
	e := &Engine{
		breaker: breaker,
		policy:  policy,
		jitter:  randomJitter,
		sleep:   sleepContext,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Engine) Breaker() *CircuitBreaker {
	return e.breaker
}

func (e *Engine) Policy() RetryPolicy {
	return e.policy
}

// Do is RetryWithBackoff for calls without a result.
func (e *Engine) Do(ctx context.Context, provider string, fn func(ctx context.Context) error, opts ...RetryOption) error {
	_, err := RetryWithBackoff(ctx, e, provider, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)

	return err
}

// RetryWithBackoff calls fn until it succeeds, fails with a non retryable error or the retry
// budget is spent. Calls fail fast with *CircuitOpenError while the provider circuit is open.
// Aborts are returned immediately and never counted against the provider.
func RetryWithBackoff[T any](
	ctx context.Context,
	e *Engine,
	provider string,
	fn func(ctx context.Context) (T, error),
	opts ...RetryOption,
) (T, error) {
	var zero T

	policy := e.policy
	for _, opt := range opts {
		opt(&policy)
	}

	if err := llm.AbortedFromContext(ctx); err != nil {
		return zero, err
	}

	if e.breaker.IsOpen(ctx, provider) {
		events.Emit(ctx, e.sink, events.CircuitReject, events.Data{"provider": provider})
		return zero, &CircuitOpenError{Provider: provider}
	}

	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := llm.AbortedFromContext(ctx); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			e.breaker.RecordSuccess(ctx, provider)
			return result, nil
		}

		if ctx.Err() != nil || llm.IsAborted(err) {
			return zero, llm.Aborted(err)
		}

		if !IsRetryable(err) {
			e.breaker.RecordFailure(ctx, provider)

			log.Debug(ctx, "non retryable provider error",
				log.String("provider", provider),
				log.Int("attempt", attempt+1),
				log.Cause(err),
			)

			return zero, err
		}

		lastErr = err

		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.Delay(attempt, e.jitter(policy.MaxJitter))

		var statusErr *llm.StatusError
		if errors.As(err, &statusErr) && statusErr.RetryAfter > delay {
			delay = statusErr.RetryAfter
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}

		log.Warn(ctx, "provider call failed, retrying",
			log.String("provider", provider),
			log.Int("attempt", attempt+1),
			log.Int("max_retries", policy.MaxRetries),
			log.Duration("delay", delay),
			log.Cause(err),
		)

		events.Emit(ctx, e.sink, events.RetryAttempt, events.Data{
			"provider":    provider,
			"attempt":     attempt + 1,
			"max_retries": policy.MaxRetries,
			"delay_ms":    delay.Milliseconds(),
			"error":       err.Error(),
		})

		if err := e.sleep(ctx, delay); err != nil {
			return zero, llm.Aborted(err)
		}
	}

	e.breaker.RecordFailure(ctx, provider)

	events.Emit(ctx, e.sink, events.RetryExhausted, events.Data{
		"provider": provider,
		"attempts": policy.MaxRetries + 1,
		"error":    lastErr.Error(),
	})

	return zero, &RetryError{Provider: provider, Attempts: policy.MaxRetries + 1, Err: lastErr}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	return rand.N(max)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
