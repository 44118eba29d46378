package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/llm"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *sleepRecorder, *events.Recorder) {
	t.Helper()

	sleeper := &sleepRecorder{}
	recorder := events.NewRecorder(0)

	opts = append([]EngineOption{
		WithSleeper(sleeper.Sleep),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
		WithEngineEventSink(recorder),
	}, opts...)

	return NewEngine(NewCircuitBreaker(DefaultBreakerPolicy()), DefaultRetryPolicy(), opts...), sleeper, recorder
}

func TestRetryWithBackoff_Success(t *testing.T) {
	engine, sleeper, _ := newTestEngine(t)

	var calls int

	result, err := RetryWithBackoff(context.Background(), engine, "openai", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &llm.StatusError{StatusCode: http.StatusServiceUnavailable}
		}

		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	require.Equal(t, 0, engine.Breaker().Stats("openai").ConsecutiveFailures)
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	engine, sleeper, recorder := newTestEngine(t)

	var calls int

	upstream := &llm.StatusError{Provider: "openai", StatusCode: http.StatusTooManyRequests}

	_, err := RetryWithBackoff(context.Background(), engine, "openai", func(context.Context) (string, error) {
		calls++
		return "", upstream
	})
	require.Error(t, err)
	require.Equal(t, 4, calls)
	require.ErrorIs(t, err, upstream)

	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	require.Equal(t, 4, retryErr.Attempts)

	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
	require.Equal(t, 1, engine.Breaker().Stats("openai").ConsecutiveFailures)
	require.Equal(t, 3, recorder.Count(events.RetryAttempt))
	require.Equal(t, 1, recorder.Count(events.RetryExhausted))
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	engine, sleeper, _ := newTestEngine(t)

	var calls int

	parseErr := &llm.ParseError{Provider: "gemini", Reason: "schema validation"}

	_, err := RetryWithBackoff(context.Background(), engine, "gemini", func(context.Context) (int, error) {
		calls++
		return 0, parseErr
	}, WithMaxRetries(10))
	require.ErrorIs(t, err, parseErr)
	require.Equal(t, 1, calls)
	require.Empty(t, sleeper.delays)
	require.Equal(t, 1, engine.Breaker().Stats("gemini").ConsecutiveFailures)
}

func TestRetryWithBackoff_CircuitOpen(t *testing.T) {
	engine, _, recorder := newTestEngine(t)
	ctx := context.Background()

	for range 5 {
		engine.Breaker().RecordFailure(ctx, "deepseek")
	}

	var calls int

	_, err := RetryWithBackoff(ctx, engine, "deepseek", func(context.Context) (int, error) {
		calls++
		return 1, nil
	})

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, "deepseek", openErr.Provider)
	require.Equal(t, 0, calls)
	require.Equal(t, 1, recorder.Count(events.CircuitReject))
}

func TestRetryWithBackoff_Cancellation(t *testing.T) {
	t.Run("canceled before the first attempt", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var calls int

		_, err := RetryWithBackoff(ctx, engine, "openai", func(context.Context) (int, error) {
			calls++
			return 1, nil
		})
		require.True(t, llm.IsAborted(err))
		require.ErrorIs(t, err, llm.ErrAborted)
		require.Equal(t, 0, calls)
		require.Equal(t, 0, engine.Breaker().Stats("openai").ConsecutiveFailures)
	})

	t.Run("canceled during an attempt", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var calls int

		_, err := RetryWithBackoff(ctx, engine, "openai", func(ctx context.Context) (int, error) {
			calls++
			cancel()

			return 0, ctx.Err()
		})
		require.ErrorIs(t, err, llm.ErrAborted)
		require.Equal(t, 1, calls)
		require.Equal(t, 0, engine.Breaker().Stats("openai").ConsecutiveFailures)
	})

	t.Run("canceled during backoff", func(t *testing.T) {
		breaker := NewCircuitBreaker(DefaultBreakerPolicy())
		engine := NewEngine(breaker, DefaultRetryPolicy())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var calls atomic.Int32

		done := make(chan error, 1)

		go func() {
			_, err := RetryWithBackoff(ctx, engine, "openai", func(context.Context) (int, error) {
				calls.Add(1)
				return 0, errors.New("network unreachable")
			})
			done <- err
		}()

		require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.ErrorIs(t, err, llm.ErrAborted)
		case <-time.After(time.Second):
			t.Fatal("backoff sleep was not interrupted")
		}

		require.EqualValues(t, 1, calls.Load())
		require.Equal(t, 0, breaker.Stats("openai").ConsecutiveFailures)
	})
}

func TestRetryWithBackoff_RetryAfter(t *testing.T) {
	engine, sleeper, _ := newTestEngine(t)

	var calls int

	_, err := RetryWithBackoff(context.Background(), engine, "openai", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &llm.StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: 5 * time.Second}
		}

		return 1, nil
	})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{5 * time.Second}, sleeper.delays)
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, time.Second, policy.Delay(0, 0))
	assert.Equal(t, 2*time.Second, policy.Delay(1, 0))
	assert.Equal(t, 8*time.Second+500*time.Millisecond, policy.Delay(3, 500*time.Millisecond))
	assert.Equal(t, 30*time.Second, policy.Delay(5, 0))
	assert.Equal(t, 30*time.Second, policy.Delay(20, time.Second))
}

func TestEngine_Do(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	err := engine.Do(context.Background(), "openai", func(context.Context) error {
		return &llm.CapabilityError{Provider: "openai", Capability: "grounding"}
	})

	var capErr *llm.CapabilityError
	require.ErrorAs(t, err, &capErr)
}
