package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/looplj/reportflow/internal/cache"
	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/pkg/xtest"
	"github.com/looplj/reportflow/internal/resilience"
)

var chain = []llm.ProviderConfig{
	{Provider: "a", Model: "a-1"},
	{Provider: "b", Model: "b-1"},
}

func newTestGateway(t *testing.T, transports xtest.Transports) (*Gateway, *events.Recorder) {
	t.Helper()

	recorder := events.NewRecorder(0)
	breaker := resilience.NewCircuitBreaker(resilience.DefaultBreakerPolicy(), resilience.WithBreakerEventSink(recorder))
	engine := resilience.NewEngine(breaker, resilience.DefaultRetryPolicy(),
		resilience.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		resilience.WithJitter(func(time.Duration) time.Duration { return 0 }),
		resilience.WithEngineEventSink(recorder),
	)

	store := cache.NewStore[orchestrator.Result](cache.Config{}, cache.WithEventSink[orchestrator.Result](recorder))
	t.Cleanup(func() { _ = store.Close() })

	return New(engine, transports, store, WithEventSink(recorder)), recorder
}

func unavailable(provider string) error {
	return &llm.StatusError{Provider: provider, StatusCode: http.StatusServiceUnavailable}
}

func TestExecuteWithFallback_FallsBack(t *testing.T) {
	gateway, recorder := newTestGateway(t, nil)

	calls := map[string]int{}

	result, err := ExecuteWithFallback(context.Background(), gateway, chain, func(_ context.Context, cfg llm.ProviderConfig) (string, error) {
		calls[cfg.Provider]++
		if cfg.Provider == "a" {
			return "", unavailable("a")
		}

		return "from " + cfg.Model, nil
	})
	require.NoError(t, err)
	require.Equal(t, "from b-1", result)
	require.Equal(t, map[string]int{"a": DefaultProviderRetries + 1, "b": 1}, calls)

	fallbacks := recorder.Filter(events.ProviderFallback)
	require.Len(t, fallbacks, 1)
	require.Equal(t, "a", fallbacks[0].Data["from"])
	require.Equal(t, "b", fallbacks[0].Data["to"])
	require.Equal(t, 1, gateway.engine.Breaker().Stats("a").ConsecutiveFailures)
}

func TestExecuteWithFallback_SkipsOpenCircuits(t *testing.T) {
	gateway, _ := newTestGateway(t, nil)

	for range resilience.DefaultBreakerPolicy().Threshold {
		gateway.engine.Breaker().RecordFailure(context.Background(), "a")
	}

	var called []string

	result, err := ExecuteWithFallback(context.Background(), gateway, chain, func(_ context.Context, cfg llm.ProviderConfig) (int, error) {
		called = append(called, cfg.Provider)
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, result)
	require.Equal(t, []string{"b"}, called)
}

func TestExecuteWithFallback_AllOpen(t *testing.T) {
	gateway, recorder := newTestGateway(t, nil)

	for _, cfg := range chain {
		for range resilience.DefaultBreakerPolicy().Threshold {
			gateway.engine.Breaker().RecordFailure(context.Background(), cfg.Provider)
		}
	}

	_, err := ExecuteWithFallback(context.Background(), gateway, chain, func(context.Context, llm.ProviderConfig) (int, error) {
		t.Fatal("executor must not run")
		return 0, nil
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	require.True(t, exhausted.Attempts[0].Skipped)

	var circuitErr *resilience.CircuitOpenError
	require.ErrorAs(t, err, &circuitErr)
	require.Equal(t, "b", circuitErr.Provider)
	require.Equal(t, 1, recorder.Count(events.ProviderExhausted))
}

func TestExecuteWithFallback_Exhausted(t *testing.T) {
	gateway, _ := newTestGateway(t, nil)

	validation := errors.New("schema mismatch")

	_, err := ExecuteWithFallback(context.Background(), gateway, chain, func(_ context.Context, cfg llm.ProviderConfig) (int, error) {
		if cfg.Provider == "a" {
			return 0, unavailable("a")
		}

		return 0, validation
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.ErrorIs(t, err, validation)
	require.Equal(t, validation, exhausted.Last())
	require.Contains(t, err.Error(), "all 2 providers exhausted")
	require.Contains(t, err.Error(), "a/a-1")
}

func TestExecuteWithFallback_AbortStopsChain(t *testing.T) {
	gateway, recorder := newTestGateway(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var called []string

	_, err := ExecuteWithFallback(ctx, gateway, chain, func(ctx context.Context, cfg llm.ProviderConfig) (int, error) {
		called = append(called, cfg.Provider)
		cancel()

		return 0, llm.Aborted(ctx.Err())
	})
	require.ErrorIs(t, err, llm.ErrAborted)

	var exhausted *ExhaustedError
	require.False(t, errors.As(err, &exhausted))
	require.Equal(t, []string{"a"}, called)
	require.Zero(t, recorder.Count(events.ProviderFallback))
	require.Zero(t, gateway.engine.Breaker().Stats("a").ConsecutiveFailures)
}

func TestExecuteWithFallback_NoProviders(t *testing.T) {
	gateway, _ := newTestGateway(t, nil)

	_, err := ExecuteWithFallback(context.Background(), gateway, nil, func(context.Context, llm.ProviderConfig) (int, error) {
		return 0, nil
	})
	require.ErrorIs(t, err, ErrNoProviders)
}

func TestGateway_ExecuteJSON(t *testing.T) {
	schema := llm.MustSchema(`{"type":"object","properties":{"ok":{"type":"boolean"}},"required":["ok"]}`)

	a := &xtest.Transport{
		ProviderName: "a",
		JSONFunc: func(context.Context, *llm.Request, *llm.Schema) (json.RawMessage, error) {
			return nil, unavailable("a")
		},
	}
	b := &xtest.Transport{
		ProviderName: "b",
		JSONFunc: func(_ context.Context, req *llm.Request, got *llm.Schema) (json.RawMessage, error) {
			if req.Model != "b-1" || got != schema {
				return nil, errors.New("unexpected request")
			}

			return json.RawMessage(`{"ok":true}`), nil
		},
	}

	gateway, recorder := newTestGateway(t, xtest.Transports{"a": a, "b": b})

	req := JSONRequest{Prompt: "review", Schema: schema}

	result, err := gateway.ExecuteJSON(context.Background(), chain, req)
	require.NoError(t, err)
	require.Equal(t, "b", result.Provider)
	require.JSONEq(t, `{"ok":true}`, string(result.JSON))

	type review struct {
		OK bool `json:"ok"`
	}

	decoded, err := DecodeJSON[review](context.Background(), gateway, chain, req)
	require.NoError(t, err)
	require.True(t, decoded.OK)

	require.Equal(t, 3, a.Calls(llm.ModeJSON), "the cache hit skips the chain")
	require.Equal(t, 1, b.Calls(llm.ModeJSON))
	require.Equal(t, 1, recorder.Count(events.CacheHit))

	key := cache.Key(structuredTask, "a", "a-1", "", "review", string(schema.JSON()))
	_, ok := gateway.store.Peek(key)
	require.True(t, ok)
}

func TestGateway_ExecuteJSON_UnknownProvider(t *testing.T) {
	gateway, _ := newTestGateway(t, xtest.Transports{})

	_, err := gateway.ExecuteJSON(context.Background(), chain[:1], JSONRequest{Prompt: "x"})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.ErrorContains(t, err, `unknown provider "a"`)
}

func TestExhaustedError_Error(t *testing.T) {
	empty := &ExhaustedError{}
	require.Equal(t, "all providers exhausted: no attempts recorded", empty.Error())
	require.NoError(t, empty.Unwrap())

	boom := errors.New("boom")
	exhausted := &ExhaustedError{Attempts: []Attempt{
		{Provider: "a", Model: "a-1", Err: &resilience.CircuitOpenError{Provider: "a"}},
		{Provider: "b", Model: "b-1", Err: boom},
	}}
	require.Contains(t, exhausted.Error(), "all 2 providers exhausted")
	require.Contains(t, exhausted.Error(), "b/b-1: boom")
	require.ErrorIs(t, exhausted, boom)
}
