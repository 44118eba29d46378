// Package gateway runs a request against an ordered chain of providers, falling back to the
// next provider when one is exhausted.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/lo"

	"github.com/looplj/reportflow/internal/cache"
	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/resilience"
)

// DefaultProviderRetries bounds the retries per provider so the whole chain stays fast.
const DefaultProviderRetries = 2

const structuredTask = "structured"

type Gateway struct {
	engine     *resilience.Engine
	transports orchestrator.TransportSource
	store      *cache.Store[orchestrator.Result]
	sink       events.Sink
	retries    int
}

type Option func(*Gateway)

func WithEventSink(sink events.Sink) Option {
	return func(g *Gateway) {
		g.sink = sink
	}
}

// WithProviderRetries overrides the retry budget of each provider.
func WithProviderRetries(n int) Option {
	return func(g *Gateway) {
		g.retries = n
	}
}

func New(
	engine *resilience.Engine,
	transports orchestrator.TransportSource,
	store *cache.Store[orchestrator.Result],
	opts ...Option,
) *Gateway {
	g := &Gateway{
		engine:     engine,
		transports: transports,
		store:      store,
		retries:    DefaultProviderRetries,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// ExecuteWithFallback runs executor for each available provider in order until one
// succeeds. Providers with an open circuit are skipped. Aborts end the chain immediately.
func ExecuteWithFallback[T any](
	ctx context.Context,
	g *Gateway,
	providers []llm.ProviderConfig,
	executor func(ctx context.Context, cfg llm.ProviderConfig) (T, error),
) (T, error) {
	var zero T

	if len(providers) == 0 {
		return zero, ErrNoProviders
	}

	if err := llm.AbortedFromContext(ctx); err != nil {
		return zero, err
	}

	breaker := g.engine.Breaker()

	var attempts []Attempt

	available := lo.Filter(providers, func(cfg llm.ProviderConfig, _ int) bool {
		if breaker.Stats(cfg.Provider).State != resilience.StateOpen {
			return true
		}

		attempts = append(attempts, Attempt{
			Provider: cfg.Provider,
			Model:    cfg.Model,
			Skipped:  true,
			Err:      &resilience.CircuitOpenError{Provider: cfg.Provider},
		})

		return false
	})

	if len(available) == 0 {
		log.Warn(ctx, "no provider available, all circuits open",
			log.Strings("providers", lo.Map(providers, func(cfg llm.ProviderConfig, _ int) string { return cfg.Provider })),
		)
		events.Emit(ctx, g.sink, events.ProviderExhausted, events.Data{"attempts": len(attempts), "available": 0})

		return zero, &ExhaustedError{Attempts: attempts}
	}

	for i, cfg := range available {
		start := time.Now()

		result, err := resilience.RetryWithBackoff(ctx, g.engine, cfg.Provider, func(ctx context.Context) (T, error) {
			return executor(ctx, cfg)
		}, resilience.WithMaxRetries(g.retries))
		if err == nil {
			if i > 0 {
				log.Info(ctx, "fallback provider succeeded",
					log.String("provider", cfg.Provider),
					log.String("model", cfg.Model),
					log.Int("position", i),
				)
			}

			return result, nil
		}

		if llm.IsAborted(err) {
			return zero, err
		}

		attempts = append(attempts, Attempt{Provider: cfg.Provider, Model: cfg.Model, Err: err})

		if i+1 < len(available) {
			next := available[i+1]

			log.Warn(ctx, "provider exhausted, falling back",
				log.String("from", cfg.Provider),
				log.String("to", next.Provider),
				log.Duration("elapsed", time.Since(start)),
				log.Cause(err),
			)
			events.Emit(ctx, g.sink, events.ProviderFallback, events.Data{
				"from":       cfg.Provider,
				"from_model": cfg.Model,
				"to":         next.Provider,
				"to_model":   next.Model,
				"error":      err.Error(),
			})
		}
	}

	events.Emit(ctx, g.sink, events.ProviderExhausted, events.Data{
		"attempts":  len(attempts),
		"available": len(available),
	})

	return zero, &ExhaustedError{Attempts: attempts}
}

// JSONRequest is a structured generation run over a fallback chain.
type JSONRequest struct {
	Prompt            string
	SystemInstruction string
	Temperature       *float64
	Schema            *llm.Schema
	TTL               time.Duration
	SkipCache         bool
}

// ExecuteJSON runs a structured generation over the chain. The result is cached under the
// first provider and model of the chain, so a hit skips the chain entirely.
func (g *Gateway) ExecuteJSON(
	ctx context.Context,
	providers []llm.ProviderConfig,
	req JSONRequest,
) (*orchestrator.Result, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	produce := func(ctx context.Context) (orchestrator.Result, error) {
		return ExecuteWithFallback(ctx, g, providers, func(ctx context.Context, cfg llm.ProviderConfig) (orchestrator.Result, error) {
			return g.generateJSON(ctx, cfg, req)
		})
	}

	if g.store == nil {
		result, err := produce(ctx)
		if err != nil {
			return nil, err
		}

		return &result, nil
	}

	first := providers[0]
	key := cache.Key(structuredTask, first.Provider, first.Model,
		req.SystemInstruction, req.Prompt, string(req.Schema.JSON()))

	result, err := g.store.WithCache(ctx, key, produce, cache.CallOptions{TTL: req.TTL, Refresh: req.SkipCache})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (g *Gateway) generateJSON(ctx context.Context, cfg llm.ProviderConfig, req JSONRequest) (orchestrator.Result, error) {
	result := orchestrator.Result{Task: structuredTask, Provider: cfg.Provider, Model: cfg.Model}

	transport, err := g.transports.Transport(cfg)
	if err != nil {
		return result, err
	}

	doc, err := transport.GenerateJSON(ctx, &llm.Request{
		Model:             cfg.Model,
		Prompt:            req.Prompt,
		SystemInstruction: req.SystemInstruction,
		Temperature:       req.Temperature,
	}, req.Schema)
	if err != nil {
		return result, err
	}

	result.JSON = doc

	return result, nil
}

// DecodeJSON runs ExecuteJSON and decodes the document into T.
func DecodeJSON[T any](ctx context.Context, g *Gateway, providers []llm.ProviderConfig, req JSONRequest) (T, error) {
	var value T

	result, err := g.ExecuteJSON(ctx, providers, req)
	if err != nil {
		return value, err
	}

	if err := json.Unmarshal(result.JSON, &value); err != nil {
		return value, &llm.ParseError{Provider: result.Provider, Reason: "decode result", Err: err}
	}

	return value, nil
}
