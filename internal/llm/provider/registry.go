// Package provider builds the provider transports and routes every call through the shared
// rate limiter.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"

	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/llm/provider/gemini"
	"github.com/looplj/reportflow/internal/llm/provider/openai"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/pkg/httpclient"
	"github.com/looplj/reportflow/internal/pkg/streams"
	"github.com/looplj/reportflow/internal/ratelimit"
)

// Factory creates a transport for a provider configuration.
type Factory func(cfg llm.ProviderConfig, client *httpclient.HttpClient) (llm.Transport, error)

// Registry memoizes transports per provider, credential and base url.
type Registry struct {
	mu         sync.Mutex
	factories  map[string]Factory
	transports map[string]llm.Transport

	client  *httpclient.HttpClient
	limiter *ratelimit.Limiter
}

// NewRegistry creates a registry with the built-in providers registered. A nil limiter
// leaves the transports unthrottled.
func NewRegistry(client *httpclient.HttpClient, limiter *ratelimit.Limiter) *Registry {
	r := &Registry{
		factories:  make(map[string]Factory),
		transports: make(map[string]llm.Transport),
		client:     client,
		limiter:    limiter,
	}

	openaiFactory := func(cfg llm.ProviderConfig, client *httpclient.HttpClient) (llm.Transport, error) {
		return openai.New(cfg, client)
	}

	r.Register(openai.ProviderOpenAI, openaiFactory)
	r.Register(openai.ProviderOpenRouter, openaiFactory)
	r.Register(openai.ProviderDeepSeek, openaiFactory)
	r.Register(gemini.ProviderGemini, func(cfg llm.ProviderConfig, client *httpclient.HttpClient) (llm.Transport, error) {
		return gemini.New(cfg, client)
	})

	return r
}

// Register adds or replaces the factory of a provider identity.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[strings.ToLower(name)] = factory
}

// Providers returns the registered provider identities, sorted.
func (r *Registry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := lo.Keys(r.factories)
	slices.Sort(names)

	return names
}

// Transport returns the memoized transport of cfg, creating it on first use.
func (r *Registry) Transport(cfg llm.ProviderConfig) (llm.Transport, error) {
	cfg.Provider = strings.ToLower(cfg.Provider)

	r.mu.Lock()
	defer r.mu.Unlock()

	key := transportKey(cfg)
	if transport, ok := r.transports[key]; ok {
		return transport, nil
	}

	factory, ok := r.factories[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	transport, err := factory(cfg, r.client)
	if err != nil {
		return nil, fmt.Errorf("create %s transport: %w", cfg.Provider, err)
	}

	if r.limiter != nil {
		transport = &limitedTransport{Transport: transport, limiter: r.limiter}
	}

	r.transports[key] = transport

	log.Debug(context.Background(), "provider transport created",
		log.String("provider", cfg.Provider),
		log.String("base_url", cfg.BaseURL),
	)

	return transport, nil
}

func transportKey(cfg llm.ProviderConfig) string {
	return fmt.Sprintf("%s|%016x|%s", cfg.Provider, xxhash.Sum64String(cfg.APIKey), cfg.BaseURL)
}

// limitedTransport holds a limiter slot for the duration of every call. A stream holds its
// slot until it is closed.
type limitedTransport struct {
	llm.Transport

	limiter *ratelimit.Limiter
}

func (t *limitedTransport) acquire(ctx context.Context) error {
	if err := t.limiter.Acquire(ctx); err != nil {
		return llm.Aborted(err)
	}

	return nil
}

func limited[T any](ctx context.Context, t *limitedTransport, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := t.acquire(ctx); err != nil {
		var zero T
		return zero, err
	}
	defer t.limiter.Release()

	return fn(ctx)
}

func (t *limitedTransport) Generate(ctx context.Context, req *llm.Request) (string, error) {
	return limited(ctx, t, func(ctx context.Context) (string, error) {
		return t.Transport.Generate(ctx, req)
	})
}

func (t *limitedTransport) GenerateJSON(ctx context.Context, req *llm.Request, schema *llm.Schema) (json.RawMessage, error) {
	return limited(ctx, t, func(ctx context.Context) (json.RawMessage, error) {
		return t.Transport.GenerateJSON(ctx, req, schema)
	})
}

func (t *limitedTransport) GenerateWithGrounding(ctx context.Context, req *llm.Request) (*llm.GroundedResult, error) {
	return limited(ctx, t, func(ctx context.Context) (*llm.GroundedResult, error) {
		return t.Transport.GenerateWithGrounding(ctx, req)
	})
}

func (t *limitedTransport) GenerateImage(ctx context.Context, req *llm.Request) (*llm.Image, error) {
	return limited(ctx, t, func(ctx context.Context) (*llm.Image, error) {
		return t.Transport.GenerateImage(ctx, req)
	})
}

func (t *limitedTransport) GenerateStream(ctx context.Context, req *llm.Request) (streams.Stream[string], error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}

	stream, err := t.Transport.GenerateStream(ctx, req)
	if err != nil {
		t.limiter.Release()
		return nil, err
	}

	return streams.OnClose(stream, t.limiter.Release), nil
}
