package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/pkg/httpclient"
	"github.com/looplj/reportflow/internal/pkg/streams"
	"github.com/looplj/reportflow/internal/ratelimit"
)

type stubTransport struct {
	name    string
	limiter *ratelimit.Limiter
	active  []int
}

func (s *stubTransport) Name() string                   { return s.name }
func (s *stubTransport) Capabilities() llm.Capabilities { return llm.Capabilities{} }

func (s *stubTransport) Generate(ctx context.Context, req *llm.Request) (string, error) {
	s.active = append(s.active, s.limiter.Status().Active)
	return "ok:" + req.Prompt, nil
}

func (s *stubTransport) GenerateJSON(ctx context.Context, req *llm.Request, schema *llm.Schema) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (s *stubTransport) GenerateStream(ctx context.Context, req *llm.Request) (streams.Stream[string], error) {
	return streams.SliceStream([]string{"a", "b"}), nil
}

func (s *stubTransport) GenerateWithGrounding(ctx context.Context, req *llm.Request) (*llm.GroundedResult, error) {
	return nil, &llm.CapabilityError{Provider: s.name, Capability: "grounding"}
}

func (s *stubTransport) GenerateImage(ctx context.Context, req *llm.Request) (*llm.Image, error) {
	return nil, &llm.CapabilityError{Provider: s.name, Capability: "image"}
}

func newStubRegistry(t *testing.T, limiter *ratelimit.Limiter) (*Registry, *int) {
	t.Helper()

	created := 0
	registry := NewRegistry(httpclient.NewHttpClientWithClient(nil, httpclient.Config{}), limiter)
	registry.Register("stub", func(cfg llm.ProviderConfig, _ *httpclient.HttpClient) (llm.Transport, error) {
		created++
		return &stubTransport{name: cfg.Provider, limiter: limiter}, nil
	})

	return registry, &created
}

func TestRegistry_Providers(t *testing.T) {
	registry := NewRegistry(nil, nil)
	require.Equal(t, []string{"deepseek", "gemini", "openai", "openrouter"}, registry.Providers())
}

func TestRegistry_Transport(t *testing.T) {
	registry, created := newStubRegistry(t, ratelimit.New(ratelimit.Config{MaxConcurrent: 2}))

	first, err := registry.Transport(llm.ProviderConfig{Provider: "STUB", APIKey: "a"})
	require.NoError(t, err)

	second, err := registry.Transport(llm.ProviderConfig{Provider: "stub", APIKey: "a"})
	require.NoError(t, err)
	require.Same(t, first, second)

	_, err = registry.Transport(llm.ProviderConfig{Provider: "stub", APIKey: "b"})
	require.NoError(t, err)
	require.Equal(t, 2, *created)

	_, err = registry.Transport(llm.ProviderConfig{Provider: "nope"})
	require.ErrorContains(t, err, `unknown provider "nope"`)

	_, err = registry.Transport(llm.ProviderConfig{Provider: "openai"})
	require.ErrorContains(t, err, "api key")
}

func TestLimitedTransport(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: 1})
	registry, _ := newStubRegistry(t, limiter)

	transport, err := registry.Transport(llm.ProviderConfig{Provider: "stub", APIKey: "k"})
	require.NoError(t, err)

	text, err := transport.Generate(context.Background(), &llm.Request{Prompt: "x"})
	require.NoError(t, err)
	require.Equal(t, "ok:x", text)
	require.Equal(t, 0, limiter.Status().Active)

	inner := transport.(*limitedTransport).Transport.(*stubTransport)
	require.Equal(t, []int{1}, inner.active)

	stream, err := transport.GenerateStream(context.Background(), &llm.Request{Prompt: "x"})
	require.NoError(t, err)
	require.Equal(t, 1, limiter.Status().Active)

	chunks, err := streams.All(stream)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, chunks)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	require.Equal(t, 0, limiter.Status().Active)
}

func TestLimitedTransport_Canceled(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: 1})
	registry, _ := newStubRegistry(t, limiter)

	transport, err := registry.Transport(llm.ProviderConfig{Provider: "stub", APIKey: "k"})
	require.NoError(t, err)

	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = transport.Generate(ctx, &llm.Request{Prompt: "x"})
	require.ErrorIs(t, err, llm.ErrAborted)
	require.ErrorIs(t, err, context.Canceled)
}
