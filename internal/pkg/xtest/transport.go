package xtest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/pkg/streams"
)

// Transport is a scriptable llm.Transport. Unset funcs answer with a *llm.CapabilityError.
type Transport struct {
	ProviderName string
	Caps         llm.Capabilities

	GenerateFunc  func(ctx context.Context, req *llm.Request) (string, error)
	JSONFunc      func(ctx context.Context, req *llm.Request, schema *llm.Schema) (json.RawMessage, error)
	StreamFunc    func(ctx context.Context, req *llm.Request) (streams.Stream[string], error)
	GroundingFunc func(ctx context.Context, req *llm.Request) (*llm.GroundedResult, error)
	ImageFunc     func(ctx context.Context, req *llm.Request) (*llm.Image, error)

	mu       sync.Mutex
	calls    map[llm.RequestMode]int
	requests []llm.Request
}

var _ llm.Transport = (*Transport)(nil)

func (t *Transport) record(mode llm.RequestMode, req *llm.Request) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.calls == nil {
		t.calls = make(map[llm.RequestMode]int)
	}

	t.calls[mode]++
	t.requests = append(t.requests, *req)
}

// Calls returns how many times the mode was invoked.
func (t *Transport) Calls(mode llm.RequestMode) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.calls[mode]
}

// TotalCalls returns the number of calls across all modes.
func (t *Transport) TotalCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, n := range t.calls {
		total += n
	}

	return total
}

// Requests returns copies of the received requests, oldest first.
func (t *Transport) Requests() []llm.Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]llm.Request, len(t.requests))
	copy(out, t.requests)

	return out
}

func (t *Transport) Name() string {
	return t.ProviderName
}

func (t *Transport) Capabilities() llm.Capabilities {
	return t.Caps
}

func (t *Transport) unsupported(mode llm.RequestMode) error {
	return &llm.CapabilityError{Provider: t.ProviderName, Capability: string(mode)}
}

func (t *Transport) Generate(ctx context.Context, req *llm.Request) (string, error) {
	t.record(llm.ModeNormal, req)

	if t.GenerateFunc == nil {
		return "", t.unsupported(llm.ModeNormal)
	}

	return t.GenerateFunc(ctx, req)
}

func (t *Transport) GenerateJSON(ctx context.Context, req *llm.Request, schema *llm.Schema) (json.RawMessage, error) {
	t.record(llm.ModeJSON, req)

	if t.JSONFunc == nil {
		return nil, t.unsupported(llm.ModeJSON)
	}

	return t.JSONFunc(ctx, req, schema)
}

func (t *Transport) GenerateStream(ctx context.Context, req *llm.Request) (streams.Stream[string], error) {
	t.record(llm.ModeStream, req)

	if t.StreamFunc == nil {
		return nil, t.unsupported(llm.ModeStream)
	}

	return t.StreamFunc(ctx, req)
}

func (t *Transport) GenerateWithGrounding(ctx context.Context, req *llm.Request) (*llm.GroundedResult, error) {
	t.record(llm.ModeGrounding, req)

	if t.GroundingFunc == nil {
		return nil, t.unsupported(llm.ModeGrounding)
	}

	return t.GroundingFunc(ctx, req)
}

func (t *Transport) GenerateImage(ctx context.Context, req *llm.Request) (*llm.Image, error) {
	t.record(llm.ModeImage, req)

	if t.ImageFunc == nil {
		return nil, t.unsupported(llm.ModeImage)
	}

	return t.ImageFunc(ctx, req)
}

// Transports resolves fakes by provider name.
type Transports map[string]llm.Transport

func (s Transports) Transport(cfg llm.ProviderConfig) (llm.Transport, error) {
	transport, ok := s[strings.ToLower(cfg.Provider)]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	return transport, nil
}
