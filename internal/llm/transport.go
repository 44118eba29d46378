package llm

import (
	"context"
	"encoding/json"

	"github.com/looplj/reportflow/internal/pkg/streams"
)

// Transport is the uniform interface over heterogeneous LLM providers.
//
// Every method honors ctx: a done context surfaces as an error for which IsAborted holds.
type Transport interface {
	// Name returns the provider identity, used as the circuit breaker key.
	Name() string

	Capabilities() Capabilities

	// Generate returns the full text of a plain generation.
	Generate(ctx context.Context, req *Request) (string, error)

	// GenerateJSON returns a JSON document conforming to schema, or a *ParseError.
	GenerateJSON(ctx context.Context, req *Request, schema *Schema) (json.RawMessage, error)

	// GenerateStream returns the text as a stream of chunks. Cancellation is checked at every
	// chunk boundary.
	GenerateStream(ctx context.Context, req *Request) (streams.Stream[string], error)

	// GenerateWithGrounding augments the generation with web retrieval. Providers that lack
	// grounding return a *CapabilityError.
	GenerateWithGrounding(ctx context.Context, req *Request) (*GroundedResult, error)

	// GenerateImage returns a generated image. Providers that lack image generation return a
	// *CapabilityError.
	GenerateImage(ctx context.Context, req *Request) (*Image, error)
}
