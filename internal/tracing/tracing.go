package tracing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/looplj/reportflow/internal/contexts"
)

type Config struct {
	TraceHeader string `conf:"trace_header" yaml:"trace_header" json:"trace_header"`
}

// GenerateTraceID generate trace id, format as rf-{{uuid}}.
func GenerateTraceID() string {
	return fmt.Sprintf("rf-%s", uuid.NewString())
}

// EnsureTraceID returns a context carrying a trace id, generating one when absent.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if traceID, ok := contexts.GetTraceID(ctx); ok {
		return ctx, traceID
	}

	traceID := GenerateTraceID()

	return contexts.WithTraceID(ctx, traceID), traceID
}

// GenerateRequestID generate request id, format as req-{{uuid}}.
func GenerateRequestID() string {
	return fmt.Sprintf("req-%s", uuid.NewString())
}
