package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/looplj/reportflow/internal/contexts"
	"github.com/looplj/reportflow/internal/tracing"
)

const (
	DefaultTraceHeader   = "RF-Trace-Id"
	DefaultRequestHeader = "RF-Request-Id"
)

// WithLoggingTracing saves the trace ID and request ID to the request context,
// so the logger can log them in the next logs.
func WithLoggingTracing(config tracing.Config) gin.HandlerFunc {
	traceHeader := config.TraceHeader
	if traceHeader == "" {
		traceHeader = DefaultTraceHeader
	}

	return func(c *gin.Context) {
		traceID := c.GetHeader(traceHeader)
		if traceID == "" {
			traceID = tracing.GenerateTraceID()
		}

		requestID := tracing.GenerateRequestID()

		c.Header(traceHeader, traceID)
		c.Header(DefaultRequestHeader, requestID)

		ctx := contexts.WithTraceID(c.Request.Context(), traceID)
		ctx = contexts.WithRequestID(ctx, requestID)
		ctx = contexts.WithOperationName(ctx, fmt.Sprintf("%s %s", c.Request.Method, c.FullPath()))

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
