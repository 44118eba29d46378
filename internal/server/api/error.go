package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/looplj/reportflow/internal/gateway"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/objects"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/resilience"
)

// StatusClientClosedRequest is reported when the caller went away before the task settled.
const StatusClientClosedRequest = 499

// JSONError returns a JSON error response and adds the error to gin context for access logging.
func JSONError(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, errorResponse(status, err))
}

func errorResponse(status int, err error) objects.ErrorResponse {
	text := http.StatusText(status)
	if status == StatusClientClosedRequest {
		text = "Client Closed Request"
	}

	return objects.ErrorResponse{
		Error: objects.Error{
			Type:    text,
			Message: err.Error(),
		},
	}
}

// StatusOf maps an orchestration error to the HTTP status reported to the caller.
func StatusOf(err error) int {
	var (
		configErr *orchestrator.ConfigError
		openErr   *resilience.CircuitOpenError
		exhausted *gateway.ExhaustedError
		statusErr *llm.StatusError
	)

	switch {
	case llm.IsAborted(err) && errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case llm.IsAborted(err):
		return StatusClientClosedRequest
	case errors.As(err, &configErr), errors.Is(err, gateway.ErrNoProviders):
		return http.StatusBadRequest
	case errors.As(err, &openErr), errors.As(err, &exhausted):
		return http.StatusServiceUnavailable
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
