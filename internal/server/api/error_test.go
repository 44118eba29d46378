package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/looplj/reportflow/internal/gateway"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/resilience"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"abort", llm.Aborted(context.Canceled), StatusClientClosedRequest},
		{"deadline", llm.Aborted(context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"config", &orchestrator.ConfigError{Task: "x", Reason: "no model assigned"}, http.StatusBadRequest},
		{"no providers", gateway.ErrNoProviders, http.StatusBadRequest},
		{
			"circuit open inside task error",
			&orchestrator.TaskError{Task: "x", Provider: "p", Err: &resilience.CircuitOpenError{Provider: "p"}},
			http.StatusServiceUnavailable,
		},
		{
			"exhausted",
			&gateway.ExhaustedError{Attempts: []gateway.Attempt{{Provider: "p", Model: "m", Err: errors.New("boom")}}},
			http.StatusServiceUnavailable,
		},
		{"rate limited", fmt.Errorf("call: %w", &llm.StatusError{Provider: "p", StatusCode: 429}), http.StatusTooManyRequests},
		{"provider failure", &llm.StatusError{Provider: "p", StatusCode: 500}, http.StatusBadGateway},
		{"parse failure", &llm.ParseError{Provider: "p", Reason: "empty"}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}
