// Package shared holds the pieces common to every provider transport.
package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/pkg/httpclient"
)

const maxMessageLen = 512

// MapError converts a transport failure into the llm error taxonomy. A done ctx always
// yields an abort.
func MapError(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil || llm.IsAborted(err) {
		return llm.Aborted(err)
	}

	var httpErr *httpclient.Error
	if errors.As(err, &httpErr) {
		retryAfter, _ := httpclient.ParseRetryAfter(httpErr.Headers.Get("Retry-After"), time.Now())

		return &llm.StatusError{
			Provider:   provider,
			StatusCode: httpErr.StatusCode,
			Message:    ErrorMessage(httpErr.Body),
			RetryAfter: retryAfter,
		}
	}

	return fmt.Errorf("%s: %w", provider, err)
}

// ErrorMessage extracts the human readable message of a provider error body.
func ErrorMessage(body []byte) string {
	for _, path := range []string{"error.message", "0.error.message", "error", "message"} {
		if result := gjson.GetBytes(body, path); result.Type == gjson.String && result.Str != "" {
			return truncate(result.Str)
		}
	}

	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}

	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + "…"
}
