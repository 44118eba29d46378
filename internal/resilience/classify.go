package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"

	"github.com/looplj/reportflow/internal/llm"
)

var retryableStatusCodes = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var transientMessage = regexp.MustCompile(`(?i)network|timeout|timed out|connection (reset|refused)|econnreset|econnrefused|socket hang up|rate.?limit|too many requests|resource.?exhausted|overloaded`)

// IsStatusCodeRetryable checks if an HTTP status code is retryable.
func IsStatusCodeRetryable(statusCode int) bool {
	return retryableStatusCodes[statusCode]
}

// IsRetryable reports whether err is a transient failure worth another attempt.
// Aborts, parse failures, capability mismatches and partially delivered streams are never
// retryable.
func IsRetryable(err error) bool {
	if err == nil || llm.IsAborted(err) {
		return false
	}

	var (
		parseErr      *llm.ParseError
		capabilityErr *llm.CapabilityError
		partialErr    *llm.PartialStreamError
	)

	if errors.As(err, &parseErr) || errors.As(err, &capabilityErr) || errors.As(err, &partialErr) {
		return false
	}

	if code := llm.StatusCode(err); code != 0 {
		return IsStatusCodeRetryable(code)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return transientMessage.MatchString(err.Error())
}
