package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrAborted marks a request canceled by its caller. It is never retried and never counted
// against a provider.
var ErrAborted = errors.New("request aborted")

type abortError struct {
	cause error
}

func (e *abortError) Error() string {
	if e.cause == nil {
		return ErrAborted.Error()
	}

	return fmt.Sprintf("%s: %s", ErrAborted.Error(), e.cause.Error())
}

func (e *abortError) Is(target error) bool {
	return target == ErrAborted
}

func (e *abortError) Unwrap() error {
	return e.cause
}

// Aborted wraps cause as an abort error. Both errors.Is(err, ErrAborted) and
// errors.Is(err, cause) hold for the result.
func Aborted(cause error) error {
	if cause != nil && errors.Is(cause, ErrAborted) {
		return cause
	}

	return &abortError{cause: cause}
}

// IsAborted reports whether err represents a caller cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// AbortedFromContext returns an abort error when ctx is done, nil otherwise.
// A done caller context is always an abort, even when it ended by deadline.
func AbortedFromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Aborted(err)
	}

	return nil
}

// StatusError is an upstream HTTP failure.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}

	if e.Provider != "" {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, msg)
	}

	return fmt.Sprintf("http %d: %s", e.StatusCode, msg)
}

// StatusCode extracts the HTTP status code carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}

	return 0
}

// PartialStreamError is a stream that failed after some chunks were already delivered to
// the caller. Replaying it would deliver those chunks twice, so it is never retried.
type PartialStreamError struct {
	Provider  string
	Delivered int
	Err       error
}

func (e *PartialStreamError) Error() string {
	return fmt.Sprintf("%s: stream failed after %d chunks: %v", e.Provider, e.Delivered, e.Err)
}

func (e *PartialStreamError) Unwrap() error {
	return e.Err
}

// ParseError means the provider answered but the payload could not be decoded or did not
// match the requested schema.
type ParseError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	prefix := "parse response"
	if e.Provider != "" {
		prefix = e.Provider + ": parse response"
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Reason, e.Err)
	}

	return fmt.Sprintf("%s: %s", prefix, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// CapabilityError is returned when a provider cannot serve the requested mode.
type CapabilityError struct {
	Provider   string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("provider %s does not support %s", e.Provider, e.Capability)
}
