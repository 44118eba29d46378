package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ErrNoProviders is returned for an empty provider chain.
var ErrNoProviders = errors.New("no providers configured")

// Attempt is the outcome of one provider of a fallback chain.
type Attempt struct {
	Provider string
	Model    string
	Skipped  bool
	Err      error
}

// ExhaustedError means every provider of the chain failed or was circuit open. It unwraps
// to the last recorded error.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all providers exhausted: no attempts recorded"
	}

	var merr *multierror.Error
	for _, attempt := range e.Attempts {
		merr = multierror.Append(merr, fmt.Errorf("%s/%s: %w", attempt.Provider, attempt.Model, attempt.Err))
	}

	merr.ErrorFormat = func(errs []error) string {
		parts := make([]string, 0, len(errs))
		for _, err := range errs {
			parts = append(parts, err.Error())
		}

		return fmt.Sprintf("all %d providers exhausted: %s", len(errs), strings.Join(parts, "; "))
	}

	return merr.Error()
}

func (e *ExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}

	return e.Attempts[len(e.Attempts)-1].Err
}

// Last returns the last recorded error.
func (e *ExhaustedError) Last() error {
	return e.Unwrap()
}
