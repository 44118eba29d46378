package xtest

import (
	"encoding/json"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Custom comparator for json.RawMessage that compares semantic equality.
func jsonRawMessageComparer(x, y json.RawMessage) bool {
	if len(x) == 0 && len(y) == 0 {
		return true
	}

	if len(x) == 0 || len(y) == 0 {
		return false
	}

	var xVal, yVal any
	if err := json.Unmarshal(x, &xVal); err != nil {
		return false
	}

	if err := json.Unmarshal(y, &yVal); err != nil {
		return false
	}

	return cmp.Equal(xVal, yVal)
}

var rawMessageType = reflect.TypeFor[json.RawMessage]()

func options(opts []cmp.Option) []cmp.Option {
	// The comparer already equates empty documents; EquateEmpty must not apply to them too.
	notRawMessage := cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().Type() != rawMessageType
	}, cmpopts.EquateEmpty())

	return append(opts,
		notRawMessage,
		cmp.Comparer(jsonRawMessageComparer))
}

// Equal provides semantic equality: JSON documents compare by value and nil equals empty.
func Equal(a, b any, opts ...cmp.Option) bool {
	return cmp.Equal(a, b, options(opts)...)
}

// Diff is the cmp.Diff counterpart of Equal.
func Diff(a, b any, opts ...cmp.Option) string {
	return cmp.Diff(a, b, options(opts)...)
}
