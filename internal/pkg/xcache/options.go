package xcache

import (
	"errors"
	"time"

	"github.com/eko/gocache/lib/v4/store"
)

type Option = store.Option

func WithExpiration(expiration time.Duration) Option {
	return store.WithExpiration(expiration)
}

// IsNotFound reports whether err is a cache miss.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, store.NotFound{})
}
