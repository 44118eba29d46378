package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key builds a cache key. Task, provider and model stay readable so Invalidate can target
// them; the variable parts are hashed.
func Key(task, provider, model string, parts ...string) string {
	h := xxhash.New()
	for _, part := range parts {
		_, _ = h.WriteString(part)
		_, _ = h.Write([]byte{0})
	}

	return fmt.Sprintf("%s:%s:%s:%016x", task, provider, model, h.Sum64())
}
