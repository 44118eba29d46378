package cache

import (
	"time"

	"github.com/looplj/reportflow/internal/pkg/xcache"
)

type Config struct {
	// Maximum number of local entries; the oldest created entry is evicted beyond it.
	MaxSize int `conf:"max_size" yaml:"max_size" json:"max_size"`

	// TTL applied when a caller does not pass one.
	DefaultTTL time.Duration `conf:"default_ttl" yaml:"default_ttl" json:"default_ttl"`

	// How often expired entries are swept. Zero disables the sweeper.
	CleanupInterval time.Duration `conf:"cleanup_interval" yaml:"cleanup_interval" json:"cleanup_interval"`

	// A pending producer older than this no longer absorbs new callers.
	PendingTimeout time.Duration `conf:"pending_timeout" yaml:"pending_timeout" json:"pending_timeout"`

	TTL    TTLConfig     `conf:"ttl" yaml:"ttl" json:"ttl"`
	Shared xcache.Config `conf:"shared" yaml:"shared" json:"shared"`
}

func DefaultConfig() Config {
	return Config{
		MaxSize:         100,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: time.Minute,
		PendingTimeout:  2 * time.Minute,
		TTL:             DefaultTTLConfig(),
	}
}
