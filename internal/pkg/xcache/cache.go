// Package xcache builds the optional shared cache tier: an in-process go-cache, a redis
// store, or both chained, behind the gocache interfaces.
package xcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	cachelib "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	gocache_store "github.com/eko/gocache/store/go_cache/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/looplj/reportflow/internal/log"
	redis_store "github.com/looplj/reportflow/internal/pkg/xcache/redis"
	"github.com/looplj/reportflow/internal/pkg/xredis"
)

// Cache is an alias to the gocache CacheInterface.
type Cache[T any] = cachelib.CacheInterface[T]

type SetterCache[T any] = cachelib.SetterCacheInterface[T]

// NewMemory creates an in-memory cache backed by patrickmn/go-cache.
func NewMemory[T any](client *gocache.Cache, options ...Option) SetterCache[T] {
	return cachelib.New[T](gocache_store.NewGoCache(client, options...))
}

// NewRedis creates a redis cache whose keys live under prefix.
func NewRedis[T any](client redis_store.RedisClientInterface, prefix string, options ...Option) SetterCache[T] {
	return cachelib.New[T](redis_store.NewRedisStore[T](client, prefix, options...))
}

// NewTwoLevel chains memory in front of redis. A memory miss served by redis is written
// back to memory with the remaining redis TTL.
func NewTwoLevel[T any](memory SetterCache[T], redis SetterCache[T]) Cache[T] {
	return cachelib.NewChain[T](memory, redis)
}

// Tier is a typed shared cache with substring invalidation across every level.
type Tier[T any] struct {
	cache  Cache[T]
	mode   string
	local  *gocache.Cache
	remote *redis_store.RedisStore[T]
	client *redis.Client
}

// NewFromConfig builds the tier described by cfg. An empty mode yields a disabled tier.
func NewFromConfig[T any](ctx context.Context, cfg Config) (*Tier[T], error) {
	t := &Tier[T]{mode: cfg.Mode}

	switch cfg.Mode {
	case "":
		t.cache = NewNoop[T]()
		return t, nil
	case ModeMemory, ModeRedis, ModeTwoLevel:
	default:
		return nil, fmt.Errorf("unknown cache mode %q", cfg.Mode)
	}

	var mem, rds SetterCache[T]

	if cfg.Mode != ModeRedis {
		expiration := defaultIfZero(cfg.Memory.Expiration, 5*time.Minute)
		cleanup := defaultIfZero(cfg.Memory.CleanupInterval, 10*time.Minute)

		t.local = gocache.New(expiration, cleanup)
		mem = NewMemory[T](t.local, store.WithExpiration(expiration))
	}

	if cfg.Mode != ModeMemory {
		if !cfg.Redis.Enabled() {
			return nil, fmt.Errorf("cache mode %s requires a redis addr or url", cfg.Mode)
		}

		client, err := xredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}

		t.client = client
		t.remote = redis_store.NewRedisStore[T](client, cfg.Redis.KeyPrefix,
			store.WithExpiration(defaultIfZero(cfg.Redis.Expiration, 30*time.Minute)))
		rds = cachelib.New[T](t.remote)
	}

	switch cfg.Mode {
	case ModeTwoLevel:
		t.cache = NewTwoLevel(mem, rds)
	case ModeRedis:
		t.cache = rds
	default:
		t.cache = mem
	}

	log.Info(ctx, "shared cache tier enabled", log.String("mode", cfg.Mode))

	return t, nil
}

func defaultIfZero(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}

	return d
}

func (t *Tier[T]) Enabled() bool {
	return t != nil && t.mode != ""
}

func (t *Tier[T]) Mode() string {
	return t.mode
}

// Get returns the cached value; misses satisfy IsNotFound.
func (t *Tier[T]) Get(ctx context.Context, key string) (T, error) {
	return t.cache.Get(ctx, key)
}

func (t *Tier[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	return t.cache.Set(ctx, key, value, store.WithExpiration(ttl))
}

func (t *Tier[T]) Delete(ctx context.Context, key string) error {
	return t.cache.Delete(ctx, key)
}

// DeleteContaining removes every key containing substr from all levels. An empty substr
// removes everything the tier owns.
func (t *Tier[T]) DeleteContaining(ctx context.Context, substr string) (int, error) {
	var deleted int

	if t.local != nil {
		for key := range t.local.Items() {
			if strings.Contains(key, substr) {
				t.local.Delete(key)
				deleted++
			}
		}
	}

	if t.remote != nil {
		pattern := "*"
		if substr != "" {
			pattern = "*" + xredis.EscapeGlob(substr) + "*"
		}

		n, err := t.remote.DeleteMatching(ctx, pattern)
		if err != nil {
			return deleted, err
		}

		// Keys present in both levels count once.
		deleted = max(deleted, n)
	}

	return deleted, nil
}

// Close releases the redis connection, if any.
func (t *Tier[T]) Close() error {
	if t == nil || t.client == nil {
		return nil
	}

	return t.client.Close()
}
