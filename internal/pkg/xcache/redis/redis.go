package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lib_store "github.com/eko/gocache/lib/v4/store"
	redis "github.com/redis/go-redis/v9"

	"github.com/looplj/reportflow/internal/pkg/xredis"
)

//go:generate mockgen -source=redis.go -destination=redis_mock.go -package=redis

// RedisClientInterface represents a go-redis/redis client.
type RedisClientInterface interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, values any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

const (
	// RedisType represents the storage type as a string value.
	RedisType = "redis"
	// RedisTagPattern represents the tag pattern to be used as a key in specified storage.
	RedisTagPattern = "tag:%s"
)

// RedisStore is a JSON encoding gocache store whose keys all live under a prefix.
type RedisStore[T any] struct {
	client  RedisClientInterface
	prefix  string
	options *lib_store.Options
}

// NewRedisStore creates a new generic store. An empty prefix stores keys verbatim.
func NewRedisStore[T any](client RedisClientInterface, prefix string, options ...lib_store.Option) *RedisStore[T] {
	return &RedisStore[T]{
		client:  client,
		prefix:  prefix,
		options: lib_store.ApplyOptions(options...),
	}
}

func (s *RedisStore[T]) key(key any) (string, error) {
	k, ok := key.(string)
	if !ok {
		return "", fmt.Errorf("expected string key, got %T", key)
	}

	return s.prefix + k, nil
}

// Get returns typed data stored from a given key.
func (s *RedisStore[T]) Get(ctx context.Context, key any) (any, error) {
	value, _, err := s.get(ctx, key, false)
	return value, err
}

// GetWithTTL returns typed data stored from a given key and its corresponding TTL.
func (s *RedisStore[T]) GetWithTTL(ctx context.Context, key any) (any, time.Duration, error) {
	return s.get(ctx, key, true)
}

func (s *RedisStore[T]) get(ctx context.Context, key any, withTTL bool) (T, time.Duration, error) {
	var result T

	k, err := s.key(key)
	if err != nil {
		return result, 0, lib_store.NotFoundWithCause(err)
	}

	object, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return result, 0, lib_store.NotFoundWithCause(err)
	}

	if err != nil {
		return result, 0, err
	}

	if err := json.Unmarshal([]byte(object), &result); err != nil {
		var zero T
		return zero, 0, fmt.Errorf("decode cached value %s: %w", k, err)
	}

	if !withTTL {
		return result, 0, nil
	}

	ttl, err := s.client.TTL(ctx, k).Result()
	if err != nil {
		var zero T
		return zero, 0, err
	}

	return result, ttl, nil
}

// Set defines data in Redis for given key identifier.
func (s *RedisStore[T]) Set(ctx context.Context, key any, value any, options ...lib_store.Option) error {
	opts := lib_store.ApplyOptionsWithDefault(s.options, options...)

	k, err := s.key(key)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, k, string(raw), opts.Expiration).Err(); err != nil {
		return err
	}

	if len(opts.Tags) > 0 {
		ttl := opts.TagsTTL
		if ttl == 0 {
			ttl = 720 * time.Hour
		}

		for _, tag := range opts.Tags {
			tagKey := s.prefix + fmt.Sprintf(RedisTagPattern, tag)
			s.client.SAdd(ctx, tagKey, k)
			s.client.Expire(ctx, tagKey, ttl)
		}
	}

	return nil
}

// Delete removes data from Redis for given key identifier.
func (s *RedisStore[T]) Delete(ctx context.Context, key any) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}

	return s.client.Del(ctx, k).Err()
}

// DeleteMatching removes the keys under the prefix matching the glob pattern.
func (s *RedisStore[T]) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	return xredis.DeleteMatching(ctx, s.client, s.prefix+pattern)
}

// GetType returns the store type.
func (s *RedisStore[T]) GetType() string {
	return RedisType
}

// Clear removes every key under the prefix. Without a prefix it refuses to wipe the database.
func (s *RedisStore[T]) Clear(ctx context.Context) error {
	if s.prefix == "" {
		return errors.New("refusing to clear redis store without key prefix")
	}

	_, err := s.DeleteMatching(ctx, "*")

	return err
}

// Invalidate removes the keys registered under the given tags.
func (s *RedisStore[T]) Invalidate(ctx context.Context, options ...lib_store.InvalidateOption) error {
	opts := lib_store.ApplyInvalidateOptions(options...)

	for _, tag := range opts.Tags {
		tagKey := s.prefix + fmt.Sprintf(RedisTagPattern, tag)

		keys, err := s.client.SMembers(ctx, tagKey).Result()
		if err != nil {
			return err
		}

		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}

		if err := s.client.Del(ctx, tagKey).Err(); err != nil {
			return err
		}
	}

	return nil
}
