package xcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gocache "github.com/patrickmn/go-cache"

	"github.com/looplj/reportflow/internal/pkg/xredis"
)

type entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	cache := NewNoop[string]()

	_, err := cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheNotConfigured)
	assert.True(t, IsNotFound(err))

	assert.NoError(t, cache.Set(ctx, "k", "v"))

	_, err = cache.Get(ctx, "k")
	assert.True(t, IsNotFound(err))

	assert.NoError(t, cache.Delete(ctx, "k"))
	assert.NoError(t, cache.Clear(ctx))
	assert.NoError(t, cache.Invalidate(ctx))
	assert.Equal(t, "noop", cache.GetType())
}

func TestNewTwoLevel(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	memClient := gocache.New(5*time.Minute, 10*time.Minute)
	mem := NewMemory[string](memClient)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rds := NewRedis[string](client, "rf:")
	cache := NewTwoLevel(mem, rds)

	require.NoError(t, cache.Set(ctx, "k", "v"))
	require.True(t, mr.Exists("rf:k"))

	require.NoError(t, mem.Clear(ctx))

	value, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", value)
	require.Equal(t, "chain", cache.GetType())
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		tier, err := NewFromConfig[entry](ctx, Config{})
		require.NoError(t, err)
		require.False(t, tier.Enabled())

		require.NoError(t, tier.Set(ctx, "k", entry{Value: "v"}, time.Minute))

		_, err = tier.Get(ctx, "k")
		require.True(t, IsNotFound(err))
		require.NoError(t, tier.Close())
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := NewFromConfig[entry](ctx, Config{Mode: "disk"})
		require.Error(t, err)
	})

	t.Run("redis without address", func(t *testing.T) {
		_, err := NewFromConfig[entry](ctx, Config{Mode: ModeRedis})
		require.ErrorContains(t, err, "requires a redis addr")
	})

	t.Run("memory", func(t *testing.T) {
		tier, err := NewFromConfig[entry](ctx, Config{Mode: ModeMemory})
		require.NoError(t, err)
		require.True(t, tier.Enabled())
		require.Equal(t, ModeMemory, tier.Mode())

		want := entry{Value: "impression", ExpiresAt: time.Now().Add(time.Minute).UTC()}
		require.NoError(t, tier.Set(ctx, "getGuidance:gemini:k1", want, time.Minute))

		got, err := tier.Get(ctx, "getGuidance:gemini:k1")
		require.NoError(t, err)
		require.Equal(t, want, got)

		require.NoError(t, tier.Delete(ctx, "getGuidance:gemini:k1"))

		_, err = tier.Get(ctx, "getGuidance:gemini:k1")
		require.True(t, IsNotFound(err))
	})

	t.Run("two level", func(t *testing.T) {
		mr := miniredis.RunT(t)

		tier, err := NewFromConfig[entry](ctx, Config{
			Mode:  ModeTwoLevel,
			Redis: xredis.Config{Addr: mr.Addr(), KeyPrefix: "rf:"},
		})
		require.NoError(t, err)

		defer tier.Close()

		for _, key := range []string{"refineReport:openai:a", "refineReport:openai:b", "finalReview:openai:a"} {
			require.NoError(t, tier.Set(ctx, key, entry{Value: key}, time.Minute))
		}

		require.True(t, mr.Exists("rf:refineReport:openai:a"))

		ttl := mr.TTL("rf:refineReport:openai:a")
		require.Equal(t, time.Minute, ttl)

		deleted, err := tier.DeleteContaining(ctx, "refineReport")
		require.NoError(t, err)
		require.Equal(t, 2, deleted)
		require.False(t, mr.Exists("rf:refineReport:openai:b"))

		got, err := tier.Get(ctx, "finalReview:openai:a")
		require.NoError(t, err)
		require.Equal(t, "finalReview:openai:a", got.Value)

		deleted, err = tier.DeleteContaining(ctx, "")
		require.NoError(t, err)
		require.Equal(t, 1, deleted)
	})
}
