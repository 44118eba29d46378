package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/pkg/watcher"
	"github.com/looplj/reportflow/internal/pkg/xredis"
)

func TestBroadcaster_PropagatesInvalidation(t *testing.T) {
	ctx := context.Background()
	notifier := watcher.NewMemory[Invalidation](watcher.Options{Buffer: 8})

	recorder := events.NewRecorder(0)
	local := newTestStore[string](t, Config{})
	remote := newTestStore(t, Config{}, WithEventSink[string](recorder))

	b1 := NewBroadcaster(local, notifier)
	b2 := NewBroadcaster(remote, notifier)

	b1.Start()
	b2.Start()

	t.Cleanup(func() { _ = b1.Close() })

	for _, s := range []*Store[string]{local, remote} {
		s.Set(ctx, "draftReport:gemini:m:1", "a", time.Minute)
		s.Set(ctx, "refineReport:gemini:m:2", "b", time.Minute)
	}

	assert.Equal(t, 1, b1.Invalidate(ctx, "draftReport"))
	assert.Equal(t, 1, local.Len())

	require.Eventually(t, func() bool { return remote.Len() == 1 }, time.Second, 10*time.Millisecond)

	_, ok := remote.Get(ctx, "refineReport:gemini:m:2")
	assert.True(t, ok)

	invalidations := recorder.Filter(events.CacheInvalidate)
	require.Len(t, invalidations, 1)
	assert.Equal(t, true, invalidations[0].Data["remote"])

	require.NoError(t, b2.Close())
	require.NoError(t, b2.Close())
}

func TestBroadcaster_Redis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	newNotifier := func() watcher.Notifier[Invalidation] {
		n, err := watcher.NewRedisFromConfig[Invalidation](ctx, xredis.Config{Addr: mr.Addr()},
			watcher.Options{Channel: InvalidationChannel, Buffer: 8})
		require.NoError(t, err)

		return n
	}

	a := newTestStore[string](t, Config{})
	b := newTestStore[string](t, Config{})

	ba := NewBroadcaster(a, newNotifier())
	bb := NewBroadcaster(b, newNotifier())

	ba.Start()
	bb.Start()

	t.Cleanup(func() {
		_ = ba.Close()
		_ = bb.Close()
	})

	a.Set(ctx, "k1", "v", time.Minute)
	b.Set(ctx, "k1", "v", time.Minute)
	b.Set(ctx, "k2", "v", time.Minute)

	assert.Equal(t, 1, ba.Invalidate(ctx, ""))

	require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 10*time.Millisecond)
}
