package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/looplj/reportflow/internal/pkg/xredis"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	var zero T

	return zero
}

func TestMemory_BroadcastAndUnsubscribe(t *testing.T) {
	w := NewMemory[int](Options{Buffer: 1})

	ch1, stop1 := w.Watch()
	ch2, stop2 := w.Watch()

	defer stop2()

	require.NoError(t, w.Notify(context.Background(), 42))
	require.Equal(t, 42, receive(t, ch1))
	require.Equal(t, 42, receive(t, ch2))

	stop1()
	stop1()

	_, ok := <-ch1
	require.False(t, ok)
}

func TestMemory_DropsWhenFull(t *testing.T) {
	w := NewMemory[int](Options{Buffer: 1})

	ch, stop := w.Watch()
	defer stop()

	require.NoError(t, w.Notify(context.Background(), 1))
	require.NoError(t, w.Notify(context.Background(), 2))

	require.Equal(t, 1, receive(t, ch))

	select {
	case v := <-ch:
		t.Fatalf("unexpected event %d", v)
	default:
	}
}

func TestMemory_Close(t *testing.T) {
	w := NewMemory[int](Options{})

	ch, stop := w.Watch()
	require.NoError(t, w.Close())

	_, ok := <-ch
	require.False(t, ok)

	stop()
}

type event struct {
	Pattern string `json:"pattern"`
}

func TestRedis_BroadcastAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	w1, err := NewRedis[event](client, Options{Channel: "reportflow:test", Buffer: 1})
	require.NoError(t, err)
	w2, err := NewRedisFromConfig[event](context.Background(), xredis.Config{Addr: mr.Addr()}, Options{Channel: "reportflow:test", Buffer: 1})
	require.NoError(t, err)

	t.Cleanup(func() { _ = w2.Close() })

	ch1, stop1 := w1.Watch()
	ch2, stop2 := w2.Watch()

	defer stop1()
	defer stop2()

	require.NoError(t, w1.Notify(context.Background(), event{Pattern: "draftReport"}))

	require.Equal(t, "draftReport", receive(t, ch1).Pattern)
	require.Equal(t, "draftReport", receive(t, ch2).Pattern)
}

func TestRedis_RequiresChannel(t *testing.T) {
	_, err := NewRedis[event](redis.NewClient(&redis.Options{}), Options{})
	require.ErrorContains(t, err, "channel is required")

	_, err = NewRedis[event](nil, Options{Channel: "c"})
	require.ErrorContains(t, err, "client is required")
}
