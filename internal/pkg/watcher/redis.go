package watcher

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/pkg/xredis"
)

// redisWatcher subscribes to the channel while it has at least one subscriber.
type redisWatcher[T any] struct {
	client  *redis.Client
	owned   bool
	channel string
	subs    *subscribers[T]

	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// NewRedis returns a watcher publishing JSON encoded events on opts.Channel.
func NewRedis[T any](client *redis.Client, opts Options) (Notifier[T], error) {
	if client == nil {
		return nil, errors.New("watcher: redis client is required")
	}

	if opts.Channel == "" {
		return nil, errors.New("watcher: redis channel is required")
	}

	w := &redisWatcher[T]{
		client:  client,
		channel: opts.Channel,
		subs:    newSubscribers[T](opts.buffer()),
	}
	w.subs.onChange = w.onSubscribersChanged

	return w, nil
}

// NewRedisFromConfig dials redis and returns a watcher that owns the client.
func NewRedisFromConfig[T any](ctx context.Context, cfg xredis.Config, opts Options) (Notifier[T], error) {
	client, err := xredis.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	n, err := NewRedis[T](client, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	n.(*redisWatcher[T]).owned = true

	return n, nil
}

func (w *redisWatcher[T]) Watch() (<-chan T, func()) {
	return w.subs.add()
}

func (w *redisWatcher[T]) Notify(ctx context.Context, v T) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return w.client.Publish(ctx, w.channel, payload).Err()
}

func (w *redisWatcher[T]) Close() error {
	w.subs.closeAll()

	w.subs.mu.Lock()
	w.stopLocked()
	w.subs.mu.Unlock()

	if w.owned {
		return w.client.Close()
	}

	return nil
}

func (w *redisWatcher[T]) onSubscribersChanged(active int) {
	switch active {
	case 0:
		w.stopLocked()
	case 1:
		w.startLocked()
	}
}

func (w *redisWatcher[T]) startLocked() {
	if w.pubsub != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.pubsub = w.client.Subscribe(ctx, w.channel)
	// Wait for the subscription confirmation so events published right after Watch are seen.
	_, _ = w.pubsub.Receive(ctx)

	go w.receive(ctx, w.pubsub)
}

func (w *redisWatcher[T]) receive(ctx context.Context, ps *redis.PubSub) {
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}

			log.Warn(ctx, "watcher receive failed", log.String("channel", w.channel), log.Cause(err))

			continue
		}

		var v T
		if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
			log.Warn(ctx, "watcher decode failed",
				log.String("channel", w.channel),
				log.String("payload", msg.Payload),
				log.Cause(err),
			)

			continue
		}

		w.subs.broadcast(v)
	}
}

func (w *redisWatcher[T]) stopLocked() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}

	if w.pubsub != nil {
		_ = w.pubsub.Close()
		w.pubsub = nil
	}
}
