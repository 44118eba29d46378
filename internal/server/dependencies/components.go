package dependencies

import (
	"context"

	sdk "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"

	"github.com/looplj/reportflow/internal/cache"
	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/gateway"
	"github.com/looplj/reportflow/internal/llm/provider"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/metrics"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/pkg/watcher"
	"github.com/looplj/reportflow/internal/pkg/xcache"
	"github.com/looplj/reportflow/internal/ratelimit"
	"github.com/looplj/reportflow/internal/resilience"
	"github.com/looplj/reportflow/internal/rundown"
)

// RecentEvents bounds the in memory event view served by the diagnostics endpoint.
const RecentEvents = 256

type ResultStore = *cache.Store[orchestrator.Result]

func NewRecorder() *events.Recorder {
	return events.NewRecorder(RecentEvents)
}

type EventSinkParams struct {
	fx.In

	Logger        *log.Logger
	Recorder      *events.Recorder
	MeterProvider *sdk.MeterProvider `optional:"true"`
}

// NewEventSink fans events out to the log, the recent event view and, when enabled, metrics.
func NewEventSink(params EventSinkParams) (events.Sink, error) {
	sinks := []events.Sink{events.NewLogSink(params.Logger), params.Recorder}

	if params.MeterProvider != nil {
		metricSink, err := metrics.NewEventSink(params.MeterProvider)
		if err != nil {
			return nil, err
		}

		sinks = append(sinks, metricSink)
	}

	return events.Multi(sinks...), nil
}

func NewLimiter(cfg ratelimit.Config, sink events.Sink) *ratelimit.Limiter {
	return ratelimit.New(cfg, ratelimit.WithEventSink(sink))
}

func NewCircuitBreaker(cfg resilience.Config, sink events.Sink) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(cfg.Breaker, resilience.WithBreakerEventSink(sink))
}

func NewEngine(cfg resilience.Config, breaker *resilience.CircuitBreaker, sink events.Sink) *resilience.Engine {
	return resilience.NewEngine(breaker, cfg.Retry, resilience.WithEngineEventSink(sink))
}

// NewResultStore builds the task result cache, backed by the shared tier when one is configured.
func NewResultStore(cfg cache.Config, sink events.Sink) (ResultStore, error) {
	opts := []cache.Option[orchestrator.Result]{cache.WithEventSink[orchestrator.Result](sink)}

	if cfg.Shared.Mode != "" {
		tier, err := cache.NewSharedTier[orchestrator.Result](context.Background(), cfg.Shared)
		if err != nil {
			return nil, err
		}

		opts = append(opts, cache.WithShared(tier))
	}

	return cache.NewStore(cfg, opts...), nil
}

// NewInvalidationNotifier carries cache invalidations between instances sharing the redis
// tier; without one they stay in process.
func NewInvalidationNotifier(cfg cache.Config) (watcher.Notifier[cache.Invalidation], error) {
	opts := watcher.Options{Channel: cfg.Shared.Redis.KeyPrefix + cache.InvalidationChannel, Buffer: 16}

	switch cfg.Shared.Mode {
	case xcache.ModeRedis, xcache.ModeTwoLevel:
		return watcher.NewRedisFromConfig[cache.Invalidation](context.Background(), cfg.Shared.Redis, opts)
	default:
		return watcher.NewMemory[cache.Invalidation](opts), nil
	}
}

func NewBroadcaster(store ResultStore, notifier watcher.Notifier[cache.Invalidation]) *cache.Broadcaster[orchestrator.Result] {
	return cache.NewBroadcaster(store, notifier)
}

func NewOrchestrator(
	settings orchestrator.Settings,
	cacheCfg cache.Config,
	registry *provider.Registry,
	engine *resilience.Engine,
	store ResultStore,
	sink events.Sink,
) *orchestrator.Orchestrator {
	return orchestrator.New(settings, registry, engine, store,
		orchestrator.WithEventSink(sink),
		orchestrator.WithTTLConfig(cacheCfg.TTL),
	)
}

func NewGateway(
	cfg resilience.Config,
	registry *provider.Registry,
	engine *resilience.Engine,
	store ResultStore,
	sink events.Sink,
) *gateway.Gateway {
	opts := []gateway.Option{gateway.WithEventSink(sink)}
	if cfg.FallbackRetries > 0 {
		opts = append(opts, gateway.WithProviderRetries(cfg.FallbackRetries))
	}

	return gateway.New(engine, registry, store, opts...)
}

func NewRundownGenerator(orch *orchestrator.Orchestrator, sink events.Sink) *rundown.Generator {
	return rundown.NewGenerator(orch, rundown.WithEventSink(sink))
}

type ObserveParams struct {
	fx.In

	MeterProvider *sdk.MeterProvider `optional:"true"`
	Breaker       *resilience.CircuitBreaker
	Limiter       *ratelimit.Limiter
}

// ObserveResilience registers the breaker and limiter gauges when metrics are enabled.
func ObserveResilience(params ObserveParams) error {
	if params.MeterProvider == nil {
		return nil
	}

	return metrics.ObserveResilience(params.MeterProvider, params.Breaker, params.Limiter)
}
