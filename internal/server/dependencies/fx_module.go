package dependencies

import (
	"context"
	"errors"

	"go.uber.org/fx"

	"github.com/looplj/reportflow/internal/cache"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/llm/provider"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/pkg/httpclient"
)

var Module = fx.Module("dependencies",
	fx.Provide(log.New),
	fx.Provide(httpclient.NewHttpClient),
	fx.Provide(NewRecorder),
	fx.Provide(NewEventSink),
	fx.Provide(NewLimiter),
	fx.Provide(NewCircuitBreaker),
	fx.Provide(NewEngine),
	fx.Provide(NewResultStore),
	fx.Provide(NewInvalidationNotifier),
	fx.Provide(NewBroadcaster),
	fx.Provide(provider.NewRegistry),
	fx.Provide(NewOrchestrator),
	fx.Provide(NewGateway),
	fx.Provide(NewRundownGenerator),
	fx.Invoke(ObserveResilience),
	fx.Invoke(func(lc fx.Lifecycle, store ResultStore, broadcaster *cache.Broadcaster[orchestrator.Result]) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				broadcaster.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return errors.Join(broadcaster.Close(), store.Close())
			},
		})
	}),
)
