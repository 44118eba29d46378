package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	sdk "go.opentelemetry.io/otel/sdk/metric"

	"github.com/looplj/reportflow/conf"
	"github.com/looplj/reportflow/internal/build"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/metrics"
	"github.com/looplj/reportflow/internal/server"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			handleConfigCommand()
			return
		case "run":
			handleRunCommand(os.Args[2:])
			return
		case "version", "--version", "-v":
			showVersion()
			return
		case "help", "--help", "-h":
			showHelp()
			return
		case "build-info":
			showBuildInfo()
			return
		}
	}

	startServer()
}

func showBuildInfo() {
	fmt.Println(build.GetBuildInfo())
}

type logger struct{}

func (l *logger) LogEvent(event fxevent.Event) {
	log.Debug(context.Background(), "fx event", log.Any("event", event))
}

func startServer() {
	server.Run(
		fx.WithLogger(func() fxevent.Logger {
			return &logger{}
		}),
		fx.Provide(conf.Load),
		fx.Provide(metrics.NewProvider),
		fx.Invoke(func(lc fx.Lifecycle, server *server.Server, provider *sdk.MeterProvider) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if provider != nil {
						return metrics.SetupMetrics(provider, server.Config.Name)
					}

					return nil
				},
				OnStop: func(ctx context.Context) error {
					if provider != nil {
						return provider.Shutdown(ctx)
					}

					return nil
				},
			})
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						err := server.Run()
						if err != nil {
							log.Error(context.Background(), "server run error:", log.Cause(err))
							os.Exit(1)
						}
					}()

					return nil
				},
				OnStop: func(ctx context.Context) error {
					err := server.Shutdown(ctx)
					if err != nil {
						log.Error(context.Background(), "server shutdown error:", log.Cause(err))
					}

					return nil
				},
			})
		}),
	)
}

func showHelp() {
	fmt.Println("ReportFlow AI task orchestration")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  reportflow                        Start the server (default)")
	fmt.Println("  reportflow run <task> <prompt>    Run a single task and print the result")
	fmt.Println("  reportflow config preview         Preview configuration")
	fmt.Println("  reportflow config validate        Validate configuration")
	fmt.Println("  reportflow config get <key>       Get a specific config value")
	fmt.Println("  reportflow version                Show version")
	fmt.Println("  reportflow build-info             Show build information")
	fmt.Println("  reportflow help                   Show this help message")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -f, --format FORMAT       Output format for config preview (yml, json)")
	fmt.Println("  --skip-cache              Bypass the result cache for run")
	fmt.Println("")
	fmt.Println("A prompt of - is read from stdin.")
}

func showVersion() {
	fmt.Println(build.GetBuildInfo().Version)
}
