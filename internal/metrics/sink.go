package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/ratelimit"
	"github.com/looplj/reportflow/internal/resilience"
)

const meterName = "github.com/looplj/reportflow"

// EventSink counts diagnostic events and records task latencies.
type EventSink struct {
	events       metric.Int64Counter
	taskDuration metric.Float64Histogram
}

var _ events.Sink = (*EventSink)(nil)

func NewEventSink(provider metric.MeterProvider) (*EventSink, error) {
	meter := provider.Meter(meterName)

	counter, err := meter.Int64Counter("reportflow.events",
		metric.WithDescription("Diagnostic events emitted by the orchestration layer."),
	)
	if err != nil {
		return nil, err
	}

	histogram, err := meter.Float64Histogram("reportflow.task.duration",
		metric.WithDescription("Duration of settled tasks."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &EventSink{events: counter, taskDuration: histogram}, nil
}

func (s *EventSink) Emit(ctx context.Context, event events.Event) {
	s.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event.Name)))

	var outcome string

	switch event.Name {
	case events.TaskSuccess:
		outcome = "success"
	case events.TaskFailure:
		outcome = "failure"
	case events.TaskAborted:
		outcome = "aborted"
	default:
		return
	}

	duration, ok := event.Data["duration_ms"].(int64)
	if !ok {
		return
	}

	s.taskDuration.Record(ctx, float64(duration), metric.WithAttributes(
		attribute.String("task", stringValue(event.Data["task"])),
		attribute.String("provider", stringValue(event.Data["provider"])),
		attribute.String("outcome", outcome),
	))
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// ObserveResilience exports the breaker and limiter state as gauges.
func ObserveResilience(provider metric.MeterProvider, breaker *resilience.CircuitBreaker, limiter *ratelimit.Limiter) error {
	meter := provider.Meter(meterName)

	failures, err := meter.Int64ObservableGauge("reportflow.circuit.consecutive_failures",
		metric.WithDescription("Consecutive failures per provider circuit."),
	)
	if err != nil {
		return err
	}

	open, err := meter.Int64ObservableGauge("reportflow.circuit.open",
		metric.WithDescription("1 while a provider circuit is not closed."),
	)
	if err != nil {
		return err
	}

	active, err := meter.Int64ObservableGauge("reportflow.ratelimit.active")
	if err != nil {
		return err
	}

	queued, err := meter.Int64ObservableGauge("reportflow.ratelimit.queued")
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if breaker != nil {
			for _, stats := range breaker.Snapshot() {
				attrs := metric.WithAttributes(
					attribute.String("provider", stats.Provider),
					attribute.String("state", string(stats.State)),
				)

				o.ObserveInt64(failures, int64(stats.ConsecutiveFailures), attrs)

				var isOpen int64
				if stats.State != resilience.StateClosed {
					isOpen = 1
				}

				o.ObserveInt64(open, isOpen, attrs)
			}
		}

		if limiter != nil {
			status := limiter.Status()
			o.ObserveInt64(active, int64(status.Active))
			o.ObserveInt64(queued, int64(status.Queued))
		}

		return nil
	}, failures, open, active, queued)

	return err
}
