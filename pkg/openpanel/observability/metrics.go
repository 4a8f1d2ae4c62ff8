package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	operrors "github.com/randalmurphal/openpanel/pkg/openpanel/errors"
)

const instrumentationName = "github.com/randalmurphal/openpanel"

// MetricsRecorder records dispatch metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordSubmitted records an event accepted by the engine.
	RecordSubmitted(ctx context.Context, eventType string)

	// RecordDropped records an event discarded before sending.
	RecordDropped(ctx context.Context, eventType, reason string)

	// RecordQueued records an event parked in the holding queue.
	RecordQueued(ctx context.Context, eventType string)

	// RecordDelivery records one logical send with its outcome.
	RecordDelivery(ctx context.Context, eventType string, duration time.Duration, attempts int, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	submitted        metric.Int64Counter
	dropped          metric.Int64Counter
	queued           metric.Int64Counter
	deliveries       metric.Int64Counter
	deliveryErrors   metric.Int64Counter
	deliveryLatency  metric.Float64Histogram
	deliveryAttempts metric.Int64Histogram
}

// newOtelMetrics creates the instruments on the given provider.
func newOtelMetrics(mp metric.MeterProvider) (*otelMetrics, error) {
	meter := mp.Meter(instrumentationName)

	submitted, err := meter.Int64Counter("openpanel.events.submitted",
		metric.WithDescription("Number of events accepted by the client"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("openpanel.events.dropped",
		metric.WithDescription("Number of events discarded before sending"),
	)
	if err != nil {
		return nil, err
	}

	queued, err := meter.Int64Counter("openpanel.events.queued",
		metric.WithDescription("Number of events held until a profile is set"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("openpanel.deliveries",
		metric.WithDescription("Number of completed delivery operations"),
	)
	if err != nil {
		return nil, err
	}

	deliveryErrors, err := meter.Int64Counter("openpanel.delivery.errors",
		metric.WithDescription("Number of terminal delivery failures"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("openpanel.delivery.latency_ms",
		metric.WithDescription("Delivery latency in milliseconds, retries included"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deliveryAttempts, err := meter.Int64Histogram("openpanel.delivery.attempts",
		metric.WithDescription("Requests made per delivery"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		submitted:        submitted,
		dropped:          dropped,
		queued:           queued,
		deliveries:       deliveries,
		deliveryErrors:   deliveryErrors,
		deliveryLatency:  deliveryLatency,
		deliveryAttempts: deliveryAttempts,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// A nil provider means the global one from otel.GetMeterProvider.
// If metrics initialization fails, returns a no-op recorder.
func NewMetricsRecorder(mp metric.MeterProvider) MetricsRecorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m, err := newOtelMetrics(mp)
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordSubmitted records an accepted event.
func (m *otelMetrics) RecordSubmitted(ctx context.Context, eventType string) {
	m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordDropped records a discarded event.
func (m *otelMetrics) RecordDropped(ctx context.Context, eventType, reason string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("reason", reason),
	))
}

// RecordQueued records a held event.
func (m *otelMetrics) RecordQueued(ctx context.Context, eventType string) {
	m.queued.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordDelivery records a send.
func (m *otelMetrics) RecordDelivery(ctx context.Context, eventType string, duration time.Duration, attempts int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.Bool("success", err == nil),
	}

	m.deliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.deliveryLatency.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
	m.deliveryAttempts.Record(ctx, int64(attempts), metric.WithAttributes(attrs...))

	if err != nil {
		m.deliveryErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("error_kind", operrors.Kind(err)),
		))
	}
}
