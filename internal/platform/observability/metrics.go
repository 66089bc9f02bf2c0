package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/podshop/api/internal/platform/observability"

// UpstreamMetrics records latency of calls made to third party APIs.
type UpstreamMetrics struct {
	latency metric.Float64Histogram
	enabled bool
}

// NewUpstreamMetrics registers the upstream latency histogram. A nil meter selects the global provider.
func NewUpstreamMetrics(meter metric.Meter, logger *zap.Logger) *UpstreamMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	latency, err := meter.Float64Histogram(
		"upstream.request.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of calls to upstream APIs"),
	)
	if err != nil {
		logger.Warn("observability: unable to register upstream latency metric", zap.Error(err))
		return &UpstreamMetrics{}
	}
	return &UpstreamMetrics{latency: latency, enabled: true}
}

// Record stores one call observation. Safe on a nil receiver.
func (m *UpstreamMetrics) Record(ctx context.Context, service, operation string, elapsed time.Duration, err error) {
	if m == nil || !m.enabled {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// CheckoutMetrics counts checkout pipeline runs by terminal stage and result.
type CheckoutMetrics struct {
	outcomes metric.Int64Counter
	enabled  bool
}

// NewCheckoutMetrics registers the pipeline outcome counter. A nil meter selects the global provider.
func NewCheckoutMetrics(meter metric.Meter, logger *zap.Logger) *CheckoutMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	outcomes, err := meter.Int64Counter(
		"checkout.pipeline.outcomes",
		metric.WithDescription("Count of checkout pipeline runs grouped by stage and result"),
	)
	if err != nil {
		logger.Warn("observability: unable to register checkout outcome metric", zap.Error(err))
		return &CheckoutMetrics{}
	}
	return &CheckoutMetrics{outcomes: outcomes, enabled: true}
}

// RecordOutcome increments the counter for a finished run. Safe on a nil receiver.
func (m *CheckoutMetrics) RecordOutcome(ctx context.Context, stage, result string) {
	if m == nil || !m.enabled {
		return
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("result", result),
	))
}
