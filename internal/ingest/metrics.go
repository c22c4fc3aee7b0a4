package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/memgate/internal/ingest"

// Metrics holds the admission pipeline's instruments.
type Metrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	validations metric.Int64Counter
	duration    metric.Float64Histogram
	failures    metric.Int64Counter
}

// NewMetrics creates pipeline metrics from the global meter provider.
// Instrument creation failures are logged and tolerated; recording on a nil
// instrument is a no-op.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.validations, err = m.meter.Int64Counter(
		"memgate.ingest.validations_total",
		metric.WithDescription("Total candidate memories validated, by tier"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create validations counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"memgate.ingest.validation_duration_seconds",
		metric.WithDescription("Duration of candidate validation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.failures, err = m.meter.Int64Counter(
		"memgate.ingest.failures_total",
		metric.WithDescription("Validator and store failures treated as blocks"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		m.logger.Warn("failed to create failures counter", zap.Error(err))
	}
}

// RecordValidation records one validation outcome.
func (m *Metrics) RecordValidation(ctx context.Context, tier Tier, source string, elapsed time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("tier", string(tier)),
		attribute.String("source", source),
	}
	if m.validations != nil {
		m.validations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordFailure records a fail-closed event.
func (m *Metrics) RecordFailure(ctx context.Context, stage string) {
	if m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}
