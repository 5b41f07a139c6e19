package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName scopes the meter and tracer.
const InstrumentationName = "docqa"

// Metrics holds the retrieval metrics. Instruments created from the global
// meter are no-ops unless InitMeter installed a provider.
type Metrics struct {
	Queries        metric.Int64Counter
	QueryDuration  metric.Float64Histogram
	Builds         metric.Int64Counter
	BuildDuration  metric.Float64Histogram
	ChunksIndexed  metric.Int64Counter
	ContextDropped metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.Meter(InstrumentationName))
}

// NewMetricsWith creates the instruments on meter.
func NewMetricsWith(meter metric.Meter) (*Metrics, error) {
	queries, err := meter.Int64Counter(
		"docqa.queries.total",
		metric.WithDescription("Questions answered, by outcome"),
	)
	if err != nil {
		return nil, err
	}
	queryDuration, err := meter.Float64Histogram(
		"docqa.query.duration",
		metric.WithDescription("End-to-end question latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	builds, err := meter.Int64Counter(
		"docqa.builds.total",
		metric.WithDescription("Index builds, by outcome"),
	)
	if err != nil {
		return nil, err
	}
	buildDuration, err := meter.Float64Histogram(
		"docqa.build.duration",
		metric.WithDescription("Index build duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	chunks, err := meter.Int64Counter(
		"docqa.chunks.indexed",
		metric.WithDescription("Chunks embedded and indexed"),
	)
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter(
		"docqa.context.dropped",
		metric.WithDescription("Retrieved chunks left out of the context block by the budget"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		Queries:        queries,
		QueryDuration:  queryDuration,
		Builds:         builds,
		BuildDuration:  buildDuration,
		ChunksIndexed:  chunks,
		ContextDropped: dropped,
	}, nil
}

// RecordQuery records one answered or failed question.
func (m *Metrics) RecordQuery(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Queries.Add(ctx, 1, attrs)
	m.QueryDuration.Record(ctx, seconds, attrs)
}

// RecordBuild records one index build.
func (m *Metrics) RecordBuild(ctx context.Context, outcome string, chunks int, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Builds.Add(ctx, 1, attrs)
	m.BuildDuration.Record(ctx, seconds, attrs)
	if chunks > 0 {
		m.ChunksIndexed.Add(ctx, int64(chunks))
	}
}
