package infra

import (
	"context"
	"time"

	"story-gateway/story/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelMetrics registra os eventos do orquestrador em instrumentos OpenTelemetry.
type OtelMetrics struct {
	admissions     metric.Int64Counter
	cacheLookups   metric.Int64Counter
	upstreamCalls  metric.Int64Counter
	upstreamTiming metric.Float64Histogram
}

func NewOtelMetrics(meter metric.Meter) (*OtelMetrics, error) {
	admissions, err := meter.Int64Counter(
		"story.admissions",
		metric.WithDescription("Rate governor decisions"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"story.cache.lookups",
		metric.WithDescription("Response cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	upstreamCalls, err := meter.Int64Counter(
		"story.upstream.requests",
		metric.WithDescription("Calls to the text generation API"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	upstreamTiming, err := meter.Float64Histogram(
		"story.upstream.duration_ms",
		metric.WithDescription("Text generation API latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &OtelMetrics{
		admissions:     admissions,
		cacheLookups:   cacheLookups,
		upstreamCalls:  upstreamCalls,
		upstreamTiming: upstreamTiming,
	}, nil
}

func (m *OtelMetrics) RecordAdmission(ctx context.Context, allowed bool) {
	m.admissions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("allowed", allowed)))
}

func (m *OtelMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

func (m *OtelMetrics) RecordUpstream(ctx context.Context, d time.Duration, err error) {
	opt := metric.WithAttributes(attribute.Bool("error", err != nil))
	m.upstreamCalls.Add(ctx, 1, opt)
	m.upstreamTiming.Record(ctx, float64(d.Milliseconds()), opt)
}

var _ domain.Metrics = (*OtelMetrics)(nil)
