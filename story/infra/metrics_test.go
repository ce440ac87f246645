package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*OtelMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewOtelMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumFor(t *testing.T, m *metricdata.Metrics, key string, val bool) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", m.Data)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsBool() == val {
			return dp.Value
		}
	}
	return 0
}

func TestOtelMetrics_AdmissionsByOutcome(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAdmission(ctx, true)
	m.RecordAdmission(ctx, true)
	m.RecordAdmission(ctx, false)

	found := findMetric(collect(t, reader), "story.admissions")
	if found == nil {
		t.Fatal("story.admissions metric not found")
	}
	if got := sumFor(t, found, "allowed", true); got != 2 {
		t.Errorf("expected 2 allowed, got %d", got)
	}
	if got := sumFor(t, found, "allowed", false); got != 1 {
		t.Errorf("expected 1 rejected, got %d", got)
	}
}

func TestOtelMetrics_CacheLookups(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordCacheLookup(context.Background(), false)
	m.RecordCacheLookup(context.Background(), true)

	found := findMetric(collect(t, reader), "story.cache.lookups")
	if found == nil {
		t.Fatal("story.cache.lookups metric not found")
	}
	if got := sumFor(t, found, "hit", true); got != 1 {
		t.Errorf("expected 1 hit, got %d", got)
	}
}

func TestOtelMetrics_UpstreamDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordUpstream(context.Background(), 120*time.Millisecond, nil)
	m.RecordUpstream(context.Background(), 80*time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	calls := findMetric(rm, "story.upstream.requests")
	if calls == nil {
		t.Fatal("story.upstream.requests metric not found")
	}
	if got := sumFor(t, calls, "error", true); got != 1 {
		t.Errorf("expected 1 failed call, got %d", got)
	}

	hist := findMetric(rm, "story.upstream.duration_ms")
	if hist == nil {
		t.Fatal("story.upstream.duration_ms metric not found")
	}
	h, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", hist.Data)
	}
	var count uint64
	for _, dp := range h.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("expected 2 observations, got %d", count)
	}
}
