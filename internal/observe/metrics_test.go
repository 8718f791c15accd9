package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxprep.reply.duration", m.ReplyDuration},
		{"voxprep.synthesis.duration", m.SynthesisDuration},
		{"voxprep.pipeline.duration", m.PipelineDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordChunkSplitsByStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChunk(ctx, "ok")
	m.RecordChunk(ctx, "ok")
	m.RecordChunk(ctx, "skipped")

	rm := collect(t, reader)
	met := findMetric(rm, "voxprep.chunks")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not an int64 sum")
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2 (ok, skipped)", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		switch status.AsString() {
		case "ok":
			if dp.Value != 2 {
				t.Errorf("ok count = %d, want 2", dp.Value)
			}
		case "skipped":
			if dp.Value != 1 {
				t.Errorf("skipped count = %d, want 1", dp.Value)
			}
		default:
			t.Errorf("unexpected status attribute %q", status.AsString())
		}
	}
}

func TestRecordSynthesisAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordSynthesis(context.Background(), "piper", "ok", 0.2)

	rm := collect(t, reader)
	met := findMetric(rm, "voxprep.synthesis.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	backend, _ := hist.DataPoints[0].Attributes.Value(attribute.Key("backend"))
	if backend.AsString() != "piper" {
		t.Errorf("backend attribute = %q, want piper", backend.AsString())
	}
}

func TestRecordDegraded(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordDegraded(context.Background(), "text_fallback")

	rm := collect(t, reader)
	met := findMetric(rm, "voxprep.degraded")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("degraded counter = %+v, want one data point of 1", sum.DataPoints)
	}
}

func TestRecordCacheEventSplitsByEvent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheEvent(ctx, "hit")
	m.RecordCacheEvent(ctx, "hit")
	m.RecordCacheEvent(ctx, "miss")

	rm := collect(t, reader)
	met := findMetric(rm, "voxprep.voicecache.events")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not an int64 sum")
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2 (hit, miss)", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		event, _ := dp.Attributes.Value(attribute.Key("event"))
		switch event.AsString() {
		case "hit":
			if dp.Value != 2 {
				t.Errorf("hit count = %d, want 2", dp.Value)
			}
		case "miss":
			if dp.Value != 1 {
				t.Errorf("miss count = %d, want 1", dp.Value)
			}
		default:
			t.Errorf("unexpected event attribute %q", event.AsString())
		}
	}
}

func TestActiveRequestsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRequests.Add(ctx, 1)
	m.ActiveRequests.Add(ctx, 1)
	m.ActiveRequests.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "voxprep.active_requests")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active requests = %+v, want 1", sum.DataPoints)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics must return the same instance")
	}
}
