// Package observe provides observability primitives for the service:
// OpenTelemetry metrics with a Prometheus exporter bridge, and HTTP
// middleware for request IDs, latency recording, and completion logging.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all service metrics.
const meterName = "github.com/voxprep/voxprep"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ReplyDuration tracks reply-generation latency.
	ReplyDuration metric.Float64Histogram

	// SynthesisDuration tracks per-chunk synthesis latency. Attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	SynthesisDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end voice request latency.
	PipelineDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// Chunks counts synthesis units by outcome. Attribute:
	//   attribute.String("status", "ok"|"skipped")
	Chunks metric.Int64Counter

	// Degraded counts responses that did not deliver primary-voice audio.
	// Attribute: attribute.String("kind", "backend_fallback"|"text_fallback")
	Degraded metric.Int64Counter

	// CacheEvents counts voice asset cache activity. Attribute:
	//   attribute.String("event", "hit"|"miss"|"evicted")
	CacheEvents metric.Int64Counter

	// ActiveRequests tracks in-flight voice requests.
	ActiveRequests metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech-synthesis latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ReplyDuration, err = m.Float64Histogram("voxprep.reply.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("voxprep.synthesis.duration",
		metric.WithDescription("Per-chunk synthesis latency by backend and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("voxprep.pipeline.duration",
		metric.WithDescription("End-to-end voice request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxprep.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.Chunks, err = m.Int64Counter("voxprep.chunks",
		metric.WithDescription("Synthesis units processed, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Degraded, err = m.Int64Counter("voxprep.degraded",
		metric.WithDescription("Responses without primary-voice audio, by kind."),
	); err != nil {
		return nil, err
	}

	if met.CacheEvents, err = m.Int64Counter("voxprep.voicecache.events",
		metric.WithDescription("Voice asset cache activity, by event."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRequests, err = m.Int64UpDownCounter("voxprep.active_requests",
		metric.WithDescription("Number of in-flight voice requests."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSynthesis records one chunk synthesis with its backend and outcome.
func (m *Metrics) RecordSynthesis(ctx context.Context, backend, status string, seconds float64) {
	m.SynthesisDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordChunk counts one synthesis unit by outcome ("ok" or "skipped").
func (m *Metrics) RecordChunk(ctx context.Context, status string) {
	m.Chunks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCacheEvent counts one voice cache event ("hit", "miss" or "evicted").
func (m *Metrics) RecordCacheEvent(ctx context.Context, event string) {
	m.CacheEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordDegraded counts one degraded response by kind.
func (m *Metrics) RecordDegraded(ctx context.Context, kind string) {
	m.Degraded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
