// Package observe provides application-wide observability primitives for
// PrawnikGPT: OpenTelemetry metrics, a rolling-window in-process collector,
// tracing helpers, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all PrawnikGPT metrics.
const meterName = "github.com/prawnikgpt/prawnikgpt"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// EmbeddingDuration tracks query embedding latency.
	EmbeddingDuration metric.Float64Histogram

	// SearchDuration tracks semantic search latency, graph traversal included.
	SearchDuration metric.Float64Histogram

	// GenerationDuration tracks LLM generation latency. Use with attribute:
	//   attribute.String("tier", "fast"|"accurate")
	GenerationDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end pipeline latency per tier.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// Queries counts processed queries. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("status", "ok"|"error"|"refused")
	Queries metric.Int64Counter

	// CacheEvents counts context cache lookups. Use with attribute:
	//   attribute.String("outcome", "hit"|"miss")
	CacheEvents metric.Int64Counter

	// GatewayErrors counts inference gateway failures. Use with attributes:
	//   attribute.String("model", ...), attribute.String("kind", ...)
	GatewayErrors metric.Int64Counter

	// --- Gauges ---

	// BackgroundTasks tracks queued plus running background generations.
	BackgroundTasks metric.Int64UpDownCounter

	// MemoryPercent records sampled process memory pressure.
	MemoryPercent metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning
// sub-second retrieval work up to the accurate tier's four-minute budget.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60, 120, 240,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EmbeddingDuration, err = m.Float64Histogram("prawnikgpt.embedding.duration",
		metric.WithDescription("Latency of query embedding generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("prawnikgpt.search.duration",
		metric.WithDescription("Latency of semantic search and relation traversal."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("prawnikgpt.generation.duration",
		metric.WithDescription("Latency of LLM generation by tier."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("prawnikgpt.pipeline.duration",
		metric.WithDescription("End-to-end pipeline latency by tier."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Queries, err = m.Int64Counter("prawnikgpt.queries",
		metric.WithDescription("Total processed queries by tier and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvents, err = m.Int64Counter("prawnikgpt.cache.events",
		metric.WithDescription("Context cache lookups by outcome."),
	); err != nil {
		return nil, err
	}
	if met.GatewayErrors, err = m.Int64Counter("prawnikgpt.gateway.errors",
		metric.WithDescription("Inference gateway failures by model and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.BackgroundTasks, err = m.Int64UpDownCounter("prawnikgpt.background.tasks",
		metric.WithDescription("Queued plus running background generations."),
	); err != nil {
		return nil, err
	}
	if met.MemoryPercent, err = m.Float64Histogram("prawnikgpt.memory.percent",
		metric.WithDescription("Sampled process memory use as a share of host memory."),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("prawnikgpt.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordQuery records a processed query with the standard attribute set.
func (m *Metrics) RecordQuery(ctx context.Context, tier, status string) {
	m.Queries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("status", status),
		),
	)
}

// RecordCacheEvent records one context cache lookup outcome.
func (m *Metrics) RecordCacheEvent(ctx context.Context, outcome string) {
	m.CacheEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordGatewayError records an inference gateway failure.
func (m *Metrics) RecordGatewayError(ctx context.Context, model, kind string) {
	m.GatewayErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("kind", kind),
		),
	)
}

// RecordGeneration records one LLM generation duration for a tier.
func (m *Metrics) RecordGeneration(ctx context.Context, tier string, seconds float64) {
	m.GenerationDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("tier", tier)),
	)
}

// RecordPipeline records one end-to-end pipeline duration for a tier.
func (m *Metrics) RecordPipeline(ctx context.Context, tier string, seconds float64) {
	m.PipelineDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("tier", tier)),
	)
}
