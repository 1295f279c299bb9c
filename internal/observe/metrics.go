// Package observe provides application-wide observability primitives for
// docground: OpenTelemetry metrics, distributed tracing, and structured
// logging helpers that tie them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all docground metrics.
const meterName = "github.com/docground/docground"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// NormalizeDuration tracks transcript normalization latency.
	NormalizeDuration metric.Float64Histogram

	// SegmentDuration tracks topic segmentation latency.
	SegmentDuration metric.Float64Histogram

	// GenerationDuration tracks step draft generation latency per segment.
	GenerationDuration metric.Float64Histogram

	// GroundingDuration tracks source grounding latency per step.
	GroundingDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end job latency.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderFallbacks counts failovers from a primary provider to a
	// secondary. Use with attribute:
	//   attribute.String("kind", ...)
	ProviderFallbacks metric.Int64Counter

	// TokensUsed counts LLM tokens consumed. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("type", "prompt"|"completion")
	TokensUsed metric.Int64Counter

	// Steps counts generated steps by validation outcome. Use with attribute:
	//   attribute.String("status", "accepted"|"rejected")
	Steps metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks the number of pipeline jobs currently running.
	ActiveJobs metric.Int64UpDownCounter

	// ActiveSegments tracks the number of segments currently being processed
	// across all jobs.
	ActiveSegments metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for a mix of fast local stages and slow provider-bound stages.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.NormalizeDuration, err = m.Float64Histogram("docground.normalize.duration",
		metric.WithDescription("Latency of transcript normalization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("docground.segment.duration",
		metric.WithDescription("Latency of topic segmentation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("docground.generation.duration",
		metric.WithDescription("Latency of step draft generation per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GroundingDuration, err = m.Float64Histogram("docground.grounding.duration",
		metric.WithDescription("Latency of source grounding per step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("docground.pipeline.duration",
		metric.WithDescription("End-to-end pipeline job latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("docground.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderFallbacks, err = m.Int64Counter("docground.provider.fallbacks",
		metric.WithDescription("Total failovers to a secondary provider by kind."),
	); err != nil {
		return nil, err
	}
	if met.TokensUsed, err = m.Int64Counter("docground.tokens.used",
		metric.WithDescription("Total LLM tokens consumed by provider and type."),
	); err != nil {
		return nil, err
	}
	if met.Steps, err = m.Int64Counter("docground.steps",
		metric.WithDescription("Total generated steps by validation status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("docground.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobs, err = m.Int64UpDownCounter("docground.active_jobs",
		metric.WithDescription("Number of pipeline jobs currently running."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSegments, err = m.Int64UpDownCounter("docground.active_segments",
		metric.WithDescription("Number of segments currently being processed."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFallback records a failover to a secondary provider.
func (m *Metrics) RecordFallback(ctx context.Context, kind string) {
	m.ProviderFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTokens records token consumption for a provider. Zero counts are
// skipped.
func (m *Metrics) RecordTokens(ctx context.Context, provider string, prompt, completion int64) {
	if prompt > 0 {
		m.TokensUsed.Add(ctx, prompt,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("type", "prompt"),
			),
		)
	}
	if completion > 0 {
		m.TokensUsed.Add(ctx, completion,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("type", "completion"),
			),
		)
	}
}

// RecordStep records a generated step's validation outcome.
func (m *Metrics) RecordStep(ctx context.Context, accepted bool) {
	status := "rejected"
	if accepted {
		status = "accepted"
	}
	m.Steps.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
