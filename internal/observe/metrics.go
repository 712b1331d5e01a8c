// Package observe provides application-wide observability primitives for
// Rail UK: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Rail UK metrics.
const meterName = "github.com/MrWong99/railuk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SkillDuration tracks the time spent handling one skill request. Use with
	// attribute.String("request_type", ...).
	SkillDuration metric.Float64Histogram

	// UpstreamDuration tracks departure provider call latency. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("operation", ...)
	UpstreamDuration metric.Float64Histogram

	// StoreDuration tracks preference store latency. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("operation", ...)
	StoreDuration metric.Float64Histogram

	// --- Counters ---

	// SkillRequests counts handled skill requests. Use with attributes:
	//   attribute.String("request_type", ...), attribute.String("intent", ...), attribute.String("status", ...)
	SkillRequests metric.Int64Counter

	// ResolutionOutcomes counts station resolutions. Use with attributes:
	//   attribute.String("slot", ...), attribute.String("outcome", ...), attribute.String("path", ...)
	ResolutionOutcomes metric.Int64Counter

	// UpstreamRequests counts departure provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("operation", ...), attribute.String("status", ...)
	UpstreamRequests metric.Int64Counter

	// StoreOperations counts preference store calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("operation", ...), attribute.String("status", ...)
	StoreOperations metric.Int64Counter

	// --- Error counters ---

	// UpstreamErrors counts departure provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	UpstreamErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("from", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveRequests tracks the number of skill requests currently in flight.
	ActiveRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("route", ...), attribute.String("status_class", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). A voice
// platform times out a skill after roughly eight seconds, so nothing beyond
// ten is interesting.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SkillDuration, err = m.Float64Histogram("railuk.skill.duration",
		metric.WithDescription("Latency of a complete skill request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UpstreamDuration, err = m.Float64Histogram("railuk.upstream.duration",
		metric.WithDescription("Latency of departure provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("railuk.store.duration",
		metric.WithDescription("Latency of preference store operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SkillRequests, err = m.Int64Counter("railuk.skill.requests",
		metric.WithDescription("Total skill requests by request type, intent, and status."),
	); err != nil {
		return nil, err
	}
	if met.ResolutionOutcomes, err = m.Int64Counter("railuk.resolution.outcomes",
		metric.WithDescription("Total station resolutions by slot, outcome, and path."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamRequests, err = m.Int64Counter("railuk.upstream.requests",
		metric.WithDescription("Total departure provider calls by provider, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.StoreOperations, err = m.Int64Counter("railuk.store.operations",
		metric.WithDescription("Total preference store operations by backend, operation, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.UpstreamErrors, err = m.Int64Counter("railuk.upstream.errors",
		metric.WithDescription("Total departure provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("railuk.upstream.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRequests, err = m.Int64UpDownCounter("railuk.active_requests",
		metric.WithDescription("Number of skill requests currently being handled."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("railuk.http.request.duration",
		metric.WithDescription("HTTP request latency by route pattern and status class."),
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

// RecordSkillRequest records one handled skill request and its latency.
func (m *Metrics) RecordSkillRequest(ctx context.Context, requestType, intent, status string, d time.Duration) {
	m.SkillRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("request_type", requestType),
			attribute.String("intent", intent),
			attribute.String("status", status),
		),
	)
	m.SkillDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("request_type", requestType)),
	)
}

// RecordResolution is a convenience method that records a resolution outcome
// counter increment with the standard attribute set.
func (m *Metrics) RecordResolution(ctx context.Context, slot, outcome, path string) {
	m.ResolutionOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("slot", slot),
			attribute.String("outcome", outcome),
			attribute.String("path", path),
		),
	)
}

// RecordUpstreamRequest records a departure provider call and its latency.
func (m *Metrics) RecordUpstreamRequest(ctx context.Context, provider, operation, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	)
	m.UpstreamDuration.Record(ctx, d.Seconds(), attrs)
	m.UpstreamRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordUpstreamError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordUpstreamError(ctx context.Context, provider, kind string) {
	m.UpstreamErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordStoreOperation records a preference store call and its latency.
func (m *Metrics) RecordStoreOperation(ctx context.Context, backend, operation, status string, d time.Duration) {
	m.StoreDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("operation", operation),
		),
	)
	m.StoreOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition records a circuit breaker moving between states.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}
