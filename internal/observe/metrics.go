// Package observe provides application-wide observability primitives for
// VoxBridge: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoxBridge metrics.
const meterName = "github.com/nxtg-ai/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// UpstreamTTFB tracks time from response start to first audio byte from
	// the upstream provider.
	UpstreamTTFB metric.Float64Histogram

	// ReflexDuration tracks how long reflex fillers actually played before
	// being stopped.
	ReflexDuration metric.Float64Histogram

	// PolicyDuration tracks policy gate pipeline evaluation latency.
	PolicyDuration metric.Float64Histogram

	// --- Counters ---

	// AdmissionDrops counts audio chunks dropped by the admission gate.
	// Use with attribute: attribute.String("reason", ...)
	AdmissionDrops metric.Int64Counter

	// PolicyDecisions counts policy gate decisions. Use with attribute:
	//   attribute.String("kind", ...)
	PolicyDecisions metric.Int64Counter

	// ControlOverrides counts severity-driven upgrades to output cancel.
	ControlOverrides metric.Int64Counter

	// UpstreamReconnects counts reconnection attempts to the upstream
	// provider. Use with attribute: attribute.String("status", ...)
	UpstreamReconnects metric.Int64Counter

	// SessionsStarted counts sessions opened since process start.
	SessionsStarted metric.Int64Counter

	// --- Error counters ---

	// UpstreamErrors counts errors surfaced by the upstream provider.
	UpstreamErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-interaction latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.UpstreamTTFB, err = m.Float64Histogram("voxbridge.upstream.ttfb",
		metric.WithDescription("Time from response start to first audio byte from the upstream provider."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReflexDuration, err = m.Float64Histogram("voxbridge.reflex.duration",
		metric.WithDescription("How long reflex fillers played before being stopped."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PolicyDuration, err = m.Float64Histogram("voxbridge.policy.duration",
		metric.WithDescription("Policy gate pipeline evaluation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AdmissionDrops, err = m.Int64Counter("voxbridge.admission.drops",
		metric.WithDescription("Audio chunks dropped by the admission gate, by reason."),
	); err != nil {
		return nil, err
	}
	if met.PolicyDecisions, err = m.Int64Counter("voxbridge.policy.decisions",
		metric.WithDescription("Policy gate decisions by kind."),
	); err != nil {
		return nil, err
	}
	if met.ControlOverrides, err = m.Int64Counter("voxbridge.control.overrides",
		metric.WithDescription("Severity-driven upgrades to output cancel."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamReconnects, err = m.Int64Counter("voxbridge.upstream.reconnects",
		metric.WithDescription("Upstream provider reconnection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("voxbridge.sessions.started",
		metric.WithDescription("Sessions opened since process start."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.UpstreamErrors, err = m.Int64Counter("voxbridge.upstream.errors",
		metric.WithDescription("Errors surfaced by the upstream provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
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

// RecordAdmissionDrop records a dropped audio chunk with its drop reason.
func (m *Metrics) RecordAdmissionDrop(ctx context.Context, reason string) {
	m.AdmissionDrops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordPolicyDecision records a policy gate decision by kind.
func (m *Metrics) RecordPolicyDecision(ctx context.Context, kind string) {
	m.PolicyDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordReconnect records an upstream reconnection attempt and its outcome.
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.UpstreamReconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTTFB records the upstream time-to-first-byte for one response.
func (m *Metrics) RecordTTFB(ctx context.Context, seconds float64) {
	m.UpstreamTTFB.Record(ctx, seconds)
}
