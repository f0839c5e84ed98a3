// Package observe provides application-wide observability primitives for
// callwatch: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all callwatch metrics.
const meterName = "github.com/MrWong99/callwatch"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// CheckDuration tracks the latency of one mic check through the worker.
	CheckDuration metric.Float64Histogram

	// Checks counts mic checks. Use with attributes:
	//   attribute.String("source", "primary"|"degraded"), attribute.String("status", "ok"|"error")
	Checks metric.Int64Counter

	// WorkerRestarts counts worker replacements. Use with attribute:
	//   attribute.String("reason", ...)
	WorkerRestarts metric.Int64Counter

	// CallsDetected counts sessions that reached the recording edge.
	CallsDetected metric.Int64Counter

	// RecordingCommands counts recorder Start/Stop invocations. Use with
	// attributes:
	//   attribute.String("action", "start"|"stop"), attribute.String("status", "ok"|"error")
	RecordingCommands metric.Int64Counter

	// LoopRestarts counts outer-supervision restarts of the monitor loop.
	LoopRestarts metric.Int64Counter

	// DegradedMode is 1 after the permanent switch to the fallback probe.
	DegradedMode metric.Int64UpDownCounter

	// RecordingActive is 1 while a recording session is open.
	RecordingActive metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time on the
	// health/metrics server. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// checkBuckets defines histogram bucket boundaries (in seconds) sized for
// probe round-trips: sub-millisecond in the healthy case, up to the response
// timeout when a worker is wedged.
var checkBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CheckDuration, err = m.Float64Histogram("callwatch.check.duration",
		metric.WithDescription("Latency of one mic check through the probe worker."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(checkBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Checks, err = m.Int64Counter("callwatch.checks",
		metric.WithDescription("Total mic checks by source and status."),
	); err != nil {
		return nil, err
	}
	if met.WorkerRestarts, err = m.Int64Counter("callwatch.worker.restarts",
		metric.WithDescription("Total probe worker replacements by trigger reason."),
	); err != nil {
		return nil, err
	}
	if met.CallsDetected, err = m.Int64Counter("callwatch.calls.detected",
		metric.WithDescription("Total call sessions that reached the recording edge."),
	); err != nil {
		return nil, err
	}
	if met.RecordingCommands, err = m.Int64Counter("callwatch.recording.commands",
		metric.WithDescription("Total recorder commands by action and status."),
	); err != nil {
		return nil, err
	}
	if met.LoopRestarts, err = m.Int64Counter("callwatch.loop.restarts",
		metric.WithDescription("Total outer-supervision restarts of the monitor loop."),
	); err != nil {
		return nil, err
	}

	if met.DegradedMode, err = m.Int64UpDownCounter("callwatch.degraded_mode",
		metric.WithDescription("1 after the permanent switch to the degraded fallback probe."),
	); err != nil {
		return nil, err
	}
	if met.RecordingActive, err = m.Int64UpDownCounter("callwatch.recording_active",
		metric.WithDescription("1 while a recording session is open."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("callwatch.http.request.duration",
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

// RecordCheck records one mic check with the standard attribute set.
func (m *Metrics) RecordCheck(ctx context.Context, source, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	)
	m.Checks.Add(ctx, 1, attrs)
	m.CheckDuration.Record(ctx, seconds, attrs)
}

// RecordWorkerRestart records a worker replacement with its trigger reason.
func (m *Metrics) RecordWorkerRestart(ctx context.Context, reason string) {
	m.WorkerRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordRecordingCommand records one recorder Start/Stop invocation.
func (m *Metrics) RecordRecordingCommand(ctx context.Context, action, status string) {
	m.RecordingCommands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}
