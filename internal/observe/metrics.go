// Package observe provides application-wide observability primitives for
// Arkmoor: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Arkmoor metrics.
const meterName = "github.com/arkmoor/arkmoor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CommandDuration tracks command pipeline handling latency.
	CommandDuration metric.Float64Histogram

	// PublishDuration tracks broker publish fan-out latency.
	PublishDuration metric.Float64Histogram

	// --- Counters ---

	// EnvelopesPublished counts broker publishes. Use with attribute:
	//   attribute.String("kind", ...)
	EnvelopesPublished metric.Int64Counter

	// CommandsDispatched counts dispatched commands. Use with attributes:
	//   attribute.String("verb", ...), attribute.String("status", ...)
	CommandsDispatched metric.Int64Counter

	// PendingDropped counts envelopes discarded from full pending queues.
	PendingDropped metric.Int64Counter

	// ConnectionsRejected counts refused connection attempts. Use with
	// attribute: attribute.String("reason", ...)
	ConnectionsRejected metric.Int64Counter

	// --- Error counters ---

	// BusErrors counts failed forwards to the external bus.
	BusErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live player sessions.
	ActiveSessions metric.Int64UpDownCounter

	// GracePeriods tracks players currently in the login grace period.
	GracePeriods metric.Int64UpDownCounter

	// ActiveCombats tracks running combat encounters.
	ActiveCombats metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// command handling and fan-out latencies.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CommandDuration, err = m.Float64Histogram("arkmoor.command.duration",
		metric.WithDescription("Latency of command pipeline handling."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PublishDuration, err = m.Float64Histogram("arkmoor.publish.duration",
		metric.WithDescription("Latency of broker publish fan-out."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EnvelopesPublished, err = m.Int64Counter("arkmoor.envelopes.published",
		metric.WithDescription("Total envelopes published by kind."),
	); err != nil {
		return nil, err
	}
	if met.CommandsDispatched, err = m.Int64Counter("arkmoor.commands.dispatched",
		metric.WithDescription("Total commands dispatched by verb and status."),
	); err != nil {
		return nil, err
	}
	if met.PendingDropped, err = m.Int64Counter("arkmoor.pending.dropped",
		metric.WithDescription("Envelopes discarded from full grace-period pending queues."),
	); err != nil {
		return nil, err
	}
	if met.ConnectionsRejected, err = m.Int64Counter("arkmoor.connections.rejected",
		metric.WithDescription("Refused connection attempts by reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BusErrors, err = m.Int64Counter("arkmoor.bus.errors",
		metric.WithDescription("Failed forwards to the external bus."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("arkmoor.active_sessions",
		metric.WithDescription("Live player sessions."),
	); err != nil {
		return nil, err
	}
	if met.GracePeriods, err = m.Int64UpDownCounter("arkmoor.grace_periods",
		metric.WithDescription("Players currently in the login grace period."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCombats, err = m.Int64UpDownCounter("arkmoor.active_combats",
		metric.WithDescription("Running combat encounters."),
	); err != nil {
		return nil, err
	}

	// HTTP.
	if met.HTTPRequestDuration, err = m.Float64Histogram("arkmoor.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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

// RecordPublish records one broker publish with its fan-out latency.
func (m *Metrics) RecordPublish(ctx context.Context, kind string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.EnvelopesPublished.Add(ctx, 1, attrs)
	m.PublishDuration.Record(ctx, seconds, attrs)
}

// RecordCommand records one dispatched command with its outcome.
func (m *Metrics) RecordCommand(ctx context.Context, verb, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("verb", verb),
		attribute.String("status", status),
	)
	m.CommandsDispatched.Add(ctx, 1, attrs)
	m.CommandDuration.Record(ctx, seconds, attrs)
}
