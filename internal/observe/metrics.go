// Package observe provides application-wide observability primitives for
// voxedit: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxedit metrics.
const meterName = "github.com/MrWong99/voxedit"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ExecuteDuration tracks the time to interpret a fresh utterance.
	ExecuteDuration metric.Float64Histogram

	// ReviseDuration tracks rollback plus replay time of a revision.
	ReviseDuration metric.Float64Histogram

	// --- Revision shape ---

	// RollbackDepth records how many resume points a revision stepped back.
	RollbackDepth metric.Int64Histogram

	// --- Counters ---

	// Utterances counts interpreted utterances. Use with attribute:
	//   attribute.String("outcome", "committed"|"undone"|"failed")
	Utterances metric.Int64Counter

	// Transcripts counts transcripts received. Use with attribute:
	//   attribute.String("kind", "partial"|"final")
	Transcripts metric.Int64Counter

	// Commands counts executed steps. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("command", ...)
	Commands metric.Int64Counter

	// ResolutionFailures counts location references that did not resolve.
	ResolutionFailures metric.Int64Counter

	// NearMisses counts words inserted literally that sound like a command.
	NearMisses metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of connected WebSocket transcript feeds.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Edits of
// an in-memory document finish in microseconds to low milliseconds.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

var depthBuckets = []float64{0, 1, 2, 3, 4, 6, 8, 12, 16, 32}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ExecuteDuration, err = m.Float64Histogram("voxedit.interpreter.execute.duration",
		metric.WithDescription("Latency of interpreting a new utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReviseDuration, err = m.Float64Histogram("voxedit.interpreter.revise.duration",
		metric.WithDescription("Latency of rolling back and replaying a revised utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RollbackDepth, err = m.Int64Histogram("voxedit.interpreter.rollback.depth",
		metric.WithDescription("Resume points stepped back per revision."),
		metric.WithExplicitBucketBoundaries(depthBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("voxedit.utterances",
		metric.WithDescription("Total utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("voxedit.transcripts",
		metric.WithDescription("Total transcripts received by kind."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("voxedit.interpreter.commands",
		metric.WithDescription("Total executed interpreter steps by kind and command."),
	); err != nil {
		return nil, err
	}
	if met.ResolutionFailures, err = m.Int64Counter("voxedit.interpreter.resolution_failures",
		metric.WithDescription("Total location references that could not be resolved."),
	); err != nil {
		return nil, err
	}
	if met.NearMisses, err = m.Int64Counter("voxedit.interpreter.near_misses",
		metric.WithDescription("Total literal insertions that resemble a command word."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("voxedit.active_streams",
		metric.WithDescription("Number of connected transcript streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxedit.http.request.duration",
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

// RecordCommand records one executed interpreter step.
func (m *Metrics) RecordCommand(ctx context.Context, kind, command string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("command", command),
		),
	)
}

// RecordUtterance records the outcome of an utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTranscript records an incoming transcript of the given kind.
func (m *Metrics) RecordTranscript(ctx context.Context, kind string) {
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRevision records the depth and latency of one revision.
func (m *Metrics) RecordRevision(ctx context.Context, depth int, elapsed time.Duration) {
	m.RollbackDepth.Record(ctx, int64(depth))
	m.ReviseDuration.Record(ctx, elapsed.Seconds())
}

// RecordResolutionFailure records a location reference that did not resolve.
func (m *Metrics) RecordResolutionFailure(ctx context.Context, reason string) {
	m.ResolutionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
