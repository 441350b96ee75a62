// Package observe provides the OpenTelemetry metric instruments for the
// preprocessing pipeline.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/adam-palmer1/smarterli-desktop/internal/envelope"
	"github.com/adam-palmer1/smarterli-desktop/internal/refbuf"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/adam-palmer1/smarterli-desktop"

// Stream names used as the "stream" attribute.
const (
	StreamSystem = "system"
	StreamMic    = "mic"
)

// Metrics holds all OpenTelemetry metric instruments. All fields are safe
// for concurrent use; the underlying OTel types handle their own
// synchronisation.
type Metrics struct {
	// Frames counts processed frames. Use with attribute.String("stream", ...).
	Frames metric.Int64Counter

	// Samples counts processed samples. Use with attribute.String("stream", ...).
	Samples metric.Int64Counter

	// FrameLevel records each output frame's RMS level in dBFS.
	FrameLevel metric.Float64Histogram

	ReferenceUnderruns  metric.Int64Counter
	ReferenceTrimmed    metric.Int64Counter
	ReferenceLockMisses metric.Int64Counter

	// AECFallbacks counts echo cancellation fallbacks: session starts
	// without a canceller (reason "init") and frames passed through after a
	// canceller fault (reason "fault").
	AECFallbacks metric.Int64Counter

	// SinkDropped counts frames dropped because the sink queue was full.
	SinkDropped metric.Int64Counter
}

// levelBuckets spans digital silence up to full scale, in dBFS.
var levelBuckets = []float64{
	-90, -70, -60, -50, -40, -30, -24, -18, -12, -6, -3, 0,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("speechprep.frames",
		metric.WithDescription("Total frames processed by stream."),
	); err != nil {
		return nil, err
	}
	if met.Samples, err = m.Int64Counter("speechprep.samples",
		metric.WithDescription("Total samples processed by stream."),
	); err != nil {
		return nil, err
	}
	if met.FrameLevel, err = m.Float64Histogram("speechprep.frame.rms_dbfs",
		metric.WithDescription("RMS level of conditioned frames by stream."),
		metric.WithUnit("dBFS"),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ReferenceUnderruns, err = m.Int64Counter("speechprep.reference.underruns",
		metric.WithDescription("Reference pulls padded with silence."),
	); err != nil {
		return nil, err
	}
	if met.ReferenceTrimmed, err = m.Int64Counter("speechprep.reference.trimmed",
		metric.WithDescription("Reference samples discarded on overflow."),
	); err != nil {
		return nil, err
	}
	if met.ReferenceLockMisses, err = m.Int64Counter("speechprep.reference.lock_misses",
		metric.WithDescription("Reference buffer operations that gave up on the lock."),
	); err != nil {
		return nil, err
	}

	if met.AECFallbacks, err = m.Int64Counter("speechprep.aec.fallbacks",
		metric.WithDescription("Echo cancellation fallbacks: sessions started without a canceller and frames passed through after a fault."),
	); err != nil {
		return nil, err
	}
	if met.SinkDropped, err = m.Int64Counter("speechprep.sink.dropped",
		metric.WithDescription("Frames dropped because the sink queue was full."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordFrame records one conditioned frame of the given stream.
func (m *Metrics) RecordFrame(ctx context.Context, stream string, frame []float32) {
	attrs := metric.WithAttributes(attribute.String("stream", stream))
	m.Frames.Add(ctx, 1, attrs)
	m.Samples.Add(ctx, int64(len(frame)), attrs)
	if len(frame) > 0 {
		m.FrameLevel.Record(ctx, envelope.ToDB(envelope.FrameRMS(frame)), attrs)
	}
}

// RecordReference adds reference buffer counter increments, typically
// cur.Sub(prev) between two Stats snapshots.
func (m *Metrics) RecordReference(ctx context.Context, delta refbuf.Stats) {
	if delta.Underruns > 0 {
		m.ReferenceUnderruns.Add(ctx, int64(delta.Underruns))
	}
	if delta.Trimmed > 0 {
		m.ReferenceTrimmed.Add(ctx, int64(delta.Trimmed))
	}
	if delta.LockMisses > 0 {
		m.ReferenceLockMisses.Add(ctx, int64(delta.LockMisses))
	}
}

// RecordAECFallback counts one echo cancellation fallback.
func (m *Metrics) RecordAECFallback(ctx context.Context, reason string) {
	m.AECFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSinkDrop counts one frame dropped by the sink.
func (m *Metrics) RecordSinkDrop(ctx context.Context, stream string) {
	m.SinkDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
}
