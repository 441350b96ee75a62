package observe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/adam-palmer1/smarterli-desktop/internal/refbuf"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

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

// sumFor returns the counter value for the data point carrying attr, or the
// total across points when attr is empty.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, attr ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	require.NotNil(t, met, "metric %q not found", name)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %q is not an int64 sum", name)

	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range attr {
			v, found := dp.Attributes.Value(kv.Key)
			if !found || v.Emit() != kv.Value.Emit() {
				match = false
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	frame := make([]float32, 480)
	for i := range frame {
		frame[i] = 0.5
	}
	m.RecordFrame(ctx, StreamSystem, frame)
	m.RecordFrame(ctx, StreamSystem, frame)
	m.RecordFrame(ctx, StreamMic, frame[:160])
	m.RecordFrame(ctx, StreamMic, nil)

	rm := collect(t, reader)
	sys := attribute.String("stream", StreamSystem)
	mic := attribute.String("stream", StreamMic)
	assert.Equal(t, int64(2), sumFor(t, rm, "speechprep.frames", sys))
	assert.Equal(t, int64(2), sumFor(t, rm, "speechprep.frames", mic))
	assert.Equal(t, int64(960), sumFor(t, rm, "speechprep.samples", sys))
	assert.Equal(t, int64(160), sumFor(t, rm, "speechprep.samples", mic))

	met := findMetric(rm, "speechprep.frame.rms_dbfs")
	require.NotNil(t, met)
	hist, ok := met.Data.(metricdata.Histogram[float64])
	require.True(t, ok)

	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
		if v, _ := dp.Attributes.Value("stream"); v.AsString() == StreamSystem {
			assert.InDelta(t, -6.02, dp.Sum/float64(dp.Count), 0.01)
		}
	}
	assert.Equal(t, uint64(3), count, "empty frames are not recorded")
}

func TestRecordReference(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReference(ctx, refbuf.Stats{Underruns: 2, Trimmed: 100, LockMisses: 1})
	m.RecordReference(ctx, refbuf.Stats{Underruns: 1})

	rm := collect(t, reader)
	assert.Equal(t, int64(3), sumFor(t, rm, "speechprep.reference.underruns"))
	assert.Equal(t, int64(100), sumFor(t, rm, "speechprep.reference.trimmed"))
	assert.Equal(t, int64(1), sumFor(t, rm, "speechprep.reference.lock_misses"))
}

func TestFallbackAndDropCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAECFallback(ctx, "init")
	m.RecordAECFallback(ctx, "init")
	m.RecordSinkDrop(ctx, StreamMic)

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumFor(t, rm, "speechprep.aec.fallbacks", attribute.String("reason", "init")))
	assert.Equal(t, int64(1), sumFor(t, rm, "speechprep.sink.dropped", attribute.String("stream", StreamMic)))
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	require.NotNil(t, a)
	assert.Same(t, a, DefaultMetrics())
}
