package normalizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSine(amplitude float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	return out
}

func rms(s []float32) float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}

func TestNewWithConfigValidation(t *testing.T) {
	for _, mutate := range []func(*Config){
		func(c *Config) { c.SampleRate = -1 },
		func(c *Config) { c.TargetRMS = 0 },
		func(c *Config) { c.MinGain = 0 },
		func(c *Config) { c.MaxGain = 0.1 },
		func(c *Config) { c.Smoothing = 0 },
	} {
		cfg := DefaultConfig(48000)
		mutate(&cfg)
		_, err := NewWithConfig(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestEmptyFrameIsNoOp(t *testing.T) {
	n := New()
	n.Process(makeSine(0.01, 480))
	gain := n.Gain()
	n.Process(nil)
	n.Process([]float32{})
	assert.Equal(t, gain, n.Gain())
}

func TestAmplifiesQuietSignal(t *testing.T) {
	n := New()
	for range 200 {
		n.Process(makeSine(0.005, 480))
	}
	frame := makeSine(0.005, 480)
	n.Process(frame)
	assert.Greater(t, rms(frame), 0.05)
}

func TestApproachesTarget(t *testing.T) {
	n := New()
	// 0.1 amplitude → rms 0.0707, desired gain ~2.12, well inside the range.
	var frame []float32
	for range 300 {
		frame = makeSine(0.1, 480)
		n.Process(frame)
	}
	assert.InDelta(t, DefaultTargetRMS, rms(frame), 0.015)
}

func TestOutputClipped(t *testing.T) {
	n := New()
	for _, amp := range []float64{0.1, 1.0, 3.0} {
		for range 100 {
			frame := makeSine(amp, 480)
			n.Process(frame)
			for i, s := range frame {
				require.True(t, s <= 1 && s >= -1, "amp %v sample %d = %v", amp, i, s)
			}
		}
	}
}

func TestHoldsDuringSilence(t *testing.T) {
	n := New()
	for range 100 {
		n.Process(makeSine(0.01, 480))
	}
	before := n.Gain()
	n.Process(make([]float32, 480))
	assert.InDelta(t, before, n.Gain(), 1.0, "gain should hold, not chase, on silence")
}

func TestGainStaysInRange(t *testing.T) {
	n := New()
	for range 500 {
		n.Process(makeSine(0.002, 480))
		require.LessOrEqual(t, n.Gain(), DefaultMaxGain)
		require.GreaterOrEqual(t, n.Gain(), DefaultMinGain)
	}
	for range 100 {
		n.Process(makeSine(0.9, 480))
	}
	assert.GreaterOrEqual(t, n.Gain(), DefaultMinGain)
}

func TestReset(t *testing.T) {
	n := New()
	for range 50 {
		n.Process(makeSine(0.01, 480))
	}
	require.Greater(t, n.Gain(), 1.0)
	n.Reset()
	assert.Equal(t, 1.0, n.Gain())
}
