package envelope

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRMSWindowConstant(t *testing.T) {
	w := NewRMSWindow(480)
	var rms float64
	for range 480 {
		rms = w.Push(0.5)
	}
	assert.InDelta(t, 0.5, rms, 1e-12)
}

func TestRMSWindowEvictsOldest(t *testing.T) {
	w := NewRMSWindow(4)
	for range 4 {
		w.Push(1)
	}
	for range 4 {
		w.Push(0)
	}
	assert.Equal(t, 0.0, w.RMS())
	assert.Equal(t, 0.0, w.Sum())
}

func TestRMSWindowMinimumSize(t *testing.T) {
	w := NewRMSWindow(0)
	require.Equal(t, 1, w.Len())
	assert.InDelta(t, 0.25, w.Push(-0.25), 1e-12)
}

// The running sum must stay equal to the buffer contents over long random
// streams, including abrupt loud-to-quiet transitions.
func TestRMSWindowRunningSumNoDrift(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for _, size := range []int{1, 7, 160, 480} {
		w := NewRMSWindow(size)
		for i := range 500_000 {
			amp := 1.0
			if (i/3000)%2 == 1 {
				amp = 1e-4
			}
			s := float32(amp * (rng.Float64()*2 - 1))
			w.Push(s)
			if i%997 == 0 {
				exact := w.Recompute()
				require.InDelta(t, exact, w.Sum(), 1e-9+exact*1e-12, "size=%d sample=%d", size, i)
				require.GreaterOrEqual(t, w.Sum(), 0.0)
			}
		}
	}
}

func TestRMSWindowReset(t *testing.T) {
	w := NewRMSWindow(8)
	w.Push(1)
	w.Reset()
	assert.Equal(t, 0.0, w.Sum())
	assert.Equal(t, 0.0, w.Recompute())
}

func TestPeakFollowerInstantAttackSlowRelease(t *testing.T) {
	p := PeakFollower{Release: 0.5}
	assert.Equal(t, 0.8, p.Track(-0.8))
	assert.Equal(t, 0.4, p.Track(0.1))
	assert.Equal(t, 0.9, p.Track(0.9))
	p.Reset()
	assert.Equal(t, 0.0, p.Level())
}

func TestSmoothAsym(t *testing.T) {
	assert.InDelta(t, 0.5, SmoothAsym(1, 0, 0.5, 0.1), 1e-12)
	assert.InDelta(t, 0.1, SmoothAsym(0, 1, 0.5, 0.1), 1e-12)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, float32(0), Sanitize(float32(math.NaN())))
	assert.Equal(t, float32(1), Sanitize(float32(math.Inf(1))))
	assert.Equal(t, float32(-1), Sanitize(float32(math.Inf(-1))))
	assert.Equal(t, float32(3), Sanitize(3))
}

func TestDBRoundTrip(t *testing.T) {
	assert.InDelta(t, -20, ToDB(0.1), 1e-9)
	assert.InDelta(t, 0.1, FromDB(-20), 1e-12)
	assert.InDelta(t, -200, ToDB(0), 1e-9)
}

func TestRescaleKeepsTimeConstant(t *testing.T) {
	assert.Equal(t, 0.02, RescaleCoeff(0.02, ReferenceRate))
	assert.Equal(t, 0.99993, RescaleDecay(0.99993, ReferenceRate))

	// 48 kHz samples of decay at 48 kHz == 16 kHz samples at 16 kHz.
	d16 := RescaleDecay(0.99993, 16000)
	assert.InDelta(t, math.Pow(0.99993, 48000), math.Pow(d16, 16000), 1e-12)

	c16 := RescaleCoeff(0.00042, 16000)
	assert.InDelta(t, math.Pow(1-0.00042, 48000), math.Pow(1-c16, 16000), 1e-9)
}

func TestSamples(t *testing.T) {
	assert.Equal(t, 480, Samples(10, 48000))
	assert.Equal(t, 2400, Samples(50, 48000))
	assert.Equal(t, 160, Samples(10, 16000))
	assert.Equal(t, 1, Samples(0, 48000))
}

func TestFrameRMS(t *testing.T) {
	assert.Zero(t, FrameRMS(nil))

	// RMS of a full-amplitude sine is 1/sqrt(2).
	frame := make([]float32, 960)
	for i := range frame {
		frame[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 48000))
	}
	assert.InDelta(t, 1/math.Sqrt2, FrameRMS(frame), 0.005)
}
