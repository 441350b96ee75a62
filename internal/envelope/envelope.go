// Package envelope holds the level-tracking and gain-smoothing primitives
// shared by the loudness stages (agc, compressor, normalizer, noisegate).
//
// All coefficients in this module are tuned at ReferenceRate. Use
// RescaleCoeff and RescaleDecay to carry a 48 kHz value to another rate while
// keeping the same time constant.
package envelope

import "math"

// ReferenceRate is the sample rate the default per-sample coefficients are
// tuned for.
const ReferenceRate = 48000

// minLevel keeps dB conversion finite on digital silence.
const minLevel = 1e-10

// RMSWindow is a fixed-length circular buffer of squared samples with a
// running sum, giving an O(1) sliding RMS.
//
// The running sum is updated incrementally and re-derived from the buffer
// contents every time the write index wraps, so rounding error never builds
// up past one window length of updates.
type RMSWindow struct {
	buf []float64
	idx int
	sum float64
}

// NewRMSWindow returns a window holding size squared samples. size < 1 is
// treated as 1.
func NewRMSWindow(size int) *RMSWindow {
	if size < 1 {
		size = 1
	}
	return &RMSWindow{buf: make([]float64, size)}
}

// Push adds one sample to the window, evicting the oldest, and returns the
// RMS of the window contents.
func (w *RMSWindow) Push(s float32) float64 {
	sq := float64(s) * float64(s)
	w.sum += sq - w.buf[w.idx]
	w.buf[w.idx] = sq
	w.idx++
	if w.idx == len(w.buf) {
		w.idx = 0
		w.sum = w.Recompute()
	}
	if w.sum < 0 {
		w.sum = 0
	}
	return math.Sqrt(w.sum / float64(len(w.buf)))
}

// RMS returns the current window RMS without pushing.
func (w *RMSWindow) RMS() float64 {
	return math.Sqrt(w.sum / float64(len(w.buf)))
}

// Sum returns the incrementally maintained running sum.
func (w *RMSWindow) Sum() float64 { return w.sum }

// Recompute returns the exact sum of the current buffer contents.
func (w *RMSWindow) Recompute() float64 {
	var s float64
	for _, v := range w.buf {
		s += v
	}
	return s
}

// Len returns the window length in samples.
func (w *RMSWindow) Len() int { return len(w.buf) }

// Reset empties the window.
func (w *RMSWindow) Reset() {
	clear(w.buf)
	w.idx = 0
	w.sum = 0
}

// PeakFollower is a zero-latency-attack, geometric-release peak envelope.
type PeakFollower struct {
	// Release is the per-sample decay multiplier applied while the input is
	// below the envelope.
	Release float64
	level   float64
}

// Track updates the envelope with one sample and returns the new level.
func (p *PeakFollower) Track(s float32) float64 {
	abs := math.Abs(float64(s))
	if abs > p.level {
		p.level = abs
	} else {
		p.level *= p.Release
	}
	return p.level
}

// Level returns the current envelope value.
func (p *PeakFollower) Level() float64 { return p.level }

// Reset drops the envelope to zero.
func (p *PeakFollower) Reset() { p.level = 0 }

// Smooth moves current toward target by the one-pole coefficient coeff.
func Smooth(current, target, coeff float64) float64 {
	return current + coeff*(target-current)
}

// SmoothAsym is Smooth with a separate coefficient for falling (attack) and
// rising (release) targets.
func SmoothAsym(current, target, attack, release float64) float64 {
	if target < current {
		return Smooth(current, target, attack)
	}
	return Smooth(current, target, release)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampSample hard-clips a sample to [-1, 1].
func ClampSample(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Sanitize maps non-finite samples into range: NaN becomes 0 and ±Inf
// becomes ±1. Finite values are returned unchanged.
func Sanitize(v float32) float32 {
	switch {
	case math.IsNaN(float64(v)):
		return 0
	case math.IsInf(float64(v), 1):
		return 1
	case math.IsInf(float64(v), -1):
		return -1
	}
	return v
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ToDB converts a linear level to decibels relative to full scale.
func ToDB(level float64) float64 {
	if level < minLevel {
		level = minLevel
	}
	return 20 * math.Log10(level)
}

// FromDB converts decibels to a linear multiplier.
func FromDB(db float64) float64 {
	return math.Pow(10, db/20)
}

// RescaleCoeff converts a one-pole smoothing coefficient tuned at
// ReferenceRate to rate, preserving its time constant.
func RescaleCoeff(coeff float64, rate int) float64 {
	if rate <= 0 || rate == ReferenceRate {
		return coeff
	}
	return 1 - math.Pow(1-coeff, float64(ReferenceRate)/float64(rate))
}

// RescaleDecay converts a per-sample decay multiplier tuned at ReferenceRate
// to rate, preserving its time constant.
func RescaleDecay(decay float64, rate int) float64 {
	if rate <= 0 || rate == ReferenceRate {
		return decay
	}
	return math.Pow(decay, float64(ReferenceRate)/float64(rate))
}

// Samples converts a duration in milliseconds to a sample count at rate,
// never less than one.
func Samples(ms float64, rate int) int {
	n := int(math.Round(ms * float64(rate) / 1000))
	if n < 1 {
		return 1
	}
	return n
}

// FrameRMS returns the root-mean-square of a whole frame, or 0 for an empty
// one.
func FrameRMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
