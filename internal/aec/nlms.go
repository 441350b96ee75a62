package aec

import (
	"fmt"
	"math"
)

const (
	// DefaultStep is the NLMS step size mu (0 < mu < 2). Smaller values
	// converge more slowly but are more stable; 0.1 is conservative.
	DefaultStep = 0.1

	// dcPole is the pole of the one-pole DC blocker applied to the
	// microphone when preprocessing is enabled (~13 Hz corner at 16 kHz).
	dcPole = 0.995

	pcmScale = 32768.0
)

// NLMS is a Normalized Least Mean Squares echo canceller operating on
// 16-bit sub-frames. The reference passed to Cancel is assumed to be
// roughly time-aligned with the microphone; the adaptive filter covers the
// residual delay and room response within FilterLength samples.
type NLMS struct {
	weights   []float64 // adaptive filter coefficients [taps]
	taps      int
	frameSize int
	step      float64

	// hist holds the last taps-1 reference samples followed by the current
	// sub-frame, so tap k of sample i reads hist[i+taps-1-k].
	hist []float64

	preprocess bool
	dcIn       float64
	dcOut      float64
}

// NewNLMS is the default Factory.
func NewNLMS(p Params) (Canceller, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &NLMS{
		weights:    make([]float64, p.FilterLength),
		taps:       p.FilterLength,
		frameSize:  p.FrameSize,
		step:       DefaultStep,
		hist:       make([]float64, p.FilterLength-1+p.FrameSize),
		preprocess: p.Preprocess,
	}, nil
}

// Cancel writes mic minus the estimated echo of ref into out. All three
// slices must have length FrameSize.
func (c *NLMS) Cancel(mic, ref, out []int16) {
	if len(mic) != c.frameSize || len(ref) != c.frameSize || len(out) != c.frameSize {
		panic(fmt.Sprintf("aec: sub-frame length mismatch: mic=%d ref=%d out=%d want %d",
			len(mic), len(ref), len(out), c.frameSize))
	}

	// Slide the reference history and append this sub-frame.
	keep := c.taps - 1
	copy(c.hist, c.hist[c.frameSize:])
	for i, s := range ref {
		c.hist[keep+i] = float64(s) / pcmScale
	}

	for i, s := range mic {
		near := float64(s) / pcmScale
		if c.preprocess {
			y := near - c.dcIn + dcPole*c.dcOut
			c.dcIn = near
			c.dcOut = y
			near = y
		}

		// refBase: index into hist of the most recent tap (k=0) for sample i.
		refBase := i + keep

		var y, powerSum float64
		for k := 0; k < c.taps; k++ {
			x := c.hist[refBase-k]
			y += c.weights[k] * x
			powerSum += x * x
		}

		e := near - y

		// Normalised weight update: w[k] += mu * e * x[k] / ||x||².
		if powerSum > 1e-10 {
			step := c.step * e / powerSum
			for k := 0; k < c.taps; k++ {
				c.weights[k] += step * c.hist[refBase-k]
			}
		}

		out[i] = toPCM(e)
	}
}

// Reset zeroes the filter weights, reference history and DC blocker so the
// canceller adapts cleanly from scratch.
func (c *NLMS) Reset() {
	clear(c.weights)
	clear(c.hist)
	c.dcIn, c.dcOut = 0, 0
}

func toPCM(v float64) int16 {
	v = math.Round(v * pcmScale)
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	case math.IsNaN(v):
		return 0
	}
	return int16(v)
}
