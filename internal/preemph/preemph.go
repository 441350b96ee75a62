// Package preemph implements a first-order pre-emphasis filter,
// y[n] = x[n] - c*x[n-1].
//
// It tilts the spectrum up ~6 dB/octave above roughly 300 Hz to compensate
// for narrowband phone codecs (G.711, AMR-NB), lifting F2/F3 formant energy
// before compression. The previous input is carried across calls.
package preemph

import (
	"fmt"

	"github.com/adam-palmer1/smarterli-desktop/internal/envelope"
)

// DefaultCoefficient flattens codec tilt without over-boosting artefacts
// near the 3.2 kHz band edge.
const DefaultCoefficient = 0.65

// Filter is a single-channel pre-emphasis filter. Not safe for concurrent use.
type Filter struct {
	coeff float32
	prev  float32
}

// New returns a Filter with DefaultCoefficient.
func New() *Filter {
	return &Filter{coeff: DefaultCoefficient}
}

// NewWithCoefficient returns a Filter with coefficient c in [0, 1).
func NewWithCoefficient(c float64) (*Filter, error) {
	if c < 0 || c >= 1 {
		return nil, fmt.Errorf("preemph: coefficient must be in [0, 1), got %v", c)
	}
	return &Filter{coeff: float32(c)}, nil
}

// Process filters frame in-place and returns it for chaining.
func (f *Filter) Process(frame []float32) []float32 {
	for i, s := range frame {
		s = envelope.Sanitize(s)
		frame[i] = s - f.coeff*f.prev
		f.prev = s
	}
	return frame
}

// Coefficient returns the filter coefficient.
func (f *Filter) Coefficient() float64 { return float64(f.coeff) }

// Reset forgets the previous input.
func (f *Filter) Reset() { f.prev = 0 }
