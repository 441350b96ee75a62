// Package normalizer drives the long-term RMS of a compressed speech signal
// toward a fixed target (-16 dBFS by default).
//
// It uses the same 10 ms sliding RMS as the compressor but a single slow,
// symmetric smoothing coefficient (~200 ms). Transients are assumed tamed
// upstream, so there is no fast attack. Below the silence floor the gain is
// frozen so the stage never chases noise up to its ceiling. Output is
// hard-clipped to [-1, 1].
package normalizer

import (
	"fmt"

	"github.com/adam-palmer1/smarterli-desktop/internal/envelope"
)

const (
	DefaultWindowMs = 10.0
	// DefaultTargetRMS is -16 dBFS.
	DefaultTargetRMS = 0.15
	// DefaultMinGain allows slight attenuation.
	DefaultMinGain = 0.5
	// DefaultMaxGain caps noise blow-up.
	DefaultMaxGain = 40.0
	// DefaultSmoothing is ~1/(48000*0.2).
	DefaultSmoothing = 0.0001
	// DefaultSilenceFloor is the RMS below which gain is held.
	DefaultSilenceFloor = 0.001
)

// Config holds the tunables of a Normalizer. Smoothing is a per-sample
// coefficient expressed at 48 kHz.
type Config struct {
	SampleRate   int     `yaml:"-"`
	WindowMs     float64 `yaml:"window_ms"`
	TargetRMS    float64 `yaml:"target_rms"`
	MinGain      float64 `yaml:"min_gain"`
	MaxGain      float64 `yaml:"max_gain"`
	Smoothing    float64 `yaml:"smoothing"`
	SilenceFloor float64 `yaml:"silence_floor"`
}

// DefaultConfig returns the stock tuning for sampleRate.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:   sampleRate,
		WindowMs:     DefaultWindowMs,
		TargetRMS:    DefaultTargetRMS,
		MinGain:      DefaultMinGain,
		MaxGain:      DefaultMaxGain,
		Smoothing:    DefaultSmoothing,
		SilenceFloor: DefaultSilenceFloor,
	}
}

// Normalizer is a single-channel slow RMS gain stage. Not safe for
// concurrent use.
type Normalizer struct {
	cfg    Config
	window *envelope.RMSWindow
	coeff  float64
	gain   float64
}

// New returns a Normalizer with the default 48 kHz tuning and unity gain.
func New() *Normalizer {
	n, _ := NewWithConfig(DefaultConfig(envelope.ReferenceRate))
	return n
}

// NewWithConfig returns a Normalizer for cfg.
func NewWithConfig(cfg Config) (*Normalizer, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("normalizer: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.TargetRMS <= 0 {
		return nil, fmt.Errorf("normalizer: target rms must be positive, got %v", cfg.TargetRMS)
	}
	if cfg.MinGain <= 0 || cfg.MaxGain < cfg.MinGain {
		return nil, fmt.Errorf("normalizer: invalid gain range [%v, %v]", cfg.MinGain, cfg.MaxGain)
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		return nil, fmt.Errorf("normalizer: smoothing must be in (0, 1], got %v", cfg.Smoothing)
	}
	return &Normalizer{
		cfg:    cfg,
		window: envelope.NewRMSWindow(envelope.Samples(cfg.WindowMs, cfg.SampleRate)),
		coeff:  envelope.RescaleCoeff(cfg.Smoothing, cfg.SampleRate),
		gain:   envelope.Clamp(1, cfg.MinGain, cfg.MaxGain),
	}, nil
}

// Process normalises frame in-place and returns it for chaining.
func (n *Normalizer) Process(frame []float32) []float32 {
	for i, s := range frame {
		s = envelope.Sanitize(s)
		if level := n.window.Push(s); level > n.cfg.SilenceFloor {
			desired := envelope.Clamp(n.cfg.TargetRMS/level, n.cfg.MinGain, n.cfg.MaxGain)
			n.gain = envelope.Clamp(envelope.Smooth(n.gain, desired, n.coeff), n.cfg.MinGain, n.cfg.MaxGain)
		}
		if !envelope.Finite(n.gain) {
			n.gain = envelope.Clamp(1, n.cfg.MinGain, n.cfg.MaxGain)
		}
		frame[i] = envelope.ClampSample(s * float32(n.gain))
	}
	return frame
}

// Gain returns the current linear gain.
func (n *Normalizer) Gain() float64 { return n.gain }

// Reset clears the RMS window and restores unity gain.
func (n *Normalizer) Reset() {
	n.window.Reset()
	n.gain = envelope.Clamp(1, n.cfg.MinGain, n.cfg.MaxGain)
}
