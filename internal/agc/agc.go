// Package agc implements a peak-envelope Automatic Gain Control processor for
// mono float32 PCM loopback audio.
//
// Captured system audio is quiet and bursty. The AGC follows the sample peak
// with an instant attack and a slow geometric release, then derives one gain
// per frame: drops in gain apply immediately so loud onsets never clip, rises
// move a small fraction per frame so pauses do not pump. Gain is clamped to
// [MinGain, MaxGain] and frozen while the envelope sits below the silence
// floor.
package agc

import (
	"fmt"

	"github.com/adam-palmer1/smarterli-desktop/internal/envelope"
)

const (
	// DefaultTargetPeak is the normalised output peak. 0.25 leaves headroom
	// for int16 conversion while staying loud enough for STT.
	DefaultTargetPeak = 0.25

	// MinGain is unity: the AGC never attenuates.
	MinGain = 1.0
	// MaxGain caps amplification of noise and silence.
	MaxGain = 60.0

	// DefaultEnvelopeRelease is the per-sample peak decay at 48 kHz, roughly a
	// 300 ms effective hold.
	DefaultEnvelopeRelease = 0.99993

	// DefaultGainRelease is the per-frame fraction by which gain rises toward
	// the desired value.
	DefaultGainRelease = 0.02

	// DefaultSilenceFloor is the envelope level below which gain is held.
	DefaultSilenceFloor = 0.0001
)

// Config holds the tunables of an AGC.
type Config struct {
	SampleRate      int     `yaml:"-"`
	TargetPeak      float64 `yaml:"target_peak"`
	MinGain         float64 `yaml:"min_gain"`
	MaxGain         float64 `yaml:"max_gain"`
	EnvelopeRelease float64 `yaml:"envelope_release"` // per-sample decay, tuned at 48 kHz
	GainRelease     float64 `yaml:"gain_release"`     // per-frame
	SilenceFloor    float64 `yaml:"silence_floor"`
}

// DefaultConfig returns the stock tuning for sampleRate. The envelope release
// is re-derived from its 48 kHz value so the hold time stays the same.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:      sampleRate,
		TargetPeak:      DefaultTargetPeak,
		MinGain:         MinGain,
		MaxGain:         MaxGain,
		EnvelopeRelease: DefaultEnvelopeRelease,
		GainRelease:     DefaultGainRelease,
		SilenceFloor:    DefaultSilenceFloor,
	}
}

// AGC is a single-channel peak-envelope gain controller. Zero value is not
// usable; use New or NewWithConfig. Not safe for concurrent use.
type AGC struct {
	cfg  Config
	peak envelope.PeakFollower
	gain float64 // current linear gain multiplier
}

// New returns an AGC with the default 48 kHz tuning. Gain starts at MaxGain
// so the very first speech is audible.
func New() *AGC {
	a, _ := NewWithConfig(DefaultConfig(envelope.ReferenceRate))
	return a
}

// NewWithConfig returns an AGC for cfg.
func NewWithConfig(cfg Config) (*AGC, error) {
	if cfg.TargetPeak <= 0 {
		return nil, fmt.Errorf("agc: target peak must be positive, got %v", cfg.TargetPeak)
	}
	if cfg.MinGain <= 0 || cfg.MaxGain < cfg.MinGain {
		return nil, fmt.Errorf("agc: invalid gain range [%v, %v]", cfg.MinGain, cfg.MaxGain)
	}
	if cfg.EnvelopeRelease <= 0 || cfg.EnvelopeRelease >= 1 {
		return nil, fmt.Errorf("agc: envelope release must be in (0, 1), got %v", cfg.EnvelopeRelease)
	}
	if cfg.GainRelease <= 0 || cfg.GainRelease > 1 {
		return nil, fmt.Errorf("agc: gain release must be in (0, 1], got %v", cfg.GainRelease)
	}
	a := &AGC{cfg: cfg, gain: cfg.MaxGain}
	a.peak.Release = envelope.RescaleDecay(cfg.EnvelopeRelease, cfg.SampleRate)
	return a, nil
}

// Process applies gain to frame in-place and returns it for chaining.
func (a *AGC) Process(frame []float32) []float32 {
	if len(frame) == 0 {
		return frame
	}

	for i, s := range frame {
		s = envelope.Sanitize(s)
		frame[i] = s
		a.peak.Track(s)
	}

	if level := a.peak.Level(); level > a.cfg.SilenceFloor {
		desired := envelope.Clamp(a.cfg.TargetPeak/level, a.cfg.MinGain, a.cfg.MaxGain)
		if desired < a.gain {
			// Drop immediately so onsets are not clipped.
			a.gain = desired
		} else {
			a.gain = envelope.Clamp(envelope.Smooth(a.gain, desired, a.cfg.GainRelease), a.cfg.MinGain, a.cfg.MaxGain)
		}
	}
	if !envelope.Finite(a.gain) {
		a.gain = a.cfg.MaxGain
	}

	g := float32(a.gain)
	for i, s := range frame {
		frame[i] = envelope.ClampSample(s * g)
	}
	return frame
}

// Gain returns the current linear gain multiplier.
func (a *AGC) Gain() float64 { return a.gain }

// Envelope returns the current peak envelope level.
func (a *AGC) Envelope() float64 { return a.peak.Level() }

// Reset restores the initial state: gain at MaxGain, envelope at zero.
func (a *AGC) Reset() {
	a.gain = a.cfg.MaxGain
	a.peak.Reset()
}
