// Package compressor implements an RMS-sidechain speech compressor with a
// soft knee. It reduces the crest factor of bursty loopback speech (peaks
// 20x or more above average) before the normalizer brings the level up.
//
// The sidechain is a 10 ms sliding RMS. Gain reduction is computed in dB from
// the knee curve and smoothed per sample with a fast attack and a slow
// release. There is no hard clip here; the normalizer after it clips.
package compressor

import (
	"fmt"

	"github.com/adam-palmer1/smarterli-desktop/internal/envelope"
)

const (
	// DefaultWindowMs is the sidechain RMS window length.
	DefaultWindowMs = 10.0

	// DefaultThresholdDB is the compression threshold (0.1 linear).
	DefaultThresholdDB = -20.0

	// DefaultRatio is the slope above the knee.
	DefaultRatio = 4.0

	// DefaultKneeDB is the width of the soft knee centred on the threshold.
	DefaultKneeDB = 6.0

	// DefaultAttack is ~1 ms at 48 kHz: 1 - exp(-1/48).
	DefaultAttack = 0.02

	// DefaultRelease is ~50 ms at 48 kHz: 1 - exp(-1/2400).
	DefaultRelease = 0.00042
)

// Config holds the tunables of a Compressor. Attack and Release are per-sample
// coefficients expressed at 48 kHz and rescaled to SampleRate.
type Config struct {
	SampleRate  int     `yaml:"-"`
	WindowMs    float64 `yaml:"window_ms"`
	ThresholdDB float64 `yaml:"threshold_db"`
	Ratio       float64 `yaml:"ratio"`
	KneeDB      float64 `yaml:"knee_db"`
	Attack      float64 `yaml:"attack"`
	Release     float64 `yaml:"release"`
}

// DefaultConfig returns the stock speech tuning for sampleRate.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:  sampleRate,
		WindowMs:    DefaultWindowMs,
		ThresholdDB: DefaultThresholdDB,
		Ratio:       DefaultRatio,
		KneeDB:      DefaultKneeDB,
		Attack:      DefaultAttack,
		Release:     DefaultRelease,
	}
}

// Compressor is a single-channel soft-knee compressor. Not safe for
// concurrent use.
type Compressor struct {
	cfg     Config
	window  *envelope.RMSWindow
	attack  float64
	release float64
	gain    float64 // smoothed linear gain
}

// New returns a Compressor with the default 48 kHz tuning.
func New() *Compressor {
	c, _ := NewWithConfig(DefaultConfig(envelope.ReferenceRate))
	return c
}

// NewWithConfig returns a Compressor for cfg.
func NewWithConfig(cfg Config) (*Compressor, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("compressor: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Ratio < 1 {
		return nil, fmt.Errorf("compressor: ratio must be >= 1, got %v", cfg.Ratio)
	}
	if cfg.KneeDB < 0 {
		return nil, fmt.Errorf("compressor: knee must be >= 0 dB, got %v", cfg.KneeDB)
	}
	if cfg.Attack <= 0 || cfg.Attack > 1 || cfg.Release <= 0 || cfg.Release > 1 {
		return nil, fmt.Errorf("compressor: attack/release must be in (0, 1], got %v/%v", cfg.Attack, cfg.Release)
	}
	return &Compressor{
		cfg:     cfg,
		window:  envelope.NewRMSWindow(envelope.Samples(cfg.WindowMs, cfg.SampleRate)),
		attack:  envelope.RescaleCoeff(cfg.Attack, cfg.SampleRate),
		release: envelope.RescaleCoeff(cfg.Release, cfg.SampleRate),
		gain:    1,
	}, nil
}

// GainDB maps an input level in dB to a gain change in dB (zero or
// negative) on the soft-knee curve. Inside the knee the reduction is a
// quadratic blend, continuous in value and slope with both outer regimes.
func (c *Compressor) GainDB(inputDB float64) float64 {
	return gainDB(inputDB, c.cfg.ThresholdDB, c.cfg.Ratio, c.cfg.KneeDB)
}

func gainDB(inputDB, thresh, ratio, knee float64) float64 {
	half := knee / 2
	switch {
	case inputDB < thresh-half:
		return 0
	case inputDB > thresh+half:
		return thresh + (inputDB-thresh)/ratio - inputDB
	case knee == 0:
		return 0
	default:
		x := inputDB - thresh + half
		return (1/ratio - 1) * x * x / (2 * knee)
	}
}

// Process compresses frame in-place and returns it for chaining.
func (c *Compressor) Process(frame []float32) []float32 {
	for i, s := range frame {
		s = envelope.Sanitize(s)
		level := c.window.Push(s)
		target := envelope.FromDB(c.GainDB(envelope.ToDB(level)))
		c.gain = envelope.SmoothAsym(c.gain, target, c.attack, c.release)
		if !envelope.Finite(c.gain) {
			c.gain = 1
		}
		frame[i] = s * float32(c.gain)
	}
	return frame
}

// Gain returns the current smoothed linear gain.
func (c *Compressor) Gain() float64 { return c.gain }

// Reset clears the sidechain window and restores unity gain.
func (c *Compressor) Reset() {
	c.window.Reset()
	c.gain = 1
}
