// Package noisegate implements a hysteretic noise gate for mono float32 PCM
// audio. It silences amplified residual noise after the normalizer.
//
// The gate runs sample-by-sample over a 10 ms sliding RMS and moves through
// four states: Open passes audio; Hold still passes it while a ~50 ms timer
// runs; Release fades linearly to zero over ~10 ms; Closed outputs zeros.
// Two thresholds give hysteresis: the level must fall below CloseThreshold
// to start closing, and rise to OpenThreshold (strictly higher) to reopen.
// Reopening is instant from any state so speech onsets are never clipped.
package noisegate

import (
	"fmt"

	"github.com/adam-palmer1/smarterli-desktop/internal/envelope"
)

const (
	// DefaultOpenThreshold is the RMS level that opens the gate (~-46 dBFS).
	DefaultOpenThreshold = 0.005
	// DefaultCloseThreshold is the RMS level below which closing starts (~-50 dBFS).
	DefaultCloseThreshold = 0.00316

	DefaultWindowMs  = 10.0
	DefaultHoldMs    = 50.0
	DefaultReleaseMs = 10.0
)

// State is the gate's position in its open/close cycle.
type State int

const (
	Open State = iota
	Hold
	Release
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Hold:
		return "hold"
	case Release:
		return "release"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config holds the tunables of a Gate.
type Config struct {
	SampleRate     int     `yaml:"-"`
	WindowMs       float64 `yaml:"window_ms"`
	OpenThreshold  float64 `yaml:"open_threshold"`
	CloseThreshold float64 `yaml:"close_threshold"`
	HoldMs         float64 `yaml:"hold_ms"`
	ReleaseMs      float64 `yaml:"release_ms"`
}

// DefaultConfig returns the stock tuning for sampleRate.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:     sampleRate,
		WindowMs:       DefaultWindowMs,
		OpenThreshold:  DefaultOpenThreshold,
		CloseThreshold: DefaultCloseThreshold,
		HoldMs:         DefaultHoldMs,
		ReleaseMs:      DefaultReleaseMs,
	}
}

// Gate is a four-state hysteretic noise gate. Not safe for concurrent use.
type Gate struct {
	cfg            Config
	window         *envelope.RMSWindow
	holdSamples    int
	releaseSamples int

	state       State
	holdLeft    int
	releaseLeft int
	enabled     bool
}

// New returns a Gate with the default 48 kHz tuning, enabled and open.
func New() *Gate {
	g, _ := NewWithConfig(DefaultConfig(envelope.ReferenceRate))
	return g
}

// NewWithConfig returns a Gate for cfg. The open threshold must be strictly
// greater than the close threshold.
func NewWithConfig(cfg Config) (*Gate, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("noisegate: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.CloseThreshold < 0 || cfg.OpenThreshold <= cfg.CloseThreshold {
		return nil, fmt.Errorf("noisegate: open threshold %v must exceed close threshold %v",
			cfg.OpenThreshold, cfg.CloseThreshold)
	}
	if cfg.HoldMs < 0 || cfg.ReleaseMs < 0 {
		return nil, fmt.Errorf("noisegate: hold/release must be >= 0, got %v/%v", cfg.HoldMs, cfg.ReleaseMs)
	}
	return &Gate{
		cfg:            cfg,
		window:         envelope.NewRMSWindow(envelope.Samples(cfg.WindowMs, cfg.SampleRate)),
		holdSamples:    envelope.Samples(cfg.HoldMs, cfg.SampleRate),
		releaseSamples: envelope.Samples(cfg.ReleaseMs, cfg.SampleRate),
		state:          Open,
		enabled:        true,
	}, nil
}

// SetEnabled enables or disables the gate. When disabled, Process is a no-op
// and the gate reports Open.
func (g *Gate) SetEnabled(enabled bool) {
	g.enabled = enabled
	if !enabled {
		g.Reset()
	}
}

// Enabled reports whether the gate is currently enabled.
func (g *Gate) Enabled() bool { return g.enabled }

// State returns the current gate state.
func (g *Gate) State() State { return g.state }

// IsOpen reports whether the gate is passing audio unattenuated.
func (g *Gate) IsOpen() bool { return g.state == Open || g.state == Hold }

// Process gates frame in-place and returns it for chaining.
func (g *Gate) Process(frame []float32) []float32 {
	if !g.enabled {
		return frame
	}
	open, closeAt := g.cfg.OpenThreshold, g.cfg.CloseThreshold

	for i, s := range frame {
		s = envelope.Sanitize(s)
		level := g.window.Push(s)

		switch g.state {
		case Open:
			if level < closeAt {
				g.state = Hold
				g.holdLeft = g.holdSamples
			}
		case Hold:
			switch {
			case level >= open:
				g.state = Open
			case g.holdLeft > 0:
				g.holdLeft--
			default:
				g.state = Release
				g.releaseLeft = g.releaseSamples
			}
		case Release:
			switch {
			case level >= open:
				g.state = Open
			case g.releaseLeft > 0:
				s *= float32(g.releaseLeft) / float32(g.releaseSamples)
				g.releaseLeft--
			default:
				g.state = Closed
				s = 0
			}
		case Closed:
			if level >= open {
				g.state = Open
			} else {
				s = 0
			}
		}
		frame[i] = s
	}
	return frame
}

// Reset returns the gate to Open with an empty RMS window.
func (g *Gate) Reset() {
	g.window.Reset()
	g.state = Open
	g.holdLeft = 0
	g.releaseLeft = 0
}
