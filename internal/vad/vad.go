// Package vad implements a simple energy-based Voice Activity Detector used
// to skip silent frames before they are streamed downstream.
//
// The detector classifies each frame as speech or silence by comparing the
// frame RMS level against a threshold. A "hangover" counter keeps the
// detector in the active (send) state for a fixed number of frames after the
// last speech frame, preventing abrupt cut-offs mid-word or between words.
package vad

import (
	"github.com/adam-palmer1/smarterli-desktop/internal/envelope"
	"github.com/adam-palmer1/smarterli-desktop/internal/pcm"
)

const (
	// DefaultThreshold is the RMS level below which a frame is treated as
	// silence (~-46 dBFS). Low enough to pass quiet speech, high enough to
	// suppress background hum and open-mic noise.
	DefaultThreshold = 0.005

	// DefaultHangover is the number of silent frames to keep sending after
	// speech ends (~400 ms at 20 ms / frame). Prevents clipping word endings.
	DefaultHangover = 20
)

// VAD is a single-stream voice activity detector. Zero value is not usable;
// use New().
type VAD struct {
	threshold float64
	hangover  int // configured hangover length in frames
	remaining int // frames left in current hangover
	enabled   bool
}

// New returns a VAD with DefaultThreshold and DefaultHangover, enabled by default.
func New() *VAD {
	return &VAD{
		threshold: DefaultThreshold,
		hangover:  DefaultHangover,
		enabled:   true,
	}
}

// SetEnabled enables or disables the VAD. When disabled, ShouldSend always
// returns true (pass-through mode).
func (v *VAD) SetEnabled(enabled bool) {
	v.enabled = enabled
	if !enabled {
		v.remaining = 0
	}
}

// SetThreshold sets the RMS silence threshold as a linear amplitude.
// Negative values are treated as zero.
func (v *VAD) SetThreshold(rms float64) {
	if rms < 0 {
		rms = 0
	}
	v.threshold = rms
}

// SetHangover sets the number of silent frames sent after speech ends.
func (v *VAD) SetHangover(frames int) {
	if frames < 0 {
		frames = 0
	}
	v.hangover = frames
}

// ShouldSend reports whether the frame with the given RMS energy should be
// transmitted. Updates internal hangover state.
func (v *VAD) ShouldSend(rms float64) bool {
	if !v.enabled {
		return true
	}
	if rms > v.threshold {
		v.remaining = v.hangover // speech: reset hangover
		return true
	}
	if v.remaining > 0 {
		v.remaining-- // in hangover, still send
		return true
	}
	return false // pure silence
}

// ShouldSendFrame is ShouldSend on the RMS of a 16-bit PCM frame.
func (v *VAD) ShouldSendFrame(frame []int16) bool {
	if !v.enabled {
		return true
	}
	return v.ShouldSend(envelope.FrameRMS(pcm.ToFloat(frame)))
}

// Enabled reports whether the VAD is currently enabled.
func (v *VAD) Enabled() bool {
	return v.enabled
}

// Reset clears the hangover counter without changing other settings.
func (v *VAD) Reset() {
	v.remaining = 0
}
