// Package config defines the YAML configuration schema for speechprep and
// converts it into the construction parameters of the audio stages.
//
// Time constants are in milliseconds and converted to sample counts at the
// configured rate. Per-sample coefficients are given at their 48 kHz values;
// the stages rescale them to sample_rate themselves.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adam-palmer1/smarterli-desktop/internal/aec"
	"github.com/adam-palmer1/smarterli-desktop/internal/agc"
	"github.com/adam-palmer1/smarterli-desktop/internal/compressor"
	"github.com/adam-palmer1/smarterli-desktop/internal/envelope"
	"github.com/adam-palmer1/smarterli-desktop/internal/noisegate"
	"github.com/adam-palmer1/smarterli-desktop/internal/normalizer"
	"github.com/adam-palmer1/smarterli-desktop/internal/pipeline"
	"github.com/adam-palmer1/smarterli-desktop/internal/preemph"
	"github.com/adam-palmer1/smarterli-desktop/internal/refbuf"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Logrus returns the matching logrus level. Unknown values map to Info.
func (l LogLevel) Logrus() logrus.Level {
	switch l {
	case LogDebug:
		return logrus.DebugLevel
	case LogWarn:
		return logrus.WarnLevel
	case LogError:
		return logrus.ErrorLevel
	}
	return logrus.InfoLevel
}

// Codec selects the sink payload encoding.
type Codec string

const (
	CodecPCM  Codec = "pcm"
	CodecOpus Codec = "opus"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	return c == CodecPCM || c == CodecOpus
}

// Config is the root configuration structure.
type Config struct {
	LogLevel   LogLevel      `yaml:"log_level"`
	SampleRate int           `yaml:"sample_rate"`
	FrameMs    float64       `yaml:"frame_ms"`
	System     SystemConfig  `yaml:"system"`
	Mic        MicConfig     `yaml:"mic"`
	AEC        AECConfig     `yaml:"aec"`
	Capture    CaptureConfig `yaml:"capture"`
	Sink       SinkConfig    `yaml:"sink"`
	Metrics    MetricsConfig `yaml:"metrics"`
}

// SystemConfig selects and tunes the loopback (system audio) chain. The
// stage tunables are shared with the microphone chain.
type SystemConfig struct {
	// Preset is one of pipeline.Presets(). Ignored when Stages is set.
	Preset string `yaml:"preset"`

	// Stages lists stage names in processing order.
	Stages []string `yaml:"stages,omitempty"`

	AGC         agc.Config        `yaml:"agc"`
	Compressor  compressor.Config `yaml:"compressor"`
	Normalizer  normalizer.Config `yaml:"normalizer"`
	Gate        noisegate.Config  `yaml:"gate"`
	PreEmphasis float64           `yaml:"preemphasis"`
}

// MicConfig selects the microphone chain. An empty stage list passes the
// microphone straight to the echo canceller.
type MicConfig struct {
	Stages      []string `yaml:"stages,omitempty"`
	PreEmphasis float64  `yaml:"preemphasis"`
}

// AECConfig configures echo cancellation of the microphone against the
// conditioned system audio.
type AECConfig struct {
	Enabled     bool          `yaml:"enabled"`
	SampleRate  int           `yaml:"sample_rate"`
	FrameMs     float64       `yaml:"frame_ms"`
	TailMs      float64       `yaml:"tail_ms"`
	Preprocess  bool          `yaml:"preprocess"`
	ReferenceMs float64       `yaml:"reference_ms"`
	LockBudget  time.Duration `yaml:"lock_budget"`
}

// CaptureConfig names the host audio devices. Empty selects the default.
type CaptureConfig struct {
	MicDevice      string `yaml:"mic_device"`
	LoopbackDevice string `yaml:"loopback_device"`
}

// SinkConfig configures streaming to the downstream STT service. An empty
// URL disables the sink.
type SinkConfig struct {
	URL          string  `yaml:"url"`
	Codec        Codec   `yaml:"codec"`
	VAD          bool    `yaml:"vad"`
	VADThreshold float64 `yaml:"vad_threshold"`
	Queue        int     `yaml:"queue"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config populated with the stock tuning.
func Default() *Config {
	const rate = envelope.ReferenceRate
	return &Config{
		LogLevel:   LogInfo,
		SampleRate: rate,
		FrameMs:    10,
		System: SystemConfig{
			Preset:      pipeline.PresetSpeech,
			AGC:         agc.DefaultConfig(rate),
			Compressor:  compressor.DefaultConfig(rate),
			Normalizer:  normalizer.DefaultConfig(rate),
			Gate:        noisegate.DefaultConfig(rate),
			PreEmphasis: preemph.DefaultCoefficient,
		},
		Mic: MicConfig{
			PreEmphasis: preemph.DefaultCoefficient,
		},
		AEC: AECConfig{
			Enabled:     true,
			SampleRate:  aec.DefaultSampleRate,
			FrameMs:     10,
			TailMs:      200,
			Preprocess:  true,
			ReferenceMs: 1000,
			LockBudget:  refbuf.DefaultLockBudget,
		},
		Sink: SinkConfig{
			Codec:        CodecPCM,
			VADThreshold: 0.005,
			Queue:        64,
		},
	}
}

// FrameSize returns the capture frame length in samples at SampleRate.
func (c *Config) FrameSize() int {
	return envelope.Samples(c.FrameMs, c.SampleRate)
}

// SystemOptions returns the pipeline options of the system chain.
func (c *Config) SystemOptions() pipeline.Options {
	return pipeline.Options{
		SampleRate:  c.SampleRate,
		Preset:      c.System.Preset,
		Stages:      c.System.Stages,
		AGC:         c.System.AGC,
		Compressor:  c.System.Compressor,
		Normalizer:  c.System.Normalizer,
		Gate:        c.System.Gate,
		PreEmphasis: c.System.PreEmphasis,
	}
}

// MicOptions returns the pipeline options of the microphone chain.
func (c *Config) MicOptions() pipeline.Options {
	opts := c.SystemOptions()
	opts.Preset = ""
	opts.Stages = c.Mic.Stages
	opts.PreEmphasis = c.Mic.PreEmphasis
	return opts
}

// AECParams returns the echo canceller construction parameters.
func (c *Config) AECParams() aec.Params {
	return aec.Params{
		FrameSize:    envelope.Samples(c.AEC.FrameMs, c.AEC.SampleRate),
		FilterLength: envelope.Samples(c.AEC.TailMs, c.AEC.SampleRate),
		SampleRate:   c.AEC.SampleRate,
		Preprocess:   c.AEC.Preprocess,
	}
}

// ReferenceCapacity returns the reference buffer size in samples.
func (c *Config) ReferenceCapacity() int {
	return envelope.Samples(c.AEC.ReferenceMs, c.AEC.SampleRate)
}

// Path returns the default config file location.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "speechprep", "config.yaml"), nil
}
