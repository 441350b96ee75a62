package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adam-palmer1/smarterli-desktop/internal/pipeline"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 480, cfg.FrameSize())
	assert.Equal(t, 16000, cfg.ReferenceCapacity())

	p := cfg.AECParams()
	assert.Equal(t, 160, p.FrameSize)
	assert.Equal(t, 3200, p.FilterLength)
	assert.Equal(t, 16000, p.SampleRate)
	assert.True(t, p.Preprocess)
}

func TestEmptyDocumentYieldsDefault(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestPartialOverride(t *testing.T) {
	const doc = `
log_level: debug
system:
  preset: peak-agc
  normalizer:
    target_rms: 0.2
  gate:
    hold_ms: 80
aec:
  lock_budget: 500us
sink:
  url: ws://localhost:9000/stt
  codec: opus
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, LogDebug, cfg.LogLevel)
	assert.Equal(t, pipeline.PresetPeakAGC, cfg.System.Preset)
	assert.Equal(t, 0.2, cfg.System.Normalizer.TargetRMS)
	assert.Equal(t, 40.0, cfg.System.Normalizer.MaxGain, "unset keys keep defaults")
	assert.Equal(t, 80.0, cfg.System.Gate.HoldMs)
	assert.Equal(t, 500*time.Microsecond, cfg.AEC.LockBudget)
	assert.Equal(t, CodecOpus, cfg.Sink.Codec)
	assert.Equal(t, 48000, cfg.SampleRate)
}

func TestUnknownKeyRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("system:\n  presett: speech\n"))
	assert.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.FrameMs = 0
	cfg.System.Gate.OpenThreshold = 0.001 // below close threshold
	cfg.Mic.Stages = []string{"reverb"}
	cfg.AEC.SampleRate = 44100
	cfg.Sink.Codec = "mp3"
	cfg.Sink.Queue = 0
	cfg.Sink.URL = "http://example.com"

	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, pipeline.ErrUnknownStage)

	msg := err.Error()
	for _, want := range []string{
		"log_level", "frame_ms", `stage "gate"`, "mic:", "aec.sample_rate",
		"sink.codec", "sink.queue", "ws or wss",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestSystemAndMicOptions(t *testing.T) {
	cfg := Default()
	cfg.Mic.Stages = []string{"preemphasis", "gate"}
	cfg.Mic.PreEmphasis = 0.9

	sys := cfg.SystemOptions()
	assert.Equal(t, pipeline.PresetSpeech, sys.Preset)
	assert.Equal(t, 0.65, sys.PreEmphasis)

	mic := cfg.MicOptions()
	assert.Empty(t, mic.Preset)
	assert.Equal(t, []string{"preemphasis", "gate"}, mic.Stages)
	assert.Equal(t, 0.9, mic.PreEmphasis)
	assert.Equal(t, sys.Gate, mic.Gate)

	chain, err := pipeline.Build(Default().MicOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, chain.Len(), "default microphone chain is passthrough")
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.System.Stages = []string{"agc"}
	cfg.Capture.MicDevice = "USB Mic"

	data, err := Marshal(cfg)
	require.NoError(t, err)

	back, err := LoadFromReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Metrics.Addr = ":9464"
	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9464", back.Metrics.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, LogDebug.Logrus())
	assert.Equal(t, logrus.WarnLevel, LogWarn.Logrus())
	assert.Equal(t, logrus.ErrorLevel, LogError.Logrus())
	assert.Equal(t, logrus.InfoLevel, LogLevel("").Logrus())
	assert.False(t, LogLevel("trace").IsValid())
}
