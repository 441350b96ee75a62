package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adam-palmer1/smarterli-desktop/internal/config"
	"github.com/adam-palmer1/smarterli-desktop/internal/pipeline"
)

func TestSimulateSpeechChain(t *testing.T) {
	var out bytes.Buffer
	cmd := &SimulateCmd{Freq: 440, Amplitude: 0.003, Seconds: 3, Every: 50}
	require.NoError(t, cmd.run(config.Default(), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Greater(t, len(lines), 3)
	assert.Contains(t, lines[0], "compressor normalizer gate")

	last := strings.Fields(lines[len(lines)-1])
	require.Len(t, last, 5)
	assert.Equal(t, "299", last[0])
	assert.Equal(t, "open", last[4])
}

func TestSimulatePresetOverride(t *testing.T) {
	var out bytes.Buffer
	cmd := &SimulateCmd{Freq: 440, Amplitude: 0.1, Seconds: 0.1, Every: 1, Preset: pipeline.PresetPeakAGC}
	require.NoError(t, cmd.run(config.Default(), &out))
	assert.Contains(t, out.String(), "[agc]")
	assert.NotContains(t, out.String(), "open")
}

func TestSimulateUnknownPreset(t *testing.T) {
	cmd := &SimulateCmd{Seconds: 1, Preset: "radio"}
	err := cmd.run(config.Default(), &bytes.Buffer{})
	assert.ErrorIs(t, err, pipeline.ErrUnknownStage)
}
