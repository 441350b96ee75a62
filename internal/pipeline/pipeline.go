// Package pipeline assembles the loudness stages into a configurable chain.
//
// Every stage satisfies Processor, so the two gain strategies (a single
// peak-envelope AGC, or compressor plus RMS normalizer plus gate) are
// interchangeable behind one capability. Stage order is free; the presets
// below cover the common layouts.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adam-palmer1/smarterli-desktop/internal/agc"
	"github.com/adam-palmer1/smarterli-desktop/internal/compressor"
	"github.com/adam-palmer1/smarterli-desktop/internal/envelope"
	"github.com/adam-palmer1/smarterli-desktop/internal/noisegate"
	"github.com/adam-palmer1/smarterli-desktop/internal/normalizer"
	"github.com/adam-palmer1/smarterli-desktop/internal/preemph"
)

// Stage names accepted in Options.Stages.
const (
	StageAGC         = "agc"
	StageCompressor  = "compressor"
	StageNormalizer  = "normalizer"
	StageGate        = "gate"
	StagePreEmphasis = "preemphasis"
)

// Preset names accepted in Options.Preset.
const (
	PresetSpeech  = "speech"
	PresetPeakAGC = "peak-agc"
)

// Pre-emphasis has no preset. At the default coefficient it takes ~9 dB off
// the low speech band, which drops quiet speech under the normalizer's
// silence floor when it runs first. Name it in Stages where it is wanted.
var presets = map[string][]string{
	PresetSpeech:  {StageCompressor, StageNormalizer, StageGate},
	PresetPeakAGC: {StageAGC},
}

// ErrUnknownStage is returned for an unrecognised stage or preset name.
var ErrUnknownStage = errors.New("pipeline: unknown stage")

// Processor is a real-time frame stage. Process works in place and returns
// the frame for chaining; it never fails and never blocks.
type Processor interface {
	Process(frame []float32) []float32
	Reset()
}

// Options selects and tunes the stages of a Chain. Stages, when non-empty,
// overrides Preset. An empty Preset with no Stages yields a passthrough
// chain.
type Options struct {
	SampleRate  int
	Preset      string
	Stages      []string
	AGC         agc.Config
	Compressor  compressor.Config
	Normalizer  normalizer.Config
	Gate        noisegate.Config
	PreEmphasis float64
}

// DefaultOptions returns the speech preset with stock tuning at sampleRate.
func DefaultOptions(sampleRate int) Options {
	return Options{
		SampleRate:  sampleRate,
		Preset:      PresetSpeech,
		AGC:         agc.DefaultConfig(sampleRate),
		Compressor:  compressor.DefaultConfig(sampleRate),
		Normalizer:  normalizer.DefaultConfig(sampleRate),
		Gate:        noisegate.DefaultConfig(sampleRate),
		PreEmphasis: preemph.DefaultCoefficient,
	}
}

// Presets returns the known preset names.
func Presets() []string {
	return []string{PresetSpeech, PresetPeakAGC}
}

// StagesFor returns the stage list of a preset.
func StagesFor(preset string) ([]string, error) {
	if preset == "" {
		return nil, nil
	}
	stages, ok := presets[preset]
	if !ok {
		return nil, fmt.Errorf("%w: preset %q", ErrUnknownStage, preset)
	}
	return append([]string(nil), stages...), nil
}

// Resolve returns the effective stage list for opts.
func (o Options) Resolve() ([]string, error) {
	if len(o.Stages) > 0 {
		return append([]string(nil), o.Stages...), nil
	}
	return StagesFor(o.Preset)
}

// Stage is a named Processor within a Chain.
type Stage struct {
	Name      string
	Processor Processor
}

// Chain runs its stages in order. A Chain is itself a Processor. Not safe
// for concurrent use.
type Chain struct {
	stages []Stage
}

// NewChain returns a Chain over stages.
func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages}
}

// Build constructs the chain described by opts. Each stage's config has its
// SampleRate forced to opts.SampleRate.
func Build(opts Options) (*Chain, error) {
	names, err := opts.Resolve()
	if err != nil {
		return nil, err
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = envelope.ReferenceRate
	}

	seen := make(map[string]bool, len(names))
	stages := make([]Stage, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			return nil, fmt.Errorf("pipeline: stage %q listed twice", name)
		}
		seen[name] = true

		p, err := newStage(name, opts)
		if err != nil {
			return nil, err
		}
		stages = append(stages, Stage{Name: name, Processor: p})
	}
	return NewChain(stages...), nil
}

func newStage(name string, opts Options) (Processor, error) {
	var (
		p   Processor
		err error
	)
	switch name {
	case StageAGC:
		cfg := opts.AGC
		cfg.SampleRate = opts.SampleRate
		p, err = agc.NewWithConfig(cfg)
	case StageCompressor:
		cfg := opts.Compressor
		cfg.SampleRate = opts.SampleRate
		p, err = compressor.NewWithConfig(cfg)
	case StageNormalizer:
		cfg := opts.Normalizer
		cfg.SampleRate = opts.SampleRate
		p, err = normalizer.NewWithConfig(cfg)
	case StageGate:
		cfg := opts.Gate
		cfg.SampleRate = opts.SampleRate
		p, err = noisegate.NewWithConfig(cfg)
	case StagePreEmphasis:
		p, err = preemph.NewWithCoefficient(opts.PreEmphasis)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: stage %q: %w", name, err)
	}
	return p, nil
}

// Process runs frame through every stage in order.
func (c *Chain) Process(frame []float32) []float32 {
	for _, st := range c.stages {
		frame = st.Processor.Process(frame)
	}
	return frame
}

// Reset returns every stage to its initial state.
func (c *Chain) Reset() {
	for _, st := range c.stages {
		st.Processor.Reset()
	}
}

// Names returns the stage names in processing order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.stages))
	for i, st := range c.stages {
		names[i] = st.Name
	}
	return names
}

// Len returns the number of stages.
func (c *Chain) Len() int { return len(c.stages) }

// Stage returns the processor registered under name.
func (c *Chain) Stage(name string) (Processor, bool) {
	for _, st := range c.stages {
		if st.Name == name {
			return st.Processor, true
		}
	}
	return nil, false
}

// Gate returns the chain's noise gate, if it has one.
func (c *Chain) Gate() (*noisegate.Gate, bool) {
	p, ok := c.Stage(StageGate)
	if !ok {
		return nil, false
	}
	g, ok := p.(*noisegate.Gate)
	return g, ok
}
