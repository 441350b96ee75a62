package main

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/adam-palmer1/smarterli-desktop/internal/config"
	"github.com/adam-palmer1/smarterli-desktop/internal/envelope"
	"github.com/adam-palmer1/smarterli-desktop/internal/pipeline"
)

// SimulateCmd feeds a synthetic tone through the system chain. No audio
// devices are needed.
type SimulateCmd struct {
	Freq      float64 `help:"Tone frequency in Hz." default:"440"`
	Amplitude float64 `help:"Tone peak amplitude (linear)." default:"0.003"`
	Seconds   float64 `help:"Length of the simulation." default:"3"`
	Every     int     `help:"Print every Nth frame." default:"10"`
	Preset    string  `help:"Override the system chain preset." default:""`
}

// Run executes the simulate command.
func (s *SimulateCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	return s.run(cfg, os.Stdout)
}

func (s *SimulateCmd) run(cfg *config.Config, w io.Writer) error {
	opts := cfg.SystemOptions()
	if s.Preset != "" {
		opts.Preset = s.Preset
		opts.Stages = nil
	}
	chain, err := pipeline.Build(opts)
	if err != nil {
		return err
	}
	gate, hasGate := chain.Gate()

	frameSize := cfg.FrameSize()
	frames := int(s.Seconds * float64(cfg.SampleRate) / float64(frameSize))
	every := max(s.Every, 1)

	fmt.Fprintf(w, "chain: %v  rate: %d Hz  frame: %d samples\n", chain.Names(), cfg.SampleRate, frameSize)
	fmt.Fprintf(w, "%6s %8s %10s %10s %8s\n", "frame", "time", "in_dbfs", "out_dbfs", "gate")

	frame := make([]float32, frameSize)
	for f := range frames {
		for i := range frame {
			n := f*frameSize + i
			frame[i] = float32(s.Amplitude * math.Sin(2*math.Pi*s.Freq*float64(n)/float64(cfg.SampleRate)))
		}
		in := envelope.ToDB(envelope.FrameRMS(frame))
		out := envelope.ToDB(envelope.FrameRMS(chain.Process(frame)))

		if f%every != 0 && f != frames-1 {
			continue
		}
		state := "-"
		if hasGate {
			state = gate.State().String()
		}
		t := float64((f+1)*frameSize) / float64(cfg.SampleRate)
		fmt.Fprintf(w, "%6d %7.2fs %10.1f %10.1f %8s\n", f, t, in, out, state)
	}
	return nil
}
