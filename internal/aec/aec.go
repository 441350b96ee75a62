// Package aec removes system-audio echo from the microphone signal.
//
// EchoCanceller owns one Canceller instance and pulls the time-aligned echo
// reference from a refbuf.Buffer filled by the loopback goroutine:
//
//	ref := refbuf.New(refbuf.DefaultCapacity)
//	ec, err := aec.New(aec.DefaultParams(), ref, nil) // nil selects NLMS
//	if err != nil {
//		// run without echo cancellation
//	}
//
//	// loopback goroutine
//	ref.Push(loopback16k)
//
//	// microphone goroutine
//	clean := ec.Process(mic16k)
//
// All audio here is 16-bit mono at Params.SampleRate.
package aec

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/adam-palmer1/smarterli-desktop/internal/refbuf"
)

const (
	// DefaultSampleRate is the canceller's processing rate.
	DefaultSampleRate = 16000

	// DefaultFrameSize is one 10 ms sub-frame at 16 kHz.
	DefaultFrameSize = 160

	// DefaultFilterLength covers a 200 ms echo tail at 16 kHz.
	DefaultFilterLength = 3200
)

// ErrInit is returned by New when the cancellation capability cannot be
// constructed. Callers must fall back to passing the microphone through.
var ErrInit = errors.New("aec: initialization failed")

// Params are the construction parameters of a Canceller. They are fixed for
// the lifetime of the instance.
type Params struct {
	FrameSize    int  // sub-frame length in samples
	FilterLength int  // adaptive filter tail in samples
	SampleRate   int  // processing rate in Hz
	Preprocess   bool // enable input conditioning before cancellation
}

// DefaultParams returns 10 ms sub-frames, a 200 ms tail at 16 kHz and
// preprocessing enabled.
func DefaultParams() Params {
	return Params{
		FrameSize:    DefaultFrameSize,
		FilterLength: DefaultFilterLength,
		SampleRate:   DefaultSampleRate,
		Preprocess:   true,
	}
}

func (p Params) validate() error {
	var errs []error
	if p.FrameSize < 1 {
		errs = append(errs, fmt.Errorf("frame size %d must be positive", p.FrameSize))
	}
	if p.FilterLength < 1 {
		errs = append(errs, fmt.Errorf("filter length %d must be positive", p.FilterLength))
	}
	if p.SampleRate < 1 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", p.SampleRate))
	}
	return errors.Join(errs...)
}

// Canceller is the echo cancellation capability. Cancel receives a
// microphone sub-frame and the matching reference sub-frame, both exactly
// FrameSize samples, and writes the cancelled sub-frame into out.
type Canceller interface {
	Cancel(mic, ref, out []int16)
}

// Factory constructs a Canceller. It may fail.
type Factory func(Params) (Canceller, error)

// EchoCanceller slices microphone frames into fixed sub-frames and feeds
// them, paired with reference sub-frames, to its Canceller. It is owned by
// the microphone goroutine and is not safe for concurrent Process calls.
type EchoCanceller struct {
	params    Params
	canceller Canceller
	ref       *refbuf.Buffer
	scratch   []int16
	out       []int16

	faults    atomic.Uint64
	faultOnce sync.Once
	log       *logrus.Entry
}

// New builds an EchoCanceller reading its reference from ref. A nil factory
// selects NewNLMS. Any factory error or panic is reported as ErrInit.
func New(p Params, ref *refbuf.Buffer, factory Factory) (ec *EchoCanceller, err error) {
	if ref == nil {
		return nil, fmt.Errorf("%w: nil reference buffer", ErrInit)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	if factory == nil {
		factory = NewNLMS
	}

	defer func() {
		if r := recover(); r != nil {
			ec = nil
			err = fmt.Errorf("%w: factory panicked: %v", ErrInit, r)
		}
	}()

	c, err := factory(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: factory returned no canceller", ErrInit)
	}

	return &EchoCanceller{
		params:    p,
		canceller: c,
		ref:       ref,
		log: logrus.WithFields(logrus.Fields{
			"component":     "aec",
			"frame_size":    p.FrameSize,
			"filter_length": p.FilterLength,
			"sample_rate":   p.SampleRate,
		}),
	}, nil
}

// Process pulls a reference run as long as mic and returns the
// echo-reduced frame. Output length always equals input length; a trailing
// partial sub-frame is passed through unmodified. If the Canceller panics
// the whole frame is passed through.
//
// The returned slice is owned by the EchoCanceller and is overwritten by the
// next call. Steady-state calls do not allocate.
func (e *EchoCanceller) Process(mic []int16) []int16 {
	if len(mic) == 0 {
		return e.out[:0]
	}

	if cap(e.scratch) < len(mic) {
		e.scratch = make([]int16, len(mic))
		e.out = make([]int16, len(mic))
	}
	ref := e.scratch[:len(mic)]
	out := e.out[:len(mic)]
	e.ref.PullInto(ref)

	n := e.params.FrameSize
	full := len(mic) / n * n
	if !e.cancel(mic[:full], ref[:full], out[:full]) {
		copy(out, mic)
		return out
	}
	copy(out[full:], mic[full:])
	return out
}

func (e *EchoCanceller) cancel(mic, ref, out []int16) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			e.faults.Add(1)
			e.faultOnce.Do(func() {
				e.log.WithField("panic", r).Error("canceller fault, passing microphone through")
			})
		}
	}()
	n := e.params.FrameSize
	for off := 0; off < len(mic); off += n {
		e.canceller.Cancel(mic[off:off+n], ref[off:off+n], out[off:off+n])
	}
	return true
}

// Reset clears the canceller's adaptive state if it supports it.
func (e *EchoCanceller) Reset() {
	if r, ok := e.canceller.(interface{ Reset() }); ok {
		r.Reset()
	}
}

// Params returns the construction parameters.
func (e *EchoCanceller) Params() Params { return e.params }

// Faults returns the number of frames passed through after a Canceller panic.
func (e *EchoCanceller) Faults() uint64 { return e.faults.Load() }
