// Package session ties the two conditioning chains, the echo reference
// buffer and the echo canceller into one capture session.
//
// The loopback goroutine calls ProcessSystem; the microphone goroutine calls
// ProcessMic. Those two may run concurrently with each other, but each must
// only ever be called from its own goroutine. Start and Stop are session
// boundaries and must not overlap either processing call.
package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/adam-palmer1/smarterli-desktop/internal/aec"
	"github.com/adam-palmer1/smarterli-desktop/internal/config"
	"github.com/adam-palmer1/smarterli-desktop/internal/observe"
	"github.com/adam-palmer1/smarterli-desktop/internal/pcm"
	"github.com/adam-palmer1/smarterli-desktop/internal/pipeline"
	"github.com/adam-palmer1/smarterli-desktop/internal/refbuf"
)

// Fallback reasons recorded on speechprep.aec.fallbacks. FallbackInit is
// counted once per Start of a session whose canceller failed to build;
// FallbackFault once per frame passed through after a canceller fault.
const (
	FallbackInit  = "init"
	FallbackFault = "fault"
)

// Option configures a Session.
type Option func(*Session)

// WithCancellerFactory overrides the echo cancellation capability.
func WithCancellerFactory(f aec.Factory) Option {
	return func(s *Session) { s.factory = f }
}

// WithMetrics sets the metric instruments. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is one capture session.
type Session struct {
	system *pipeline.Chain
	mic    *pipeline.Chain
	ref    *refbuf.Buffer
	ec     *aec.EchoCanceller

	sysDec *pcm.Decimator
	micDec *pcm.Decimator

	aecWanted bool
	factory   aec.Factory
	metrics   *observe.Metrics
	log       *logrus.Entry

	// owned by the microphone goroutine
	lastRef    refbuf.Stats
	lastFaults uint64
}

// New builds a Session from cfg. A failing echo canceller is not an error:
// the session logs it and passes the microphone through.
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	s := &Session{
		aecWanted: cfg.AEC.Enabled,
		log:       logrus.WithField("component", "session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	var err error
	if s.system, err = pipeline.Build(cfg.SystemOptions()); err != nil {
		return nil, fmt.Errorf("session: system chain: %w", err)
	}
	if s.mic, err = pipeline.Build(cfg.MicOptions()); err != nil {
		return nil, fmt.Errorf("session: mic chain: %w", err)
	}
	if s.sysDec, err = pcm.NewDecimator(cfg.SampleRate, cfg.AEC.SampleRate); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if s.micDec, err = pcm.NewDecimator(cfg.SampleRate, cfg.AEC.SampleRate); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s.ref = refbuf.New(cfg.ReferenceCapacity(), refbuf.WithLockBudget(cfg.AEC.LockBudget))

	if s.aecWanted {
		s.ec, err = aec.New(cfg.AECParams(), s.ref, s.factory)
		if err != nil {
			s.log.WithError(err).Warn("echo cancellation unavailable, microphone will pass through")
			s.ec = nil
		}
	}

	s.log.WithFields(logrus.Fields{
		"system_stages": s.system.Names(),
		"mic_stages":    s.mic.Names(),
		"aec":           s.ec != nil,
		"sample_rate":   cfg.SampleRate,
	}).Info("session ready")
	return s, nil
}

// Start begins a session with empty reference and fresh stage state.
func (s *Session) Start() {
	s.reset()
	if s.aecWanted && s.ec == nil {
		s.metrics.RecordAECFallback(context.Background(), FallbackInit)
	}
	s.log.Debug("session started")
}

// Stop ends a session. The reference buffer is emptied so nothing carries
// over into the next Start.
func (s *Session) Stop() {
	s.reset()
	s.log.Debug("session stopped")
}

func (s *Session) reset() {
	s.ref.Clear()
	s.system.Reset()
	s.mic.Reset()
	s.sysDec.Reset()
	s.micDec.Reset()
	if s.ec != nil {
		s.ec.Reset()
		s.lastFaults = s.ec.Faults()
	}
	s.lastRef = s.ref.Stats()
}

// ProcessSystem conditions one loopback frame in place, pushes its 16-bit
// resampled copy into the echo reference and returns both.
func (s *Session) ProcessSystem(frame []float32) ([]float32, []int16) {
	out := s.system.Process(frame)
	s.metrics.RecordFrame(context.Background(), observe.StreamSystem, out)

	ref := s.sysDec.Process(out)
	if s.ec != nil {
		s.ref.Push(ref)
	}
	return out, ref
}

// ProcessMic conditions one microphone frame, converts it to the canceller
// rate and removes the system-audio echo.
func (s *Session) ProcessMic(frame []float32) []int16 {
	out := s.mic.Process(frame)
	s.metrics.RecordFrame(context.Background(), observe.StreamMic, out)
	return s.CancelEcho(s.micDec.Process(out))
}

// CancelEcho removes the system-audio echo from a microphone frame already
// at the canceller rate. Without a canceller the frame is returned as is.
// The result is only valid until the next call.
func (s *Session) CancelEcho(mic []int16) []int16 {
	if s.ec == nil {
		return mic
	}

	ctx := context.Background()
	out := s.ec.Process(mic)

	if f := s.ec.Faults(); f != s.lastFaults {
		s.metrics.RecordAECFallback(ctx, FallbackFault)
		s.lastFaults = f
	}
	cur := s.ref.Stats()
	s.metrics.RecordReference(ctx, cur.Sub(s.lastRef))
	s.lastRef = cur
	return out
}

// SystemChain returns the loopback conditioning chain.
func (s *Session) SystemChain() *pipeline.Chain { return s.system }

// MicChain returns the microphone conditioning chain.
func (s *Session) MicChain() *pipeline.Chain { return s.mic }

// Reference returns the echo reference buffer.
func (s *Session) Reference() *refbuf.Buffer { return s.ref }

// AECActive reports whether echo cancellation is running.
func (s *Session) AECActive() bool { return s.ec != nil }
