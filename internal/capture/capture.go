// Package capture drives a session.Session from the host audio devices: the
// microphone through a blocking PortAudio stream and the system output
// through a miniaudio loopback device.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/adam-palmer1/smarterli-desktop/internal/config"
	"github.com/adam-palmer1/smarterli-desktop/internal/observe"
	"github.com/adam-palmer1/smarterli-desktop/internal/session"
)

// loopbackChannelBuf is the number of system frames that may queue between
// the loopback callback and the conditioning goroutine (~300 ms at 10 ms).
const loopbackChannelBuf = 30

// micStream abstracts a blocking PortAudio input stream for testing.
type micStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
}

// loopbackDevice abstracts the miniaudio loopback device for testing.
type loopbackDevice interface {
	Start() error
	Stop() error
	Close()
}

// Sink receives conditioned 16-bit frames. Enqueue must not block.
type Sink interface {
	Enqueue(stream string, frame []int16) bool
}

// micOpener opens the microphone with a buffer of frameSize samples that
// Read fills in place.
type micOpener func(device string, sampleRate, frameSize int) (micStream, []float32, error)

// loopbackOpener opens the loopback device; onSamples receives mono float
// samples in arbitrary batch sizes from the device thread.
type loopbackOpener func(device string, sampleRate int, onSamples func([]float32)) (loopbackDevice, error)

// Engine runs one capture session until its context is cancelled.
type Engine struct {
	cfg     *config.Config
	session *session.Session
	sink    Sink

	openMic      micOpener
	openLoopback loopbackOpener

	loopbackCh chan []float32
	framer     *framer
	dropped    atomic.Uint64

	log *logrus.Entry
}

// NewEngine returns an Engine feeding sess from the devices named in cfg and
// delivering its output to sink. sink may be nil.
func NewEngine(cfg *config.Config, sess *session.Session, sink Sink) *Engine {
	return &Engine{
		cfg:          cfg,
		session:      sess,
		sink:         sink,
		openMic:      openPortAudioMic,
		openLoopback: openMalgoLoopback,
		log:          logrus.WithField("component", "capture"),
	}
}

// Dropped returns the number of loopback frames discarded because the
// conditioning goroutine fell behind.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

// Run opens both devices, starts the session and processes audio until ctx
// is cancelled or a device fails. Cancellation is not an error.
func (e *Engine) Run(ctx context.Context) error {
	frameSize := e.cfg.FrameSize()
	e.loopbackCh = make(chan []float32, loopbackChannelBuf)
	e.framer = newFramer(frameSize)

	mic, micBuf, err := e.openMic(e.cfg.Capture.MicDevice, e.cfg.SampleRate, frameSize)
	if err != nil {
		return fmt.Errorf("capture: open microphone: %w", err)
	}
	defer mic.Close()

	lb, err := e.openLoopback(e.cfg.Capture.LoopbackDevice, e.cfg.SampleRate, e.onLoopback)
	if err != nil {
		return fmt.Errorf("capture: open loopback: %w", err)
	}
	defer lb.Close()

	e.session.Start()
	defer e.session.Stop()

	if err := mic.Start(); err != nil {
		return fmt.Errorf("capture: start microphone: %w", err)
	}
	if err := lb.Start(); err != nil {
		mic.Stop()
		return fmt.Errorf("capture: start loopback: %w", err)
	}
	e.log.WithFields(logrus.Fields{
		"sample_rate": e.cfg.SampleRate,
		"frame_size":  frameSize,
		"aec":         e.session.AECActive(),
	}).Info("capture started")

	g, gctx := errgroup.WithContext(ctx)

	// Stopping the streams unblocks a pending Read so micLoop can exit.
	g.Go(func() error {
		<-gctx.Done()
		mic.Stop()
		lb.Stop()
		return nil
	})
	g.Go(func() error { return e.micLoop(gctx, mic, micBuf) })
	g.Go(func() error { return e.systemLoop(gctx) })

	err = g.Wait()
	e.log.WithField("loopback_dropped", e.Dropped()).Info("capture stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) micLoop(ctx context.Context, mic micStream, buf []float32) error {
	for {
		if err := mic.Read(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("capture: microphone read: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		out := e.session.ProcessMic(buf)
		if e.sink != nil {
			e.sink.Enqueue(observe.StreamMic, out)
		}
	}
}

func (e *Engine) systemLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-e.loopbackCh:
			_, ref := e.session.ProcessSystem(frame)
			if e.sink != nil {
				e.sink.Enqueue(observe.StreamSystem, ref)
			}
		}
	}
}

// onLoopback runs on the device thread. It only re-frames and hands off;
// a full channel drops the frame rather than stalling the device.
func (e *Engine) onLoopback(samples []float32) {
	for _, frame := range e.framer.push(samples) {
		select {
		case e.loopbackCh <- frame:
		default:
			e.dropped.Add(1)
		}
	}
}
