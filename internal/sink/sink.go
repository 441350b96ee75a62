// Package sink streams the conditioned 16-bit audio to the downstream
// speech-to-text service over a WebSocket.
//
// Every frame becomes one binary message: a one-byte stream tag ('s' for
// system audio, 'm' for microphone) followed by the payload, either raw
// little-endian PCM16 or one Opus packet of 20 ms.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"github.com/adam-palmer1/smarterli-desktop/internal/observe"
	"github.com/adam-palmer1/smarterli-desktop/internal/pcm"
	"github.com/adam-palmer1/smarterli-desktop/internal/vad"
)

const (
	writeTimeout = 5 * time.Second

	opusFrameMs        = 20
	opusBitrate        = 24000
	opusMaxPacketBytes = 1275 // RFC 6716 max Opus packet size
)

// Stream tags.
const (
	TagSystem byte = 's'
	TagMic    byte = 'm'
)

// Codecs.
const (
	CodecPCM  = "pcm"
	CodecOpus = "opus"
)

// TagFor returns the wire tag of an observe stream name.
func TagFor(stream string) byte {
	if stream == observe.StreamSystem {
		return TagSystem
	}
	return TagMic
}

// Config configures a Sink.
type Config struct {
	URL          string
	Codec        string
	SampleRate   int
	VAD          bool
	VADThreshold float64
	Queue        int
}

// opusEncoder abstracts Opus encoding for testing.
type opusEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

type message struct {
	stream string
	pcm    []int16
}

// Sink queues frames from the audio goroutines and writes them from its own
// goroutine. Enqueue never blocks: a full queue drops the frame.
type Sink struct {
	cfg     Config
	queue   chan message
	vads    map[string]*vad.VAD
	metrics *observe.Metrics
	log     *logrus.Entry

	sent    atomic.Uint64
	dropped atomic.Uint64
	skipped atomic.Uint64
}

// New returns a Sink for cfg. metrics may be nil.
func New(cfg Config, metrics *observe.Metrics) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("sink: url is required")
	}
	if cfg.Codec == "" {
		cfg.Codec = CodecPCM
	}
	if cfg.Codec != CodecPCM && cfg.Codec != CodecOpus {
		return nil, fmt.Errorf("sink: unknown codec %q", cfg.Codec)
	}
	if cfg.Codec == CodecOpus {
		switch cfg.SampleRate {
		case 8000, 12000, 16000, 24000, 48000:
		default:
			return nil, fmt.Errorf("sink: opus does not support %d Hz", cfg.SampleRate)
		}
	}
	if cfg.Queue < 1 {
		cfg.Queue = 1
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	s := &Sink{
		cfg:     cfg,
		queue:   make(chan message, cfg.Queue),
		metrics: metrics,
		log: logrus.WithFields(logrus.Fields{
			"component": "sink",
			"url":       cfg.URL,
			"codec":     cfg.Codec,
		}),
	}
	if cfg.VAD {
		// One detector per stream: each is touched only by its producer.
		s.vads = make(map[string]*vad.VAD, 2)
		for _, stream := range []string{observe.StreamSystem, observe.StreamMic} {
			v := vad.New()
			v.SetThreshold(cfg.VADThreshold)
			s.vads[stream] = v
		}
	}
	return s, nil
}

// Enqueue hands a frame to the writer. It reports whether the frame was
// queued; frames skipped by the VAD or dropped on a full queue are not.
// The frame is copied.
func (s *Sink) Enqueue(stream string, frame []int16) bool {
	if v := s.vads[stream]; v != nil && !v.ShouldSendFrame(frame) {
		s.skipped.Add(1)
		return false
	}
	msg := message{stream: stream, pcm: append([]int16(nil), frame...)}
	select {
	case s.queue <- msg:
		return true
	default:
		s.dropped.Add(1)
		s.metrics.RecordSinkDrop(context.Background(), stream)
		return false
	}
}

// Sent returns the number of messages written.
func (s *Sink) Sent() uint64 { return s.sent.Load() }

// Dropped returns the number of frames dropped on a full queue.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Skipped returns the number of frames the VAD classified as silence.
func (s *Sink) Skipped() uint64 { return s.skipped.Load() }

// Run dials the service and writes queued frames until ctx is cancelled or
// the connection fails. Cancellation closes the connection cleanly and is
// not an error.
func (s *Sink) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("sink: dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()
	s.log.Info("connected")

	// Drain inbound frames so control messages (ping, close) are handled.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	w, err := s.newWriter()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.log.WithFields(logrus.Fields{
				"sent":    s.Sent(),
				"dropped": s.Dropped(),
				"skipped": s.Skipped(),
			}).Info("disconnected")
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("sink: read: %w", err)
		case msg := <-s.queue:
			payloads, err := w.encode(msg)
			if err != nil {
				s.log.WithError(err).Warn("encode failed, frame dropped")
				continue
			}
			for _, p := range payloads {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
					return fmt.Errorf("sink: write: %w", err)
				}
				s.sent.Add(1)
			}
		}
	}
}

// writer turns queued frames into tagged wire messages. Owned by Run.
type writer struct {
	codec     string
	frameSize int
	encoders  map[string]opusEncoder
	pending   map[string][]int16
	packet    []byte
}

func (s *Sink) newWriter() (*writer, error) {
	w := &writer{codec: s.cfg.Codec}
	if w.codec != CodecOpus {
		return w, nil
	}
	w.frameSize = s.cfg.SampleRate * opusFrameMs / 1000
	w.encoders = make(map[string]opusEncoder, 2)
	w.pending = make(map[string][]int16, 2)
	w.packet = make([]byte, opusMaxPacketBytes)
	for _, stream := range []string{observe.StreamSystem, observe.StreamMic} {
		enc, err := opus.NewEncoder(s.cfg.SampleRate, 1, opus.AppVoIP)
		if err != nil {
			return nil, fmt.Errorf("sink: opus encoder: %w", err)
		}
		if err := enc.SetBitrate(opusBitrate); err != nil {
			return nil, fmt.Errorf("sink: opus bitrate: %w", err)
		}
		w.encoders[stream] = enc
	}
	return w, nil
}

// encode returns zero or more wire messages for msg. Opus buffers each
// stream until a whole 20 ms frame is available.
func (w *writer) encode(msg message) ([][]byte, error) {
	tag := TagFor(msg.stream)
	if w.codec != CodecOpus {
		return [][]byte{append([]byte{tag}, pcm.EncodeLE(msg.pcm)...)}, nil
	}

	enc, ok := w.encoders[msg.stream]
	if !ok {
		return nil, fmt.Errorf("no encoder for stream %q", msg.stream)
	}
	buf := append(w.pending[msg.stream], msg.pcm...)
	var out [][]byte
	for len(buf) >= w.frameSize {
		n, err := enc.Encode(buf[:w.frameSize], w.packet)
		if err != nil {
			w.pending[msg.stream] = nil
			return out, err
		}
		out = append(out, append([]byte{tag}, w.packet[:n]...))
		buf = buf[w.frameSize:]
	}
	w.pending[msg.stream] = append([]int16(nil), buf...)
	return out, nil
}
