package capture

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adam-palmer1/smarterli-desktop/internal/config"
	"github.com/adam-palmer1/smarterli-desktop/internal/observe"
	"github.com/adam-palmer1/smarterli-desktop/internal/session"
)

// fakeMic fills its buffer with a tone on every Read. After Stop, Read
// fails like a stopped PortAudio stream. failAfter > 0 makes Read fail on
// its own after that many frames.
type fakeMic struct {
	buf       []float32
	reads     atomic.Int64
	stopped   atomic.Bool
	closed    atomic.Bool
	failAfter int64
}

func (m *fakeMic) Start() error { return nil }
func (m *fakeMic) Stop() error  { m.stopped.Store(true); return nil }
func (m *fakeMic) Close() error { m.closed.Store(true); return nil }

func (m *fakeMic) Read() error {
	time.Sleep(time.Millisecond)
	if m.stopped.Load() {
		return errors.New("stream stopped")
	}
	n := m.reads.Add(1)
	if m.failAfter > 0 && n > m.failAfter {
		return errors.New("device unplugged")
	}
	for i := range m.buf {
		m.buf[i] = float32(0.1 * math.Sin(2*math.Pi*300*float64(int(n)*len(m.buf)+i)/48000))
	}
	return nil
}

// fakeLoopback delivers odd-sized batches from its own goroutine, like a
// device thread.
type fakeLoopback struct {
	onSamples func([]float32)
	stop      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
}

func (l *fakeLoopback) Start() error {
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		batch := make([]float32, 441)
		for i := range batch {
			batch[i] = 0.2
		}
		for {
			select {
			case <-l.stop:
				return
			case <-time.After(time.Millisecond):
				l.onSamples(batch)
			}
		}
	}()
	return nil
}

func (l *fakeLoopback) Stop() error {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done
	return nil
}

func (l *fakeLoopback) Close() { l.closed.Store(true) }

type recordingSink struct {
	mu     sync.Mutex
	frames map[string]int
	sizes  map[int]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{frames: map[string]int{}, sizes: map[int]bool{}}
}

func (s *recordingSink) Enqueue(stream string, frame []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[stream]++
	s.sizes[len(frame)] = true
	return true
}

func (s *recordingSink) count(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[stream]
}

func testEngine(t *testing.T, mic *fakeMic, lb *fakeLoopback, sink Sink) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.AEC.TailMs = 8
	sess, err := session.New(cfg)
	require.NoError(t, err)

	e := NewEngine(cfg, sess, sink)
	e.openMic = func(_ string, _ int, frameSize int) (micStream, []float32, error) {
		mic.buf = make([]float32, frameSize)
		return mic, mic.buf, nil
	}
	e.openLoopback = func(_ string, _ int, onSamples func([]float32)) (loopbackDevice, error) {
		lb.onSamples = onSamples
		return lb, nil
	}
	return e
}

func TestRunDeliversBothStreams(t *testing.T) {
	mic, lb, sink := &fakeMic{}, &fakeLoopback{}, newRecordingSink()
	e := testEngine(t, mic, lb, sink)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sink.count(observe.StreamMic) >= 10 && sink.count(observe.StreamSystem) >= 10
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, mic.closed.Load())
	assert.True(t, lb.closed.Load())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, map[int]bool{160: true}, sink.sizes, "every frame is 10 ms at 16 kHz")
}

func TestRunReturnsDeviceError(t *testing.T) {
	mic, lb := &fakeMic{failAfter: 5}, &fakeLoopback{}
	e := testEngine(t, mic, lb, nil)

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestRunOpenFailure(t *testing.T) {
	mic, lb := &fakeMic{}, &fakeLoopback{}
	e := testEngine(t, mic, lb, nil)
	e.openLoopback = func(string, int, func([]float32)) (loopbackDevice, error) {
		return nil, errors.New("no loopback backend")
	}

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open loopback")
	assert.True(t, mic.closed.Load(), "microphone is released on a later failure")
}

func TestLoopbackDropsWhenBehind(t *testing.T) {
	e := testEngine(t, &fakeMic{}, &fakeLoopback{}, nil)
	e.loopbackCh = make(chan []float32, 1)
	e.framer = newFramer(480)

	e.onLoopback(make([]float32, 480*3))
	assert.Len(t, e.loopbackCh, 1)
	assert.Equal(t, uint64(2), e.Dropped())
}

func TestFramer(t *testing.T) {
	f := newFramer(4)
	assert.Empty(t, f.push([]float32{1, 2, 3}))

	frames := f.push([]float32{4, 5, 6, 7, 8, 9, 10})
	require.Len(t, frames, 2)
	assert.Equal(t, []float32{1, 2, 3, 4}, frames[0])
	assert.Equal(t, []float32{5, 6, 7, 8}, frames[1])

	frames = f.push([]float32{11, 12})
	require.Len(t, frames, 1)
	assert.Equal(t, []float32{9, 10, 11, 12}, frames[0])
}

func TestMatchDevice(t *testing.T) {
	names := []string{"Built-in Microphone", "USB Headset", "Monitor of Built-in Audio"}
	tests := []struct {
		want string
		idx  int
	}{
		{"usb", 1},
		{"BUILT-IN", 0},
		{"monitor", 2},
		{"Bluetooth", -1},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.idx, matchDevice(names, tt.want))
		})
	}
	assert.Equal(t, -1, matchDevice(nil, "usb"))
}
