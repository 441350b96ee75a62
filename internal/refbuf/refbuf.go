// Package refbuf provides the echo reference hand-off between the system
// audio (loopback) goroutine and the microphone goroutine.
//
// Buffer is a bounded FIFO of 16-bit reference samples. The producer pushes
// the conditioned, resampled loopback signal; the echo canceller pulls runs
// of the same length as each microphone frame. When full, the oldest samples
// are discarded. When short, Pull pads with zeros, which makes the canceller
// degrade to near-passthrough instead of failing.
//
// Every critical section is a bounded memory copy with no I/O. Push and Pull
// run inside audio callbacks, so they never wait on the lock longer than the
// configured lock budget: on a miss, Push drops its frame and Pull returns
// silence. Clear is a session-boundary operation and always takes the lock.
package refbuf

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCapacity is one second of audio at the 16 kHz canceller rate.
	DefaultCapacity = 16000

	// DefaultLockBudget bounds how long Push/Pull may spin for the lock.
	DefaultLockBudget = 200 * time.Microsecond
)

// Stats are cumulative counters since construction.
type Stats struct {
	Pushed     uint64 // samples accepted by Push
	Pulled     uint64 // real (non-padding) samples returned by Pull
	Trimmed    uint64 // oldest samples discarded on overflow
	Underruns  uint64 // Pull calls that had to pad with zeros
	LockMisses uint64 // Push/Pull calls that gave up on the lock
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLockBudget sets the maximum lock wait for Push and Pull. Zero means a
// single TryLock attempt.
func WithLockBudget(d time.Duration) Option {
	return func(b *Buffer) { b.budget = d }
}

// Buffer is a mutex-guarded ring of int16 samples. Safe for concurrent use by
// one producer and one consumer (and any number of observers).
type Buffer struct {
	mu   sync.Mutex
	data []int16
	head int // index of the oldest sample
	size int

	budget time.Duration

	pushed     atomic.Uint64
	pulled     atomic.Uint64
	trimmed    atomic.Uint64
	underruns  atomic.Uint64
	lockMisses atomic.Uint64
}

// New returns an empty Buffer holding at most capacity samples. capacity < 1
// is treated as DefaultCapacity.
func New(capacity int, opts ...Option) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		data:   make([]int16, capacity),
		budget: DefaultLockBudget,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// lock acquires mu within the lock budget and reports whether it succeeded.
func (b *Buffer) lock() bool {
	if b.mu.TryLock() {
		return true
	}
	if b.budget > 0 {
		deadline := time.Now().Add(b.budget)
		for time.Now().Before(deadline) {
			runtime.Gosched()
			if b.mu.TryLock() {
				return true
			}
		}
	}
	b.lockMisses.Add(1)
	return false
}

// Push appends samples at the tail, discarding from the head whatever no
// longer fits. It reports false if the lock could not be taken in time, in
// which case nothing was written.
func (b *Buffer) Push(samples []int16) bool {
	n := len(samples)
	if n == 0 {
		return true
	}
	if !b.lock() {
		return false
	}
	defer b.mu.Unlock()

	capacity := len(b.data)
	if n >= capacity {
		b.trimmed.Add(uint64(b.size + n - capacity))
		copy(b.data, samples[n-capacity:])
		b.head = 0
		b.size = capacity
		b.pushed.Add(uint64(n))
		return true
	}

	if over := b.size + n - capacity; over > 0 {
		b.head = (b.head + over) % capacity
		b.size -= over
		b.trimmed.Add(uint64(over))
	}
	tail := (b.head + b.size) % capacity
	k := copy(b.data[tail:], samples)
	copy(b.data, samples[k:])
	b.size += n
	b.pushed.Add(uint64(n))
	return true
}

// Pull removes and returns count samples from the head. If fewer are
// buffered, the available prefix is followed by zeros.
func (b *Buffer) Pull(count int) []int16 {
	if count <= 0 {
		return []int16{}
	}
	out := make([]int16, count)
	b.PullInto(out)
	return out
}

// PullInto fills dst from the head of the buffer, zero-padding the tail, and
// returns how many real samples were copied. On a lock miss dst is all
// zeros and nothing is consumed.
func (b *Buffer) PullInto(dst []int16) int {
	if len(dst) == 0 {
		return 0
	}
	if !b.lock() {
		clear(dst)
		return 0
	}
	capacity := len(b.data)
	n := min(len(dst), b.size)
	first := copy(dst[:n], b.data[b.head:min(b.head+n, capacity)])
	copy(dst[first:n], b.data[:n-first])
	b.head = (b.head + n) % capacity
	b.size -= n
	b.mu.Unlock()

	clear(dst[n:])
	b.pulled.Add(uint64(n))
	if n < len(dst) {
		b.underruns.Add(1)
	}
	return n
}

// Clear empties the buffer. Call it at session start and stop so a stale
// reference from one session never leaks into the next.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.head = 0
	b.size = 0
	b.mu.Unlock()
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the maximum number of buffered samples.
func (b *Buffer) Capacity() int { return len(b.data) }

// Stats returns a snapshot of the cumulative counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Pushed:     b.pushed.Load(),
		Pulled:     b.pulled.Load(),
		Trimmed:    b.trimmed.Load(),
		Underruns:  b.underruns.Load(),
		LockMisses: b.lockMisses.Load(),
	}
}

// Sub returns the counter increments from prev to s.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Pushed:     s.Pushed - prev.Pushed,
		Pulled:     s.Pulled - prev.Pulled,
		Trimmed:    s.Trimmed - prev.Trimmed,
		Underruns:  s.Underruns - prev.Underruns,
		LockMisses: s.LockMisses - prev.LockMisses,
	}
}
