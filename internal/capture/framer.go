package capture

// framer regroups a sample stream delivered in arbitrary batch sizes into
// fixed-size frames. Not safe for concurrent use.
type framer struct {
	size    int
	pending []float32
}

func newFramer(size int) *framer {
	return &framer{size: size, pending: make([]float32, 0, size)}
}

// push appends samples and returns every frame they complete. Returned
// frames are freshly allocated and owned by the caller.
func (f *framer) push(samples []float32) [][]float32 {
	var out [][]float32
	for len(samples) > 0 {
		n := min(f.size-len(f.pending), len(samples))
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) == f.size {
			frame := make([]float32, f.size)
			copy(frame, f.pending)
			out = append(out, frame)
			f.pending = f.pending[:0]
		}
	}
	return out
}
