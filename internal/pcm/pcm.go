// Package pcm converts between the float32 samples the DSP stages work on
// and the 16-bit little-endian PCM the echo canceller and downstream STT
// service consume.
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FromFloat quantizes float samples in [-1, 1] to int16, rounding to nearest
// and saturating out-of-range or non-finite input.
func FromFloat(src []float32) []int16 {
	out := make([]int16, len(src))
	for i, s := range src {
		out[i] = Quantize(s)
	}
	return out
}

// Quantize converts one float sample to int16.
func Quantize(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return math.MinInt16
	}
	return int16(math.Round(v * 32767))
}

// ToFloat converts int16 samples to float32 in [-1, 1).
func ToFloat(src []int16) []float32 {
	out := make([]float32, len(src))
	for i, s := range src {
		out[i] = float32(s) / 32768
	}
	return out
}

// EncodeLE serializes samples as little-endian int16 PCM.
func EncodeLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeLE parses little-endian int16 PCM. A trailing odd byte is ignored.
func DecodeLE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// DecodeFloat32LE parses little-endian IEEE-754 float32 samples, as
// delivered by miniaudio devices opened with an f32 format.
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Downmix averages interleaved multi-channel samples into mono.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Decimator reduces the sample rate by an integer factor, averaging each
// group of input samples. Samples that do not complete a group carry over
// to the next call, so arbitrary frame lengths produce a gapless stream.
// Create one per stream; not safe for concurrent use.
type Decimator struct {
	factor  int
	pending []float32
}

// NewDecimator returns a Decimator from srcRate to dstRate. srcRate must be
// a positive multiple of dstRate.
func NewDecimator(srcRate, dstRate int) (*Decimator, error) {
	if srcRate <= 0 || dstRate <= 0 || srcRate%dstRate != 0 {
		return nil, fmt.Errorf("pcm: cannot decimate %d Hz to %d Hz", srcRate, dstRate)
	}
	factor := srcRate / dstRate
	return &Decimator{factor: factor, pending: make([]float32, 0, factor)}, nil
}

// Factor returns the decimation ratio.
func (d *Decimator) Factor() int { return d.factor }

// Process returns the decimated, quantized samples for frame.
func (d *Decimator) Process(frame []float32) []int16 {
	if d.factor == 1 {
		return FromFloat(frame)
	}
	out := make([]int16, 0, (len(d.pending)+len(frame))/d.factor)
	for _, s := range frame {
		d.pending = append(d.pending, s)
		if len(d.pending) < d.factor {
			continue
		}
		var sum float32
		for _, p := range d.pending {
			sum += p
		}
		out = append(out, Quantize(sum/float32(d.factor)))
		d.pending = d.pending[:0]
	}
	return out
}

// Reset discards carried-over samples.
func (d *Decimator) Reset() { d.pending = d.pending[:0] }
