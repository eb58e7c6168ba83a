package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// resampleTolerance is the rate difference (Hz) below which a block is passed
// through without resampling.
const resampleTolerance = 0.5

// Converter turns raw interleaved device blocks into mono float32 blocks at the
// target rate. It logs a warning on the first block that needs resampling.
// Create one per stream. SetSourceRate is safe to call while blocks are being
// converted.
type Converter struct {
	// Target is the rate (Hz) every output block is expressed in.
	Target float64

	source         atomic.Uint64 // math.Float64bits of the device rate
	warnedMismatch sync.Once
}

// NewConverter returns a Converter from source to target rate.
func NewConverter(source, target float64) *Converter {
	c := &Converter{Target: target}
	c.SetSourceRate(source)
	return c
}

// SetSourceRate records the negotiated device rate.
func (c *Converter) SetSourceRate(rate float64) { c.source.Store(math.Float64bits(rate)) }

// SourceRate returns the negotiated device rate.
func (c *Converter) SourceRate() float64 { return math.Float64frombits(c.source.Load()) }

// Convert downmixes and resamples one block. The returned slice is always a
// fresh allocation owned by the caller, so it may be retained after the
// device callback returns.
func (c *Converter) Convert(interleaved []float32, channels int) []float32 {
	mono := Downmix(interleaved, channels)
	source := c.SourceRate()
	if needsResample(source, c.Target) {
		c.warnedMismatch.Do(func() {
			slog.Warn("audio rate mismatch: resampling capture blocks",
				"from", rateString(source),
				"to", rateString(c.Target),
			)
		})
		return Resample(mono, source, c.Target)
	}
	return mono
}

// Downmix averages interleaved frames into a freshly allocated mono slice. A
// channel count below two copies the input. A trailing partial frame is
// dropped.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	inv := 1 / float32(channels)
	for i := range frames {
		var sum float32
		base := i * channels
		for ch := range channels {
			sum += interleaved[base+ch]
		}
		out[i] = sum * inv
	}
	return out
}

// Resample converts a mono block from srcRate to dstRate by linear
// interpolation over the block's own time axis: input and output samples are
// spaced evenly over [0, 1) and output points past the last input sample hold
// its value. The output length is round(n * dst / src), at least one.
//
// The input is returned unchanged when the rates differ by less than 0.5 Hz,
// when either rate is non-positive, or when the block has fewer than two
// samples.
func Resample(block []float32, srcRate, dstRate float64) []float32 {
	n := len(block)
	if !needsResample(srcRate, dstRate) || n <= 1 {
		return block
	}
	m := max(1, int(math.Round(float64(n)*dstRate/srcRate)))
	if m == n {
		return block
	}

	out := make([]float32, m)
	scale := float64(n) / float64(m)
	last := n - 1
	for j := range m {
		pos := float64(j) * scale
		k := int(pos)
		if k >= last {
			out[j] = block[last]
			continue
		}
		frac := float32(pos - float64(k))
		out[j] = block[k] + (block[k+1]-block[k])*frac
	}
	return out
}

// RMS returns the root-mean-square amplitude of samples, or 0 for an empty
// slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Float32ToPCM16 converts samples in [-1, 1] to 16-bit signed little-endian
// PCM, clamping out-of-range values.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm := int16(v)
		out[i*2] = byte(pcm)
		out[i*2+1] = byte(pcm >> 8)
	}
	return out
}

func needsResample(src, dst float64) bool {
	if src <= 0 || dst <= 0 {
		return false
	}
	return math.Abs(src-dst) >= resampleTolerance
}

// rateString returns a human-readable sample rate, e.g. "44100Hz".
func rateString(rate float64) string {
	if rate == math.Trunc(rate) {
		return fmt.Sprintf("%dHz", int(rate))
	}
	return fmt.Sprintf("%.1fHz", rate)
}
