// Package audio provides the sample-rate conversion and framing primitives
// used by the live capture and playback paths. All PCM here is 16-bit
// signed little-endian mono.
package audio

// Resampler converts float32 mono samples at an input rate to signed 16-bit
// PCM at an output rate using linear interpolation. Unconsumed input is kept
// in a carry buffer so no samples are duplicated or dropped across calls.
//
// Output is a pure function of the pushed input history: the same chunk
// sequence always yields bit-identical output.
type Resampler struct {
	ratio float64
	carry []float32
}

// NewResampler creates a resampler for the given input and output rates.
func NewResampler(inRate, outRate int) *Resampler {
	return &Resampler{ratio: float64(inRate) / float64(outRate)}
}

// Push absorbs a chunk of float32 samples in [-1, 1] and returns the PCM16
// samples that can be produced so far, or nil if not enough input has
// accumulated yet.
func (r *Resampler) Push(chunk []float32) []int16 {
	input := make([]float32, 0, len(r.carry)+len(chunk))
	input = append(input, r.carry...)
	input = append(input, chunk...)

	outLen := int(float64(len(input)) / r.ratio)
	if outLen == 0 {
		r.carry = input
		return nil
	}

	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		idx := float64(i) * r.ratio
		i0 := int(idx)
		i1 := i0 + 1
		if i1 > len(input)-1 {
			i1 = len(input) - 1
		}
		frac := idx - float64(i0)

		sample := float64(input[i0])*(1-frac) + float64(input[i1])*frac
		out[i] = quantize(sample)
	}

	// Retain the unconsumed tail as carry for the next call.
	remainderStart := int(float64(outLen) * r.ratio)
	r.carry = input[remainderStart:]

	return out
}

// Reset clears the carry buffer, used when a capture session restarts.
func (r *Resampler) Reset() {
	r.carry = nil
}

// quantize clamps to [-1, 1] and scales to the 16-bit signed range.
// Negative values scale by 32768 and non-negative by 32767, matching
// standard PCM quantization.
func quantize(s float64) int16 {
	if s < -1 {
		s = -1
	} else if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}
