package audio

import "time"

// Packetizer accumulates PCM16 samples at a fixed rate and emits
// fixed-duration frames. Excess samples carry forward to the next
// accumulation cycle.
type Packetizer struct {
	frameSamples int
	pending      []int16
}

// NewPacketizer creates a packetizer emitting frames of frameDuration worth
// of samples at sampleRate.
func NewPacketizer(sampleRate int, frameDuration time.Duration) *Packetizer {
	n := int(float64(sampleRate)*frameDuration.Seconds() + 0.5)
	if n < 1 {
		n = 1
	}
	return &Packetizer{frameSamples: n}
}

// FrameSamples returns the number of samples per emitted frame.
func (p *Packetizer) FrameSamples() int {
	return p.frameSamples
}

// Push accumulates samples and returns exactly one completed frame when
// enough have been gathered, or nil otherwise. Any excess stays pending.
func (p *Packetizer) Push(samples []int16) []int16 {
	p.pending = append(p.pending, samples...)
	if len(p.pending) < p.frameSamples {
		return nil
	}
	frame := make([]int16, p.frameSamples)
	copy(frame, p.pending[:p.frameSamples])
	rest := len(p.pending) - p.frameSamples
	copy(p.pending, p.pending[p.frameSamples:])
	p.pending = p.pending[:rest]
	return frame
}

// Pending returns the number of samples awaiting the next frame boundary.
func (p *Packetizer) Pending() int {
	return len(p.pending)
}

// Reset discards pending samples.
func (p *Packetizer) Reset() {
	p.pending = p.pending[:0]
}
