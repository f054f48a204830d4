package integrator

// Rand is a PCG hash random stream. Streams are addressed by (pixel, sample,
// frame) so any sample can be reproduced in isolation.
type Rand struct {
	state uint32
}

func pcgHash(v uint32) uint32 {
	state := v*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

// Create the random stream for a pixel sample.
func NewRand(pixel, sample, frame uint32) Rand {
	return Rand{state: pcgHash(pixel ^ pcgHash(sample^pcgHash(frame)))}
}

// Get the next 32 random bits.
func (r *Rand) Uint32() uint32 {
	r.state = r.state*747796405 + 2891336453
	word := ((r.state >> ((r.state >> 28) + 4)) ^ r.state) * 277803737
	return (word >> 22) ^ word
}

// Get a uniform float in [0, 1).
func (r *Rand) Float32() float32 {
	return float32(r.Uint32()>>8) * (1.0 / (1 << 24))
}
