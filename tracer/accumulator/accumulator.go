package accumulator

import (
	"context"
	"fmt"

	"github.com/DavidPeicho/loupiote/tracer/cpu"
	"github.com/DavidPeicho/loupiote/types"
)

// Buffer keeps a running per-pixel mean of radiance samples. Sample counts
// only grow until the buffer is invalidated.
type Buffer struct {
	device *cpu.Device

	width  uint32
	height uint32
	mean   []types.Vec3
	count  []uint32
}

// Create an accumulation buffer. Frame updates are split across the lanes of
// device; a nil device processes them on the calling goroutine.
func New(device *cpu.Device, width, height uint32) *Buffer {
	b := &Buffer{device: device}
	b.Resize(width, height)
	return b
}

// Get the buffer dimensions.
func (b *Buffer) Size() (width, height uint32) {
	return b.width, b.height
}

// Add sample to the running mean of pixel.
func (b *Buffer) Update(pixel int, sample types.Vec3) {
	b.count[pixel]++
	n := float32(b.count[pixel])
	b.mean[pixel] = b.mean[pixel].Add(sample.Sub(b.mean[pixel]).Mul(1 / n))
}

// Add one sample per pixel. Rows are processed in parallel.
func (b *Buffer) UpdateFrame(ctx context.Context, samples []types.Vec3) error {
	if len(samples) != len(b.mean) {
		return fmt.Errorf("accumulator: expected %d samples; got %d", len(b.mean), len(samples))
	}

	kernel := func(startRow, endRow uint32) {
		for pixel := int(startRow * b.width); pixel < int(endRow*b.width); pixel++ {
			b.Update(pixel, samples[pixel])
		}
	}
	if b.device == nil {
		kernel(0, b.height)
		return nil
	}
	return b.device.Exec(ctx, b.height, kernel)
}

// Get the running mean of pixel.
func (b *Buffer) Mean(pixel int) types.Vec3 {
	return b.mean[pixel]
}

// Get the number of samples accumulated for pixel.
func (b *Buffer) Count(pixel int) uint32 {
	return b.count[pixel]
}

// Get the running means of all pixels. The slice is owned by the buffer.
func (b *Buffer) Means() []types.Vec3 {
	return b.mean
}

// Reset all sample counts and means to zero.
func (b *Buffer) Invalidate() {
	clear(b.mean)
	clear(b.count)
}

// Reallocate the buffer. The new buffer starts invalidated.
func (b *Buffer) Resize(width, height uint32) {
	b.width, b.height = width, height
	b.mean = make([]types.Vec3, width*height)
	b.count = make([]uint32, width*height)
}
