package integrator

import (
	"math"

	"github.com/DavidPeicho/loupiote/types"
)

// Per-pixel geometry of the primary hits.
type GBuffer struct {
	// Linear hit distance; +Inf for misses.
	Depth []float32

	// World-space shading normal facing the camera.
	Normal []types.Vec3

	// Screen-space offset (in pixels) from the current to the previous frame
	// position of the surface.
	Motion []types.Vec2
}

// Returns true if the primary ray of pixel missed the scene.
func (g *GBuffer) IsMiss(pixel int) bool {
	return math.IsInf(float64(g.Depth[pixel]), 1)
}

// The output of one integrator invocation: one radiance sample per pixel and
// the G-buffer of the primary hits.
type Output struct {
	Width  uint32
	Height uint32

	Color []types.Vec3
	GBuffer
}

// Allocate an output buffer.
func NewOutput(width, height uint32) *Output {
	o := &Output{}
	o.Resize(width, height)
	return o
}

// Reallocate the output buffer if the size changed.
func (o *Output) Resize(width, height uint32) {
	if o.Width == width && o.Height == height && o.Color != nil {
		return
	}
	count := int(width * height)
	o.Width, o.Height = width, height
	o.Color = make([]types.Vec3, count)
	o.Depth = make([]float32, count)
	o.Normal = make([]types.Vec3, count)
	o.Motion = make([]types.Vec2, count)
}
