package renderer

import (
	"image"
	"math"

	"github.com/DavidPeicho/loupiote/tracer/integrator"
	"github.com/DavidPeicho/loupiote/types"
)

// Motion vectors of this length (in pixels) saturate the motion display.
const motionDisplayRange = 16

// A presented frame. Color holds linear radiance unless Raw is set, in
// which case it already holds display values in [0, 1].
type Frame struct {
	Index  uint32
	Width  uint32
	Height uint32
	Color  []types.Vec3

	Display  DisplayMode
	Exposure float32
	Raw      bool
}

// Convert the frame to 8-bit sRGB. Radiance frames are tonemapped with a
// simple Reinhard operator after applying the exposure.
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, int(f.Width), int(f.Height)))
	for pixel, c := range f.Color {
		off := pixel * 4
		for ch := 0; ch < 3; ch++ {
			v := c[ch]
			if !f.Raw {
				v = reinhard(v * f.Exposure)
			}
			img.Pix[off+ch] = toSRGB8(v)
		}
		img.Pix[off+3] = 255
	}
	return img
}

func reinhard(v float32) float32 {
	if !(v > 0) {
		return 0
	}
	if math.IsInf(float64(v), 1) {
		return 1
	}
	return v / (1 + v)
}

// Encode a linear value in [0, 1] with the sRGB transfer function.
func toSRGB8(v float32) uint8 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 255
	case v <= 0.0031308:
		v *= 12.92
	default:
		v = 1.055*float32(math.Pow(float64(v), 1/2.4)) - 0.055
	}
	return uint8(v*255 + 0.5)
}

// Nearest-neighbour resample of a srcW x srcH buffer to dstW x dstH.
func upscaleNearest(src []types.Vec3, srcW, srcH uint32, dst []types.Vec3, dstW, dstH uint32) {
	for y := uint32(0); y < dstH; y++ {
		sy := min(y*srcH/dstH, srcH-1)
		for x := uint32(0); x < dstW; x++ {
			sx := min(x*srcW/dstW, srcW-1)
			dst[y*dstW+x] = src[sy*srcW+sx]
		}
	}
}

// Render a G-buffer channel as display values.
func visualizeGBuffer(mode DisplayMode, gb *integrator.GBuffer, dst []types.Vec3) {
	switch mode {
	case DisplayNormals:
		for pixel, n := range gb.Normal {
			if gb.IsMiss(pixel) {
				dst[pixel] = types.Vec3{}
				continue
			}
			dst[pixel] = n.Add(types.Splat3(1)).Mul(0.5)
		}
	case DisplayDepth:
		var farthest float32
		for pixel, depth := range gb.Depth {
			if !gb.IsMiss(pixel) {
				farthest = max(farthest, depth)
			}
		}
		for pixel, depth := range gb.Depth {
			if gb.IsMiss(pixel) || farthest == 0 {
				dst[pixel] = types.Vec3{}
				continue
			}
			// Near surfaces are bright.
			dst[pixel] = types.Splat3(1 - depth/farthest*0.9)
		}
	case DisplayMotion:
		for pixel, m := range gb.Motion {
			if math.IsInf(float64(m[0]), 0) || math.IsInf(float64(m[1]), 0) {
				dst[pixel] = types.Vec3{}
				continue
			}
			dst[pixel] = types.Vec3{
				min(1, abs32(m[0])/motionDisplayRange),
				min(1, abs32(m[1])/motionDisplayRange),
				0,
			}
		}
	}
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}
