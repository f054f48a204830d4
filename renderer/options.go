package renderer

import (
	"fmt"
	"strings"

	"github.com/DavidPeicho/loupiote/scene/compiler"
	"github.com/DavidPeicho/loupiote/tracer/denoise"
	"github.com/DavidPeicho/loupiote/tracer/integrator"
)

// DisplayMode selects which buffer is presented.
type DisplayMode int

const (
	// The SVGF output.
	DisplayDenoised DisplayMode = iota

	// The running mean of the accumulation buffer.
	DisplayAccumulated

	// The output of the temporal SVGF stage only.
	DisplayTemporal

	// G-buffer visualisations.
	DisplayNormals
	DisplayDepth
	DisplayMotion
)

var displayModeNames = [...]string{
	DisplayDenoised:    "denoised",
	DisplayAccumulated: "accumulated",
	DisplayTemporal:    "temporal",
	DisplayNormals:     "normals",
	DisplayDepth:       "depth",
	DisplayMotion:      "motion",
}

func (m DisplayMode) String() string {
	if m < 0 || int(m) >= len(displayModeNames) {
		return fmt.Sprintf("DisplayMode(%d)", int(m))
	}
	return displayModeNames[m]
}

// Returns true if the mode shows a G-buffer channel instead of radiance.
func (m DisplayMode) IsGBuffer() bool {
	return m >= DisplayNormals && m <= DisplayMotion
}

func (m DisplayMode) valid() bool {
	return m >= 0 && int(m) < len(displayModeNames)
}

// Parse a display mode name.
func ParseDisplayMode(name string) (DisplayMode, error) {
	for mode, modeName := range displayModeNames {
		if strings.EqualFold(name, modeName) {
			return DisplayMode(mode), nil
		}
	}
	return 0, fmt.Errorf("renderer: unknown display mode '%s'; expected one of: %s", name, strings.Join(displayModeNames[:], ", "))
}

type Options struct {
	// Frame dims.
	FrameW uint32
	FrameH uint32

	// Path tracing options.
	Integrator integrator.Config

	// SVGF options.
	Denoiser denoise.Config

	// BVH build options used for the initial scene and every rebuild.
	BVH compiler.BuildOptions

	// Average samples across frames until the next invalidation. When
	// disabled every frame shows a fresh sample.
	Accumulate bool

	// The buffer presented by Render.
	Display DisplayMode

	// Frames whose camera transform differs from the previous frame are
	// rendered at MovingScale times the frame dims using MovingBounceDepth
	// bounces and upscaled for presentation. A MovingBounceDepth of 0 keeps
	// the configured bounce depth.
	MovingScale       float32
	MovingBounceDepth int

	// Exposure for tonemapping.
	Exposure float32

	// Number of CPU lanes; 0 selects one lane per logical CPU.
	Lanes int
}

// Get the default options for a frame of the given size.
func DefaultOptions(frameW, frameH uint32) Options {
	return Options{
		FrameW:            frameW,
		FrameH:            frameH,
		Integrator:        integrator.DefaultConfig(),
		Denoiser:          denoise.DefaultConfig(),
		BVH:               compiler.DefaultBuildOptions(),
		Accumulate:        true,
		Display:           DisplayDenoised,
		MovingScale:       0.25,
		MovingBounceDepth: 2,
		Exposure:          1,
	}
}

// Validate options.
func (o Options) Validate() error {
	switch {
	case o.FrameW == 0 || o.FrameH == 0:
		return fmt.Errorf("renderer: frame dims must be positive; got %dx%d", o.FrameW, o.FrameH)
	case !o.Display.valid():
		return fmt.Errorf("renderer: invalid display mode %d", int(o.Display))
	case !(o.MovingScale > 0 && o.MovingScale <= 1):
		return fmt.Errorf("renderer: moving scale must be in (0, 1]; got %f", o.MovingScale)
	case o.MovingBounceDepth < 0:
		return fmt.Errorf("renderer: moving bounce depth must be >= 0; got %d", o.MovingBounceDepth)
	case !(o.Exposure > 0):
		return fmt.Errorf("renderer: exposure must be positive; got %f", o.Exposure)
	case o.Lanes < 0:
		return fmt.Errorf("renderer: lane count must be >= 0; got %d", o.Lanes)
	}

	if err := o.Integrator.Validate(); err != nil {
		return fmt.Errorf("renderer: invalid integrator options: %w", err)
	}
	if err := o.Denoiser.Validate(); err != nil {
		return fmt.Errorf("renderer: invalid denoiser options: %w", err)
	}
	if err := o.BVH.Validate(); err != nil {
		return fmt.Errorf("renderer: invalid bvh options: %w", err)
	}
	return nil
}

// Get the frame dims used while the camera moves.
func (o Options) movingDims() (uint32, uint32) {
	scale := func(v uint32) uint32 {
		return max(1, uint32(float32(v)*o.MovingScale+0.5))
	}
	return scale(o.FrameW), scale(o.FrameH)
}
