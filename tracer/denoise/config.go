package denoise

import "fmt"

// SVGF tunables.
type Config struct {
	// Temporal blend factor for colors and luminance moments.
	Alpha        float32
	MomentsAlpha float32

	// History lengths below this blend with 1/(len+1) and estimate variance
	// spatially.
	WarmupFrames int

	// Reprojection is rejected if the relative depth difference exceeds
	// DepthThreshold or the normals' dot product drops below NormalThreshold.
	DepthThreshold  float32
	NormalThreshold float32

	// Number of a-trous passes; pass i uses a step of 2^i pixels.
	SpatialPasses int

	// Edge stopping parameters.
	SigmaDepth     float32
	SigmaNormal    float32
	SigmaLuminance float32
}

// Get the default denoiser configuration.
func DefaultConfig() Config {
	return Config{
		Alpha:           0.2,
		MomentsAlpha:    0.2,
		WarmupFrames:    4,
		DepthThreshold:  0.1,
		NormalThreshold: 0.9,
		SpatialPasses:   5,
		SigmaDepth:      1,
		SigmaNormal:     128,
		SigmaLuminance:  4,
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	if !(c.Alpha > 0 && c.Alpha <= 1) {
		return fmt.Errorf("denoise: alpha must be in (0, 1]; got %f", c.Alpha)
	}
	if !(c.MomentsAlpha > 0 && c.MomentsAlpha <= 1) {
		return fmt.Errorf("denoise: moments alpha must be in (0, 1]; got %f", c.MomentsAlpha)
	}
	if c.WarmupFrames < 0 {
		return fmt.Errorf("denoise: warmup frames must not be negative; got %d", c.WarmupFrames)
	}
	if !(c.DepthThreshold > 0) {
		return fmt.Errorf("denoise: depth threshold must be positive; got %f", c.DepthThreshold)
	}
	if !(c.NormalThreshold >= -1 && c.NormalThreshold <= 1) {
		return fmt.Errorf("denoise: normal threshold must be in [-1, 1]; got %f", c.NormalThreshold)
	}
	if c.SpatialPasses < 0 || c.SpatialPasses > 10 {
		return fmt.Errorf("denoise: spatial passes must be in [0, 10]; got %d", c.SpatialPasses)
	}
	if !(c.SigmaDepth > 0 && c.SigmaNormal >= 0 && c.SigmaLuminance > 0) {
		return fmt.Errorf("denoise: edge stopping sigmas must be positive")
	}
	return nil
}
