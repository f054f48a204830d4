package integrator

import (
	"fmt"

	"github.com/DavidPeicho/loupiote/types"
)

// The light arriving from directions that escape the scene. A vertical
// gradient between Bottom and Top; equal colors yield a constant environment.
type Environment struct {
	Top    types.Vec3
	Bottom types.Vec3
}

// Create a constant environment.
func ConstantEnvironment(radiance types.Vec3) Environment {
	return Environment{Top: radiance, Bottom: radiance}
}

// Create a vertical gradient environment.
func GradientEnvironment(top, bottom types.Vec3) Environment {
	return Environment{Top: top, Bottom: bottom}
}

// Get the radiance arriving along the unit direction dir.
func (e Environment) Radiance(dir types.Vec3) types.Vec3 {
	return e.Bottom.Lerp(e.Top, 0.5*(dir[1]+1))
}

// Integrator tunables.
type Config struct {
	// Max number of path segments per sample.
	MaxBounceDepth int

	// Number of bounces before russian roulette applies.
	RRMinDepth int

	// Survival probability bounds for russian roulette.
	RRMinProb float32
	RRMaxProb float32

	// Offset applied to new ray origins along the geometric normal; also used
	// as the TMin of every secondary ray. In scene units.
	Epsilon float32

	Environment Environment
}

// Get the default integrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxBounceDepth: 8,
		RRMinDepth:     3,
		RRMinProb:      0.05,
		RRMaxProb:      0.95,
		Epsilon:        1e-4,
		Environment:    GradientEnvironment(types.Vec3{0.5, 0.7, 1.0}, types.Vec3{1, 1, 1}),
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	if c.MaxBounceDepth < 1 {
		return fmt.Errorf("integrator: max bounce depth must be at least 1; got %d", c.MaxBounceDepth)
	}
	if c.RRMinDepth < 0 {
		return fmt.Errorf("integrator: rr min depth must not be negative; got %d", c.RRMinDepth)
	}
	if !(c.RRMinProb > 0 && c.RRMinProb <= 1) {
		return fmt.Errorf("integrator: rr min probability must be in (0, 1]; got %f", c.RRMinProb)
	}
	if !(c.RRMaxProb >= c.RRMinProb && c.RRMaxProb <= 1) {
		return fmt.Errorf("integrator: rr max probability must be in [%f, 1]; got %f", c.RRMinProb, c.RRMaxProb)
	}
	if !(c.Epsilon > 0) {
		return fmt.Errorf("integrator: intersection epsilon must be positive; got %f", c.Epsilon)
	}
	for i := 0; i < 3; i++ {
		if !(c.Environment.Top[i] >= 0 && c.Environment.Bottom[i] >= 0) {
			return fmt.Errorf("integrator: environment radiance must not be negative")
		}
	}
	return nil
}
