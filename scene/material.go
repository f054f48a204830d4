package scene

import (
	"fmt"

	"github.com/DavidPeicho/loupiote/types"
)

// MaterialKind selects the BSDF used for shading a surface. The set of kinds
// is closed; shading code switches on it instead of dispatching through an
// interface so the same tag can be uploaded to the GPU.
type MaterialKind uint32

const (
	Diffuse MaterialKind = iota
	Metallic
	Dielectric
	Emissive
)

func (k MaterialKind) String() string {
	switch k {
	case Diffuse:
		return "diffuse"
	case Metallic:
		return "metallic"
	case Dielectric:
		return "dielectric"
	case Emissive:
		return "emissive"
	}
	return fmt.Sprintf("MaterialKind(%d)", uint32(k))
}

// Defines a scene material.
type Material struct {
	Kind MaterialKind

	// Diffuse reflectance for diffuse/emissive materials, F0 for metals and
	// transmission tint for dielectrics.
	Albedo types.Vec3

	// Emitted radiance. Only used by emissive materials.
	Emission types.Vec3

	// Perceptual roughness in [0, 1]. Metallic and dielectric only.
	Roughness float32

	// Index of refraction. Dielectric only.
	IOR float32
}

// Create a diffuse material.
func NewDiffuse(albedo types.Vec3) Material {
	return Material{Kind: Diffuse, Albedo: albedo}
}

// Create a metallic material.
func NewMetal(albedo types.Vec3, roughness float32) Material {
	return Material{Kind: Metallic, Albedo: albedo, Roughness: roughness}
}

// Create a dielectric material.
func NewDielectric(tint types.Vec3, ior, roughness float32) Material {
	return Material{Kind: Dielectric, Albedo: tint, IOR: ior, Roughness: roughness}
}

// Create an emissive material.
func NewEmissive(emission types.Vec3) Material {
	return Material{Kind: Emissive, Emission: emission}
}

// IsEmissive returns true if surfaces using this material emit light.
func (m *Material) IsEmissive() bool {
	return m.Kind == Emissive && m.Emission.MaxComponent() > 0
}

// Validate material parameters.
func (m *Material) Validate() error {
	if m.Kind > Emissive {
		return fmt.Errorf("unknown material kind %d", uint32(m.Kind))
	}
	for i := 0; i < 3; i++ {
		if m.Albedo[i] < 0 || m.Emission[i] < 0 {
			return fmt.Errorf("%s material has negative albedo or emission", m.Kind)
		}
	}
	if m.Roughness < 0 || m.Roughness > 1 {
		return fmt.Errorf("%s material roughness must be in [0, 1]; got %f", m.Kind, m.Roughness)
	}
	if m.Kind == Dielectric && m.IOR <= 0 {
		return fmt.Errorf("dielectric material requires a positive IOR; got %f", m.IOR)
	}
	return nil
}
