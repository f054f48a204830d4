package integrator

import (
	"math"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/types"
)

// Roughness values below this are treated as perfectly smooth.
const smoothAlpha = 1e-3

// The outcome of sampling a BSDF. Weight is f*cos/pdf.
type bsdfSample struct {
	dir    types.Vec3
	weight types.Vec3
	ok     bool
}

// Local shading frame around the normal n.
type frame struct {
	t, b, n types.Vec3
}

// Branchless orthonormal basis (Duff et al.).
func newFrame(n types.Vec3) frame {
	sign := float32(math.Copysign(1, float64(n[2])))
	a := -1 / (sign + n[2])
	b := n[0] * n[1] * a
	return frame{
		t: types.Vec3{1 + sign*n[0]*n[0]*a, sign * b, -sign * n[0]},
		b: types.Vec3{b, sign + n[1]*n[1]*a, -n[1]},
		n: n,
	}
}

func (f *frame) toLocal(v types.Vec3) types.Vec3 {
	return types.Vec3{v.Dot(f.t), v.Dot(f.b), v.Dot(f.n)}
}

func (f *frame) toWorld(v types.Vec3) types.Vec3 {
	return f.t.Mul(v[0]).Add(f.b.Mul(v[1])).Add(f.n.Mul(v[2]))
}

func reflect(v, n types.Vec3) types.Vec3 {
	return v.Sub(n.Mul(2 * v.Dot(n)))
}

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

func schlick(f0 types.Vec3, cosTheta float32) types.Vec3 {
	m := 1 - cosTheta
	m5 := m * m * m * m * m
	return f0.Add(types.Splat3(1).Sub(f0).Mul(m5))
}

// Cosine weighted hemisphere sample in the local frame.
func sampleCosineHemisphere(u1, u2 float32) types.Vec3 {
	r := sqrt32(u1)
	phi := 2 * math.Pi * float64(u2)
	return types.Vec3{r * float32(math.Cos(phi)), r * float32(math.Sin(phi)), sqrt32(max(0, 1-u1))}
}

// Sample a GGX microfacet normal from the distribution of normals visible
// from the local direction wo (Heitz 2018).
func sampleGGXVNDF(wo types.Vec3, alpha, u1, u2 float32) types.Vec3 {
	vh := types.Vec3{alpha * wo[0], alpha * wo[1], wo[2]}.Normalize()

	lenSq := vh[0]*vh[0] + vh[1]*vh[1]
	t1 := types.Vec3{1, 0, 0}
	if lenSq > 0 {
		t1 = types.Vec3{-vh[1], vh[0], 0}.Mul(1 / sqrt32(lenSq))
	}
	t2 := vh.Cross(t1)

	r := sqrt32(u1)
	phi := 2 * math.Pi * float64(u2)
	p1 := r * float32(math.Cos(phi))
	p2 := r * float32(math.Sin(phi))
	s := 0.5 * (1 + vh[2])
	p2 = (1-s)*sqrt32(max(0, 1-p1*p1)) + s*p2

	nh := t1.Mul(p1).Add(t2.Mul(p2)).Add(vh.Mul(sqrt32(max(0, 1-p1*p1-p2*p2))))
	return types.Vec3{alpha * nh[0], alpha * nh[1], max(1e-6, nh[2])}.Normalize()
}

// Smith lambda for GGX.
func smithLambda(v types.Vec3, alpha float32) float32 {
	if v[2] == 0 {
		return float32(math.Inf(1))
	}
	tan2 := (v[0]*v[0] + v[1]*v[1]) / (v[2] * v[2])
	return 0.5 * (-1 + sqrt32(1+alpha*alpha*tan2))
}

// With VNDF sampling f*cos/pdf reduces to F * G2/G1(wo).
func smithWeight(wo, wi types.Vec3, alpha float32) float32 {
	lo := smithLambda(wo, alpha)
	li := smithLambda(wi, alpha)
	return (1 + lo) / (1 + lo + li)
}

// Sample the BSDF of mat. The normal n must be on the same side as wo and
// frontFace reports whether the ray arrived from outside the surface.
func sampleBSDF(mat *scene.Material, wo, n types.Vec3, frontFace bool, rng *Rand) bsdfSample {
	f := newFrame(n)
	switch mat.Kind {
	case scene.Metallic:
		return sampleMetal(mat, &f, wo, rng)
	case scene.Dielectric:
		return sampleDielectric(mat, &f, wo, frontFace, rng)
	default:
		// Diffuse surfaces and the diffuse lobe of emitters.
		local := sampleCosineHemisphere(rng.Float32(), rng.Float32())
		return bsdfSample{dir: f.toWorld(local), weight: mat.Albedo, ok: local[2] > 0}
	}
}

func sampleMetal(mat *scene.Material, f *frame, wo types.Vec3, rng *Rand) bsdfSample {
	alpha := mat.Roughness * mat.Roughness
	woLocal := f.toLocal(wo)
	if woLocal[2] <= 0 {
		return bsdfSample{}
	}

	if alpha < smoothAlpha {
		wiLocal := types.Vec3{-woLocal[0], -woLocal[1], woLocal[2]}
		return bsdfSample{dir: f.toWorld(wiLocal), weight: schlick(mat.Albedo, woLocal[2]), ok: true}
	}

	h := sampleGGXVNDF(woLocal, alpha, rng.Float32(), rng.Float32())
	wiLocal := reflect(woLocal.Neg(), h)
	if wiLocal[2] <= 0 {
		return bsdfSample{}
	}
	weight := schlick(mat.Albedo, max(0, woLocal.Dot(h))).Mul(smithWeight(woLocal, wiLocal, alpha))
	return bsdfSample{dir: f.toWorld(wiLocal), weight: weight, ok: true}
}

// Schlick approximation of the unpolarized dielectric Fresnel term.
func dielectricFresnel(cosI, ior float32) float32 {
	r0 := (1 - ior) / (1 + ior)
	r0 *= r0
	m := 1 - cosI
	return r0 + (1-r0)*m*m*m*m*m
}

func sampleDielectric(mat *scene.Material, f *frame, wo types.Vec3, frontFace bool, rng *Rand) bsdfSample {
	alpha := mat.Roughness * mat.Roughness
	woLocal := f.toLocal(wo)
	if woLocal[2] <= 0 {
		return bsdfSample{}
	}

	h := types.Vec3{0, 0, 1}
	if alpha >= smoothAlpha {
		h = sampleGGXVNDF(woLocal, alpha, rng.Float32(), rng.Float32())
	}

	eta := mat.IOR
	if frontFace {
		eta = 1 / mat.IOR
	}

	cosI := woLocal.Dot(h)
	sin2T := eta * eta * max(0, 1-cosI*cosI)
	fresnel := float32(1)
	if sin2T < 1 {
		fresnel = dielectricFresnel(cosI, mat.IOR)
	}

	var wiLocal types.Vec3
	weight := types.Splat3(1)
	if rng.Float32() < fresnel {
		wiLocal = reflect(woLocal.Neg(), h)
		if wiLocal[2] <= 0 {
			return bsdfSample{}
		}
	} else {
		cosT := sqrt32(1 - sin2T)
		wiLocal = woLocal.Neg().Mul(eta).Add(h.Mul(eta*cosI - cosT))
		if wiLocal[2] >= 0 {
			return bsdfSample{}
		}
		weight = mat.Albedo
	}

	if alpha >= smoothAlpha {
		flipped := types.Vec3{wiLocal[0], wiLocal[1], float32(math.Abs(float64(wiLocal[2])))}
		weight = weight.Mul(smithWeight(woLocal, flipped, alpha))
	}
	return bsdfSample{dir: f.toWorld(wiLocal).Normalize(), weight: weight, ok: true}
}
