package tracer

import (
	"math"

	"github.com/DavidPeicho/loupiote/types"
)

// The primitive index reported for rays that do not hit anything.
const MissPrimitive = math.MaxUint32

// A ray segment [TMin, TMax] and the pixel/bounce it belongs to. The first
// 32 bytes match the layout of the ray struct used by the GPU kernels.
type Ray struct {
	Origin types.Vec3
	TMin   float32

	Dir  types.Vec3
	TMax float32

	// Payload; not used by the intersectors.
	Pixel uint32
	Depth uint32
}

// Create a ray with an unbounded extent.
func NewRay(origin, dir types.Vec3, tMin float32) Ray {
	return Ray{
		Origin: origin,
		TMin:   tMin,
		Dir:    dir,
		TMax:   math.MaxFloat32,
	}
}

// Get the point at distance t along the ray.
func (r *Ray) At(t float32) types.Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

// The closest intersection along a ray. U and V are the barycentric weights of
// the second and third triangle vertex.
type HitRecord struct {
	Primitive uint32
	U, V      float32
	T         float32
}

// Get a hit record describing a miss.
func Miss() HitRecord {
	return HitRecord{Primitive: MissPrimitive, T: float32(math.Inf(1))}
}

// Returns true if the record describes a miss.
func (h *HitRecord) IsMiss() bool {
	return h.Primitive == MissPrimitive
}

// Get the barycentric weights for all three triangle vertices.
func (h *HitRecord) Barycentrics() types.Vec3 {
	return types.Vec3{1 - h.U - h.V, h.U, h.V}
}
