package cpu

import (
	"github.com/DavidPeicho/loupiote/tracer"
	"github.com/DavidPeicho/loupiote/types"
)

// Determinants below this value are treated as rays parallel to the triangle plane.
const parallelEpsilon = 1e-12

// Intersect a ray with triangle (v0, v1, v2) using the Möller-Trumbore
// algorithm. Both triangle faces are considered. Hits outside [ray.TMin, tMax]
// are rejected. On a hit, u and v are the barycentric weights of v1 and v2.
func IntersectTriangle(v0, v1, v2 types.Vec3, ray *tracer.Ray, tMax float32) (t, u, v float32, ok bool) {
	edge1 := v1.Sub(v0)
	edge2 := v2.Sub(v0)

	pVec := ray.Dir.Cross(edge2)
	det := edge1.Dot(pVec)
	if det > -parallelEpsilon && det < parallelEpsilon {
		return 0, 0, 0, false
	}
	invDet := 1 / det

	tVec := ray.Origin.Sub(v0)
	u = tVec.Dot(pVec) * invDet
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}

	qVec := tVec.Cross(edge1)
	v = ray.Dir.Dot(qVec) * invDet
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}

	t = edge2.Dot(qVec) * invDet
	if t < ray.TMin || t > tMax {
		return 0, 0, 0, false
	}
	return t, u, v, true
}
