package cpu

import (
	"math"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/tracer"
	"github.com/DavidPeicho/loupiote/types"
)

// Precomputed per-ray data for the slab test.
type rayBox struct {
	origin types.Vec3
	invDir types.Vec3
	dirNeg [3]bool
}

func newRayBox(ray *tracer.Ray) rayBox {
	rb := rayBox{origin: ray.Origin}
	for axis := 0; axis < 3; axis++ {
		// IEEE division yields +/-Inf for zero components which the slab
		// test handles correctly.
		rb.invDir[axis] = 1 / ray.Dir[axis]
		rb.dirNeg[axis] = ray.Dir[axis] < 0 || (ray.Dir[axis] == 0 && math.Signbit(float64(ray.Dir[axis])))
	}
	return rb
}

// Slab test against node. Returns the entry distance if the ray overlaps
// [tMin, tMax] inside the box.
func (rb *rayBox) hit(node *scene.BvhNode, tMin, tMax float32) (float32, bool) {
	for axis := 0; axis < 3; axis++ {
		t0 := (node.Min[axis] - rb.origin[axis]) * rb.invDir[axis]
		t1 := (node.Max[axis] - rb.origin[axis]) * rb.invDir[axis]
		if rb.dirNeg[axis] {
			t0, t1 = t1, t0
		}
		// NaN (0 * Inf) comparisons fail and leave the interval untouched.
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

// Find the closest hit for ray by iteratively walking the scene BVH with an
// explicit fixed-size stack. Subtrees whose box the ray misses (or enters
// beyond the closest hit found so far) are skipped. When both children are
// hit the near child, selected by the split axis and the ray direction
// sign, is visited first.
func Traverse(sc *scene.Scene, ray *tracer.Ray) tracer.HitRecord {
	hit := tracer.Miss()
	if sc == nil || sc.BVH == nil || len(sc.BVH.Nodes) == 0 {
		return hit
	}

	nodes := sc.BVH.Nodes
	closest := ray.TMax
	rb := newRayBox(ray)

	if _, ok := rb.hit(&nodes[0], ray.TMin, closest); !ok {
		return hit
	}

	var stack [scene.MaxBvhDepth]uint32
	stackSize := 0
	nodeIndex := uint32(0)

	for {
		node := &nodes[nodeIndex]
		if node.IsLeaf() {
			first, count := node.Primitives()
			for primIndex := first; primIndex < first+count; primIndex++ {
				tri := &sc.Triangles[primIndex]
				if t, u, v, ok := IntersectTriangle(tri.V0, tri.V1, tri.V2, ray, closest); ok {
					closest = t
					hit = tracer.HitRecord{Primitive: primIndex, U: u, V: v, T: t}
				}
			}
		} else {
			near, far := nodeIndex+1, node.Offset
			if rb.dirNeg[node.Axis()] {
				near, far = far, near
			}

			_, hitNear := rb.hit(&nodes[near], ray.TMin, closest)
			_, hitFar := rb.hit(&nodes[far], ray.TMin, closest)
			switch {
			case hitNear && hitFar:
				stack[stackSize] = far
				stackSize++
				nodeIndex = near
				continue
			case hitNear:
				nodeIndex = near
				continue
			case hitFar:
				nodeIndex = far
				continue
			}
		}

		// Pop the next subtree that can still contain a closer hit.
		found := false
		for stackSize > 0 {
			stackSize--
			nodeIndex = stack[stackSize]
			if _, ok := rb.hit(&nodes[nodeIndex], ray.TMin, closest); ok {
				found = true
				break
			}
		}
		if !found {
			return hit
		}
	}
}

// Find the closest hit by testing every triangle. Used as a reference for
// validating the BVH traversal.
func BruteForce(sc *scene.Scene, ray *tracer.Ray) tracer.HitRecord {
	hit := tracer.Miss()
	closest := ray.TMax
	for primIndex := range sc.Triangles {
		tri := &sc.Triangles[primIndex]
		if t, u, v, ok := IntersectTriangle(tri.V0, tri.V1, tri.V2, ray, closest); ok {
			closest = t
			hit = tracer.HitRecord{Primitive: uint32(primIndex), U: u, V: v, T: t}
		}
	}
	return hit
}
