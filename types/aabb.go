package types

import "math"

// An axis aligned bounding box.
type AABB struct {
	Min Vec3
	Max Vec3
}

// Create an empty bounding box that any extension will overwrite.
func EmptyAABB() AABB {
	return AABB{
		Min: Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}

// Returns true if the box has not been extended by any point.
func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Grow the box so that it contains point p.
func (b AABB) Extend(p Vec3) AABB {
	return AABB{Min: MinVec3(b.Min, p), Max: MaxVec3(b.Max, p)}
}

// Get the union of two boxes.
func (b AABB) Union(b2 AABB) AABB {
	return AABB{Min: MinVec3(b.Min, b2.Min), Max: MaxVec3(b.Max, b2.Max)}
}

// Get box side lengths.
func (b AABB) Extent() Vec3 {
	if b.IsEmpty() {
		return Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// Get the box center.
func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Get the box surface area. Empty boxes have zero area.
func (b AABB) SurfaceArea() float32 {
	d := b.Extent()
	return 2 * (d[0]*d[1] + d[1]*d[2] + d[0]*d[2])
}

// Get the axis (0: x, 1: y, 2: z) with the largest extent. Ties resolve to
// the lower axis index.
func (b AABB) LongestAxis() int {
	d := b.Extent()
	axis := 0
	if d[1] > d[axis] {
		axis = 1
	}
	if d[2] > d[axis] {
		axis = 2
	}
	return axis
}

// Returns true if b fully contains b2.
func (b AABB) Contains(b2 AABB) bool {
	return b.Min[0] <= b2.Min[0] && b.Min[1] <= b2.Min[1] && b.Min[2] <= b2.Min[2] &&
		b.Max[0] >= b2.Max[0] && b.Max[1] >= b2.Max[1] && b.Max[2] >= b2.Max[2]
}
