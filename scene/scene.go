package scene

import (
	"bytes"
	"fmt"

	"github.com/DavidPeicho/loupiote/types"
)

// A world-space triangle as consumed by the intersectors and the integrator.
type Triangle struct {
	V0, V1, V2 types.Vec3
	N0, N1, N2 types.Vec3

	Material uint32

	// Index of the source primitive in the GeometryStore.
	Primitive uint32
}

// Get the unnormalized geometric normal.
func (t *Triangle) GeometricNormal() types.Vec3 {
	return t.V1.Sub(t.V0).Cross(t.V2.Sub(t.V0))
}

// Get the bounding box of the triangle.
func (t *Triangle) BBox() types.AABB {
	return types.EmptyAABB().Extend(t.V0).Extend(t.V1).Extend(t.V2)
}

// Get the triangle centroid.
func (t *Triangle) Center() types.Vec3 {
	return t.V0.Add(t.V1).Add(t.V2).Mul(1.0 / 3.0)
}

// Scene is the compiled, render-ready representation of a GeometryStore.
// Triangles are ordered so that every BVH leaf references a contiguous range.
// A Scene is never mutated after compilation; edits produce a new Scene.
type Scene struct {
	// Increases with every compiled edit.
	Generation uint64

	BVH       *BVH
	Triangles []Triangle
	Materials []Material

	// Indices of triangles with emissive materials.
	Emissive []uint32

	Bounds types.AABB
	Camera *Camera
}

// Get a human readable summary of the scene.
func (sc *Scene) Stats() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("generation:  %d\n", sc.Generation))
	buf.WriteString(fmt.Sprintf("triangles:   %d\n", len(sc.Triangles)))
	buf.WriteString(fmt.Sprintf("emissive:    %d\n", len(sc.Emissive)))
	buf.WriteString(fmt.Sprintf("materials:   %d\n", len(sc.Materials)))
	if sc.BVH != nil {
		buf.WriteString(fmt.Sprintf("bvh nodes:   %d\n", len(sc.BVH.Nodes)))
		buf.WriteString(fmt.Sprintf("bvh leafs:   %d\n", sc.BVH.Leafs))
		buf.WriteString(fmt.Sprintf("bvh depth:   %d\n", sc.BVH.Depth))
	}
	buf.WriteString(fmt.Sprintf("bounds:      %v - %v", sc.Bounds.Min, sc.Bounds.Max))
	return buf.String()
}
