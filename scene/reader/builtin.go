package reader

import (
	"math"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/types"
)

// Material slots used by the built-in scene.
const (
	cornellWhite uint32 = iota
	cornellRed
	cornellGreen
	cornellLight
)

type meshBuilder struct {
	in   *scene.Input
	mesh scene.Mesh
}

func (b *meshBuilder) quad(p0, p1, p2, p3, n types.Vec3, material uint32) {
	base := uint32(len(b.in.Vertices))
	for _, p := range []types.Vec3{p0, p1, p2, p3} {
		b.in.Vertices = append(b.in.Vertices, scene.Vertex{Position: p, Normal: n})
	}
	b.mesh.Indices = append(b.mesh.Indices, base, base+1, base+2, base, base+2, base+3)
	b.mesh.Materials = append(b.mesh.Materials, material, material)
}

func (b *meshBuilder) done() {
	b.in.Meshes = append(b.in.Meshes, b.mesh)
}

// Build the classic Cornell box: a closed room with a red left wall, a green
// right wall, an area light in the ceiling and two boxes. The boxes share a
// single unit cube mesh placed by instance transforms.
func CornellBox() *scene.Input {
	in := &scene.Input{
		Materials: []scene.Material{
			cornellWhite: scene.NewDiffuse(types.Vec3{0.73, 0.73, 0.73}),
			cornellRed:   scene.NewDiffuse(types.Vec3{0.65, 0.05, 0.05}),
			cornellGreen: scene.NewDiffuse(types.Vec3{0.12, 0.45, 0.15}),
			cornellLight: scene.NewEmissive(types.Vec3{17, 12, 4}),
		},
	}

	room := &meshBuilder{in: in, mesh: scene.Mesh{Name: "room"}}
	// floor, ceiling, back
	room.quad(types.Vec3{-1, -1, 1}, types.Vec3{1, -1, 1}, types.Vec3{1, -1, -1}, types.Vec3{-1, -1, -1}, types.Vec3{0, 1, 0}, cornellWhite)
	room.quad(types.Vec3{-1, 1, -1}, types.Vec3{1, 1, -1}, types.Vec3{1, 1, 1}, types.Vec3{-1, 1, 1}, types.Vec3{0, -1, 0}, cornellWhite)
	room.quad(types.Vec3{-1, -1, -1}, types.Vec3{1, -1, -1}, types.Vec3{1, 1, -1}, types.Vec3{-1, 1, -1}, types.Vec3{0, 0, 1}, cornellWhite)
	// left, right
	room.quad(types.Vec3{-1, -1, 1}, types.Vec3{-1, -1, -1}, types.Vec3{-1, 1, -1}, types.Vec3{-1, 1, 1}, types.Vec3{1, 0, 0}, cornellRed)
	room.quad(types.Vec3{1, -1, -1}, types.Vec3{1, -1, 1}, types.Vec3{1, 1, 1}, types.Vec3{1, 1, -1}, types.Vec3{-1, 0, 0}, cornellGreen)
	room.done()

	light := &meshBuilder{in: in, mesh: scene.Mesh{Name: "light"}}
	light.quad(types.Vec3{-0.25, 0.998, -0.25}, types.Vec3{0.25, 0.998, -0.25}, types.Vec3{0.25, 0.998, 0.25}, types.Vec3{-0.25, 0.998, 0.25}, types.Vec3{0, -1, 0}, cornellLight)
	light.done()

	cube := &meshBuilder{in: in, mesh: scene.Mesh{Name: "box"}}
	h := float32(0.5)
	cube.quad(types.Vec3{-h, -h, h}, types.Vec3{h, -h, h}, types.Vec3{h, h, h}, types.Vec3{-h, h, h}, types.Vec3{0, 0, 1}, cornellWhite)
	cube.quad(types.Vec3{h, -h, -h}, types.Vec3{-h, -h, -h}, types.Vec3{-h, h, -h}, types.Vec3{h, h, -h}, types.Vec3{0, 0, -1}, cornellWhite)
	cube.quad(types.Vec3{-h, -h, -h}, types.Vec3{-h, -h, h}, types.Vec3{-h, h, h}, types.Vec3{-h, h, -h}, types.Vec3{-1, 0, 0}, cornellWhite)
	cube.quad(types.Vec3{h, -h, h}, types.Vec3{h, -h, -h}, types.Vec3{h, h, -h}, types.Vec3{h, h, h}, types.Vec3{1, 0, 0}, cornellWhite)
	cube.quad(types.Vec3{-h, h, h}, types.Vec3{h, h, h}, types.Vec3{h, h, -h}, types.Vec3{-h, h, -h}, types.Vec3{0, 1, 0}, cornellWhite)
	cube.quad(types.Vec3{-h, -h, -h}, types.Vec3{h, -h, -h}, types.Vec3{h, -h, h}, types.Vec3{-h, -h, h}, types.Vec3{0, -1, 0}, cornellWhite)
	cube.done()

	boxPlacement := func(pos, size types.Vec3, angleDeg float32) types.Mat4 {
		rot := types.RotateY4(angleDeg * math.Pi / 180)
		return types.Translate4(pos).Mul4(rot.Mul4(types.Scale4(size)))
	}

	in.Instances = []scene.MeshInstance{
		{Mesh: 0, Transform: types.Ident4()},
		{Mesh: 1, Transform: types.Ident4()},
		{Mesh: 2, Transform: boxPlacement(types.Vec3{-0.35, -0.4, -0.35}, types.Vec3{0.6, 1.2, 0.6}, 18)},
		{Mesh: 2, Transform: boxPlacement(types.Vec3{0.35, -0.7, 0.3}, types.Vec3{0.6, 0.6, 0.6}, -17)},
	}

	cam := scene.NewCamera(40)
	cam.Position = types.Vec3{0, 0, 3.8}
	cam.LookAt = types.Vec3{0, 0, 0}
	cam.Update()
	in.Camera = cam

	return in
}
