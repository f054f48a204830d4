package scene

import (
	"strings"
	"testing"

	"github.com/DavidPeicho/loupiote/types"
)

func quadInput() *Input {
	return &Input{
		Vertices: []Vertex{
			{Position: types.XYZ(0, 0, 0)},
			{Position: types.XYZ(1, 0, 0)},
			{Position: types.XYZ(1, 1, 0)},
			{Position: types.XYZ(0, 1, 0)},
			{Position: types.XYZ(2, 0, 0)},
		},
		Meshes: []Mesh{
			{
				Name: "quad",
				// Second triangle is valid, third is collinear and the
				// fourth repeats a vertex.
				Indices: []uint32{0, 1, 2, 0, 2, 3, 0, 1, 4, 2, 2, 3},
			},
		},
		Materials: []Material{NewDiffuse(types.Splat3(0.5))},
	}
}

func TestGeometryStoreDropsDegenerateTriangles(t *testing.T) {
	store, err := NewGeometryStore(quadInput())
	if err != nil {
		t.Fatal(err)
	}

	if exp := 2; len(store.Primitives) != exp {
		t.Fatalf("expected %d primitives; got %d", exp, len(store.Primitives))
	}
	if exp := 2; store.Dropped != exp {
		t.Fatalf("expected %d dropped primitives; got %d", exp, store.Dropped)
	}
	if exp := 1; len(store.Instances) != exp {
		t.Fatalf("expected %d instance; got %d", exp, len(store.Instances))
	}
	if inst := store.Instances[0]; inst.FirstPrimitive != 0 || inst.PrimitiveCount != 2 {
		t.Fatalf("expected instance range [0, 2); got [%d, %d)", inst.FirstPrimitive, inst.FirstPrimitive+inst.PrimitiveCount)
	}
}

func TestGeometryStoreRejectsInvalidInput(t *testing.T) {
	specs := []struct {
		mutate func(in *Input)
		expErr string
	}{
		{
			func(in *Input) { in.Meshes[0].Indices = append(in.Meshes[0].Indices, 0) },
			"not a multiple of 3",
		},
		{
			func(in *Input) { in.Meshes[0].Indices[0] = 42 },
			"references vertex 42",
		},
		{
			func(in *Input) { in.Meshes[0].Material = 3 },
			"unknown material 3",
		},
		{
			func(in *Input) { in.Materials[0].Roughness = 2 },
			"roughness must be in [0, 1]",
		},
		{
			func(in *Input) { in.Instances = []MeshInstance{{Mesh: 5}} },
			"unknown mesh 5",
		},
		{
			func(in *Input) { in.Meshes[0].Indices = []uint32{0, 1, 4} },
			ErrNoGeometry.Error(),
		},
	}

	for index, s := range specs {
		in := quadInput()
		s.mutate(in)
		_, err := NewGeometryStore(in)
		if err == nil || !strings.Contains(err.Error(), s.expErr) {
			t.Fatalf("[spec %d] expected error containing %q; got %v", index, s.expErr, err)
		}
	}
}

func TestBvhNodePacking(t *testing.T) {
	var n BvhNode
	n.SetPrimitives(7, 3)
	if !n.IsLeaf() {
		t.Fatal("expected node to be a leaf")
	}
	if first, count := n.Primitives(); first != 7 || count != 3 {
		t.Fatalf("expected range (7, 3); got (%d, %d)", first, count)
	}

	n.SetChildNodes(12, 2)
	if n.IsLeaf() {
		t.Fatal("expected node to be an interior node")
	}
	if n.Axis() != 2 || n.Offset != 12 {
		t.Fatalf("expected axis 2 and right child 12; got axis %d and right child %d", n.Axis(), n.Offset)
	}
}

func TestCameraProjectionRoundTrip(t *testing.T) {
	cam := NewCamera(60)
	cam.Position = types.XYZ(1, 2, 5)
	cam.LookAt = types.XYZ(0, 0, 0)
	cam.SetupProjection(2)

	const frameW, frameH = 200, 100
	specs := [][2]float32{{0.5, 0.5}, {0.1, 0.2}, {0.9, 0.75}}
	for index, uv := range specs {
		dir := cam.RayDir(uv[0], uv[1]).Normalize()
		p := cam.Position.Add(dir.Mul(3))

		x, y, ok := ProjectToPixel(cam.ViewProjMat(), p, frameW, frameH)
		if !ok {
			t.Fatalf("[spec %d] expected point in front of the camera", index)
		}
		if dx, dy := x-uv[0]*frameW, y-uv[1]*frameH; dx*dx+dy*dy > 1e-2 {
			t.Fatalf("[spec %d] expected pixel (%f, %f); got (%f, %f)", index, uv[0]*frameW, uv[1]*frameH, x, y)
		}
	}

	// Points behind the camera do not project.
	if _, _, ok := ProjectToPixel(cam.ViewProjMat(), types.XYZ(2, 4, 10), frameW, frameH); ok {
		t.Fatal("expected point behind the camera not to project")
	}
}

func TestCameraTransform(t *testing.T) {
	cam := NewCamera(45)
	cam.SetTransform(types.Translate4(types.XYZ(0, 1, 4)))

	if !cam.Position.ApproxEqual(types.XYZ(0, 1, 4), 1e-5) {
		t.Fatalf("expected camera position (0, 1, 4); got %v", cam.Position)
	}
	if !cam.LookAt.ApproxEqual(types.XYZ(0, 1, 3), 1e-5) {
		t.Fatalf("expected camera to look down -z; got look-at %v", cam.LookAt)
	}
	if !cam.Transform().ApproxEqual(types.Translate4(types.XYZ(0, 1, 4)), 1e-4) {
		t.Fatal("expected camera transform to round trip")
	}
}
