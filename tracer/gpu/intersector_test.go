//go:build !nogpu

package gpu

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/scene/compiler"
	"github.com/DavidPeicho/loupiote/tracer"
	"github.com/DavidPeicho/loupiote/tracer/cpu"
	"github.com/DavidPeicho/loupiote/types"
)

func newTestIntersector(t *testing.T) *Intersector {
	in, err := NewIntersector()
	if errors.Is(err, ErrNoAdapter) {
		t.Skip("no GPU adapter available")
	}
	if err != nil {
		t.Fatal(err)
	}
	return in
}

func TestGpuIntersectorMatchesCpuTraversal(t *testing.T) {
	in := newTestIntersector(t)
	defer in.Close()

	rng := rand.New(rand.NewSource(3))
	input := &scene.Input{Materials: []scene.Material{scene.NewDiffuse(types.Vec3{0.5, 0.5, 0.5})}}
	mesh := scene.Mesh{Name: "soup"}
	for tri := 0; tri < 200; tri++ {
		base := types.Vec3{rng.Float32()*4 - 2, rng.Float32()*4 - 2, rng.Float32()*4 - 2}
		for v := 0; v < 3; v++ {
			offset := types.Vec3{rng.Float32() * 0.4, rng.Float32() * 0.4, rng.Float32() * 0.4}
			mesh.Indices = append(mesh.Indices, uint32(len(input.Vertices)))
			input.Vertices = append(input.Vertices, scene.Vertex{Position: base.Add(offset)})
		}
	}
	input.Meshes = []scene.Mesh{mesh}

	store, err := scene.NewGeometryStore(input)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := compiler.Compile(context.Background(), store, compiler.DefaultBuildOptions())
	if err != nil {
		t.Fatal(err)
	}

	hits := make([]tracer.HitRecord, 512)
	if err = in.Intersect(context.Background(), make([]tracer.Ray, 512), hits); err != tracer.ErrNoScene {
		t.Fatalf("expected ErrNoScene before uploading a scene; got %v", err)
	}
	if err = in.SetScene(sc); err != nil {
		t.Fatal(err)
	}

	rays := make([]tracer.Ray, len(hits))
	for index := range rays {
		dir := types.Vec3{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}.Normalize()
		rays[index] = tracer.NewRay(types.Vec3{0, 0, 6}.Add(dir.Mul(-1)), types.Vec3{0, 0, -6}.Add(dir).Normalize(), 1e-4)
	}
	if err = in.Intersect(context.Background(), rays, hits); err != nil {
		t.Fatal(err)
	}

	for index := range rays {
		exp := cpu.Traverse(sc, &rays[index])
		if exp.Primitive != hits[index].Primitive {
			t.Fatalf("[ray %d] expected primitive %d; got %d", index, exp.Primitive, hits[index].Primitive)
		}
		if !exp.IsMiss() && (exp.T-hits[index].T > 1e-3 || hits[index].T-exp.T > 1e-3) {
			t.Fatalf("[ray %d] expected t %f; got %f", index, exp.T, hits[index].T)
		}
	}
}
