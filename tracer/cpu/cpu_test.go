package cpu

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/scene/compiler"
	"github.com/DavidPeicho/loupiote/tracer"
	"github.com/DavidPeicho/loupiote/types"
)

func TestUnitTriangleHit(t *testing.T) {
	v0, v1, v2 := types.Vec3{-1, -1, 0}, types.Vec3{1, -1, 0}, types.Vec3{0, 1, 0}

	specs := []struct {
		origin types.Vec3
		dir    types.Vec3
		expHit bool
		expT   float32
	}{
		{types.Vec3{0, 0, 1}, types.Vec3{0, 0, -1}, true, 1},
		// Back face
		{types.Vec3{0, 0, -2}, types.Vec3{0, 0, 1}, true, 2},
		// Parallel to the triangle plane
		{types.Vec3{0, 0, 1}, types.Vec3{1, 0, 0}, false, 0},
		// Outside the triangle
		{types.Vec3{5, 5, 1}, types.Vec3{0, 0, -1}, false, 0},
		// Pointing away
		{types.Vec3{0, 0, 1}, types.Vec3{0, 0, 1}, false, 0},
	}

	for idx, s := range specs {
		ray := tracer.NewRay(s.origin, s.dir, 0)
		tHit, u, v, ok := IntersectTriangle(v0, v1, v2, &ray, ray.TMax)
		if ok != s.expHit {
			t.Fatalf("[spec %d] expected hit to be %t; got %t", idx, s.expHit, ok)
		}
		if !ok {
			continue
		}
		if math.Abs(float64(tHit-s.expT)) > 1e-5 {
			t.Fatalf("[spec %d] expected t = %f; got %f", idx, s.expT, tHit)
		}
		bary := (&tracer.HitRecord{U: u, V: v}).Barycentrics()
		if sum := bary[0] + bary[1] + bary[2]; math.Abs(float64(sum-1)) > 1e-6 {
			t.Fatalf("[spec %d] expected barycentrics to sum to 1; got %f", idx, sum)
		}
		for i := 0; i < 3; i++ {
			if bary[i] < 0 || bary[i] > 1 {
				t.Fatalf("[spec %d] expected barycentric %d in [0, 1]; got %f", idx, i, bary[i])
			}
		}
	}
}

func TestTriangleRespectsRayExtent(t *testing.T) {
	v0, v1, v2 := types.Vec3{-1, -1, 0}, types.Vec3{1, -1, 0}, types.Vec3{0, 1, 0}

	ray := tracer.NewRay(types.Vec3{0, 0, 1}, types.Vec3{0, 0, -1}, 0)
	if _, _, _, ok := IntersectTriangle(v0, v1, v2, &ray, 0.5); ok {
		t.Fatal("expected hit beyond tmax to be rejected")
	}

	ray.TMin = 1.5
	if _, _, _, ok := IntersectTriangle(v0, v1, v2, &ray, ray.TMax); ok {
		t.Fatal("expected hit before tmin to be rejected")
	}
}

func randomTriangleScene(t *testing.T, count int, seed int64) *scene.Scene {
	rng := rand.New(rand.NewSource(seed))
	in := &scene.Input{
		Materials: []scene.Material{scene.NewDiffuse(types.Vec3{0.5, 0.5, 0.5})},
	}
	mesh := scene.Mesh{Name: "random"}
	for tri := 0; tri < count; tri++ {
		center := types.Vec3{rng.Float32()*20 - 10, rng.Float32()*20 - 10, rng.Float32()*20 - 10}
		for v := 0; v < 3; v++ {
			offset := types.Vec3{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
			mesh.Indices = append(mesh.Indices, uint32(len(in.Vertices)))
			in.Vertices = append(in.Vertices, scene.Vertex{Position: center.Add(offset)})
		}
	}
	in.Meshes = []scene.Mesh{mesh}

	store, err := scene.NewGeometryStore(in)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := compiler.Compile(context.Background(), store, compiler.DefaultBuildOptions())
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func randomRays(count int, seed int64) []tracer.Ray {
	rng := rand.New(rand.NewSource(seed))
	rays := make([]tracer.Ray, count)
	for idx := range rays {
		origin := types.Vec3{rng.Float32()*30 - 15, rng.Float32()*30 - 15, rng.Float32()*30 - 15}
		target := types.Vec3{rng.Float32()*10 - 5, rng.Float32()*10 - 5, rng.Float32()*10 - 5}
		rays[idx] = tracer.NewRay(origin, target.Sub(origin).Normalize(), 1e-4)
	}
	// Axis aligned directions exercise the infinite inverse direction path.
	rays[0] = tracer.NewRay(types.Vec3{0, 0, 20}, types.Vec3{0, 0, -1}, 0)
	rays[1] = tracer.NewRay(types.Vec3{-20, 0.5, 0.5}, types.Vec3{1, 0, 0}, 0)
	return rays
}

func TestTraverseMatchesBruteForce(t *testing.T) {
	sc := randomTriangleScene(t, 2000, 11)
	rays := randomRays(2000, 12)

	hits := 0
	for idx := range rays {
		exp := BruteForce(sc, &rays[idx])
		got := Traverse(sc, &rays[idx])
		if exp.IsMiss() != got.IsMiss() {
			t.Fatalf("[ray %d] expected miss = %t; got %t", idx, exp.IsMiss(), got.IsMiss())
		}
		if exp.IsMiss() {
			continue
		}
		hits++
		if math.Abs(float64(exp.T-got.T)) > 1e-4 {
			t.Fatalf("[ray %d] expected closest hit at t = %f; got %f", idx, exp.T, got.T)
		}
	}
	if hits == 0 {
		t.Fatal("expected some rays to hit the scene")
	}
}

func TestIntersectorBatch(t *testing.T) {
	device := NewDevice(4)
	defer device.Close()

	in := NewIntersector(device)
	defer in.Close()

	rays := randomRays(1000, 3)
	hits := make([]tracer.HitRecord, len(rays))
	if err := in.Intersect(context.Background(), rays, hits); !errors.Is(err, tracer.ErrNoScene) {
		t.Fatalf("expected ErrNoScene; got %v", err)
	}

	sc := randomTriangleScene(t, 500, 5)
	if err := in.SetScene(sc); err != nil {
		t.Fatal(err)
	}
	if err := in.Intersect(context.Background(), rays, hits[:10]); err == nil {
		t.Fatal("expected mismatched batch to be rejected")
	}

	// Run twice so the second pass uses scheduler feedback.
	for pass := 0; pass < 2; pass++ {
		if err := in.Intersect(context.Background(), rays, hits); err != nil {
			t.Fatal(err)
		}
		for idx := range rays {
			exp := Traverse(sc, &rays[idx])
			if exp != hits[idx] {
				t.Fatalf("[pass %d, ray %d] expected %+v; got %+v", pass, idx, exp, hits[idx])
			}
		}
	}
}

func TestDeviceExecCoversRange(t *testing.T) {
	device := NewDevice(3)
	defer device.Close()

	for _, count := range []uint32{1, 2, 3, 100, 1027} {
		visits := make([]int32, count)
		err := device.Exec(context.Background(), count, func(start, end uint32) {
			for idx := start; idx < end; idx++ {
				atomic.AddInt32(&visits[idx], 1)
			}
		})
		if err != nil {
			t.Fatal(err)
		}
		for idx, v := range visits {
			if v != 1 {
				t.Fatalf("[count %d] expected item %d to be visited once; got %d", count, idx, v)
			}
		}

		var total uint32
		for _, stats := range device.Stats() {
			total += stats.BlockH
		}
		if total != count {
			t.Fatalf("[count %d] expected lane blocks to add up to %d; got %d", count, count, total)
		}
	}
}

func TestDeviceCancellation(t *testing.T) {
	device := NewDevice(2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := device.Exec(ctx, 10, func(_, _ uint32) {}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got %v", err)
	}

	// Cancel from within the pass; remaining chunks must be skipped.
	ctx, cancel = context.WithCancel(context.Background())
	var processed int32
	err := device.Exec(ctx, 1600, func(start, end uint32) {
		atomic.AddInt32(&processed, int32(end-start))
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got %v", err)
	}
	if processed >= 1600 {
		t.Fatal("expected cancellation to skip part of the pass")
	}

	device.Close()
	if err := device.Exec(context.Background(), 1, func(_, _ uint32) {}); !errors.Is(err, ErrDeviceClosed) {
		t.Fatalf("expected ErrDeviceClosed; got %v", err)
	}
}
