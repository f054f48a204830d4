package integrator

import (
	"math"
	"testing"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/types"
)

func TestFrameIsOrthonormal(t *testing.T) {
	normals := []types.Vec3{
		{0, 0, 1},
		{0, 0, -1},
		{1, 0, 0},
		types.Vec3{1, 2, 3}.Normalize(),
	}
	for index, n := range normals {
		f := newFrame(n)
		if d := f.t.Dot(f.b); math.Abs(float64(d)) > 1e-5 {
			t.Fatalf("[spec %d] expected t and b to be orthogonal; got dot %f", index, d)
		}
		if d := f.t.Dot(n); math.Abs(float64(d)) > 1e-5 {
			t.Fatalf("[spec %d] expected t and n to be orthogonal; got dot %f", index, d)
		}
		v := types.Vec3{0.3, -0.2, 0.9}
		if back := f.toLocal(f.toWorld(v)); !back.ApproxEqual(v, 1e-5) {
			t.Fatalf("[spec %d] expected local/world round trip to give %v; got %v", index, v, back)
		}
	}
}

func TestBSDFSamplesStayInHemisphere(t *testing.T) {
	n := types.Vec3{0, 1, 0}
	wo := types.Vec3{0.3, 0.8, 0.1}.Normalize()
	materials := []scene.Material{
		scene.NewDiffuse(types.Splat3(0.8)),
		scene.NewMetal(types.Vec3{0.9, 0.6, 0.3}, 0),
		scene.NewMetal(types.Vec3{0.9, 0.6, 0.3}, 0.6),
		{Kind: scene.Emissive, Albedo: types.Splat3(0.5), Emission: types.Splat3(1)},
	}

	rng := NewRand(1, 2, 3)
	for index := range materials {
		mat := &materials[index]
		for i := 0; i < 1000; i++ {
			s := sampleBSDF(mat, wo, n, true, &rng)
			if !s.ok {
				continue
			}
			if s.dir.Dot(n) <= 0 {
				t.Fatalf("[spec %d] expected reflected direction above the surface; got %v", index, s.dir)
			}
			for c := 0; c < 3; c++ {
				if s.weight[c] < 0 || s.weight[c] > 1+1e-5 {
					t.Fatalf("[spec %d] expected weight in [0, 1]; got %v", index, s.weight)
				}
			}
		}
	}
}

func TestSmoothMetalIsMirror(t *testing.T) {
	n := types.Vec3{0, 0, 1}
	wo := types.Vec3{1, 0, 1}.Normalize()
	mat := scene.NewMetal(types.Splat3(1), 0)
	rng := NewRand(0, 0, 0)

	s := sampleBSDF(&mat, wo, n, true, &rng)
	if !s.ok || !s.dir.ApproxEqual(types.Vec3{-1, 0, 1}.Normalize(), 1e-5) {
		t.Fatalf("expected mirror reflection; got %v (ok %t)", s.dir, s.ok)
	}
}

func TestSmoothDielectricFresnelSplit(t *testing.T) {
	n := types.Vec3{0, 0, 1}
	wo := types.Vec3{0, 0, 1}
	mat := scene.NewDielectric(types.Splat3(1), 1.5, 0)
	rng := NewRand(4, 5, 6)

	const samples = 20000
	reflected := 0
	for i := 0; i < samples; i++ {
		s := sampleBSDF(&mat, wo, n, true, &rng)
		if !s.ok {
			t.Fatal("expected smooth dielectric to always scatter at normal incidence")
		}
		switch {
		case s.dir.ApproxEqual(types.Vec3{0, 0, 1}, 1e-5):
			reflected++
		case s.dir.ApproxEqual(types.Vec3{0, 0, -1}, 1e-5):
		default:
			t.Fatalf("expected straight reflection or transmission at normal incidence; got %v", s.dir)
		}
	}

	// ((1 - 1.5) / (1 + 1.5))^2
	if ratio := float64(reflected) / samples; math.Abs(ratio-0.04) > 0.01 {
		t.Fatalf("expected about 4%% reflections; got %.3f", ratio)
	}
}

func TestDielectricTotalInternalReflection(t *testing.T) {
	// Leaving glass at a grazing angle.
	n := types.Vec3{0, 0, 1}
	wo := types.Vec3{0.9, 0, 0.2}.Normalize()
	mat := scene.NewDielectric(types.Splat3(1), 1.5, 0)
	rng := NewRand(7, 8, 9)

	for i := 0; i < 100; i++ {
		s := sampleBSDF(&mat, wo, n, false, &rng)
		if !s.ok || s.dir[2] <= 0 {
			t.Fatalf("expected total internal reflection; got %v (ok %t)", s.dir, s.ok)
		}
	}
}
