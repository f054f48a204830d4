package compiler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/types"
)

type testVolume types.AABB

func (v testVolume) BBox() types.AABB   { return types.AABB(v) }
func (v testVolume) Center() types.Vec3 { return types.AABB(v).Center() }

func makeVolumes(boxes []types.AABB) []BoundedVolume {
	itemList := make([]BoundedVolume, len(boxes))
	for idx, box := range boxes {
		itemList[idx] = testVolume(box)
	}
	return itemList
}

func randomBoxes(count int, seed int64) []types.AABB {
	rng := rand.New(rand.NewSource(seed))
	boxes := make([]types.AABB, count)
	for idx := range boxes {
		min := types.XYZ(rng.Float32()*100-50, rng.Float32()*100-50, rng.Float32()*100-50)
		size := types.XYZ(rng.Float32()*2, rng.Float32()*2, rng.Float32()*2)
		boxes[idx] = types.AABB{Min: min, Max: min.Add(size)}
	}
	return boxes
}

func TestBVHFourBoxes(t *testing.T) {
	boxes := []types.AABB{
		{Min: types.Vec3{-2, 0, -2}, Max: types.Vec3{-1, 1, -1}},
		{Min: types.Vec3{1, 0, -2}, Max: types.Vec3{2, 1, -1}},
		{Min: types.Vec3{-2, 0, 1}, Max: types.Vec3{-1, 1, 2}},
		{Min: types.Vec3{1, 0, 1}, Max: types.Vec3{2, 1, 2}},
	}

	specs := []struct {
		leafThreshold int
		expNodes      int
		expLeafs      int
	}{
		{1, 7, 4},
		{2, 3, 2},
		{4, 1, 1},
	}

	for index, s := range specs {
		opts := DefaultBuildOptions()
		opts.LeafPrimitiveThreshold = s.leafThreshold

		bvh, err := BuildBVH(context.Background(), makeVolumes(boxes), opts)
		if err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", index, err)
		}
		if len(bvh.Nodes) != s.expNodes {
			t.Fatalf("[spec %d] expected bvh tree to have %d nodes; got %d", index, s.expNodes, len(bvh.Nodes))
		}
		if bvh.Leafs != s.expLeafs {
			t.Fatalf("[spec %d] expected %d leafs; got %d", index, s.expLeafs, bvh.Leafs)
		}
		if err := bvh.Check(boxes); err != nil {
			t.Fatalf("[spec %d] %v", index, err)
		}
	}
}

func TestBVHTieBreakPrefersFirstLongestAxis(t *testing.T) {
	// Centroid extents along X and Z are equal; X must win.
	boxes := []types.AABB{
		{Min: types.Vec3{-2, 0, -2}, Max: types.Vec3{-1, 1, -1}},
		{Min: types.Vec3{1, 0, -2}, Max: types.Vec3{2, 1, -1}},
		{Min: types.Vec3{-2, 0, 1}, Max: types.Vec3{-1, 1, 2}},
		{Min: types.Vec3{1, 0, 1}, Max: types.Vec3{2, 1, 2}},
	}
	opts := DefaultBuildOptions()
	opts.LeafPrimitiveThreshold = 2

	bvh, err := BuildBVH(context.Background(), makeVolumes(boxes), opts)
	if err != nil {
		t.Fatal(err)
	}
	if axis := bvh.Nodes[0].Axis(); axis != 0 {
		t.Fatalf("expected root split axis 0; got %d", axis)
	}
	if exp := []uint32{0, 2, 3, 1}; !reflect.DeepEqual(bvh.Permutation, exp) {
		t.Fatalf("expected permutation %v; got %v", exp, bvh.Permutation)
	}
}

func TestBVHPartitionAndContainment(t *testing.T) {
	for _, count := range []int{1, 2, 3, 17, 500, 4000} {
		boxes := randomBoxes(count, int64(count))
		bvh, err := BuildBVH(context.Background(), makeVolumes(boxes), DefaultBuildOptions())
		if err != nil {
			t.Fatalf("[%d items] unexpected error: %v", count, err)
		}
		if err := bvh.Check(boxes); err != nil {
			t.Fatalf("[%d items] %v", count, err)
		}
		if bvh.Depth > scene.MaxBvhDepth {
			t.Fatalf("[%d items] expected depth <= %d; got %d", count, scene.MaxBvhDepth, bvh.Depth)
		}
	}
}

func TestBVHIsDeterministic(t *testing.T) {
	boxes := randomBoxes(1000, 42)
	first, err := BuildBVH(context.Background(), makeVolumes(boxes), DefaultBuildOptions())
	if err != nil {
		t.Fatal(err)
	}
	second, err := BuildBVH(context.Background(), makeVolumes(boxes), DefaultBuildOptions())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first.Nodes, second.Nodes) || !reflect.DeepEqual(first.Permutation, second.Permutation) {
		t.Fatal("expected identical trees for identical input")
	}
}

func TestBVHMaxDepthForcesLeafs(t *testing.T) {
	boxes := randomBoxes(256, 7)
	opts := DefaultBuildOptions()
	opts.LeafPrimitiveThreshold = 1
	opts.MaxLeafPrimitives = 1
	opts.MaxTreeDepth = 3

	bvh, err := BuildBVH(context.Background(), makeVolumes(boxes), opts)
	if err != nil {
		t.Fatal(err)
	}
	if bvh.Depth != 3 {
		t.Fatalf("expected depth 3; got %d", bvh.Depth)
	}
	if bvh.Leafs != 8 {
		t.Fatalf("expected 8 leafs; got %d", bvh.Leafs)
	}
	if err := bvh.Check(boxes); err != nil {
		t.Fatal(err)
	}
}

func TestBVHCoincidentCentroidsFallBackToMedianSplit(t *testing.T) {
	boxes := make([]types.AABB, 40)
	for idx := range boxes {
		boxes[idx] = types.AABB{Min: types.Vec3{-1, -1, -1}, Max: types.Vec3{1, 1, 1}}
	}
	opts := DefaultBuildOptions()

	bvh, err := BuildBVH(context.Background(), makeVolumes(boxes), opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := bvh.Check(boxes); err != nil {
		t.Fatal(err)
	}
	for idx := range bvh.Nodes {
		if first, count := bvh.Nodes[idx].Primitives(); bvh.Nodes[idx].IsLeaf() && int(count) > opts.MaxLeafPrimitives {
			t.Fatalf("expected leaf at %d (first %d) to hold at most %d items; got %d", idx, first, opts.MaxLeafPrimitives, count)
		}
	}
}

func TestBVHEmptyInput(t *testing.T) {
	bvh, err := BuildBVH(context.Background(), nil, DefaultBuildOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(bvh.Nodes) != 0 || len(bvh.Permutation) != 0 {
		t.Fatalf("expected empty tree; got %d nodes", len(bvh.Nodes))
	}
}

func TestBVHBuildFailures(t *testing.T) {
	boxes := randomBoxes(100, 3)

	opts := DefaultBuildOptions()
	opts.MaxNodes = 4
	if _, err := BuildBVH(context.Background(), makeVolumes(boxes), opts); !errors.Is(err, ErrNodeBudgetExceeded) {
		t.Fatalf("expected ErrNodeBudgetExceeded; got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := BuildBVH(ctx, makeVolumes(boxes), DefaultBuildOptions()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got %v", err)
	}

	invalid := []func(*BuildOptions){
		func(o *BuildOptions) { o.Bins = 1 },
		func(o *BuildOptions) { o.TraversalCost = float32(math.NaN()) },
		func(o *BuildOptions) { o.IntersectionCost = float32(math.NaN()) },
		func(o *BuildOptions) { o.IntersectionCost = 0 },
	}
	for index, mutate := range invalid {
		opts = DefaultBuildOptions()
		mutate(&opts)
		if _, err := BuildBVH(context.Background(), makeVolumes(boxes), opts); err == nil {
			t.Fatalf("[spec %d] expected invalid options to be rejected", index)
		}
	}
}
