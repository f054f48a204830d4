package compiler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/DavidPeicho/loupiote/log"
	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/types"
)

var (
	ErrNodeBudgetExceeded = errors.New("bvh: node budget exceeded")
)

// The BoundedVolume interface is implemented by all primitives that can
// be partitioned by the bvh builder.
type BoundedVolume interface {
	BBox() types.AABB
	Center() types.Vec3
}

// BuildOptions control the SAH BVH builder.
type BuildOptions struct {
	// Ranges with at most this many primitives always become leafs.
	LeafPrimitiveThreshold int

	// Ranges with more primitives than this are always split, even if the
	// SAH estimates that a leaf would be cheaper.
	MaxLeafPrimitives int

	// Leafs are forced once this depth is reached. The root is at depth 0.
	MaxTreeDepth int

	// Number of centroid bins evaluated per axis.
	Bins int

	// SAH cost constants.
	TraversalCost    float32
	IntersectionCost float32

	// Abort the build if the tree would need more nodes than this. A value
	// of 0 disables the limit.
	MaxNodes int
}

// Get the default build options.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		LeafPrimitiveThreshold: 4,
		MaxLeafPrimitives:      16,
		MaxTreeDepth:           scene.MaxBvhDepth,
		Bins:                   16,
		TraversalCost:          1,
		IntersectionCost:       1,
	}
}

// Validate build options.
func (o BuildOptions) Validate() error {
	switch {
	case o.LeafPrimitiveThreshold < 1:
		return fmt.Errorf("bvh: leaf primitive threshold must be >= 1; got %d", o.LeafPrimitiveThreshold)
	case o.MaxLeafPrimitives < o.LeafPrimitiveThreshold:
		return fmt.Errorf("bvh: max leaf primitives (%d) must be >= leaf primitive threshold (%d)", o.MaxLeafPrimitives, o.LeafPrimitiveThreshold)
	case o.MaxTreeDepth < 0 || o.MaxTreeDepth > scene.MaxBvhDepth:
		return fmt.Errorf("bvh: max tree depth must be in [0, %d]; got %d", scene.MaxBvhDepth, o.MaxTreeDepth)
	case o.Bins < 2:
		return fmt.Errorf("bvh: bin count must be >= 2; got %d", o.Bins)
	case !(o.TraversalCost >= 0 && o.IntersectionCost > 0):
		return fmt.Errorf("bvh: SAH costs must be positive; got traversal %f, intersection %f", o.TraversalCost, o.IntersectionCost)
	case o.MaxNodes < 0:
		return fmt.Errorf("bvh: max nodes must be >= 0; got %d", o.MaxNodes)
	}
	return nil
}

type bvhBin struct {
	box   types.AABB
	count int
}

type bvhSplitCandidate struct {
	axis  int
	index int
	cost  float32
}

type bvhStats struct {
	partitionedItems int
	nodes            int
	leafs            int
	maxDepth         int
}

type bvhBuilder struct {
	ctx    context.Context
	logger log.Logger
	opts   BuildOptions

	boxes   []types.AABB
	centers []types.Vec3

	// The primitive permutation; leaf ranges index into it.
	perm []uint32

	// Bvh nodes stored as a contiguous list
	nodes []scene.BvhNode

	// Scratch space reused while evaluating splits.
	bins        []bvhBin
	rightAreas  []float32
	rightCounts []int

	// Stats
	stats bvhStats
}

// Construct a BVH from a set of bounded volumes using a binned surface area
// heuristic. Each split candidate is scored as:
//
//	C = C_trav + (A_left / A_parent) * N_left * C_isect + (A_right / A_parent) * N_right * C_isect
//
// Identical input always yields an identical tree. Ties between candidates are
// resolved in favor of the axis with the greatest centroid extent and then the
// lower bin boundary.
func BuildBVH(ctx context.Context, items []BoundedVolume, opts BuildOptions) (*scene.BVH, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	builder := &bvhBuilder{
		ctx:         ctx,
		logger:      log.New("bvh"),
		opts:        opts,
		boxes:       make([]types.AABB, len(items)),
		centers:     make([]types.Vec3, len(items)),
		perm:        make([]uint32, len(items)),
		nodes:       make([]scene.BvhNode, 0, 2*len(items)/opts.LeafPrimitiveThreshold+1),
		bins:        make([]bvhBin, opts.Bins),
		rightAreas:  make([]float32, opts.Bins),
		rightCounts: make([]int, opts.Bins),
	}
	for idx, item := range items {
		builder.boxes[idx] = item.BBox()
		builder.centers[idx] = item.Center()
		builder.perm[idx] = uint32(idx)
	}

	if len(items) == 0 {
		return &scene.BVH{Permutation: builder.perm}, nil
	}

	start := time.Now()
	if _, err := builder.partition(0, len(items), 0); err != nil {
		return nil, err
	}
	builder.logger.Debugf(
		"BVH tree build time: %d ms, items: %d, maxDepth: %d, nodes: %d, leafs: %d",
		time.Since(start).Nanoseconds()/1e6, len(items),
		builder.stats.maxDepth, builder.stats.nodes, builder.stats.leafs,
	)

	return &scene.BVH{
		Nodes:       builder.nodes,
		Permutation: builder.perm,
		Depth:       builder.stats.maxDepth,
		Leafs:       builder.stats.leafs,
	}, nil
}

// Partition the permutation range [start, end) and return the node index.
func (b *bvhBuilder) partition(start, end, depth int) (uint32, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	if b.opts.MaxNodes > 0 && len(b.nodes) >= b.opts.MaxNodes {
		return 0, ErrNodeBudgetExceeded
	}
	if depth > b.stats.maxDepth {
		b.stats.maxDepth = depth
	}

	box := types.EmptyAABB()
	centroidBox := types.EmptyAABB()
	for _, itemIndex := range b.perm[start:end] {
		box = box.Union(b.boxes[itemIndex])
		centroidBox = centroidBox.Extend(b.centers[itemIndex])
	}

	count := end - start
	if count <= b.opts.LeafPrimitiveThreshold || depth >= b.opts.MaxTreeDepth {
		return b.createLeaf(box, start, count), nil
	}

	var mid, axis int
	split, found := b.findSplit(start, end, box, centroidBox)
	leafCost := float32(count) * b.opts.IntersectionCost
	switch {
	case found && (split.cost < leafCost || count > b.opts.MaxLeafPrimitives):
		axis = split.axis
		mid = b.partitionAtBin(start, end, split, centroidBox)
	case !found && count > b.opts.MaxLeafPrimitives:
		// All centroids fall in the same bin; binning cannot separate them.
		axis = centroidBox.LongestAxis()
		mid = b.medianSplit(start, end, axis)
	default:
		return b.createLeaf(box, start, count), nil
	}

	// Add node to list; its left child will be appended right after it.
	nodeIndex := uint32(len(b.nodes))
	node := scene.BvhNode{}
	node.SetBBox(box)
	b.nodes = append(b.nodes, node)
	b.stats.nodes++

	if _, err := b.partition(start, mid, depth+1); err != nil {
		return 0, err
	}
	rightNodeIndex, err := b.partition(mid, end, depth+1)
	if err != nil {
		return 0, err
	}
	b.nodes[nodeIndex].SetChildNodes(rightNodeIndex, axis)

	return nodeIndex, nil
}

// Evaluate the SAH cost of every bin boundary along every axis and return
// the cheapest split that leaves both sides non-empty.
func (b *bvhBuilder) findSplit(start, end int, box, centroidBox types.AABB) (bvhSplitCandidate, bool) {
	var best bvhSplitCandidate
	found := false

	parentArea := box.SurfaceArea()
	if parentArea <= 0 {
		parentArea = 1
	}
	nBins := len(b.bins)

	for _, axis := range axesByExtent(centroidBox.Extent()) {
		extent := centroidBox.Max[axis] - centroidBox.Min[axis]
		if extent <= 0 {
			continue
		}
		scale := float32(nBins) / extent

		for idx := range b.bins {
			b.bins[idx] = bvhBin{box: types.EmptyAABB()}
		}
		for _, itemIndex := range b.perm[start:end] {
			bin := &b.bins[binIndex(b.centers[itemIndex][axis], centroidBox.Min[axis], scale, nBins)]
			bin.box = bin.box.Union(b.boxes[itemIndex])
			bin.count++
		}

		// Sweep right to left to collect suffix areas and counts.
		rightBox := types.EmptyAABB()
		rightCount := 0
		for idx := nBins - 1; idx > 0; idx-- {
			rightBox = rightBox.Union(b.bins[idx].box)
			rightCount += b.bins[idx].count
			b.rightAreas[idx-1] = rightBox.SurfaceArea()
			b.rightCounts[idx-1] = rightCount
		}

		// Sweep left to right and score each boundary.
		leftBox := types.EmptyAABB()
		leftCount := 0
		for idx := 0; idx < nBins-1; idx++ {
			leftBox = leftBox.Union(b.bins[idx].box)
			leftCount += b.bins[idx].count
			if leftCount == 0 || b.rightCounts[idx] == 0 {
				continue
			}

			cost := b.opts.TraversalCost +
				(leftBox.SurfaceArea()/parentArea)*float32(leftCount)*b.opts.IntersectionCost +
				(b.rightAreas[idx]/parentArea)*float32(b.rightCounts[idx])*b.opts.IntersectionCost
			if !found || cost < best.cost {
				best = bvhSplitCandidate{axis: axis, index: idx, cost: cost}
				found = true
			}
		}
	}

	return best, found
}

// Reorder the range in place so that items falling in bins <= split.index
// come first; returns the index of the first right item.
func (b *bvhBuilder) partitionAtBin(start, end int, split bvhSplitCandidate, centroidBox types.AABB) int {
	nBins := len(b.bins)
	axisMin := centroidBox.Min[split.axis]
	scale := float32(nBins) / (centroidBox.Max[split.axis] - axisMin)

	i, j := start, end-1
	for i <= j {
		if binIndex(b.centers[b.perm[i]][split.axis], axisMin, scale, nBins) <= split.index {
			i++
			continue
		}
		b.perm[i], b.perm[j] = b.perm[j], b.perm[i]
		j--
	}
	return i
}

// Sort the range by centroid along axis and split it in two halves.
func (b *bvhBuilder) medianSplit(start, end, axis int) int {
	items := b.perm[start:end]
	sort.SliceStable(items, func(i, j int) bool {
		return b.centers[items[i]][axis] < b.centers[items[j]][axis]
	})
	return start + (end-start)/2
}

// Setup a leaf node containing all items in the range. Returns the index to
// the node in the bvh node array.
func (b *bvhBuilder) createLeaf(box types.AABB, start, count int) uint32 {
	node := scene.BvhNode{}
	node.SetBBox(box)
	node.SetPrimitives(uint32(start), uint32(count))

	nodeIndex := uint32(len(b.nodes))
	b.nodes = append(b.nodes, node)

	b.stats.leafs++
	b.stats.nodes++
	b.stats.partitionedItems += count

	return nodeIndex
}

func binIndex(c, min, scale float32, nBins int) int {
	bin := int((c - min) * scale)
	if bin < 0 {
		return 0
	}
	if bin >= nBins {
		return nBins - 1
	}
	return bin
}

// Get axis indices ordered by decreasing extent. Equal extents keep their
// natural order.
func axesByExtent(extent types.Vec3) [3]int {
	axes := [3]int{0, 1, 2}
	for i := 1; i < 3; i++ {
		for j := i; j > 0 && extent[axes[j]] > extent[axes[j-1]]; j-- {
			axes[j], axes[j-1] = axes[j-1], axes[j]
		}
	}
	return axes
}
