package scene

import (
	"fmt"

	"github.com/DavidPeicho/loupiote/types"
)

// Bvh nodes take 32 bytes and are stored depth-first in a single slice so
// that the same layout can be uploaded verbatim to the GPU:
//
//   - Min/Max hold the node bounding box.
//   - Meta packs the leaf primitive count in bits 2-31 and the split axis in
//     bits 0-1. A count of zero marks an interior node.
//   - For leafs, Offset is the index of the first primitive of the leaf range.
//   - For interior nodes the left child always follows its parent (index+1)
//     and Offset holds the index of the right child.
type BvhNode struct {
	Min    types.Vec3
	Offset uint32

	Max  types.Vec3
	Meta uint32
}

// Set bounding box.
func (n *BvhNode) SetBBox(box types.AABB) {
	n.Min = box.Min
	n.Max = box.Max
}

// Get bounding box.
func (n *BvhNode) BBox() types.AABB {
	return types.AABB{Min: n.Min, Max: n.Max}
}

// Set the right child index and split axis of an interior node.
func (n *BvhNode) SetChildNodes(right uint32, axis int) {
	n.Offset = right
	n.Meta = uint32(axis) & 3
}

// Set primitive index and count.
func (n *BvhNode) SetPrimitives(first, count uint32) {
	n.Offset = first
	n.Meta = count << 2
}

// Returns true if this is a leaf node.
func (n *BvhNode) IsLeaf() bool {
	return n.Meta>>2 != 0
}

// Get the primitive range [first, first+count) of a leaf.
func (n *BvhNode) Primitives() (first, count uint32) {
	return n.Offset, n.Meta >> 2
}

// Get the split axis of an interior node.
func (n *BvhNode) Axis() int {
	return int(n.Meta & 3)
}

// A linearized bounding volume hierarchy.
type BVH struct {
	Nodes []BvhNode

	// Permutation maps positions in leaf ranges to input item indices.
	Permutation []uint32

	// Build statistics.
	Depth int
	Leafs int
}

// Get the indices of the children of the interior node at index.
func (b *BVH) Children(index uint32) (left, right uint32) {
	return index + 1, b.Nodes[index].Offset
}

// Check the structural invariants of the tree against the bounding boxes of
// the items it was built from: leaf ranges must cover each item exactly once
// and every node must contain its children.
func (b *BVH) Check(items []types.AABB) error {
	if len(items) == 0 {
		if len(b.Nodes) > 1 || len(b.Permutation) != 0 {
			return fmt.Errorf("bvh: expected empty tree for empty input")
		}
		return nil
	}
	if len(b.Permutation) != len(items) {
		return fmt.Errorf("bvh: permutation has %d entries; expected %d", len(b.Permutation), len(items))
	}

	seen := make([]bool, len(items))
	for _, itemIndex := range b.Permutation {
		if int(itemIndex) >= len(items) {
			return fmt.Errorf("bvh: permutation references item %d out of range", itemIndex)
		}
		if seen[itemIndex] {
			return fmt.Errorf("bvh: item %d appears more than once", itemIndex)
		}
		seen[itemIndex] = true
	}

	covered := make([]int, len(items))
	for nodeIndex := range b.Nodes {
		node := &b.Nodes[nodeIndex]
		box := node.BBox()
		if node.IsLeaf() {
			first, count := node.Primitives()
			if int(first+count) > len(b.Permutation) {
				return fmt.Errorf("bvh: leaf %d range [%d, %d) out of bounds", nodeIndex, first, first+count)
			}
			for slot := first; slot < first+count; slot++ {
				covered[slot]++
				if itemBox := items[b.Permutation[slot]]; !box.Contains(itemBox) {
					return fmt.Errorf("bvh: leaf %d does not contain item %d", nodeIndex, b.Permutation[slot])
				}
			}
			continue
		}

		left, right := b.Children(uint32(nodeIndex))
		if int(right) >= len(b.Nodes) || int(left) >= len(b.Nodes) || right <= left {
			return fmt.Errorf("bvh: interior node %d has invalid children (%d, %d)", nodeIndex, left, right)
		}
		if !box.Contains(b.Nodes[left].BBox()) || !box.Contains(b.Nodes[right].BBox()) {
			return fmt.Errorf("bvh: node %d does not contain its children", nodeIndex)
		}
	}

	for slot, count := range covered {
		if count != 1 {
			return fmt.Errorf("bvh: primitive slot %d covered by %d leafs", slot, count)
		}
	}
	return nil
}

// The deepest tree the traversal kernels can handle; their fixed-size
// traversal stacks are sized accordingly.
const MaxBvhDepth = 64
