package scene

import (
	"errors"
	"fmt"
	"math"

	"github.com/DavidPeicho/loupiote/log"
	"github.com/DavidPeicho/loupiote/types"
)

// Triangles whose doubled area falls below this threshold are treated as
// degenerate and dropped during ingestion.
const degenerateAreaEpsilon = 1e-12

var (
	ErrNoGeometry = errors.New("scene: input does not contain any triangles")
)

// A mesh vertex. Vertices are immutable once imported.
type Vertex struct {
	Position types.Vec3
	Normal   types.Vec3
	UV       types.Vec2
	Tangent  types.Vec4
}

// A triangle referencing three vertices and a material.
type Primitive struct {
	Indices  [3]uint32
	Material uint32
}

// An instance places a contiguous primitive range in the world.
type Instance struct {
	FirstPrimitive uint32
	PrimitiveCount uint32

	Transform types.Mat4

	// Inverse transpose of Transform; used for normals.
	NormalMatrix types.Mat4
}

// A mesh as delivered by an importer.
type Mesh struct {
	Name string

	// Triangle list; every 3 indices into Input.Vertices form a triangle.
	Indices []uint32

	// The material used by all triangles unless Materials is set.
	Material uint32

	// Optional per-triangle material indices.
	Materials []uint32
}

// Places a mesh in the world.
type MeshInstance struct {
	Mesh      int
	Transform types.Mat4
}

// Input is the scene data handed over by an importer.
type Input struct {
	Vertices  []Vertex
	Meshes    []Mesh
	Materials []Material

	// If empty, each mesh is instantiated once with an identity transform.
	Instances []MeshInstance

	// An optional camera defined by the scene file.
	Camera *Camera
}

type primitiveRange struct {
	first, count uint32
}

// GeometryStore owns the validated, immutable triangle and instance data of a
// scene. Instances share the store's vertex and primitive lists.
type GeometryStore struct {
	Vertices   []Vertex
	Primitives []Primitive
	Materials  []Material
	Instances  []Instance

	// Camera supplied by the input, if any.
	Camera *Camera

	// Number of degenerate triangles dropped during ingestion.
	Dropped int
}

// Validate scene input and build a GeometryStore. Degenerate triangles are
// dropped with a warning; structurally invalid input (out of range indices,
// unknown materials) is rejected.
func NewGeometryStore(in *Input) (*GeometryStore, error) {
	logger := log.New("scene")

	if len(in.Materials) == 0 {
		return nil, errors.New("scene: input does not define any materials")
	}
	for idx := range in.Materials {
		if err := in.Materials[idx].Validate(); err != nil {
			return nil, fmt.Errorf("scene: material %d: %w", idx, err)
		}
	}

	store := &GeometryStore{
		Vertices:  in.Vertices,
		Materials: in.Materials,
		Camera:    in.Camera,
	}

	meshRanges := make([]primitiveRange, len(in.Meshes))
	for meshIndex, mesh := range in.Meshes {
		if len(mesh.Indices)%3 != 0 {
			return nil, fmt.Errorf("scene: mesh %d (%s): index count %d is not a multiple of 3", meshIndex, mesh.Name, len(mesh.Indices))
		}
		triCount := len(mesh.Indices) / 3
		if mesh.Materials != nil && len(mesh.Materials) != triCount {
			return nil, fmt.Errorf("scene: mesh %d (%s): expected %d per-triangle materials; got %d", meshIndex, mesh.Name, triCount, len(mesh.Materials))
		}

		first := uint32(len(store.Primitives))
		dropped := 0
		for tri := 0; tri < triCount; tri++ {
			prim := Primitive{Material: mesh.Material}
			if mesh.Materials != nil {
				prim.Material = mesh.Materials[tri]
			}
			if int(prim.Material) >= len(in.Materials) {
				return nil, fmt.Errorf("scene: mesh %d (%s): triangle %d references unknown material %d", meshIndex, mesh.Name, tri, prim.Material)
			}
			for i := 0; i < 3; i++ {
				prim.Indices[i] = mesh.Indices[tri*3+i]
				if int(prim.Indices[i]) >= len(in.Vertices) {
					return nil, fmt.Errorf("scene: mesh %d (%s): triangle %d references vertex %d; only %d vertices defined", meshIndex, mesh.Name, tri, prim.Indices[i], len(in.Vertices))
				}
			}

			if store.isDegenerate(prim) {
				dropped++
				continue
			}
			store.Primitives = append(store.Primitives, prim)
		}

		if dropped > 0 {
			logger.Warningf("mesh %d (%s): dropped %d degenerate triangle(s)", meshIndex, mesh.Name, dropped)
			store.Dropped += dropped
		}
		meshRanges[meshIndex] = primitiveRange{first: first, count: uint32(len(store.Primitives)) - first}
	}

	instances := in.Instances
	if len(instances) == 0 {
		instances = make([]MeshInstance, len(in.Meshes))
		for idx := range instances {
			instances[idx] = MeshInstance{Mesh: idx, Transform: types.Ident4()}
		}
	}

	for idx, inst := range instances {
		if inst.Mesh < 0 || inst.Mesh >= len(meshRanges) {
			return nil, fmt.Errorf("scene: instance %d references unknown mesh %d", idx, inst.Mesh)
		}
		r := meshRanges[inst.Mesh]
		if r.count == 0 {
			continue
		}
		store.Instances = append(store.Instances, Instance{
			FirstPrimitive: r.first,
			PrimitiveCount: r.count,
			Transform:      inst.Transform,
			NormalMatrix:   inst.Transform.NormalMat(),
		})
	}

	if len(store.Instances) == 0 {
		return nil, ErrNoGeometry
	}

	return store, nil
}

func (s *GeometryStore) isDegenerate(prim Primitive) bool {
	v0 := s.Vertices[prim.Indices[0]].Position
	v1 := s.Vertices[prim.Indices[1]].Position
	v2 := s.Vertices[prim.Indices[2]].Position

	n := v1.Sub(v0).Cross(v2.Sub(v0))
	area2 := float64(n.Dot(n))
	return math.IsNaN(area2) || math.IsInf(area2, 0) || area2 < degenerateAreaEpsilon
}

// Get the total number of world-space triangles produced by all instances.
func (s *GeometryStore) InstancedPrimitiveCount() int {
	count := 0
	for _, inst := range s.Instances {
		count += int(inst.PrimitiveCount)
	}
	return count
}
