package compiler

import (
	"context"
	"time"

	"github.com/DavidPeicho/loupiote/log"
	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/types"
)

type sceneCompiler struct {
	ctx   context.Context
	store *scene.GeometryStore
	opts  BuildOptions

	// World-space triangles in instance order.
	flattened []scene.Triangle

	optimizedScene *scene.Scene
	logger         log.Logger
}

// Compile a validated GeometryStore into a render-ready scene: instances are
// flattened into world space, a BVH is built over the resulting triangles and
// the triangle list is reordered to match the BVH leaf ranges.
func Compile(ctx context.Context, store *scene.GeometryStore, opts BuildOptions) (*scene.Scene, error) {
	compiler := &sceneCompiler{
		ctx:   ctx,
		store: store,
		opts:  opts,
		optimizedScene: &scene.Scene{
			Materials: store.Materials,
			Bounds:    types.EmptyAABB(),
		},
		logger: log.New("scene compiler"),
	}

	start := time.Now()
	compiler.logger.Infof("compiling scene (%d primitives, %d instances)", len(store.Primitives), len(store.Instances))

	compiler.flattenInstances()

	if err := compiler.partitionGeometry(); err != nil {
		return nil, err
	}

	compiler.collectEmissives()
	compiler.setupCamera()

	compiler.logger.Infof("compiled scene in %d ms", time.Since(start).Nanoseconds()/1e6)
	return compiler.optimizedScene, nil
}

// Transform the primitives referenced by each instance into world space.
func (sc *sceneCompiler) flattenInstances() {
	start := time.Now()
	sc.flattened = make([]scene.Triangle, 0, sc.store.InstancedPrimitiveCount())

	for _, inst := range sc.store.Instances {
		for primIndex := inst.FirstPrimitive; primIndex < inst.FirstPrimitive+inst.PrimitiveCount; primIndex++ {
			prim := sc.store.Primitives[primIndex]
			v0 := sc.store.Vertices[prim.Indices[0]]
			v1 := sc.store.Vertices[prim.Indices[1]]
			v2 := sc.store.Vertices[prim.Indices[2]]

			tri := scene.Triangle{
				V0:        inst.Transform.TransformPoint(v0.Position),
				V1:        inst.Transform.TransformPoint(v1.Position),
				V2:        inst.Transform.TransformPoint(v2.Position),
				Material:  prim.Material,
				Primitive: primIndex,
			}

			// Vertices without normals fall back to the face normal.
			faceNormal := tri.GeometricNormal().Normalize()
			tri.N0 = transformNormal(inst.NormalMatrix, v0.Normal, faceNormal)
			tri.N1 = transformNormal(inst.NormalMatrix, v1.Normal, faceNormal)
			tri.N2 = transformNormal(inst.NormalMatrix, v2.Normal, faceNormal)

			sc.flattened = append(sc.flattened, tri)
			sc.optimizedScene.Bounds = sc.optimizedScene.Bounds.Union(tri.BBox())
		}
	}

	sc.logger.Debugf("flattened %d instances into %d triangles in %d ms", len(sc.store.Instances), len(sc.flattened), time.Since(start).Nanoseconds()/1e6)
}

// Build the BVH and reorder triangles so each leaf references a contiguous range.
func (sc *sceneCompiler) partitionGeometry() error {
	start := time.Now()

	volList := make([]BoundedVolume, len(sc.flattened))
	for index := range sc.flattened {
		volList[index] = &sc.flattened[index]
	}

	bvh, err := BuildBVH(sc.ctx, volList, sc.opts)
	if err != nil {
		return err
	}

	sc.optimizedScene.BVH = bvh
	sc.optimizedScene.Triangles = make([]scene.Triangle, len(sc.flattened))
	for slot, itemIndex := range bvh.Permutation {
		sc.optimizedScene.Triangles[slot] = sc.flattened[itemIndex]
	}

	sc.logger.Infof("partitioned geometry in %d ms (nodes: %d, leafs: %d, depth: %d)", time.Since(start).Nanoseconds()/1e6, len(bvh.Nodes), bvh.Leafs, bvh.Depth)
	return nil
}

func (sc *sceneCompiler) collectEmissives() {
	for index := range sc.optimizedScene.Triangles {
		mat := &sc.optimizedScene.Materials[sc.optimizedScene.Triangles[index].Material]
		if mat.IsEmissive() {
			sc.optimizedScene.Emissive = append(sc.optimizedScene.Emissive, uint32(index))
		}
	}
	if len(sc.optimizedScene.Emissive) == 0 {
		sc.logger.Info("scene does not contain any emissive geometry; only the environment will light it")
	}
}

// Use the camera supplied by the scene or frame the scene bounds.
func (sc *sceneCompiler) setupCamera() {
	if sc.store.Camera != nil {
		sc.optimizedScene.Camera = sc.store.Camera.Clone()
		return
	}

	bounds := sc.optimizedScene.Bounds
	center := bounds.Center()
	extent := bounds.Extent()
	radius := extent.Len() * 0.5

	cam := scene.NewCamera(45)
	cam.Position = center.Add(types.XYZ(0, 0, radius*2.5+1e-3))
	cam.LookAt = center
	cam.Update()
	sc.optimizedScene.Camera = cam
}

func transformNormal(normalMat types.Mat4, n, fallback types.Vec3) types.Vec3 {
	if n.Len() == 0 {
		return fallback
	}
	return normalMat.TransformVector(n).Normalize()
}
