package integrator

import (
	"context"
	"errors"
	"math"

	"github.com/DavidPeicho/loupiote/log"
	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/tracer"
	"github.com/DavidPeicho/loupiote/tracer/cpu"
	"github.com/DavidPeicho/loupiote/types"
)

var (
	ErrNoCamera = errors.New("integrator: no camera defined")
)

// The motion vector stored for surfaces that cannot be reprojected.
var invalidMotion = types.Vec2{float32(math.Inf(1)), float32(math.Inf(1))}

// The state of one sample's bounce chain.
type pathState struct {
	ray        tracer.Ray
	throughput types.Vec3
	radiance   types.Vec3
	depth      int
	rng        Rand
	alive      bool
}

// Per-invocation inputs.
type FrameParams struct {
	Scene  *scene.Scene
	Camera *scene.Camera

	// The view-projection matrix of the previous frame; used for motion
	// vectors when HasPrev is set.
	PrevViewProj types.Mat4
	HasPrev      bool

	// Random stream selectors.
	Frame  uint32
	Sample uint32

	// Overrides Config.MaxBounceDepth when positive.
	MaxBounceDepth int
}

// Integrator produces one path traced radiance sample per pixel per Render
// call. Paths are processed wavefront style: all live paths are intersected
// as one batch and then shaded in parallel until every path terminates or
// the bounce limit is reached.
type Integrator struct {
	logger      log.Logger
	cfg         Config
	intersector tracer.Intersector
	device      *cpu.Device

	// Scratch buffers; reused across frames.
	paths  []pathState
	active []uint32
	rays   []tracer.Ray
	hits   []tracer.HitRecord

	raysTraced uint64
}

// Create an integrator that traces rays with intersector and runs its
// per-pixel passes on device.
func New(cfg Config, intersector tracer.Intersector, device *cpu.Device) (*Integrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Integrator{
		logger:      log.New("integrator"),
		cfg:         cfg,
		intersector: intersector,
		device:      device,
	}, nil
}

// Get the integrator configuration.
func (it *Integrator) Config() Config {
	return it.cfg
}

// Get the number of rays traced by the last Render call.
func (it *Integrator) RaysTraced() uint64 {
	return it.raysTraced
}

func (it *Integrator) ensureCapacity(count int) {
	if cap(it.paths) >= count {
		it.paths = it.paths[:count]
		it.active = it.active[:count]
		it.rays = it.rays[:count]
		it.hits = it.hits[:count]
		return
	}
	it.paths = make([]pathState, count)
	it.active = make([]uint32, count)
	it.rays = make([]tracer.Ray, count)
	it.hits = make([]tracer.HitRecord, count)
}

// Trace one sample for every pixel of out. The scene must already be set on
// the intersector. If ctx is cancelled, the context error is returned and the
// contents of out are undefined.
func (it *Integrator) Render(ctx context.Context, params *FrameParams, out *Output) error {
	if params.Scene == nil {
		return tracer.ErrNoScene
	}
	if params.Camera == nil {
		return ErrNoCamera
	}

	pixelCount := int(out.Width * out.Height)
	it.ensureCapacity(pixelCount)
	it.raysTraced = 0

	maxDepth := it.cfg.MaxBounceDepth
	if params.MaxBounceDepth > 0 {
		maxDepth = params.MaxBounceDepth
	}

	if err := it.device.Exec(ctx, uint32(pixelCount), func(start, end uint32) {
		it.generatePrimary(params, out, start, end)
	}); err != nil {
		return err
	}

	viewProj := params.Camera.ViewProjMat()
	for depth := 0; depth < maxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		live := 0
		for index := range it.paths {
			if it.paths[index].alive {
				it.active[live] = uint32(index)
				it.rays[live] = it.paths[index].ray
				live++
			}
		}
		if live == 0 {
			break
		}

		if err := it.intersector.Intersect(ctx, it.rays[:live], it.hits[:live]); err != nil {
			return err
		}
		it.raysTraced += uint64(live)

		primary := depth == 0
		if err := it.device.Exec(ctx, uint32(live), func(start, end uint32) {
			for index := start; index < end; index++ {
				it.shade(params, out, viewProj, &it.paths[it.active[index]], &it.hits[index], primary)
			}
		}); err != nil {
			return err
		}
	}

	return it.device.Exec(ctx, uint32(pixelCount), func(start, end uint32) {
		for pixel := start; pixel < end; pixel++ {
			out.Color[pixel] = it.paths[pixel].radiance
		}
	})
}

// Generate jittered pinhole camera rays and reset the G-buffer.
func (it *Integrator) generatePrimary(params *FrameParams, out *Output, start, end uint32) {
	cam := params.Camera
	invW := 1 / float32(out.Width)
	invH := 1 / float32(out.Height)

	for pixel := start; pixel < end; pixel++ {
		x := pixel % out.Width
		y := pixel / out.Width

		rng := NewRand(pixel, params.Sample, params.Frame)
		u := (float32(x) + rng.Float32()) * invW
		v := (float32(y) + rng.Float32()) * invH

		ray := tracer.NewRay(cam.Position, cam.RayDir(u, v).Normalize(), 0)
		ray.Pixel = pixel

		it.paths[pixel] = pathState{
			ray:        ray,
			throughput: types.Splat3(1),
			rng:        rng,
			alive:      true,
		}

		out.Depth[pixel] = float32(math.Inf(1))
		out.Normal[pixel] = types.Vec3{}
		out.Motion[pixel] = invalidMotion
	}
}

// Process the hit record of one live path.
func (it *Integrator) shade(params *FrameParams, out *Output, viewProj types.Mat4, path *pathState, hit *tracer.HitRecord, primary bool) {
	if hit.IsMiss() {
		env := it.cfg.Environment.Radiance(path.ray.Dir)
		path.radiance = path.radiance.Add(path.throughput.MulVec(env))
		path.alive = false
		return
	}

	sc := params.Scene
	tri := &sc.Triangles[hit.Primitive]
	mat := &sc.Materials[tri.Material]

	pos := path.ray.At(hit.T)
	wo := path.ray.Dir.Neg()
	ng := tri.GeometricNormal().Normalize()
	bary := hit.Barycentrics()
	ns := tri.N0.Mul(bary[0]).Add(tri.N1.Mul(bary[1])).Add(tri.N2.Mul(bary[2])).Normalize()
	if ns.Len() == 0 {
		ns = ng
	}

	frontFace := ng.Dot(wo) > 0
	if !frontFace {
		ng = ng.Neg()
	}
	if ns.Dot(ng) < 0 {
		ns = ns.Neg()
	}

	if primary {
		pixel := path.ray.Pixel
		out.Depth[pixel] = hit.T
		out.Normal[pixel] = ns
		if params.HasPrev {
			curX, curY, curOk := scene.ProjectToPixel(viewProj, pos, out.Width, out.Height)
			prevX, prevY, prevOk := scene.ProjectToPixel(params.PrevViewProj, pos, out.Width, out.Height)
			if curOk && prevOk {
				out.Motion[pixel] = types.Vec2{prevX - curX, prevY - curY}
			}
		}
	}

	if mat.Kind == scene.Emissive {
		path.radiance = path.radiance.Add(path.throughput.MulVec(mat.Emission))
	}

	sample := sampleBSDF(mat, wo, ns, frontFace, &path.rng)
	if !sample.ok {
		path.alive = false
		return
	}
	path.throughput = path.throughput.MulVec(sample.weight)
	path.depth++

	maxThroughput := path.throughput.MaxComponent()
	if maxThroughput <= 0 {
		path.alive = false
		return
	}
	if path.depth >= it.cfg.RRMinDepth {
		survival := min(max(maxThroughput, it.cfg.RRMinProb), it.cfg.RRMaxProb)
		if path.rng.Float32() >= survival {
			path.alive = false
			return
		}
		path.throughput = path.throughput.Mul(1 / survival)
	}

	side := ng
	if sample.dir.Dot(ng) < 0 {
		side = ng.Neg()
	}
	path.ray = tracer.Ray{
		Origin: pos.Add(side.Mul(it.cfg.Epsilon)),
		TMin:   it.cfg.Epsilon,
		Dir:    sample.dir,
		TMax:   math.MaxFloat32,
		Pixel:  path.ray.Pixel,
		Depth:  uint32(path.depth),
	}
}
