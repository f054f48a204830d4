package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DavidPeicho/loupiote/log"
	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/scene/compiler"
	"github.com/DavidPeicho/loupiote/tracer"
	"github.com/DavidPeicho/loupiote/tracer/accumulator"
	"github.com/DavidPeicho/loupiote/tracer/cpu"
	"github.com/DavidPeicho/loupiote/tracer/denoise"
	"github.com/DavidPeicho/loupiote/tracer/integrator"
	"github.com/DavidPeicho/loupiote/types"
)

// Renderer drives the per-frame pipeline: it adopts background scene
// rebuilds, traces one sample per pixel, accumulates and denoises it and
// presents the result. Render calls are serialized; Invalidate, UpdateScene,
// Resize and SetDisplayMode may be called from any goroutine and take effect
// on the next frame.
type Renderer struct {
	logger   log.Logger
	pipeline *Pipeline

	// Serializes frames.
	frameMu sync.Mutex

	// Guards opts.
	optsMu sync.Mutex
	opts   Options

	device          *cpu.Device
	intersector     tracer.Intersector
	ownsIntersector bool
	integrator      *integrator.Integrator
	accum           *accumulator.Buffer
	accumStale      bool
	denoiser        *denoise.Denoiser
	denoiserStale   bool
	out             *integrator.Output

	// The active scene; replaced by the scene sync stage.
	scene     atomic.Pointer[scene.Scene]
	rebuilder *compiler.Rebuilder
	taskMu    sync.Mutex
	task      *compiler.Task

	camera      *scene.Camera
	invalidated atomic.Bool

	// Camera state of the last presented frame.
	prevTransform types.Mat4
	prevViewProj  types.Mat4
	hasPrev       bool

	statsMu    sync.Mutex
	stats      FrameStats
	rebuildErr error

	closed atomic.Bool
}

// Create a renderer for the scene in store. The initial scene is compiled
// synchronously. If intersector is nil, rays are traced on the renderer's
// CPU lanes.
func New(ctx context.Context, opts Options, intersector tracer.Intersector, store *scene.GeometryStore) (*Renderer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrSceneNotDefined
	}

	sc, err := compiler.Compile(ctx, store, opts.BVH)
	if err != nil {
		return nil, fmt.Errorf("renderer: could not compile scene: %w", err)
	}
	if sc.Camera == nil {
		return nil, ErrCameraNotDefined
	}

	r := &Renderer{
		logger:    log.New("renderer"),
		pipeline:  DefaultPipeline(),
		opts:      opts,
		device:    cpu.NewDevice(opts.Lanes),
		rebuilder: compiler.NewRebuilder(opts.BVH, sc.Generation),
		camera:    sc.Camera.Clone(),
		out:       integrator.NewOutput(opts.FrameW, opts.FrameH),
	}
	r.accum = accumulator.New(r.device, opts.FrameW, opts.FrameH)
	r.rebuilder.SetObserver(func(outcome compiler.Outcome, elapsed time.Duration) {
		rebuildsTotal.WithLabelValues(string(outcome)).Inc()
		rebuildDuration.Observe(elapsed.Seconds())
	})

	if intersector == nil {
		intersector = cpu.NewIntersector(r.device)
		r.ownsIntersector = true
	}
	r.intersector = intersector

	if err = r.intersector.SetScene(sc); err != nil {
		r.Close()
		return nil, fmt.Errorf("renderer: could not upload scene to %s: %w", intersector.Id(), err)
	}
	r.scene.Store(sc)

	if r.integrator, err = integrator.New(opts.Integrator, r.intersector, r.device); err != nil {
		r.Close()
		return nil, err
	}
	if r.denoiser, err = denoise.New(opts.Denoiser, r.device); err != nil {
		r.Close()
		return nil, err
	}

	r.logger.Noticef("rendering %dx%d frames using %s and %d cpu lanes", opts.FrameW, opts.FrameH, intersector.Id(), r.device.Lanes())
	return r, nil
}

// Render the next frame for the supplied camera-to-world transform. If ctx is
// cancelled before the frame's samples are traced, ErrInterrupted is returned
// and no frame is presented. A transform that differs from the previous
// frame's discards the accumulated samples; progressive refinement restarts
// from the first frame rendered at the new pose.
func (r *Renderer) Render(ctx context.Context, cameraTransform types.Mat4, frameIndex uint32) (*Frame, error) {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()

	if r.closed.Load() {
		return nil, ErrClosed
	}

	r.optsMu.Lock()
	fc := &FrameContext{
		Index:     frameIndex,
		Transform: cameraTransform,
		Options:   r.opts,
	}
	r.optsMu.Unlock()

	start := time.Now()
	stages := r.pipeline.stages()
	timings := make([]StageStat, 0, len(stages))
	for _, stage := range stages {
		stageCtx := ctx
		if stage.cancellable {
			if err := ctx.Err(); err != nil {
				return nil, r.interrupted(fc, stage.name, err)
			}
		} else {
			stageCtx = context.WithoutCancel(ctx)
		}

		elapsed, err := stage.run(stageCtx, r, fc)
		if err != nil {
			if stage.cancellable && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return nil, r.interrupted(fc, stage.name, err)
			}
			framesTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("renderer: %s stage failed: %w", stage.name, err)
		}

		stageDuration.WithLabelValues(stage.name).Observe(elapsed.Seconds())
		timings = append(timings, StageStat{Name: stage.name, Time: elapsed})
	}

	r.prevTransform = cameraTransform
	r.prevViewProj = fc.Camera.ViewProjMat()
	r.hasPrev = true

	r.recordStats(fc, timings, time.Since(start))
	framesTotal.WithLabelValues("presented").Inc()
	return fc.Frame, nil
}

func (r *Renderer) interrupted(fc *FrameContext, stage string, cause error) error {
	framesTotal.WithLabelValues("interrupted").Inc()
	r.logger.Infof("frame %d interrupted during %s stage: %v", fc.Index, stage, cause)
	return fmt.Errorf("%w: %v", ErrInterrupted, cause)
}

// Reset the accumulation buffer and the denoiser history on the next frame.
func (r *Renderer) Invalidate() {
	r.invalidated.Store(true)
}

// Start compiling store in the background. The renderer keeps using the
// current scene until the rebuild completes and then swaps it in at the start
// of the next frame. Submitting a newer store supersedes the returned task.
func (r *Renderer) UpdateScene(store *scene.GeometryStore) *compiler.Task {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()

	r.task = r.rebuilder.Submit(context.Background(), store)
	return r.task
}

// Adopt a completed rebuild, if any, and record rebuild failures.
func (r *Renderer) syncScene() {
	r.taskMu.Lock()
	task := r.task
	r.taskMu.Unlock()

	if task != nil {
		select {
		case <-task.Done():
			_, err := task.Wait(context.Background())
			r.taskMu.Lock()
			if r.task == task {
				r.task = nil
			}
			r.taskMu.Unlock()

			if !errors.Is(err, compiler.ErrSuperseded) {
				r.statsMu.Lock()
				r.rebuildErr = err
				r.statsMu.Unlock()
			}
		default:
		}
	}

	sc := r.rebuilder.Take()
	if sc == nil {
		return
	}
	if err := r.intersector.SetScene(sc); err != nil {
		r.logger.Errorf("could not upload scene generation %d; keeping previous scene: %v", sc.Generation, err)
		r.statsMu.Lock()
		r.rebuildErr = err
		r.statsMu.Unlock()
		return
	}
	r.scene.Store(sc)
	r.invalidated.Store(true)
	r.logger.Noticef("switched to scene generation %d (%d triangles)", sc.Generation, len(sc.Triangles))
}

// Change the frame dims. The accumulation buffer and the denoiser history
// are reseeded on the next frame.
func (r *Renderer) Resize(frameW, frameH uint32) error {
	if frameW == 0 || frameH == 0 {
		return fmt.Errorf("renderer: frame dims must be positive; got %dx%d", frameW, frameH)
	}
	r.optsMu.Lock()
	r.opts.FrameW, r.opts.FrameH = frameW, frameH
	r.optsMu.Unlock()
	return nil
}

// Select the buffer presented by the following frames.
func (r *Renderer) SetDisplayMode(mode DisplayMode) error {
	if !mode.valid() {
		return fmt.Errorf("renderer: invalid display mode %d", int(mode))
	}
	r.optsMu.Lock()
	r.opts.Display = mode
	r.optsMu.Unlock()
	return nil
}

// Get the active scene.
func (r *Renderer) Scene() *scene.Scene {
	return r.scene.Load()
}

// Get a copy of the renderer options.
func (r *Renderer) Options() Options {
	r.optsMu.Lock()
	defer r.optsMu.Unlock()
	return r.opts
}

func (r *Renderer) recordStats(fc *FrameContext, timings []StageStat, renderTime time.Duration) {
	samples := r.accum.Count(0)
	if !fc.Accumulated {
		samples = 1
	}
	traced := r.integrator.RaysTraced()
	accumulatedSamples.Set(float64(samples))
	raysTraced.Add(float64(traced))

	laneStats := r.device.Stats()
	var total uint32
	for _, ls := range laneStats {
		total += ls.BlockH
	}
	lanes := make([]LaneStat, len(laneStats))
	for idx, ls := range laneStats {
		lanes[idx] = LaneStat{
			Id:         fmt.Sprintf("cpu-lane-%d", idx),
			BlockH:     ls.BlockH,
			RenderTime: ls.RenderTime,
		}
		if total > 0 {
			lanes[idx].FramePercent = 100 * float32(ls.BlockH) / float32(total)
		}
	}

	sc := fc.Scene
	sceneStat := SceneStat{
		Generation: sc.Generation,
		Triangles:  len(sc.Triangles),
		Emissive:   len(sc.Emissive),
	}
	if sc.BVH != nil {
		sceneStat.BvhNodes = len(sc.BVH.Nodes)
		sceneStat.BvhDepth = sc.BVH.Depth
	}

	r.statsMu.Lock()
	r.stats = FrameStats{
		Index:       fc.Index,
		RenderW:     fc.RenderW,
		RenderH:     fc.RenderH,
		Moving:      fc.Moving,
		Samples:     samples,
		RaysTraced:  traced,
		Display:     fc.Options.Display,
		Intersector: r.intersector.Id(),
		Scene:       sceneStat,
		Stages:      timings,
		Lanes:       lanes,
		RebuildErr:  r.rebuildErr,
		RenderTime:  renderTime,
	}
	r.statsMu.Unlock()

	r.logger.Debugf("frame %d: %dx%d, %d spp, %d rays in %d ms", fc.Index, fc.RenderW, fc.RenderH, samples, traced, renderTime.Nanoseconds()/1e6)
}

// Get render statistics of the last presented frame.
func (r *Renderer) Stats() FrameStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	stats := r.stats
	stats.RebuildErr = r.rebuildErr
	return stats
}

// Shutdown the renderer. Background rebuilds are cancelled. An intersector
// supplied by the caller is not closed.
func (r *Renderer) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.frameMu.Lock()
	defer r.frameMu.Unlock()

	r.rebuilder.Close()
	if r.ownsIntersector && r.intersector != nil {
		r.intersector.Close()
	}
	r.device.Close()
}
