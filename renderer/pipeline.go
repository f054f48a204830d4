package renderer

import (
	"context"
	"time"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/tracer/integrator"
	"github.com/DavidPeicho/loupiote/types"
)

// The state of the frame being rendered. It is threaded through every
// pipeline stage and discarded once the frame is presented.
type FrameContext struct {
	Index     uint32
	Transform types.Mat4

	// Snapshot of the renderer options taken when the frame started.
	Options Options

	Scene  *scene.Scene
	Camera *scene.Camera

	// Set when the camera moved since the previous frame.
	Moving bool

	// Render resolution and bounce depth for this frame.
	RenderW        uint32
	RenderH        uint32
	MaxBounceDepth int

	// Set by the accumulate stage when the sample was added to the
	// accumulation buffer.
	Accumulated bool

	// The denoised output, if the denoise stage ran.
	Denoised []types.Vec3

	// The presented frame.
	Frame *Frame
}

// An alias for functions that can be used as part of the frame pipeline.
type PipelineStage func(ctx context.Context, r *Renderer, fc *FrameContext) (time.Duration, error)

// The list of stages executed, in order, for every frame.
type Pipeline struct {
	// Adopt finished scene rebuilds and apply pending invalidations.
	SceneSync PipelineStage

	// Place the camera and select the render resolution.
	Camera PipelineStage

	// Trace one sample per pixel.
	Integrate PipelineStage

	// Fold the sample into the accumulation buffer.
	Accumulate PipelineStage

	// Run the spatiotemporal filter.
	Denoise PipelineStage

	// Assemble the output frame.
	Present PipelineStage
}

type namedStage struct {
	name string
	run  PipelineStage

	// Cancellation is only observed up to and including integration.
	cancellable bool
}

func DefaultPipeline() *Pipeline {
	return &Pipeline{
		SceneSync:  SyncScene(),
		Camera:     PerspectiveCamera(),
		Integrate:  PathIntegrator(),
		Accumulate: AccumulateSamples(),
		Denoise:    SVGF(),
		Present:    PresentFrame(),
	}
}

func (p *Pipeline) stages() []namedStage {
	return []namedStage{
		{"scene_sync", p.SceneSync, true},
		{"camera", p.Camera, true},
		{"integrate", p.Integrate, true},
		{"accumulate", p.Accumulate, false},
		{"denoise", p.Denoise, false},
		{"present", p.Present, false},
	}
}

// Swap in the latest completed scene rebuild.
func SyncScene() PipelineStage {
	return func(ctx context.Context, r *Renderer, fc *FrameContext) (time.Duration, error) {
		start := time.Now()
		r.syncScene()

		if accW, accH := r.accum.Size(); accW != fc.Options.FrameW || accH != fc.Options.FrameH {
			r.accum.Resize(fc.Options.FrameW, fc.Options.FrameH)
		}
		if r.invalidated.Swap(false) {
			r.logger.Debugf("frame %d: resetting accumulation and denoiser history", fc.Index)
			r.accum.Invalidate()
			r.denoiser.Reset()
		}

		fc.Scene = r.scene.Load()
		if fc.Scene == nil {
			return 0, ErrSceneNotDefined
		}
		return time.Since(start), nil
	}
}

// Use a perspective camera placed by the frame's camera transform.
func PerspectiveCamera() PipelineStage {
	return func(ctx context.Context, r *Renderer, fc *FrameContext) (time.Duration, error) {
		start := time.Now()
		if r.camera == nil {
			return 0, ErrCameraNotDefined
		}

		opts := &fc.Options
		fc.Moving = r.hasPrev && !fc.Transform.ApproxEqual(r.prevTransform, 1e-6)
		fc.RenderW, fc.RenderH = opts.FrameW, opts.FrameH
		fc.MaxBounceDepth = opts.Integrator.MaxBounceDepth
		if fc.Moving {
			fc.RenderW, fc.RenderH = opts.movingDims()
			if opts.MovingBounceDepth > 0 {
				fc.MaxBounceDepth = opts.MovingBounceDepth
			}
		}

		r.camera.SetTransform(fc.Transform)
		r.camera.SetupProjection(float32(opts.FrameW) / float32(opts.FrameH))
		fc.Camera = r.camera
		return time.Since(start), nil
	}
}

// Trace one path per pixel.
func PathIntegrator() PipelineStage {
	return func(ctx context.Context, r *Renderer, fc *FrameContext) (time.Duration, error) {
		start := time.Now()
		r.out.Resize(fc.RenderW, fc.RenderH)

		params := &integrator.FrameParams{
			Scene:          fc.Scene,
			Camera:         fc.Camera,
			PrevViewProj:   r.prevViewProj,
			HasPrev:        r.hasPrev,
			Frame:          fc.Index,
			Sample:         r.accum.Count(0),
			MaxBounceDepth: fc.MaxBounceDepth,
		}
		if err := r.integrator.Render(ctx, params, r.out); err != nil {
			return 0, err
		}
		return time.Since(start), nil
	}
}

// Add the frame's samples to the accumulation buffer. Reduced resolution
// frames bypass the buffer. Samples traced before a camera move are dropped
// by the first frame that reaches the buffer afterwards.
func AccumulateSamples() PipelineStage {
	return func(ctx context.Context, r *Renderer, fc *FrameContext) (time.Duration, error) {
		start := time.Now()
		if fc.Moving {
			r.accumStale = true
		}
		if accW, accH := r.accum.Size(); accW != fc.RenderW || accH != fc.RenderH {
			return time.Since(start), nil
		}
		if !fc.Options.Accumulate || r.accumStale {
			r.accum.Invalidate()
			r.accumStale = false
		}
		if err := r.accum.UpdateFrame(ctx, r.out.Color); err != nil {
			return 0, err
		}
		fc.Accumulated = true
		return time.Since(start), nil
	}
}

// Denoise the raw frame sample. The filter only runs when the display mode
// needs it; skipping a frame drops the history since it can no longer be
// reprojected.
func SVGF() PipelineStage {
	return func(ctx context.Context, r *Renderer, fc *FrameContext) (time.Duration, error) {
		start := time.Now()
		mode := fc.Options.Display
		if mode != DisplayDenoised && mode != DisplayTemporal {
			r.denoiserStale = true
			return time.Since(start), nil
		}
		if r.denoiserStale {
			r.denoiser.Reset()
			r.denoiserStale = false
		}

		out := r.out
		denoised, err := r.denoiser.Denoise(ctx, out.Color, &out.GBuffer, out.Width, out.Height)
		if err != nil {
			return 0, err
		}
		fc.Denoised = denoised
		return time.Since(start), nil
	}
}

// Assemble the presented frame at full resolution.
func PresentFrame() PipelineStage {
	return func(ctx context.Context, r *Renderer, fc *FrameContext) (time.Duration, error) {
		start := time.Now()
		opts := &fc.Options
		out := r.out

		frame := &Frame{
			Index:    fc.Index,
			Width:    opts.FrameW,
			Height:   opts.FrameH,
			Color:    make([]types.Vec3, opts.FrameW*opts.FrameH),
			Display:  opts.Display,
			Exposure: opts.Exposure,
			Raw:      opts.Display.IsGBuffer(),
		}

		var src []types.Vec3
		switch {
		case opts.Display.IsGBuffer():
			src = make([]types.Vec3, len(out.Color))
			visualizeGBuffer(opts.Display, &out.GBuffer, src)
		case opts.Display == DisplayDenoised:
			src = fc.Denoised
		case opts.Display == DisplayTemporal:
			src = r.denoiser.Temporal()
		case fc.Accumulated:
			src = r.accum.Means()
		default:
			src = out.Color
		}

		if out.Width == frame.Width && out.Height == frame.Height {
			copy(frame.Color, src)
		} else {
			upscaleNearest(src, out.Width, out.Height, frame.Color, frame.Width, frame.Height)
		}

		fc.Frame = frame
		return time.Since(start), nil
	}
}
