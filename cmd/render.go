package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/DavidPeicho/loupiote/renderer"
	"github.com/DavidPeicho/loupiote/tracer"
	"github.com/DavidPeicho/loupiote/tracer/gpu"
	"github.com/DavidPeicho/loupiote/types"
	"github.com/HugoSmits86/nativewebp"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
)

// Map command flags to renderer options.
func optionsFromFlags(ctx *cli.Context) (renderer.Options, error) {
	opts := renderer.DefaultOptions(uint32(ctx.Int("width")), uint32(ctx.Int("height")))
	opts.Exposure = float32(ctx.Float64("exposure"))
	opts.Lanes = ctx.Int("lanes")
	opts.Accumulate = !ctx.Bool("no-accumulate")
	opts.MovingScale = float32(ctx.Float64("moving-scale"))
	opts.MovingBounceDepth = ctx.Int("moving-depth")

	opts.Integrator.MaxBounceDepth = ctx.Int("max-depth")
	opts.Integrator.RRMinDepth = ctx.Int("rr-depth")
	opts.Integrator.Epsilon = float32(ctx.Float64("epsilon"))

	opts.BVH.LeafPrimitiveThreshold = ctx.Int("leaf-size")
	opts.BVH.MaxLeafPrimitives = max(opts.BVH.MaxLeafPrimitives, opts.BVH.LeafPrimitiveThreshold)

	opts.Denoiser.Alpha = float32(ctx.Float64("svgf-alpha"))
	opts.Denoiser.SpatialPasses = ctx.Int("svgf-passes")

	display, err := renderer.ParseDisplayMode(ctx.String("display"))
	if err != nil {
		return opts, err
	}
	opts.Display = display

	return opts, opts.Validate()
}

// Select the intersector requested by the device flag. A nil intersector
// selects the renderer's CPU lanes.
func selectIntersector(device string) (tracer.Intersector, error) {
	switch strings.ToLower(device) {
	case "cpu":
		return nil, nil
	case "gpu", "auto":
		in, err := gpu.NewIntersector()
		if err == nil {
			return in, nil
		}
		if strings.EqualFold(device, "auto") && errors.Is(err, gpu.ErrNoAdapter) {
			logger.Warningf("%v; falling back to cpu", err)
			return nil, nil
		}
		return nil, err
	}
	return nil, fmt.Errorf("unknown device %q; expected one of: cpu, gpu, auto", device)
}

// Expose prometheus metrics on addr until the returned func is invoked.
func serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()
	logger.Noticef("serving metrics on http://%s/metrics", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}

// Setup a renderer from the command flags and scene argument.
func setupRenderer(ctx *cli.Context, opts renderer.Options) (*renderer.Renderer, func(), error) {
	store, _, err := loadStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	intersector, err := selectIntersector(ctx.String("device"))
	if err != nil {
		return nil, nil, err
	}

	r, err := renderer.New(context.Background(), opts, intersector, store)
	if err != nil {
		if intersector != nil {
			intersector.Close()
		}
		return nil, nil, err
	}

	stopMetrics := serveMetrics(ctx.String("metrics-addr"))
	cleanup := func() {
		stopMetrics()
		r.Close()
		if intersector != nil {
			intersector.Close()
		}
	}
	return r, cleanup, nil
}

// Render a still frame.
func RenderFrame(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	opts, err := optionsFromFlags(ctx)
	if err != nil {
		return err
	}

	r, cleanup, err := setupRenderer(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	renderCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	transform := r.Scene().Camera.Transform()
	frameCount := ctx.Int("frames")
	var frame *renderer.Frame
	for index := 0; index < frameCount; index++ {
		next, err := r.Render(renderCtx, transform, uint32(index))
		if errors.Is(err, renderer.ErrInterrupted) && frame != nil {
			logger.Warningf("interrupted after %d frames; saving last presented frame", index)
			break
		}
		if err != nil {
			return err
		}
		frame = next
	}

	displayFrameStats(r.Stats())
	return saveFrame(frame, ctx.String("out"))
}

// Render an animated orbit around the scene camera's look-at point.
func RenderOrbit(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	opts, err := optionsFromFlags(ctx)
	if err != nil {
		return err
	}
	opts = orbitOptions(opts)

	outPattern := ctx.String("out")
	if !strings.Contains(outPattern, "%") {
		return fmt.Errorf("output pattern %q must contain a frame number verb such as %%04d", outPattern)
	}

	r, cleanup, err := setupRenderer(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	renderCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cam := r.Scene().Camera
	frameCount := ctx.Int("frames")
	arc := float32(ctx.Float64("degrees")) * math.Pi / 180
	for index := 0; index < frameCount; index++ {
		angle := arc * float32(index) / float32(max(1, frameCount-1))
		frame, err := r.Render(renderCtx, orbitTransform(cam.Position, cam.LookAt, cam.Up, angle), uint32(index))
		if err != nil {
			return err
		}
		if err = saveFrame(frame, fmt.Sprintf(outPattern, index)); err != nil {
			return err
		}
	}

	displayFrameStats(r.Stats())
	return nil
}

// Adjust opts for rendering an orbit. The camera moves every frame so only
// the denoiser history carries samples across frames, and every frame is
// rendered at full quality.
func orbitOptions(opts renderer.Options) renderer.Options {
	opts.Accumulate = false
	opts.MovingScale = 1
	opts.MovingBounceDepth = 0
	return opts
}

// Get the camera-to-world transform of eye rotated by angle around the
// vertical axis through center.
func orbitTransform(eye, center, up types.Vec3, angle float32) types.Mat4 {
	offset := types.RotateY4(angle).TransformVector(eye.Sub(center))
	return types.LookAtV(center.Add(offset), center, up).Inv()
}

// Encode frame using the format implied by the file extension.
func saveFrame(frame *renderer.Frame, imgFile string) error {
	if frame == nil {
		return errors.New("no frame was rendered")
	}

	f, err := os.Create(imgFile)
	if err != nil {
		return err
	}
	defer f.Close()

	img := frame.Image()
	switch ext := strings.ToLower(filepath.Ext(imgFile)); ext {
	case ".png":
		err = png.Encode(f, img)
	case ".webp":
		err = nativewebp.Encode(f, img, nil)
	default:
		err = fmt.Errorf("unsupported image format %q; expected .png or .webp", ext)
	}
	if err != nil {
		return err
	}

	logger.Noticef("wrote %dx%d %s frame to %s", frame.Width, frame.Height, frame.Display, imgFile)
	return nil
}

func displayFrameStats(stats renderer.FrameStats) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Stage", "Time"})
	for _, stage := range stats.Stages {
		table.Append([]string{stage.Name, stage.Time.String()})
	}
	table.SetFooter([]string{"TOTAL", stats.RenderTime.String()})
	table.Render()

	table = tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Lane", "Block height", "% of pass", "Render time"})
	for _, stat := range stats.Lanes {
		table.Append([]string{
			stat.Id,
			fmt.Sprintf("%d", stat.BlockH),
			fmt.Sprintf("%02.1f %%", stat.FramePercent),
			stat.RenderTime.String(),
		})
	}
	table.Render()

	logger.Noticef(
		"frame %d statistics (%dx%d, %d spp, %d rays, %s, scene generation %d with %d triangles)\n%s",
		stats.Index, stats.RenderW, stats.RenderH, stats.Samples, stats.RaysTraced,
		stats.Intersector, stats.Scene.Generation, stats.Scene.Triangles, buf.String(),
	)
	if stats.RebuildErr != nil {
		logger.Warningf("last scene rebuild failed: %v", stats.RebuildErr)
	}
}
