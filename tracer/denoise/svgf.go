package denoise

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/DavidPeicho/loupiote/log"
	"github.com/DavidPeicho/loupiote/tracer/cpu"
	"github.com/DavidPeicho/loupiote/tracer/integrator"
	"github.com/DavidPeicho/loupiote/types"
)

var (
	ErrSizeMismatch = errors.New("denoise: input buffers do not match the frame size")
)

const (
	// Radius of the spatial variance estimate and the a-trous kernel.
	kernelRadius = 2

	// Keeps the depth edge stop finite on surfaces facing the camera.
	depthEpsilon = 1e-3

	// Bilinear reprojection is rejected when the valid taps carry less weight.
	minReprojectionWeight = 1e-3
)

// 1D weights of the 5x5 B-spline kernel; indexed by |offset|.
var atrousKernel = [kernelRadius + 1]float32{3.0 / 8, 1.0 / 4, 1.0 / 16}

// 1D weights of the 3x3 gaussian used for prefiltering the variance.
var gaussKernel = [2]float32{1.0 / 2, 1.0 / 4}

// Per-pixel temporal state of one frame.
type history struct {
	color   []types.Vec3
	moments []types.Vec2
	length  []uint32
	depth   []float32
	normal  []types.Vec3
}

func newHistory(count int) *history {
	return &history{
		color:   make([]types.Vec3, count),
		moments: make([]types.Vec2, count),
		length:  make([]uint32, count),
		depth:   make([]float32, count),
		normal:  make([]types.Vec3, count),
	}
}

// Denoiser implements spatiotemporal variance-guided filtering. Every frame
// the raw sample is blended into a reprojected history together with its
// luminance moments; the resulting variance then steers a number of
// edge-aware a-trous passes. History buffers ping-pong between frames.
type Denoiser struct {
	logger log.Logger
	cfg    Config
	device *cpu.Device

	width  uint32
	height uint32

	prev       *history
	cur        *history
	hasHistory bool

	temporal []types.Vec3
	gradient []types.Vec2

	ping, pong       []types.Vec3
	pingVar, pongVar []float32
	filteredVar      []float32
}

// Create a denoiser whose passes run on device. A nil device runs all passes
// on the calling goroutine.
func New(cfg Config, device *cpu.Device) (*Denoiser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Denoiser{
		logger: log.New("svgf"),
		cfg:    cfg,
		device: device,
	}, nil
}

// Get the denoiser configuration.
func (d *Denoiser) Config() Config {
	return d.cfg
}

// Discard all history. The next frame is seeded from its raw samples.
func (d *Denoiser) Reset() {
	d.hasHistory = false
	if d.prev != nil {
		clear(d.prev.length)
		clear(d.cur.length)
	}
}

// Get the history length of pixel after the last denoised frame.
func (d *Denoiser) HistoryLength(pixel int) uint32 {
	if d.prev == nil {
		return 0
	}
	return d.prev.length[pixel]
}

// Get the output of the temporal stage of the last frame. The slice is owned
// by the denoiser and is overwritten by the next call to Denoise.
func (d *Denoiser) Temporal() []types.Vec3 {
	return d.temporal
}

func (d *Denoiser) allocate(width, height uint32) {
	if d.width != 0 {
		d.logger.Infof("frame size changed from %dx%d to %dx%d; reseeding history", d.width, d.height, width, height)
	}

	count := int(width * height)
	d.width, d.height = width, height
	d.prev = newHistory(count)
	d.cur = newHistory(count)
	d.hasHistory = false

	d.temporal = make([]types.Vec3, count)
	d.gradient = make([]types.Vec2, count)
	d.ping = make([]types.Vec3, count)
	d.pong = make([]types.Vec3, count)
	d.pingVar = make([]float32, count)
	d.pongVar = make([]float32, count)
	d.filteredVar = make([]float32, count)
}

// Denoise one frame of raw samples using the frame's G-buffer. The returned
// slice is owned by the denoiser and is overwritten by the next call.
func (d *Denoiser) Denoise(ctx context.Context, color []types.Vec3, gb *integrator.GBuffer, width, height uint32) ([]types.Vec3, error) {
	count := int(width * height)
	if len(color) != count || len(gb.Depth) != count || len(gb.Normal) != count || len(gb.Motion) != count {
		return nil, fmt.Errorf("%w: expected %d pixels", ErrSizeMismatch, count)
	}
	if width != d.width || height != d.height {
		d.allocate(width, height)
	}

	if err := d.forEachPixel(ctx, func(x, y uint32) { d.temporalPixel(x, y, color, gb) }); err != nil {
		return nil, err
	}
	if err := d.forEachPixel(ctx, func(x, y uint32) { d.estimateVariance(x, y, gb) }); err != nil {
		return nil, err
	}

	copy(d.ping, d.temporal)
	for pass := 0; pass < d.cfg.SpatialPasses; pass++ {
		step := int32(1) << pass
		if err := d.forEachPixel(ctx, d.prefilterVariance); err != nil {
			return nil, err
		}
		if err := d.forEachPixel(ctx, func(x, y uint32) { d.atrousPixel(x, y, step, gb) }); err != nil {
			return nil, err
		}
		d.ping, d.pong = d.pong, d.ping
		d.pingVar, d.pongVar = d.pongVar, d.pingVar

		// The first filtered iteration becomes the color history.
		if pass == 0 {
			copy(d.cur.color, d.ping)
		}
	}

	d.prev, d.cur = d.cur, d.prev
	d.hasHistory = true
	return d.ping, nil
}

func (d *Denoiser) forEachPixel(ctx context.Context, fn func(x, y uint32)) error {
	width := d.width
	kernel := func(startRow, endRow uint32) {
		for y := startRow; y < endRow; y++ {
			for x := uint32(0); x < width; x++ {
				fn(x, y)
			}
		}
	}
	if d.device == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		kernel(0, d.height)
		return nil
	}
	return d.device.Exec(ctx, d.height, kernel)
}

// Blend the current sample into the reprojected history.
func (d *Denoiser) temporalPixel(x, y uint32, color []types.Vec3, gb *integrator.GBuffer) {
	p := int(y*d.width + x)
	c := color[p]
	l := c.Luminance()
	moments := types.Vec2{l, l * l}

	cur := d.cur
	cur.depth[p] = gb.Depth[p]
	cur.normal[p] = gb.Normal[p]

	histColor, histMoments, prevLen, ok := d.reproject(x, y, gb)
	if !ok {
		cur.color[p] = c
		cur.moments[p] = moments
		cur.length[p] = 0
		d.temporal[p] = c
		return
	}

	length := prevLen + 1
	alpha, momentsAlpha := d.cfg.Alpha, d.cfg.MomentsAlpha
	if int(length) < d.cfg.WarmupFrames {
		warmup := 1 / float32(length+1)
		alpha = max(alpha, warmup)
		momentsAlpha = max(momentsAlpha, warmup)
	}

	cur.color[p] = histColor.Lerp(c, alpha)
	cur.moments[p] = types.Vec2{
		histMoments[0] + (moments[0]-histMoments[0])*momentsAlpha,
		histMoments[1] + (moments[1]-histMoments[1])*momentsAlpha,
	}
	cur.length[p] = length
	d.temporal[p] = cur.color[p]
}

// Fetch the previous frame's history at the motion compensated position of
// pixel (x, y) with a bilinear filter over the taps that pass the depth and
// normal consistency tests.
func (d *Denoiser) reproject(x, y uint32, gb *integrator.GBuffer) (types.Vec3, types.Vec2, uint32, bool) {
	p := int(y*d.width + x)
	if !d.hasHistory || gb.IsMiss(p) {
		return types.Vec3{}, types.Vec2{}, 0, false
	}

	// Texel space position of the pixel center in the previous frame.
	px := float32(x) + gb.Motion[p][0]
	py := float32(y) + gb.Motion[p][1]
	if !(px > -1 && px < float32(d.width) && py > -1 && py < float32(d.height)) {
		return types.Vec3{}, types.Vec2{}, 0, false
	}

	x0 := float32(math.Floor(float64(px)))
	y0 := float32(math.Floor(float64(py)))
	fx, fy := px-x0, py-y0
	taps := [4]struct {
		dx, dy int32
		w      float32
	}{
		{0, 0, (1 - fx) * (1 - fy)},
		{1, 0, fx * (1 - fy)},
		{0, 1, (1 - fx) * fy},
		{1, 1, fx * fy},
	}

	var (
		sumW     float32
		color    types.Vec3
		moments  types.Vec2
		length   uint32
		bestTapW float32
	)
	for _, tap := range taps {
		qx, qy := int32(x0)+tap.dx, int32(y0)+tap.dy
		if tap.w <= 0 || qx < 0 || qy < 0 || qx >= int32(d.width) || qy >= int32(d.height) {
			continue
		}
		q := int(uint32(qy)*d.width + uint32(qx))
		if !d.consistent(p, q, gb) {
			continue
		}
		sumW += tap.w
		color = color.Add(d.prev.color[q].Mul(tap.w))
		moments = types.Vec2{moments[0] + d.prev.moments[q][0]*tap.w, moments[1] + d.prev.moments[q][1]*tap.w}
		if tap.w > bestTapW {
			bestTapW = tap.w
			length = d.prev.length[q]
		}
	}
	if sumW < minReprojectionWeight {
		return types.Vec3{}, types.Vec2{}, 0, false
	}

	inv := 1 / sumW
	return color.Mul(inv), types.Vec2{moments[0] * inv, moments[1] * inv}, length, true
}

// Check whether the previous frame's pixel q shows the same surface as the
// current pixel p.
func (d *Denoiser) consistent(p, q int, gb *integrator.GBuffer) bool {
	prevDepth := d.prev.depth[q]
	if math.IsInf(float64(prevDepth), 1) || prevDepth <= 0 {
		return false
	}
	curDepth := gb.Depth[p]
	if abs32(curDepth-prevDepth)/max(curDepth, prevDepth) > d.cfg.DepthThreshold {
		return false
	}
	return gb.Normal[p].Dot(d.prev.normal[q]) >= d.cfg.NormalThreshold
}

// Compute the depth gradient and the luminance variance of pixel (x, y). The
// variance comes from the temporal moments once enough history exists and
// from a depth and normal weighted neighbourhood before that.
func (d *Denoiser) estimateVariance(x, y uint32, gb *integrator.GBuffer) {
	p := int(y*d.width + x)
	if gb.IsMiss(p) {
		d.gradient[p] = types.Vec2{}
		d.pingVar[p] = 0
		return
	}
	d.gradient[p] = d.depthGradient(x, y, gb)

	cur := d.cur
	if int(cur.length[p]) >= d.cfg.WarmupFrames {
		m := cur.moments[p]
		d.pingVar[p] = max(0, m[1]-m[0]*m[0])
		return
	}

	zp, np := gb.Depth[p], gb.Normal[p]
	grad := d.gradient[p]
	var sumW, m1, m2 float32
	for dy := int32(-kernelRadius); dy <= kernelRadius; dy++ {
		for dx := int32(-kernelRadius); dx <= kernelRadius; dx++ {
			qx, qy := int32(x)+dx, int32(y)+dy
			if qx < 0 || qy < 0 || qx >= int32(d.width) || qy >= int32(d.height) {
				continue
			}
			q := int(uint32(qy)*d.width + uint32(qx))
			if gb.IsMiss(q) {
				continue
			}
			wz := abs32(zp-gb.Depth[q]) / (d.cfg.SigmaDepth*abs32(grad[0]*float32(dx)+grad[1]*float32(dy)) + depthEpsilon)
			w := d.normalWeight(np, gb.Normal[q]) * float32(math.Exp(float64(-wz)))
			sumW += w
			m1 += cur.moments[q][0] * w
			m2 += cur.moments[q][1] * w
		}
	}
	if sumW <= 0 {
		d.pingVar[p] = 0
		return
	}
	m1 /= sumW
	m2 /= sumW
	d.pingVar[p] = max(0, m2-m1*m1)
}

// Central difference of the depth buffer; falls back to one sided
// differences next to misses and frame borders.
func (d *Denoiser) depthGradient(x, y uint32, gb *integrator.GBuffer) types.Vec2 {
	depthAt := func(qx, qy int32) (float32, bool) {
		if qx < 0 || qy < 0 || qx >= int32(d.width) || qy >= int32(d.height) {
			return 0, false
		}
		q := int(uint32(qy)*d.width + uint32(qx))
		return gb.Depth[q], !gb.IsMiss(q)
	}

	z := gb.Depth[y*d.width+x]
	diff := func(ax, ay int32) float32 {
		lo, loOk := depthAt(int32(x)-ax, int32(y)-ay)
		hi, hiOk := depthAt(int32(x)+ax, int32(y)+ay)
		switch {
		case loOk && hiOk:
			return 0.5 * (hi - lo)
		case hiOk:
			return hi - z
		case loOk:
			return z - lo
		}
		return 0
	}
	return types.Vec2{diff(1, 0), diff(0, 1)}
}

func (d *Denoiser) normalWeight(n, nq types.Vec3) float32 {
	return float32(math.Pow(float64(max(0, n.Dot(nq))), float64(d.cfg.SigmaNormal)))
}

// 3x3 gaussian blur of the current variance estimate.
func (d *Denoiser) prefilterVariance(x, y uint32) {
	var sum, sumW float32
	for dy := int32(-1); dy <= 1; dy++ {
		for dx := int32(-1); dx <= 1; dx++ {
			qx, qy := int32(x)+dx, int32(y)+dy
			if qx < 0 || qy < 0 || qx >= int32(d.width) || qy >= int32(d.height) {
				continue
			}
			w := gaussKernel[abs(dx)] * gaussKernel[abs(dy)]
			sum += d.pingVar[uint32(qy)*d.width+uint32(qx)] * w
			sumW += w
		}
	}
	d.filteredVar[y*d.width+x] = sum / sumW
}

// One edge-aware a-trous tap set for pixel (x, y).
func (d *Denoiser) atrousPixel(x, y uint32, step int32, gb *integrator.GBuffer) {
	p := int(y*d.width + x)
	if gb.IsMiss(p) {
		d.pong[p] = d.ping[p]
		d.pongVar[p] = d.pingVar[p]
		return
	}

	zp, np := gb.Depth[p], gb.Normal[p]
	grad := d.gradient[p]
	lp := d.ping[p].Luminance()
	sigmaL := d.cfg.SigmaLuminance * float32(math.Sqrt(float64(max(0, d.filteredVar[p])+1e-10)))

	var sumW, sumVar float32
	var sumColor types.Vec3
	for dy := int32(-kernelRadius); dy <= kernelRadius; dy++ {
		for dx := int32(-kernelRadius); dx <= kernelRadius; dx++ {
			qx, qy := int32(x)+dx*step, int32(y)+dy*step
			if qx < 0 || qy < 0 || qx >= int32(d.width) || qy >= int32(d.height) {
				continue
			}
			q := int(uint32(qy)*d.width + uint32(qx))
			if gb.IsMiss(q) {
				continue
			}

			w := atrousKernel[abs(dx)] * atrousKernel[abs(dy)]
			if q != p {
				offX, offY := float32(dx*step), float32(dy*step)
				wz := abs32(zp-gb.Depth[q]) / (d.cfg.SigmaDepth*abs32(grad[0]*offX+grad[1]*offY) + depthEpsilon)
				wl := abs32(lp-d.ping[q].Luminance()) / sigmaL
				w *= d.normalWeight(np, gb.Normal[q]) * float32(math.Exp(float64(-wz-wl)))
			}

			sumW += w
			sumColor = sumColor.Add(d.ping[q].Mul(w))
			sumVar += w * w * d.pingVar[q]
		}
	}

	d.pong[p] = sumColor.Mul(1 / sumW)
	d.pongVar[p] = sumVar / (sumW * sumW)
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
