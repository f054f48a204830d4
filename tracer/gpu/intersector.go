//go:build !nogpu

package gpu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DavidPeicho/loupiote/log"
	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/tracer"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Register the Vulkan backend.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

const (
	workgroupSize = 64

	// Dispatches are one dimensional and limited to 65535 workgroups.
	maxRaysPerDispatch = 65535 * workgroupSize

	fenceTimeout = 5 * time.Second
)

// Intersector traces ray batches with a WebGPU compute kernel. The scene BVH
// and triangle positions stay resident in storage buffers until the next
// SetScene call; ray and hit buffers live for a single dispatch.
type Intersector struct {
	mu     sync.Mutex
	logger log.Logger

	adapterName string

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	nodeBuf   hal.Buffer
	nodeBytes uint64
	vertBuf   hal.Buffer
	vertBytes uint64
	nodeCount uint32

	closed bool
}

// Create a GPU intersector on the first discrete or integrated adapter. The
// traversal kernel is compiled before any device is opened; a compilation
// failure is reported as ErrShaderCompile. If no adapter is available
// ErrNoAdapter is returned.
func NewIntersector() (*Intersector, error) {
	spirvCode, err := CompileIntersectShader()
	if err != nil {
		return nil, err
	}

	in := &Intersector{logger: log.New("gpu intersector")}
	selected, err := in.openInstance()
	if err != nil {
		in.Close()
		return nil, err
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("gpu: open device: %w", err)
	}
	in.device = openDev.Device
	in.queue = openDev.Queue
	in.adapterName = selected.Info.Name

	if err = in.createPipeline(spirvCode); err != nil {
		in.Close()
		return nil, err
	}

	in.logger.Noticef("using adapter %q", in.adapterName)
	return in, nil
}

func (in *Intersector) openInstance() (*hal.ExposedAdapter, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoAdapter)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %v", ErrNoAdapter, err)
	}
	in.instance = instance

	adapters := instance.EnumerateAdapters(nil)
	for index := range adapters {
		switch adapters[index].Info.DeviceType {
		case gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU:
			return &adapters[index], nil
		}
	}
	return nil, ErrNoAdapter
}

func (in *Intersector) createPipeline(spirvCode []uint32) error {
	var err error
	in.shader, err = in.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "bvh_intersect",
		Source: hal.ShaderSource{SPIRV: spirvCode},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrShaderCompile, err)
	}

	storage := func(binding uint32, readOnly bool) gputypes.BindGroupLayoutEntry {
		bindingType := gputypes.BufferBindingTypeStorage
		if readOnly {
			bindingType = gputypes.BufferBindingTypeReadOnlyStorage
		}
		return gputypes.BindGroupLayoutEntry{Binding: binding, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: bindingType}}
	}
	in.bindLayout, err = in.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "bvh_intersect_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			storage(1, true),
			storage(2, true),
			storage(3, true),
			storage(4, false),
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group layout: %w", err)
	}

	in.pipeLayout, err = in.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "bvh_intersect_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{in.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("gpu: create pipeline layout: %w", err)
	}

	in.pipeline, err = in.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "bvh_intersect_pipeline", Layout: in.pipeLayout,
		Compute: hal.ComputeState{Module: in.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("%w: create compute pipeline: %v", ErrShaderCompile, err)
	}
	return nil
}

// Get intersector id.
func (in *Intersector) Id() string {
	return "gpu: " + in.adapterName
}

// Upload the BVH and triangle positions of sc, replacing the previous scene.
func (in *Intersector) SetScene(sc *scene.Scene) error {
	if sc == nil || sc.BVH == nil {
		return tracer.ErrNoScene
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	nodeData := packNodes(sc.BVH.Nodes)
	vertData := packTriangles(sc.Triangles)

	nodeBuf, err := in.createBuffer("bvh_nodes", uint64(len(nodeData)), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	vertBuf, err := in.createBuffer("bvh_triangles", uint64(len(vertData)), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		in.device.DestroyBuffer(nodeBuf)
		return err
	}
	in.queue.WriteBuffer(nodeBuf, 0, nodeData)
	in.queue.WriteBuffer(vertBuf, 0, vertData)

	in.releaseScene()
	in.nodeBuf, in.nodeBytes = nodeBuf, uint64(len(nodeData))
	in.vertBuf, in.vertBytes = vertBuf, uint64(len(vertData))
	in.nodeCount = uint32(len(sc.BVH.Nodes))

	in.logger.Debugf("uploaded %d nodes and %d triangles", len(sc.BVH.Nodes), len(sc.Triangles))
	return nil
}

// Find the closest hit for each ray. Large batches are split into several
// fenced dispatches; ctx is checked before each of them.
func (in *Intersector) Intersect(ctx context.Context, rays []tracer.Ray, hits []tracer.HitRecord) error {
	if err := tracer.CheckBatch(rays, hits); err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.nodeBuf == nil {
		return tracer.ErrNoScene
	}

	for start := 0; start < len(rays); start += maxRaysPerDispatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+maxRaysPerDispatch, len(rays))
		if err := in.dispatch(rays[start:end], hits[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (in *Intersector) dispatch(rays []tracer.Ray, hits []tracer.HitRecord) error {
	rayData := packRays(rays)
	hitBytes := uint64(len(hits) * hitSize)

	paramBuf, err := in.createBuffer("intersect_params", paramsSize, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	defer in.device.DestroyBuffer(paramBuf)

	rayBuf, err := in.createBuffer("intersect_rays", uint64(len(rayData)), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	defer in.device.DestroyBuffer(rayBuf)

	hitBuf, err := in.createBuffer("intersect_hits", hitBytes, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
	if err != nil {
		return err
	}
	defer in.device.DestroyBuffer(hitBuf)

	stagingBuf, err := in.createBuffer("intersect_staging", hitBytes, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	defer in.device.DestroyBuffer(stagingBuf)

	in.queue.WriteBuffer(paramBuf, 0, packParams(uint32(len(rays)), in.nodeCount))
	in.queue.WriteBuffer(rayBuf, 0, rayData)

	bindGroup, err := in.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "bvh_intersect_bind", Layout: in.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: paramBuf.NativeHandle(), Offset: 0, Size: paramsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: in.nodeBuf.NativeHandle(), Offset: 0, Size: in.nodeBytes}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: in.vertBuf.NativeHandle(), Offset: 0, Size: in.vertBytes}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: rayBuf.NativeHandle(), Offset: 0, Size: uint64(len(rayData))}},
			{Binding: 4, Resource: gputypes.BufferBinding{Buffer: hitBuf.NativeHandle(), Offset: 0, Size: hitBytes}},
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group: %w", err)
	}
	defer in.device.DestroyBindGroup(bindGroup)

	encoder, err := in.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "bvh_intersect_encoder"})
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err = encoder.BeginEncoding("bvh_intersect"); err != nil {
		return fmt.Errorf("gpu: begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "bvh_intersect_pass"})
	pass.SetPipeline(in.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Dispatch(uint32((len(rays)+workgroupSize-1)/workgroupSize), 1, 1)
	pass.End()

	encoder.CopyBufferToBuffer(hitBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: hitBytes},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	defer in.device.FreeCommandBuffer(cmdBuf)

	fence, err := in.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpu: create fence: %w", err)
	}
	defer in.device.DestroyFence(fence)

	if err = in.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}
	fenceOK, err := in.device.Wait(fence, 1, fenceTimeout)
	if err != nil || !fenceOK {
		return fmt.Errorf("gpu: wait for intersect dispatch: ok=%v err=%v", fenceOK, err)
	}

	readback := make([]byte, hitBytes)
	if err = in.queue.ReadBuffer(stagingBuf, 0, readback); err != nil {
		return fmt.Errorf("gpu: readback: %w", err)
	}
	unpackHits(readback, hits)
	return nil
}

func (in *Intersector) createBuffer(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := in.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("gpu: create %s buffer: %w", label, err)
	}
	return buf, nil
}

func (in *Intersector) releaseScene() {
	if in.nodeBuf != nil {
		in.device.DestroyBuffer(in.nodeBuf)
		in.nodeBuf = nil
	}
	if in.vertBuf != nil {
		in.device.DestroyBuffer(in.vertBuf)
		in.vertBuf = nil
	}
	in.nodeCount = 0
}

// Release all GPU resources.
func (in *Intersector) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return
	}
	in.closed = true

	if in.device != nil {
		in.releaseScene()
		if in.pipeline != nil {
			in.device.DestroyComputePipeline(in.pipeline)
		}
		if in.pipeLayout != nil {
			in.device.DestroyPipelineLayout(in.pipeLayout)
		}
		if in.bindLayout != nil {
			in.device.DestroyBindGroupLayout(in.bindLayout)
		}
		if in.shader != nil {
			in.device.DestroyShaderModule(in.shader)
		}
		in.device.Destroy()
		in.device = nil
	}
	if in.instance != nil {
		in.instance.Destroy()
		in.instance = nil
	}
}

// List the adapters exposed by the Vulkan backend.
func ListAdapters() ([]AdapterInfo, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoAdapter)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %v", ErrNoAdapter, err)
	}
	defer instance.Destroy()

	adapters := instance.EnumerateAdapters(nil)
	list := make([]AdapterInfo, 0, len(adapters))
	for index := range adapters {
		info := AdapterInfo{Name: adapters[index].Info.Name, Type: "other"}
		switch adapters[index].Info.DeviceType {
		case gputypes.DeviceTypeDiscreteGPU:
			info.Type = "discrete"
		case gputypes.DeviceTypeIntegratedGPU:
			info.Type = "integrated"
		}
		list = append(list, info)
	}
	return list, nil
}
