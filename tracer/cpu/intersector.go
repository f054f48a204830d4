package cpu

import (
	"context"
	"sync/atomic"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/tracer"
)

// Intersector traces ray batches on a CPU device.
type Intersector struct {
	device *Device

	// The active scene. Scenes are immutable so swapping the pointer is
	// enough to replace them.
	scene atomic.Pointer[scene.Scene]
}

// Create a new CPU intersector that schedules work on device.
func NewIntersector(device *Device) *Intersector {
	return &Intersector{device: device}
}

// Get intersector id.
func (in *Intersector) Id() string {
	return "cpu"
}

// Get the device used by this intersector.
func (in *Intersector) Device() *Device {
	return in.device
}

// Set the scene to be traced.
func (in *Intersector) SetScene(sc *scene.Scene) error {
	if sc == nil || sc.BVH == nil {
		return tracer.ErrNoScene
	}
	in.scene.Store(sc)
	return nil
}

// Find the closest hit for each ray.
func (in *Intersector) Intersect(ctx context.Context, rays []tracer.Ray, hits []tracer.HitRecord) error {
	if err := tracer.CheckBatch(rays, hits); err != nil {
		return err
	}
	sc := in.scene.Load()
	if sc == nil {
		return tracer.ErrNoScene
	}

	return in.device.Exec(ctx, uint32(len(rays)), func(start, end uint32) {
		for index := start; index < end; index++ {
			hits[index] = Traverse(sc, &rays[index])
		}
	})
}

// The device is owned by the caller; closing the intersector only drops the
// scene reference.
func (in *Intersector) Close() {
	in.scene.Store(nil)
}
