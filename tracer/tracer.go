package tracer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DavidPeicho/loupiote/scene"
)

var (
	ErrNoScene = errors.New("tracer: no scene has been set")
)

// An Intersector finds the closest hit for each ray of a batch against the
// BVH of the active scene. Implementations must not retain the ray or hit
// slices after Intersect returns.
type Intersector interface {
	// Get intersector id.
	Id() string

	// Upload a compiled scene. The scene is never modified by the
	// intersector and replaces any previously set scene.
	SetScene(sc *scene.Scene) error

	// Fill hits[i] with the closest hit for rays[i] or a miss record.
	Intersect(ctx context.Context, rays []Ray, hits []HitRecord) error

	// Shutdown and release any allocated resources.
	Close()
}

// Ensure that rays and hits describe the same batch.
func CheckBatch(rays []Ray, hits []HitRecord) error {
	if len(rays) != len(hits) {
		return fmt.Errorf("tracer: ray batch has %d rays but %d hit records", len(rays), len(hits))
	}
	return nil
}

// Statistics for the last block processed by a worker.
type Stats struct {
	// The processed block height
	BlockH uint32

	// The time for processing this block
	RenderTime time.Duration
}

// A Worker is one execution lane that receives a block of rows (or items) per
// pass from a BlockScheduler.
type Worker interface {
	// Get worker id.
	Id() string

	// Get the worker's computation speed estimate relative to the other
	// workers.
	Speed() uint32

	// Retrieve last block statistics.
	Stats() *Stats
}
