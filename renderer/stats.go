package renderer

import "time"

type LaneStat struct {
	// The lane id.
	Id string

	// The block height and the percentage of the total work it represents
	// for the last pass of the frame.
	BlockH       uint32
	FramePercent float32

	// Render time for assigned block
	RenderTime time.Duration
}

// The time spent in one pipeline stage.
type StageStat struct {
	Name string
	Time time.Duration
}

// A summary of the active scene.
type SceneStat struct {
	Generation uint64
	Triangles  int
	Emissive   int
	BvhNodes   int
	BvhDepth   int
}

type FrameStats struct {
	Index uint32

	// Render resolution; smaller than the frame dims while moving.
	RenderW uint32
	RenderH uint32
	Moving  bool

	// Accumulated samples per pixel after this frame.
	Samples uint32

	// Rays traced across all bounces.
	RaysTraced uint64

	Display     DisplayMode
	Intersector string
	Scene       SceneStat

	// Individual stage timings in pipeline order.
	Stages []StageStat

	// Individual lane stats.
	Lanes []LaneStat

	// The error of the last failed scene rebuild; cleared by the next
	// successful one.
	RebuildErr error

	// Total render time for entire frame.
	RenderTime time.Duration
}
