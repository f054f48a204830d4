package tracer

import "math"

// The BlockScheduler interface is implemented by all block scheduling algorithms.
type BlockScheduler interface {
	// Split a frame into blocks of variable height and assign them to the
	// pool of workers, optionally using feedback from previous passes.
	//
	// This function returns the block height assignment for each worker
	// in the input list. Assignments always add up to frameH.
	Schedule(workers []Worker, frameH uint32) []uint32
}

// The naive scheduler splits the frame proportionally to each worker's speed
// estimate.
type naiveScheduler struct {
	blockAssignment []uint32
}

// Create a new naive scheduler instance.
func NaiveScheduler() BlockScheduler {
	return &naiveScheduler{}
}

func (sch *naiveScheduler) Schedule(workers []Worker, frameH uint32) []uint32 {
	if len(sch.blockAssignment) != len(workers) {
		sch.blockAssignment = make([]uint32, len(workers))
	}

	var total float64
	for _, w := range workers {
		total += float64(w.Speed())
	}

	for idx, w := range workers {
		var rows float64 = 1
		if total > 0 {
			rows = math.Floor(float64(w.Speed()) * float64(frameH) / total)
		}
		sch.blockAssignment[idx] = uint32(math.Max(1.0, rows))
	}

	fitAssignment(sch.blockAssignment, frameH)
	return sch.blockAssignment
}

// The perfect scheduler assumes that the volume of work between two
// subsequent passes is approximately the same.
type perfectScheduler struct {
	naive           naiveScheduler
	blockAssignment []uint32
}

// Create a new perfect scheduler instance.
func PerfectScheduler() BlockScheduler {
	return &perfectScheduler{}
}

// Split frame into blocks of variable height and assign to the pool
// of workers using feedback collected from previous frames.
//
// When previous frame information is available the scheduler
// uses the following formula for estimating the workload for worker w and frame i+1:
// w_i, f_i+1 = (blockH,w_i / time,w_i) / Σ(blockH_i-1 / time,i-1)
func (sch *perfectScheduler) Schedule(workers []Worker, frameH uint32) []uint32 {
	// If this is the first time we try to schedule or the number of workers
	// has changed we need to reset the block assignments
	if len(sch.blockAssignment) != len(workers) {
		sch.blockAssignment = make([]uint32, len(workers))
		copy(sch.blockAssignment, sch.naive.Schedule(workers, frameH))
		return sch.blockAssignment
	}

	var total float64
	for _, w := range workers {
		stats := w.Stats()
		if stats.RenderTime <= 0 || stats.BlockH == 0 {
			// Not enough feedback; fall back to speed estimates
			copy(sch.blockAssignment, sch.naive.Schedule(workers, frameH))
			return sch.blockAssignment
		}
		total += float64(stats.BlockH) / float64(stats.RenderTime)
	}

	scaler := float64(frameH) / total
	for idx, w := range workers {
		stats := w.Stats()
		sch.blockAssignment[idx] = uint32(math.Max(1.0, math.Floor(float64(stats.BlockH)/float64(stats.RenderTime)*scaler)))
	}

	fitAssignment(sch.blockAssignment, frameH)
	return sch.blockAssignment
}

// Adjust block assignments so that they add up to frameH. Missing rows are
// appended to the first worker; excess rows are removed starting from the
// last worker.
func fitAssignment(blockAssignment []uint32, frameH uint32) {
	if len(blockAssignment) == 0 {
		return
	}

	var scheduledRows uint32
	for _, rows := range blockAssignment {
		scheduledRows += rows
	}

	for scheduledRows > frameH {
		for idx := len(blockAssignment) - 1; idx >= 0 && scheduledRows > frameH; idx-- {
			if blockAssignment[idx] > 0 {
				blockAssignment[idx]--
				scheduledRows--
			}
		}
	}

	blockAssignment[0] += frameH - scheduledRows
}
