package tracer

import (
	"testing"
	"time"
)

func TestNaiveScheduler(t *testing.T) {
	type spec struct {
		speed1   uint32
		speed2   uint32
		frameH   uint32
		expRows1 uint32
		expRows2 uint32
	}
	specs := []spec{
		{1, 2, 10, 4, 6},
		{2, 1, 10, 7, 3},
		{1, 1000, 10, 1, 9},
		// Fewer rows than workers
		{1, 1, 1, 1, 0},
	}

	for index, s := range specs {
		w1 := makeMockWorker("mock-1", s.speed1)
		w2 := makeMockWorker("mock-2", s.speed2)
		workers := []Worker{w1, w2}

		sch := NaiveScheduler()
		blockAssignment := sch.Schedule(workers, s.frameH)

		if blockAssignment[0] != s.expRows1 {
			t.Fatalf("[spec %d] expected worker 0 to be assigned %d rows; got %d", index, s.expRows1, blockAssignment[0])
		}

		if blockAssignment[1] != s.expRows2 {
			t.Fatalf("[spec %d] expected worker 1 to be assigned %d rows; got %d", index, s.expRows2, blockAssignment[1])
		}
	}
}

func TestPerfectScheduler(t *testing.T) {
	type spec struct {
		frameH   uint32
		rTime1   time.Duration
		rTime2   time.Duration
		expRows1 uint32
		expRows2 uint32
	}
	specs := []spec{
		// First call always behaves like the naive scheduler
		{10, time.Duration(1), time.Duration(5), 5, 5},
		// Second call should use the render times to assign rows
		{10, time.Duration(1), time.Duration(5), 9, 1},
		// This time worker 2 performed much better
		{10, time.Duration(5), time.Duration(1), 7, 3},
	}

	// Workers have same speed
	w1 := makeMockWorker("mock-1", 1)
	w2 := makeMockWorker("mock-2", 1)
	workers := []Worker{w1, w2}

	sch := PerfectScheduler()
	for index, s := range specs {
		w1.stats.RenderTime = s.rTime1
		w2.stats.RenderTime = s.rTime2

		blockAssignment := sch.Schedule(workers, s.frameH)

		if blockAssignment[0] != s.expRows1 {
			t.Fatalf("[spec %d] expected worker 0 to be assigned %d rows; got %d", index, s.expRows1, blockAssignment[0])
		}

		if blockAssignment[1] != s.expRows2 {
			t.Fatalf("[spec %d] expected worker 1 to be assigned %d rows; got %d", index, s.expRows2, blockAssignment[1])
		}

		w1.stats.BlockH = blockAssignment[0]
		w2.stats.BlockH = blockAssignment[1]
	}
}

func TestPerfectSchedulerWithoutFeedback(t *testing.T) {
	w1 := makeMockWorker("mock-1", 3)
	w2 := makeMockWorker("mock-2", 1)
	workers := []Worker{w1, w2}

	sch := PerfectScheduler()
	sch.Schedule(workers, 8)

	// No render times have been recorded; speed estimates are used again.
	blockAssignment := sch.Schedule(workers, 8)
	if blockAssignment[0] != 6 || blockAssignment[1] != 2 {
		t.Fatalf("expected assignment [6 2]; got %v", blockAssignment)
	}
}

type mockWorker struct {
	id    string
	speed uint32
	stats *Stats
}

func makeMockWorker(id string, speed uint32) *mockWorker {
	return &mockWorker{
		id:    id,
		speed: speed,
		stats: &Stats{},
	}
}

func (mw *mockWorker) Id() string {
	return mw.id
}

func (mw *mockWorker) Speed() uint32 {
	return mw.speed
}

func (mw *mockWorker) Stats() *Stats {
	return mw.stats
}
