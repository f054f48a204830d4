package cpu

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/DavidPeicho/loupiote/log"
	"github.com/DavidPeicho/loupiote/tracer"
)

var (
	ErrDeviceClosed = errors.New("cpu: device is closed")
)

// Each lane splits its block into at most this many chunks and checks for
// cancellation between them.
const chunksPerBlock = 8

// A KernelFn processes the half-open item range [start, end).
type KernelFn func(start, end uint32)

// A unit of work processed by a lane.
type blockRequest struct {
	ctx      context.Context
	start    uint32
	end      uint32
	kernel   KernelFn
	doneChan chan<- error
}

// A lane is a long-lived worker goroutine that executes blocks of a pass.
type lane struct {
	id    string
	speed uint32
	stats tracer.Stats

	blockReqChan chan blockRequest
	closeChan    chan struct{}
}

func (l *lane) Id() string {
	return l.id
}

func (l *lane) Speed() uint32 {
	return l.speed
}

func (l *lane) Stats() *tracer.Stats {
	return &l.stats
}

func (l *lane) run(wg *sync.WaitGroup, readyChan chan<- struct{}) {
	defer wg.Done()
	readyChan <- struct{}{}
	for {
		select {
		case req := <-l.blockReqChan:
			startTime := time.Now()
			err := l.process(&req)
			l.stats.BlockH = req.end - req.start
			l.stats.RenderTime = time.Since(startTime)
			req.doneChan <- err
		case <-l.closeChan:
			return
		}
	}
}

func (l *lane) process(req *blockRequest) error {
	count := req.end - req.start
	chunk := (count + chunksPerBlock - 1) / chunksPerBlock
	if chunk == 0 {
		return nil
	}
	for start := req.start; start < req.end; start += chunk {
		if err := req.ctx.Err(); err != nil {
			return err
		}
		end := start + chunk
		if end > req.end {
			end = req.end
		}
		req.kernel(start, end)
	}
	return nil
}

// Device executes data-parallel passes on a pool of CPU lanes. Work is split
// into one contiguous block per lane by a feedback-driven block scheduler so
// that lanes finishing early receive more work in the following passes.
// A pass returns only after all lanes have finished their block.
type Device struct {
	logger log.Logger

	// Serializes passes.
	mu sync.Mutex
	wg sync.WaitGroup

	lanes     []*lane
	workers   []tracer.Worker
	scheduler tracer.BlockScheduler
	closed    bool
}

// Create a device with the requested number of lanes. A non-positive lane
// count selects one lane per logical CPU.
func NewDevice(laneCount int) *Device {
	if laneCount <= 0 {
		laneCount = runtime.NumCPU()
	}

	d := &Device{
		logger:    log.New("cpu device"),
		lanes:     make([]*lane, laneCount),
		workers:   make([]tracer.Worker, laneCount),
		scheduler: tracer.PerfectScheduler(),
	}

	readyChan := make(chan struct{})
	for idx := range d.lanes {
		l := &lane{
			id:           fmt.Sprintf("cpu-lane-%d", idx),
			speed:        1,
			blockReqChan: make(chan blockRequest),
			closeChan:    make(chan struct{}),
		}
		d.lanes[idx] = l
		d.workers[idx] = l

		d.wg.Add(1)
		go l.run(&d.wg, readyChan)
		<-readyChan
	}

	d.logger.Debugf("started %d lanes", laneCount)
	return d
}

// Get the number of lanes.
func (d *Device) Lanes() int {
	return len(d.lanes)
}

// Run kernel over [0, count) and block until all lanes complete. If ctx is
// cancelled while the pass runs, lanes stop at their next chunk boundary and
// the context error is returned.
func (d *Device) Exec(ctx context.Context, count uint32, kernel KernelFn) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	blockAssignment := d.scheduler.Schedule(d.workers, count)

	doneChan := make(chan error, len(d.lanes))
	var start uint32
	pending := 0
	for idx, l := range d.lanes {
		blockH := blockAssignment[idx]
		if blockH == 0 {
			l.stats = tracer.Stats{}
			continue
		}
		l.blockReqChan <- blockRequest{
			ctx:      ctx,
			start:    start,
			end:      start + blockH,
			kernel:   kernel,
			doneChan: doneChan,
		}
		start += blockH
		pending++
	}

	var err error
	for ; pending > 0; pending-- {
		if laneErr := <-doneChan; laneErr != nil && err == nil {
			err = laneErr
		}
	}
	return err
}

// Get a copy of the statistics for the last pass of each lane.
func (d *Device) Stats() []tracer.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := make([]tracer.Stats, len(d.lanes))
	for idx, l := range d.lanes {
		stats[idx] = l.stats
	}
	return stats
}

// Shutdown all lanes.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for _, l := range d.lanes {
		close(l.closeChan)
	}
	d.wg.Wait()
}
