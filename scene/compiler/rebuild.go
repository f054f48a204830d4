package compiler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DavidPeicho/loupiote/log"
	"github.com/DavidPeicho/loupiote/scene"
)

var (
	ErrSuperseded      = errors.New("rebuild: superseded by a newer scene edit")
	ErrRebuilderClosed = errors.New("rebuild: rebuilder is closed")
)

// The outcome of a background rebuild.
type Outcome string

const (
	Completed  Outcome = "completed"
	Superseded Outcome = "superseded"
	Failed     Outcome = "failed"
)

// A Task tracks a single background scene compilation.
type Task struct {
	// The scene generation this task will produce.
	Generation uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	scene *scene.Scene
	err   error
}

// Get a channel that is closed when the task completes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Abort the task. Cancelling a completed task has no effect.
func (t *Task) Cancel() {
	t.cancel()
}

// Block until the task completes or ctx expires.
func (t *Task) Wait(ctx context.Context) (*scene.Scene, error) {
	select {
	case <-t.done:
		return t.scene, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Rebuilder compiles scene edits in the background. Only the most recent edit
// matters: submitting a new store cancels the build in flight and any result
// it might still produce is discarded.
type Rebuilder struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	logger log.Logger
	opts   BuildOptions

	generation uint64
	pending    *Task
	closed     bool

	// The latest completed scene that has not been claimed yet.
	ready atomic.Pointer[scene.Scene]

	// Optional hook invoked after each task finishes.
	observer func(Outcome, time.Duration)
}

// Create a new rebuilder. The generation counter starts at startGeneration.
func NewRebuilder(opts BuildOptions, startGeneration uint64) *Rebuilder {
	return &Rebuilder{
		logger:     log.New("rebuilder"),
		opts:       opts,
		generation: startGeneration,
	}
}

// Register a hook that is invoked with the outcome of every task.
func (r *Rebuilder) SetObserver(fn func(Outcome, time.Duration)) {
	r.mu.Lock()
	r.observer = fn
	r.mu.Unlock()
}

// Start compiling store in the background, superseding any build in flight.
func (r *Rebuilder) Submit(ctx context.Context, store *scene.GeometryStore) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	taskCtx, cancel := context.WithCancel(ctx)
	r.generation++
	task := &Task{
		Generation: r.generation,
		ctx:        taskCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if r.closed {
		task.err = ErrRebuilderClosed
		cancel()
		close(task.done)
		return task
	}

	if r.pending != nil {
		r.logger.Infof("superseding rebuild of generation %d with generation %d", r.pending.Generation, task.Generation)
		r.pending.Cancel()
	}
	r.pending = task

	r.wg.Add(1)
	go r.run(task, store)
	return task
}

func (r *Rebuilder) run(task *Task, store *scene.GeometryStore) {
	defer r.wg.Done()
	defer close(task.done)
	defer task.cancel()

	start := time.Now()
	sc, err := Compile(task.ctx, store, r.opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	var outcome Outcome
	switch {
	case r.pending != task:
		outcome = Superseded
		task.err = ErrSuperseded
	case err != nil:
		outcome = Failed
		r.pending = nil
		task.err = err
		r.logger.Warningf("rebuild of generation %d failed; keeping previous scene: %v", task.Generation, err)
	default:
		outcome = Completed
		r.pending = nil
		sc.Generation = task.Generation
		task.scene = sc
		r.ready.Store(sc)
		r.logger.Infof("rebuilt scene generation %d in %d ms", task.Generation, time.Since(start).Nanoseconds()/1e6)
	}

	if r.observer != nil {
		r.observer(outcome, time.Since(start))
	}
}

// Claim the most recently completed scene. Returns nil if no new scene has
// become available since the last call.
func (r *Rebuilder) Take() *scene.Scene {
	return r.ready.Swap(nil)
}

// Returns true if a build is in flight.
func (r *Rebuilder) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// Cancel any build in flight and wait for background work to exit.
func (r *Rebuilder) Close() {
	r.mu.Lock()
	r.closed = true
	if r.pending != nil {
		r.pending.Cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
}
