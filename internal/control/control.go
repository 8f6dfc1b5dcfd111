// Package control implements the job control coordinator: orthogonal
// pause gates (global and per-job) and cancellation tokens (global and
// per-job, linked so cancelling globally cancels every job).
//
// context.Context is one-shot and cannot be un-cancelled, which is
// exactly what "resume" requires, so the pause gate is a small
// hand-rolled primitive instead: a channel that is closed while running,
// swapped for a fresh open channel on pause, and closed again on resume.
//
// Cancellation uses context.Context/context.CancelFunc directly, with
// one scope per run and one child scope per job.
package control

import (
	"context"
	"sync"
)

// gate is a resettable "proceed" signal: Wait blocks while paused, and
// returns immediately while running.
type gate struct {
	mu      sync.Mutex
	running chan struct{}
}

func newGate() *gate {
	g := &gate{running: make(chan struct{})}
	close(g.running) // starts open (not paused)
	return g
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.running:
		g.running = make(chan struct{})
	default:
		// already paused
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.running:
		// already running
	default:
		close(g.running)
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.running
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Coordinator is the JobControlCoordinator: it owns one global pause
// gate, one pause gate per job, one global cancellation scope, and one
// linked cancellation scope per job.
type Coordinator struct {
	mu sync.Mutex

	globalGate *gate
	jobGates   map[string]*gate

	globalCtx    context.Context
	globalCancel context.CancelFunc

	jobCancel map[string]context.CancelFunc
	jobCtx    map[string]context.Context
}

// New constructs a Coordinator with a fresh global cancellation scope.
func New() *Coordinator {
	c := &Coordinator{
		globalGate: newGate(),
		jobGates:   make(map[string]*gate),
		jobCancel:  make(map[string]context.CancelFunc),
		jobCtx:     make(map[string]context.Context),
	}
	c.globalCtx, c.globalCancel = context.WithCancel(context.Background())
	return c
}

// RegisterJob creates the pause gate and cancellation scope for name,
// linked as a child of the global cancellation scope: cancelling the
// global scope cancels every registered job too.
func (c *Coordinator) RegisterJob(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.jobGates[name] = newGate()
	ctx, cancel := context.WithCancel(c.globalCtx)
	c.jobCtx[name] = ctx
	c.jobCancel[name] = cancel
}

// UnregisterJob releases name's pause gate and cancellation scope once
// the scheduler is done with that job for the run: Phase 1 calls this as
// soon as a job finalizes with no work (spec.md §4.6 step 3c), fails
// during analysis (step 3g), or finishes Phase 3 (step 5). Cancelling the
// job's context before dropping it releases the tracking entry the
// global scope's context.WithCancel holds for every child, rather than
// leaving it to be reclaimed only on the next Reset. For a job that is
// unregistered and never re-registered, IsCancelled/GetToken fall back
// to the global scope, so they report cancelled only once the global
// scope itself is cancelled.
func (c *Coordinator) UnregisterJob(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cancel, ok := c.jobCancel[name]; ok {
		cancel()
		delete(c.jobCancel, name)
	}
	delete(c.jobCtx, name)
	delete(c.jobGates, name)
}

// PauseAll pauses every job, current and future, by closing the global
// gate. Per-job gates are independent: a job individually paused stays
// paused after a later ResumeAll.
func (c *Coordinator) PauseAll() {
	c.mu.Lock()
	g := c.globalGate
	c.mu.Unlock()
	g.pause()
}

// ResumeAll reopens the global gate.
func (c *Coordinator) ResumeAll() {
	c.mu.Lock()
	g := c.globalGate
	c.mu.Unlock()
	g.resume()
}

// PauseJob pauses a single job without affecting the global gate or any
// other job.
func (c *Coordinator) PauseJob(name string) {
	c.mu.Lock()
	g, ok := c.jobGates[name]
	c.mu.Unlock()
	if ok {
		g.pause()
	}
}

// ResumeJob resumes a single job.
func (c *Coordinator) ResumeJob(name string) {
	c.mu.Lock()
	g, ok := c.jobGates[name]
	c.mu.Unlock()
	if ok {
		g.resume()
	}
}

// WaitForResume blocks until both the global gate and name's per-job gate
// are open, or ctx is done. Workers call this between file copies, never
// mid-copy.
func (c *Coordinator) WaitForResume(ctx context.Context, name string) error {
	c.mu.Lock()
	global := c.globalGate
	job := c.jobGates[name]
	c.mu.Unlock()

	if err := global.wait(ctx); err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	return job.wait(ctx)
}

// GetToken returns the cancellation context for a registered job. Callers
// select on ctx.Done() and check ctx.Err() to detect cancellation.
func (c *Coordinator) GetToken(name string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx, ok := c.jobCtx[name]; ok {
		return ctx
	}
	return c.globalCtx
}

// GlobalToken returns the run-wide cancellation context.
func (c *Coordinator) GlobalToken() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.globalCtx
}

// IsCancelled reports whether name's job (or the global scope) has been
// cancelled.
func (c *Coordinator) IsCancelled(name string) bool {
	return c.GetToken(name).Err() != nil
}

// StopJob cancels a single job's scope without affecting any other job.
func (c *Coordinator) StopJob(name string) {
	c.mu.Lock()
	cancel, ok := c.jobCancel[name]
	g := c.jobGates[name]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	// A cancelled job must not remain blocked on its own pause gate.
	if g != nil {
		g.resume()
	}
}

// StopAll cancels the global scope, cancelling every linked per-job scope
// too, and then recreates only a fresh global scope. Per-job scopes are
// deliberately left cancelled rather than eagerly refreshed: a worker
// re-fetching a job's token after StopAll must still observe
// cancellation for the rest of the current run. A job becomes usable
// again only once it is next registered via RegisterJob, which
// Scheduler.Execute's pre-registration phase always does after a
// Reset(), so the Coordinator is reusable for the next run, not for the
// run StopAll just cut short.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.globalCancel()
	c.globalGate.resume()
	for _, g := range c.jobGates {
		g.resume()
	}

	c.globalCtx, c.globalCancel = context.WithCancel(context.Background())
}

// Reset clears every registered job's gates and scopes and recreates the
// global scope, used at the start of a new Scheduler.Execute run.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.globalCancel()
	c.globalCtx, c.globalCancel = context.WithCancel(context.Background())
	c.globalGate = newGate()
	c.jobGates = make(map[string]*gate)
	c.jobCtx = make(map[string]context.Context)
	c.jobCancel = make(map[string]context.CancelFunc)
}
