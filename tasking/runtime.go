// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ PER-CORE TASK RUNTIME
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Scheduler owning one pinned worker per core
//
// Description:
//   A Runtime starts one worker goroutine per core of its CoreSet. Each worker locks itself to an
//   OS thread, pins that thread, allocates its arena and trace arrays, and then polls its own
//   MPSC queue. Tasks are spawned from anywhere; they run only on the core they are annotated
//   with.
//
// Lifecycle:
//   - New returns once every worker is pinned and ready, or with the first bring-up error
//   - The runtime ends after every core has executed a task returning Stop at least once
//   - Shutdown forces the end without waiting for the stop barrier
//   - Wait joins the workers, drains queues that were abandoned, and reclaims live handles
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package tasking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"coretask/arena"
	"coretask/constants"
	"coretask/control"
	"coretask/coreset"
	"coretask/debug"
	"coretask/profiling"
	"coretask/queue"
	"coretask/utils"
)

var (
	// ErrUnknownCore is returned for a core id outside the runtime's CoreSet.
	ErrUnknownCore = errors.New("tasking: core not in runtime")
	// ErrStopped is returned once the runtime has been torn down.
	ErrStopped = errors.New("tasking: runtime stopped")
	// ErrQueued is returned when a task is spawned while still queued.
	ErrQueued = errors.New("tasking: task already queued")
	// ErrForeign is returned when a task allocated by another runtime, or
	// not allocated through NewTask at all, is spawned.
	ErrForeign = errors.New("tasking: task not allocated by this runtime")
	// ErrOptions is returned for invalid runtime options.
	ErrOptions = errors.New("tasking: invalid options")
	// ErrInit is returned when a worker fails to prepare its core.
	ErrInit = errors.New("tasking: worker init failed")
)

// Options configure a Runtime.
type Options struct {
	// ArenaSlots is the number of live tasks one core can hold.
	ArenaSlots int
	// SpinBudget is the number of empty polls a worker spins tightly before
	// it starts relaxing and yielding.
	SpinBudget int
	// Profiling enables the per-core tracer.
	Profiling bool
	// Trace configures the tracer. Labels and Deferred are set by the
	// runtime.
	Trace profiling.Options
}

// DefaultOptions returns the compile-time defaults with profiling on.
func DefaultOptions() Options {
	return Options{
		ArenaSlots: constants.ArenaSlots,
		SpinBudget: constants.SpinBudget,
		Profiling:  true,
		Trace:      profiling.DefaultOptions(),
	}
}

// Runtime schedules tasks onto a fixed set of pinned cores.
type Runtime struct {
	cores   coreset.CoreSet
	opts    Options
	workers []*worker // slot order
	byCore  []*worker // indexed by core id, nil for foreign cores
	barrier *control.Barrier
	prof    *profiling.Profiler
	group   errgroup.Group

	closed    atomic.Bool
	once      sync.Once
	err       error
	drainMu   sync.Mutex // serialises queue drains once the workers are gone
	abandoned atomic.Uint64
	reclaimed uint64
}

// New starts one worker per core of cores and returns when all of them are
// ready to execute tasks.
func New(cores coreset.CoreSet, opts Options) (*Runtime, error) {
	if cores.Len() == 0 {
		return nil, coreset.ErrEmpty
	}
	if opts.ArenaSlots <= 0 || uint64(opts.ArenaSlots) >= 1<<32-1 {
		return nil, fmt.Errorf("%w: arena slots %d", ErrOptions, opts.ArenaSlots)
	}
	if opts.SpinBudget <= 0 {
		return nil, fmt.Errorf("%w: spin budget %d", ErrOptions, opts.SpinBudget)
	}

	rt := &Runtime{
		cores:   cores,
		opts:    opts,
		workers: make([]*worker, cores.Len()),
		byCore:  make([]*worker, int(cores.Max())+1),
		barrier: control.NewBarrier(cores.Len()),
	}
	if opts.Profiling {
		popts := opts.Trace
		popts.Labels = cores.Cores()
		popts.Deferred = true
		prof, err := profiling.New(cores.Len(), popts)
		if err != nil {
			return nil, err
		}
		rt.prof = prof
	}

	ready := make(chan error, cores.Len())
	for slot := range rt.workers {
		w := &worker{
			rt:    rt,
			slot:  slot,
			core:  cores.At(slot),
			queue: queue.New[Task](),
		}
		rt.workers[slot] = w
		rt.byCore[w.core] = w
	}
	for _, w := range rt.workers {
		rt.group.Go(func() error { return w.run(ready) })
	}

	var initErr error
	for range rt.workers {
		if err := <-ready; err != nil && initErr == nil {
			initErr = err
		}
	}
	if initErr != nil {
		rt.barrier.Shutdown()
		_ = rt.group.Wait()
		rt.closed.Store(true)
		return nil, initErr
	}
	return rt, nil
}

// Run is the lifetime guard around a Runtime: it starts the runtime, lets
// setup spawn the initial tasks, and blocks until the runtime has ended.
// Cancelling ctx forces a shutdown. The ended runtime is returned so its
// profiler can be exported.
func Run(ctx context.Context, cores coreset.CoreSet, opts Options, setup func(*Runtime) error) (*Runtime, error) {
	rt, err := New(cores, opts)
	if err != nil {
		return nil, err
	}
	if err := setup(rt); err != nil {
		rt.Shutdown()
		_ = rt.Wait()
		return rt, err
	}
	return rt, rt.WaitContext(ctx)
}

func (rt *Runtime) workerFor(core uint16) (*worker, error) {
	if int(core) >= len(rt.byCore) || rt.byCore[core] == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCore, core)
	}
	return rt.byCore[core], nil
}

// Spawn queues t on its annotated core and records the enqueue in the
// tracer. The enqueue is recorded before the push so the traced queue
// length never runs ahead of the real one.
func (rt *Runtime) Spawn(t Task) error {
	if t == nil {
		panic("tasking: nil task")
	}
	h := t.header()
	if h.rt != rt {
		return ErrForeign
	}
	if rt.closed.Load() {
		return ErrStopped
	}
	w, err := rt.workerFor(h.core)
	if err != nil {
		return err
	}
	if !h.queued.CompareAndSwap(false, true) {
		return ErrQueued
	}
	if rt.prof != nil {
		rt.prof.Enqueue(w.slot)
	}
	return rt.push(w, h)
}

// push links h onto w's queue. A push that raced with teardown finds the
// runtime closed afterwards and drains the queue itself, so no task is left
// behind unaccounted.
func (rt *Runtime) push(w *worker, h *Header) error {
	w.queue.PushBack(&h.node)
	if !rt.closed.Load() {
		return nil
	}
	rt.drainMu.Lock()
	rt.drain(w)
	rt.drainMu.Unlock()
	return ErrStopped
}

// drain empties w's queue after its worker has exited. Callers hold drainMu.
func (rt *Runtime) drain(w *worker) {
	for n := w.queue.PopFront(); n != nil; n = w.queue.PopFront() {
		n.Value.header().queued.Store(false)
		rt.abandoned.Add(1)
	}
}

// Lookup returns the task addressed by h while h is live.
func (rt *Runtime) Lookup(h Handle) (Task, bool) {
	w, err := rt.workerFor(h.core)
	if err != nil {
		return nil, false
	}
	t, ok := w.arena.Get(h.ref)
	if !ok || *t == nil {
		return nil, false
	}
	return *t, true
}

// release frees the arena slot of a finished task.
func (rt *Runtime) release(h *Header) bool {
	w, err := rt.workerFor(h.handle.core)
	if err != nil {
		return false
	}
	return w.arena.Release(h.handle.ref)
}

// Shutdown makes every worker exit after its current task, whether or not
// the stop barrier has been reached.
func (rt *Runtime) Shutdown() {
	rt.barrier.Shutdown()
}

// Wait blocks until every worker has exited, then tears the runtime down.
// It is safe to call more than once.
func (rt *Runtime) Wait() error {
	rt.once.Do(func() {
		rt.err = rt.group.Wait()
		rt.closed.Store(true)
		rt.teardown()
	})
	return rt.err
}

// WaitContext is Wait with a forced shutdown when ctx is done first.
func (rt *Runtime) WaitContext(ctx context.Context) error {
	stop := context.AfterFunc(ctx, rt.Shutdown)
	defer stop()
	return rt.Wait()
}

// teardown runs after all workers have been joined.
func (rt *Runtime) teardown() {
	rt.drainMu.Lock()
	defer rt.drainMu.Unlock()

	running := 0
	for _, w := range rt.workers {
		rt.drain(w)
		if !rt.barrier.Signalled(w.slot) {
			running++
		}
		w.arena.Each(func(ref arena.Ref, _ *Task) {
			if w.arena.Release(ref) {
				rt.reclaimed++
			}
		})
		w.state.Store(uint32(Stopped))
	}
	if n := rt.abandoned.Load(); n > 0 {
		debug.DropMessage("TASKING", utils.Utoa(n)+" queued tasks abandoned at shutdown")
	}
	if rt.barrier.Forced() && running > 0 {
		debug.DropMessage("TASKING", "forced shutdown, "+utils.Itoa(running)+" cores never stopped")
	}
}

// Cores returns the runtime's core set.
func (rt *Runtime) Cores() coreset.CoreSet { return rt.cores }

// Profiler returns the tracer, or nil when profiling is off.
func (rt *Runtime) Profiler() *profiling.Profiler { return rt.prof }

// State reports the worker state of core.
func (rt *Runtime) State(core uint16) (State, bool) {
	w, err := rt.workerFor(core)
	if err != nil {
		return Idle, false
	}
	return State(w.state.Load()), true
}

// Executed returns how many tasks core has executed so far.
func (rt *Runtime) Executed(core uint16) uint64 {
	w, err := rt.workerFor(core)
	if err != nil {
		return 0
	}
	return w.executed.Load()
}

// Live returns the number of unreleased tasks allocated on core.
func (rt *Runtime) Live(core uint16) int {
	w, err := rt.workerFor(core)
	if err != nil {
		return 0
	}
	return w.arena.Live()
}

// StoppedCores returns how many distinct cores have reached Stop.
func (rt *Runtime) StoppedCores() int { return rt.barrier.Stopped() }

// Abandoned returns the number of tasks still queued when the workers
// exited, including spawns that raced with teardown. Valid after Wait.
func (rt *Runtime) Abandoned() uint64 { return rt.abandoned.Load() }

// Reclaimed returns the number of live handles released by teardown.
// Valid after Wait.
func (rt *Runtime) Reclaimed() uint64 { return rt.reclaimed }

// Node returns the NUMA node the worker of core allocated its memory on.
func (rt *Runtime) Node(core uint16) (int, bool) {
	w, err := rt.workerFor(core)
	if err != nil {
		return 0, false
	}
	return w.node, true
}
