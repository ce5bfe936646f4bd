// worker.go
//
// One pinned polling loop per core.
//
//   • The goroutine locks its OS thread and pins it to the worker's core.
//     It never unlocks: the thread is destroyed on exit, so the pinned
//     affinity mask is not handed back to the Go scheduler.
//   • The arena and the trace arrays are allocated after pinning, so their
//     pages are first touched on the core's own NUMA node.
//   • After work the loop spins tightly for SpinBudget empty polls, then
//     drops to cpuRelax on every poll and yields the P every SpinBudget
//     misses. It never blocks.
//   • It exits when the runtime is forced down, or when the stop barrier is
//     complete and its queue is empty.

package tasking

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"coretask/arena"
	"coretask/coreset"
	"coretask/debug"
	"coretask/queue"
	"coretask/utils"
)

// State is the observable state of a worker.
type State uint32

const (
	// Idle workers are polling an empty queue.
	Idle State = iota
	// Running workers are inside Execute.
	Running
	// Stopped workers have left their loop.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type worker struct {
	_        [64]byte
	executed atomic.Uint64
	state    atomic.Uint32
	_        [52]byte

	rt    *Runtime
	slot  int
	core  uint16
	node  int
	queue *queue.Queue[Task]
	arena *arena.Arena[Task]
}

// run is the body of the worker goroutine. ready receives exactly one value.
func (w *worker) run(ready chan<- error) error {
	runtime.LockOSThread()

	if err := setAffinity(int(w.core)); err != nil {
		debug.DropCore(w.core, "PIN", "running unpinned: "+err.Error())
	}
	if err := w.prepare(); err != nil {
		w.state.Store(uint32(Stopped))
		ready <- err
		return err
	}
	ready <- nil

	w.loop()
	w.state.Store(uint32(Stopped))
	return nil
}

// prepare performs the first-touch allocations on the pinned thread.
func (w *worker) prepare() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: core %d: %v", ErrInit, w.core, r)
		}
	}()
	w.node = coreset.NodeOf(w.core)
	w.arena = arena.New[Task](w.rt.opts.ArenaSlots)
	if w.rt.prof != nil {
		w.rt.prof.Prepare(w.slot)
	}
	return nil
}

func (w *worker) loop() {
	rt := w.rt
	budget := rt.opts.SpinBudget
	miss := 0

	for {
		if rt.barrier.Forced() {
			return
		}

		if n := w.queue.PopFront(); n != nil {
			w.execute(n.Value)
			miss = 0
			continue
		}

		if rt.barrier.Done() && w.queue.Empty() {
			return
		}

		// hot: keep spinning right after work
		if miss++; miss < budget {
			continue
		}
		cpuRelax()
		if miss%budget == 0 {
			runtime.Gosched()
		}
	}
}

func (w *worker) execute(t Task) {
	rt := w.rt
	h := t.header()
	h.queued.Store(false)
	w.state.Store(uint32(Running))

	id := uint64(0)
	if rt.prof != nil {
		id = rt.prof.StartTask(w.slot, h.typ, h.name)
	}
	res := t.Execute(w.core, h.channel)
	if rt.prof != nil {
		rt.prof.EndTask(w.slot, id)
	}

	w.executed.Add(1)
	w.state.Store(uint32(Idle))

	switch res {
	case Remove:
		// a task that spawned itself again continues; its handle stays live
		if !h.queued.Load() {
			rt.release(h)
		}
	case Stop:
		rt.barrier.Signal(w.slot)
	case Reschedule:
		if err := rt.Spawn(t); err != nil {
			debug.DropCore(w.core, "TASKING", "reschedule of "+h.name+" failed: "+err.Error())
			rt.release(h)
		}
	default:
		debug.DropCore(w.core, "TASKING", h.name+" returned result "+utils.Utoa(uint64(res)))
		rt.release(h)
	}
}
