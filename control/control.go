// control.go — Stop coordination for one runtime instance
// ============================================================================
// BARRIER-STYLE SHUTDOWN
// ============================================================================
//
// A Barrier counts how many distinct cores have observed a Stop result. The
// runtime is finished only once every core of its CoreSet has signalled; one
// core stopping early keeps polling its queue until the count is complete.
//
// Architecture overview:
//   • One Barrier per runtime instance; nothing here is process-global
//   • Per-core signalled flags make Signal idempotent per core
//   • A single fetch-and-add counter is the only cross-core write
//   • Shutdown forces Done regardless of the count (signals, tests)
//
// Threading model:
//   • Signal is called by the owning worker after a task returns Stop
//   • Done/Stopped are polled by every worker and by Runtime.Wait

package control

import "sync/atomic"

// Barrier tracks coordinated shutdown across a fixed number of cores.
type Barrier struct {
	_       [64]byte // isolate the shared counter
	stopped atomic.Uint32
	_       [60]byte
	forced  atomic.Uint32
	total   uint32
	flags   []atomic.Uint32 // per-core "has signalled" marks
}

// NewBarrier returns a barrier that completes after cores distinct Signal
// calls. It panics on a non-positive core count.
func NewBarrier(cores int) *Barrier {
	if cores <= 0 {
		panic("control: barrier needs at least one core")
	}
	return &Barrier{
		total: uint32(cores),
		flags: make([]atomic.Uint32, cores),
	}
}

// Signal records that the core at slot has observed a Stop result. It
// reports true only the first time a given slot signals.
func (b *Barrier) Signal(slot int) bool {
	if !b.flags[slot].CompareAndSwap(0, 1) {
		return false
	}
	b.stopped.Add(1)
	return true
}

// Signalled reports whether the core at slot has already signalled.
func (b *Barrier) Signalled(slot int) bool {
	return b.flags[slot].Load() != 0
}

// Stopped returns the number of distinct cores that have signalled.
//
//go:nosplit
func (b *Barrier) Stopped() int {
	return int(b.stopped.Load())
}

// Total returns the number of cores the barrier waits for.
func (b *Barrier) Total() int {
	return int(b.total)
}

// Done reports whether every core has signalled or Shutdown was called.
//
//go:nosplit
func (b *Barrier) Done() bool {
	return b.stopped.Load() >= b.total || b.forced.Load() != 0
}

// Shutdown completes the barrier immediately.
func (b *Barrier) Shutdown() {
	b.forced.Store(1)
}

// Forced reports whether Shutdown ended the barrier.
func (b *Barrier) Forced() bool {
	return b.forced.Load() != 0
}
