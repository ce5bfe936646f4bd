// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ PER-CORE SLOT ARENA
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Task storage owned by one core
//
// Description:
//   Fixed-capacity slot table addressed by generational references. Slots are acquired by any
//   goroutine (spawning code may run on a different core) and released by the owning core once
//   the value is finished. A reference whose generation no longer matches is stale and is
//   rejected instead of touching a recycled slot.
//
// Design Principles:
//   - Free slots form a Treiber stack; the head word carries a 32-bit tag next to the index so
//     a concurrent pop/push pair cannot resurrect a stale head (ABA)
//   - Generation is odd while a slot is live and even while it is free
//   - The slot table is allocated and initialised in one pass by the constructor; call it from
//     the owning core's pinned thread so the pages are first touched on that core's node
//   - Values are left in place on release so the next acquirer can recycle them
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package arena

import (
	"errors"
	"sync/atomic"
)

// ErrExhausted is returned when every slot of an arena is live.
var ErrExhausted = errors.New("arena: no free slot")

// Ref addresses one acquisition of a slot.
type Ref struct {
	Index uint32
	Gen   uint32
}

type slot[T any] struct {
	next atomic.Uint32 // free-list link, index+1 (0 = end)
	gen  atomic.Uint32
	val  T
}

// Arena is a fixed-capacity, concurrently acquirable slot table.
type Arena[T any] struct {
	_     [64]byte
	free  atomic.Uint64 // tag<<32 | index+1
	_     [56]byte
	live  atomic.Int64
	slots []slot[T]
}

// New allocates an arena with capacity slots. It panics on a non-positive
// capacity or one that does not fit a 32-bit index.
func New[T any](capacity int) *Arena[T] {
	if capacity <= 0 || uint64(capacity) >= 1<<32-1 {
		panic("arena: capacity out of range")
	}
	a := &Arena[T]{slots: make([]slot[T], capacity)}
	for i := range a.slots {
		if i+1 < capacity {
			a.slots[i].next.Store(uint32(i + 2))
		}
	}
	a.free.Store(1)
	return a
}

// Acquire takes a free slot and returns its reference together with a
// pointer to the stored value, which still holds whatever the previous
// owner left there.
func (a *Arena[T]) Acquire() (Ref, *T, error) {
	for {
		old := a.free.Load()
		top := uint32(old)
		if top == 0 {
			return Ref{}, nil, ErrExhausted
		}
		s := &a.slots[top-1]
		next := s.next.Load()
		if a.free.CompareAndSwap(old, (old>>32+1)<<32|uint64(next)) {
			gen := s.gen.Add(1)
			a.live.Add(1)
			return Ref{Index: top - 1, Gen: gen}, &s.val, nil
		}
	}
}

// Release returns the slot addressed by r to the free list. It reports
// false, and changes nothing, when r is stale or out of range.
func (a *Arena[T]) Release(r Ref) bool {
	if int(r.Index) >= len(a.slots) || r.Gen&1 == 0 {
		return false
	}
	s := &a.slots[r.Index]
	if !s.gen.CompareAndSwap(r.Gen, r.Gen+1) {
		return false
	}
	a.live.Add(-1)
	for {
		old := a.free.Load()
		s.next.Store(uint32(old))
		if a.free.CompareAndSwap(old, (old>>32+1)<<32|uint64(r.Index+1)) {
			return true
		}
	}
}

// Get returns the value addressed by r if r is still live.
func (a *Arena[T]) Get(r Ref) (*T, bool) {
	if int(r.Index) >= len(a.slots) || r.Gen&1 == 0 {
		return nil, false
	}
	s := &a.slots[r.Index]
	if s.gen.Load() != r.Gen {
		return nil, false
	}
	return &s.val, true
}

// Live returns the number of acquired, unreleased slots.
func (a *Arena[T]) Live() int {
	return int(a.live.Load())
}

// Cap returns the arena capacity.
func (a *Arena[T]) Cap() int {
	return len(a.slots)
}

// Each calls fn for every live slot. It must not race with Acquire or
// Release; the runtime uses it during teardown only.
func (a *Arena[T]) Each(fn func(Ref, *T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if g := s.gen.Load(); g&1 == 1 {
			fn(Ref{Index: uint32(i), Gen: g}, &s.val)
		}
	}
}
