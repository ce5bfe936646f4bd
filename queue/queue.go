// ============================================================================
// LOCK-FREE INTRUSIVE MPSC QUEUE
// ============================================================================
//
// Per-core FIFO of pending items. Any core may PushBack concurrently; only
// the owning core's worker calls PopFront and Empty.
//
// Architecture overview:
//   - Intrusive: the link lives inside the queued value (Node), so a push
//     never allocates
//   - Producers serialise on a single atomic swap of head, then publish the
//     link from the previous head; no CAS loop, no mutex
//   - The consumer walks from tail and re-inserts an embedded stub node when
//     it is about to take the last element, so head/tail never become nil
//
// Ordering:
//   - FIFO per queue; concurrent producers are ordered by their head swap
//
// Safety model:
//   - PopFront returns nil when nothing is poppable, including the short
//     window where a producer has swapped head but not yet linked; callers
//     retry on the next poll
//   - A Node must not be pushed again before it has been popped
//   - A Queue must not be copied after first use (the stub is embedded)

package queue

import "sync/atomic"

// Node is the intrusive link. Embed it in the queued value and set Value to
// whatever the consumer needs back after PopFront.
type Node[T any] struct {
	next  atomic.Pointer[Node[T]]
	Value T
}

// Queue is a multi-producer single-consumer FIFO. The zero value is an empty
// queue ready for use.
type Queue[T any] struct {
	_    [64]byte // producer cursor on its own cache line
	head atomic.Pointer[Node[T]]
	_    [56]byte
	tail *Node[T] // consumer-only
	_    [56]byte
	stub Node[T]
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.head.Store(&q.stub)
	q.tail = &q.stub
	return q
}

// link swaps n in as the newest element and hooks it behind the previous one.
func (q *Queue[T]) link(n *Node[T]) {
	n.next.Store(nil)
	if q.head.Load() == nil {
		q.head.CompareAndSwap(nil, &q.stub)
	}
	prev := q.head.Swap(n)
	prev.next.Store(n)
}

// PushBack appends n. Safe to call from any goroutine.
func (q *Queue[T]) PushBack(n *Node[T]) {
	if n == nil {
		panic("queue: nil node")
	}
	q.link(n)
}

// PopFront removes and returns the oldest node, or nil when the queue is
// empty. Only the owning consumer may call it.
func (q *Queue[T]) PopFront() *Node[T] {
	if q.tail == nil {
		q.tail = &q.stub
	}
	tail := q.tail
	next := tail.next.Load()

	if tail == &q.stub {
		if next == nil {
			return nil
		}
		q.tail = next
		tail = next
		next = next.next.Load()
	}

	if next != nil {
		q.tail = next
		return tail
	}

	// tail is the last linked node. If head moved past it a producer is
	// mid-push and the link is not visible yet.
	if tail != q.head.Load() {
		return nil
	}

	q.link(&q.stub)
	if next = tail.next.Load(); next != nil {
		q.tail = next
		return tail
	}
	return nil
}

// Empty reports whether no node is pending. Only the owning consumer may
// call it; a concurrent push may make the answer stale immediately.
func (q *Queue[T]) Empty() bool {
	head := q.head.Load()
	if head == nil {
		return true
	}
	tail := q.tail
	if tail == nil {
		tail = &q.stub
	}
	return tail == &q.stub && head == &q.stub
}
