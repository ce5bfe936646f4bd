// ============================================================================
// MPSC QUEUE CORRECTNESS SUITE
// ============================================================================
//
// Test categories:
//   - Sentinel behaviour on empty queues (zero value and New)
//   - FIFO ordering for a single producer
//   - Stub re-insertion when the last element is taken
//   - Multi-producer stress: no loss, per-producer order preserved

package queue

import (
	"runtime"
	"sync"
	"testing"
)

type item struct {
	Node[*item]
	producer int
	seq      int
}

func newItem(producer, seq int) *item {
	it := &item{producer: producer, seq: seq}
	it.Value = it
	return it
}

// TestZeroValueQueue mirrors the basic lifecycle on an uninitialised queue.
func TestZeroValueQueue(t *testing.T) {
	var q Queue[*item]
	if !q.Empty() {
		t.Fatal("zero queue must be empty")
	}

	it := newItem(0, 0)
	q.PushBack(&it.Node)
	if q.Empty() {
		t.Fatal("queue must not be empty after push")
	}
	got := q.PopFront()
	if got == nil || got.Value != it {
		t.Fatalf("popped %v, want the pushed item", got)
	}
	if !q.Empty() {
		t.Fatal("queue must be empty after popping the only item")
	}
	if q.PopFront() != nil {
		t.Fatal("pop on empty queue must return nil")
	}
}

// TestPushPushPopPopPop is the A, B, pop A, pop B, pop nil scenario.
func TestPushPushPopPopPop(t *testing.T) {
	q := New[*item]()
	a, b := newItem(0, 0), newItem(0, 1)

	q.PushBack(&a.Node)
	q.PushBack(&b.Node)

	if n := q.PopFront(); n == nil || n.Value != a {
		t.Fatal("first pop must return A")
	}
	if q.Empty() {
		t.Fatal("B is still pending")
	}
	if n := q.PopFront(); n == nil || n.Value != b {
		t.Fatal("second pop must return B")
	}
	for i := 0; i < 3; i++ {
		if !q.Empty() {
			t.Fatal("queue must stay empty")
		}
		if q.PopFront() != nil {
			t.Fatal("pop on drained queue must return nil")
		}
	}
}

func TestPushBackNilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("PushBack(nil) should panic")
		}
	}()
	New[int]().PushBack(nil)
}

// TestFIFOInterleaved pushes and pops in irregular batches and checks the
// global order equals the push order.
func TestFIFOInterleaved(t *testing.T) {
	q := New[int]()
	nodes := make([]Node[int], 1000)
	for i := range nodes {
		nodes[i].Value = i
	}

	pushed, want := 0, 0
	for round := 1; pushed < len(nodes); round++ {
		for k := 0; k < round%7+1 && pushed < len(nodes); k++ {
			q.PushBack(&nodes[pushed])
			pushed++
		}
		for k := 0; k < round%5; k++ {
			n := q.PopFront()
			if n == nil {
				break
			}
			if n.Value != want {
				t.Fatalf("popped %d, want %d", n.Value, want)
			}
			want++
		}
	}
	for n := q.PopFront(); n != nil; n = q.PopFront() {
		if n.Value != want {
			t.Fatalf("popped %d, want %d", n.Value, want)
		}
		want++
	}
	if want != len(nodes) || !q.Empty() {
		t.Fatalf("drained %d of %d, empty=%v", want, len(nodes), q.Empty())
	}
}

// TestNodeReuseAfterPop re-pushes the same node many times, the pattern a
// rescheduled task follows.
func TestNodeReuseAfterPop(t *testing.T) {
	q := New[int]()
	var n Node[int]
	n.Value = 7
	for i := 0; i < 100; i++ {
		q.PushBack(&n)
		got := q.PopFront()
		if got != &n {
			t.Fatalf("iteration %d: popped %p, want %p", i, got, &n)
		}
	}
	if !q.Empty() {
		t.Fatal("queue must be empty")
	}
}

// TestConcurrentProducers runs several producers against one consumer and
// verifies that nothing is lost and each producer's order is kept.
func TestConcurrentProducers(t *testing.T) {
	const (
		producers = 8
		perProd   = 5000
	)
	q := New[*item]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				it := newItem(p, i)
				q.PushBack(&it.Node)
				if i%64 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	next := make([]int, producers)
	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	finished := false
	for total < producers*perProd {
		n := q.PopFront()
		if n == nil {
			if finished && q.Empty() {
				break
			}
			select {
			case <-done:
				finished = true
			default:
			}
			runtime.Gosched()
			continue
		}
		it := n.Value
		if it.seq != next[it.producer] {
			t.Fatalf("producer %d: got seq %d, want %d", it.producer, it.seq, next[it.producer])
		}
		next[it.producer]++
		total++
	}

	if total != producers*perProd {
		t.Fatalf("consumed %d, want %d", total, producers*perProd)
	}
	if !q.Empty() || q.PopFront() != nil {
		t.Fatal("queue must be empty after consuming everything")
	}
}

func BenchmarkPushPop(b *testing.B) {
	q := New[int]()
	var n Node[int]
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		q.PushBack(&n)
		q.PopFront()
	}
}

func BenchmarkParallelPush(b *testing.B) {
	q := New[int]()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			q.PushBack(&Node[int]{})
		}
	})
}
