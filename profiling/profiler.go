// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ TASKING PROFILER
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Per-core task and enqueue event recorder
//
// Description:
//   Fixed-capacity, per-core event arrays reserved up front. Task events are written only by the
//   core's own worker (plain counter); enqueue events are written by whichever core spawns onto
//   the core (fetch-and-add counter). Both arrays refuse writes past their capacity, count the
//   refusal, and report it once per core on the cold path.
//
// Timing:
//   - All timestamps are nanoseconds since the profiler origin, taken from the monotonic clock
//   - Overhead is the time spent between the two clock reads around each recording
//
// Reading:
//   - Snapshots, Summary, Throughput and the exporter must run after the workers have stopped
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package profiling

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"coretask/constants"
	"coretask/debug"
)

// Unset marks a task whose end was never recorded.
const Unset int64 = -1

// NoTask is returned by StartTask when the task array is full; EndTask
// ignores it.
const NoTask = ^uint64(0)

var (
	// ErrCapacity reports that at least one event was refused because a
	// per-core array was full.
	ErrCapacity = errors.New("profiling: event array capacity exceeded")
	// ErrConfig reports invalid profiler options.
	ErrConfig = errors.New("profiling: invalid options")
)

// TaskInfo is one recorded task execution.
type TaskInfo struct {
	ID    uint64
	Type  uint32
	Name  string
	Start int64
	End   int64
}

// QueueInfo is one recorded enqueue.
type QueueInfo struct {
	ID        uint64
	Timestamp int64
}

// Options configure a Profiler.
type Options struct {
	// Capacity is the number of task and of queue slots per core.
	Capacity int
	// QueueLength enables the merged queue-length series in the export.
	QueueLength bool
	// Labels are the core ids shown in the export, one per slot. Slot
	// indices are used when empty.
	Labels []uint16
	// Deferred leaves the per-core arrays unallocated until Prepare is
	// called for the slot, so the owning pinned thread touches them first.
	Deferred bool
}

// DefaultOptions returns the compile-time defaults.
func DefaultOptions() Options {
	return Options{
		Capacity:    constants.TaskingArrayLength,
		QueueLength: constants.QueueLengthTracing,
	}
}

type coreData struct {
	_        [64]byte
	tasks    []TaskInfo
	taskNext uint64 // owner-only
	taskDrop uint64 // owner-only
	_        [40]byte
	queue     []QueueInfo
	queueNext atomic.Uint64
	queueDrop atomic.Uint64
	warned    atomic.Bool
}

// Profiler records task and enqueue events for a fixed set of cores.
type Profiler struct {
	origin      time.Time
	capacity    int
	queueLength bool
	labels      []uint16
	cores       []coreData

	overhead      atomic.Int64
	queueOverhead atomic.Int64
}

// New creates a profiler for cores slots and fixes the time origin.
func New(cores int, opts Options) (*Profiler, error) {
	if cores <= 0 || cores > 1<<16 {
		return nil, fmt.Errorf("%w: %d cores", ErrConfig, cores)
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrConfig, opts.Capacity)
	}
	if len(opts.Labels) != 0 && len(opts.Labels) != cores {
		return nil, fmt.Errorf("%w: %d labels for %d cores", ErrConfig, len(opts.Labels), cores)
	}

	labels := make([]uint16, cores)
	for i := range labels {
		if len(opts.Labels) != 0 {
			labels[i] = opts.Labels[i]
		} else {
			labels[i] = uint16(i)
		}
	}

	p := &Profiler{
		capacity:    opts.Capacity,
		queueLength: opts.QueueLength,
		labels:      labels,
		cores:       make([]coreData, cores),
	}
	if !opts.Deferred {
		for slot := range p.cores {
			p.Prepare(slot)
		}
	}
	p.origin = time.Now()
	return p, nil
}

// Prepare allocates and initialises the event arrays of slot. It is a no-op
// when they already exist. Call it from the slot's own pinned thread.
func (p *Profiler) Prepare(slot int) {
	c := &p.cores[slot]
	if c.tasks != nil {
		return
	}
	tasks := make([]TaskInfo, p.capacity)
	for i := range tasks {
		tasks[i].End = Unset
	}
	queue := make([]QueueInfo, p.capacity)
	for i := range queue {
		queue[i].Timestamp = Unset
	}
	c.tasks, c.queue = tasks, queue
}

// Cores returns the number of recorded cores.
func (p *Profiler) Cores() int { return len(p.cores) }

// Label returns the core id shown for slot.
func (p *Profiler) Label(slot int) uint16 { return p.labels[slot] }

// QueueLength reports whether the queue-length series is exported.
func (p *Profiler) QueueLength() bool { return p.queueLength }

// Origin returns the reference time of all timestamps.
func (p *Profiler) Origin() time.Time { return p.origin }

// StartTask reserves the next task slot of core slot and stamps its start.
// Only the worker owning slot may call it. It returns NoTask when the
// array is full.
func (p *Profiler) StartTask(slot int, typ uint32, name string) uint64 {
	start := time.Now()
	c := &p.cores[slot]

	id := c.taskNext
	if id >= uint64(len(c.tasks)) {
		c.taskDrop++
		p.warn(slot, "task")
		return NoTask
	}
	c.taskNext = id + 1

	ti := &c.tasks[id]
	ti.ID = id
	ti.Type = typ
	ti.Name = name
	ti.Start = int64(start.Sub(p.origin))
	ti.End = Unset

	p.overhead.Add(int64(time.Since(start)))
	return id
}

// EndTask stamps the end of a task previously returned by StartTask.
func (p *Profiler) EndTask(slot int, id uint64) {
	start := time.Now()
	c := &p.cores[slot]
	if id >= c.taskNext {
		return
	}
	ti := &c.tasks[id]
	ti.End = max(int64(start.Sub(p.origin)), ti.Start)

	p.overhead.Add(int64(time.Since(start)))
}

// Enqueue records that a task was queued for core slot. Any goroutine may
// call it concurrently.
func (p *Profiler) Enqueue(slot int) {
	ts := time.Now()
	c := &p.cores[slot]

	id := c.queueNext.Add(1) - 1
	if id >= uint64(len(c.queue)) {
		c.queueDrop.Add(1)
		p.warn(slot, "queue")
		return
	}
	c.queue[id] = QueueInfo{ID: id, Timestamp: int64(ts.Sub(p.origin))}

	p.queueOverhead.Add(int64(time.Since(ts)))
}

func (p *Profiler) warn(slot int, kind string) {
	if p.cores[slot].warned.CompareAndSwap(false, true) {
		debug.DropCore(p.labels[slot], "TRACE", kind+" event array full, further events dropped")
	}
}

// Enqueued returns how many Enqueue calls targeted slot, including refused
// ones.
func (p *Profiler) Enqueued(slot int) uint64 {
	return p.cores[slot].queueNext.Load()
}

// Started returns how many tasks were recorded on slot.
func (p *Profiler) Started(slot int) uint64 {
	return p.cores[slot].taskNext
}

// Tasks returns a copy of the recorded task events of slot.
func (p *Profiler) Tasks(slot int) []TaskInfo {
	c := &p.cores[slot]
	out := make([]TaskInfo, c.taskNext)
	copy(out, c.tasks[:c.taskNext])
	return out
}

// QueueEvents returns a copy of the recorded enqueue events of slot in id
// order.
func (p *Profiler) QueueEvents(slot int) []QueueInfo {
	c := &p.cores[slot]
	n := min(c.queueNext.Load(), uint64(len(c.queue)))
	out := make([]QueueInfo, n)
	copy(out, c.queue[:n])
	return out
}

// Err returns ErrCapacity if any event was refused.
func (p *Profiler) Err() error {
	for slot := range p.cores {
		c := &p.cores[slot]
		if c.taskDrop != 0 || c.queueDrop.Load() != 0 {
			return fmt.Errorf("%w on core %d", ErrCapacity, p.labels[slot])
		}
	}
	return nil
}
