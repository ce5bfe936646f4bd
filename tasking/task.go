package tasking

import (
	"reflect"
	"sync/atomic"

	"coretask/arena"
	"coretask/queue"
)

// Result is the outcome of one Execute call and the only way a task tells
// the runtime what to do with it next.
type Result uint8

const (
	// Remove finishes the task; the runtime releases its handle.
	Remove Result = iota
	// Stop marks the executing core as stopped. The task is not released.
	Stop
	// Reschedule queues the task again on its annotated core; the handle
	// stays live.
	Reschedule
)

func (r Result) String() string {
	switch r {
	case Remove:
		return "remove"
	case Stop:
		return "stop"
	case Reschedule:
		return "reschedule"
	default:
		return "unknown"
	}
}

// Task is a unit of work. Implementations embed Header and are created with
// NewTask; Execute runs on the annotated core's worker, never concurrently
// for the same instance.
type Task interface {
	Execute(core, channel uint16) Result
	header() *Header
}

// Typed is implemented by tasks that want a trace type tag other than 0.
type Typed interface {
	TaskType() uint32
}

// Handle identifies one allocation of a task in its core's arena. A handle
// goes stale once the task is released.
type Handle struct {
	core uint16
	ref  arena.Ref
}

// Core returns the core whose arena holds the task.
func (h Handle) Core() uint16 { return h.core }

// Header carries the runtime-managed part of a task: its queue link, its
// annotation, and its arena handle. Embed it by value.
type Header struct {
	node    queue.Node[Task]
	rt      *Runtime
	handle  Handle
	core    uint16
	channel uint16
	typ     uint32
	name    string
	queued  atomic.Bool
}

func (h *Header) header() *Header { return h }

// Annotate sets the core whose queue the task runs on. It must be called
// before Spawn; a queued task is never migrated.
func (h *Header) Annotate(core uint16) {
	h.core = core
}

// AnnotateChannel sets the channel id passed to Execute.
func (h *Header) AnnotateChannel(channel uint16) {
	h.channel = channel
}

// Core returns the annotated core.
func (h *Header) Core() uint16 { return h.core }

// Channel returns the annotated channel.
func (h *Header) Channel() uint16 { return h.channel }

// Handle returns the arena handle of the task.
func (h *Header) Handle() Handle { return h.handle }

// Runtime returns the runtime that allocated the task, so Execute can spawn
// follow-up work.
func (h *Header) Runtime() *Runtime { return h.rt }

// Name returns the display name recorded in traces.
func (h *Header) Name() string { return h.name }

// NewTask allocates a T from core's arena, recycling the previous occupant
// of the slot when it has the same type. The task comes back zeroed and
// annotated with core, on channel core.
func NewTask[T any, PT interface {
	*T
	Task
}](rt *Runtime, core uint16) (PT, error) {
	if rt.closed.Load() {
		return nil, ErrStopped
	}
	w, err := rt.workerFor(core)
	if err != nil {
		return nil, err
	}
	ref, slot, err := w.arena.Acquire()
	if err != nil {
		return nil, err
	}

	p, ok := (*slot).(PT)
	if ok && p != nil {
		var zero T
		*p = zero
	} else {
		p = PT(new(T))
		*slot = p
	}

	h := p.header()
	h.rt = rt
	h.handle = Handle{core: core, ref: ref}
	h.core = core
	h.channel = core
	h.name = reflect.TypeFor[T]().String()
	if typed, ok := any(p).(Typed); ok {
		h.typ = typed.TaskType()
	}
	h.node.Value = p
	return p, nil
}
