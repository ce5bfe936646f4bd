package profiling

import (
	"time"

	"coretask/debug"
	"coretask/utils"
)

// Summary aggregates the cost and volume of recording.
type Summary struct {
	Overhead        time.Duration // spent inside StartTask/EndTask
	QueueOverhead   time.Duration // spent inside Enqueue
	Tasks           uint64
	Enqueues        uint64
	DroppedTasks    uint64
	DroppedEnqueues uint64
}

// PerTask returns the instrumentation overhead per recorded task, or zero
// when nothing was recorded.
func (s Summary) PerTask() time.Duration {
	if s.Tasks == 0 {
		return 0
	}
	return s.Overhead / time.Duration(s.Tasks)
}

// Summary collects the counters of every core.
func (p *Profiler) Summary() Summary {
	s := Summary{
		Overhead:      time.Duration(p.overhead.Load()),
		QueueOverhead: time.Duration(p.queueOverhead.Load()),
	}
	for slot := range p.cores {
		c := &p.cores[slot]
		s.Tasks += c.taskNext
		s.DroppedTasks += c.taskDrop
		s.Enqueues += c.queueNext.Load()
		s.DroppedEnqueues += c.queueDrop.Load()
	}
	return s
}

// Log writes the summary as cold-path diagnostics.
func (s Summary) Log() {
	debug.DropMessage("PROFILE", "overhead "+utils.Itoa(int(s.Overhead))+"ns ("+
		utils.Itoa(int(s.Overhead.Milliseconds()))+"ms)")
	debug.DropMessage("PROFILE", "queue overhead "+utils.Itoa(int(s.QueueOverhead))+"ns ("+
		utils.Itoa(int(s.QueueOverhead.Milliseconds()))+"ms)")
	debug.DropMessage("PROFILE", "tasks "+utils.Utoa(s.Tasks)+", enqueues "+utils.Utoa(s.Enqueues)+
		", overhead per task "+utils.Itoa(int(s.PerTask()))+"ns")
	if s.DroppedTasks != 0 || s.DroppedEnqueues != 0 {
		debug.DropMessage("PROFILE", "dropped "+utils.Utoa(s.DroppedTasks)+" task and "+
			utils.Utoa(s.DroppedEnqueues)+" queue events")
	}
}

// Throughput counts, per core, the completed tasks that started after from
// and ended before to (both relative to Origin), and returns the total.
func (p *Profiler) Throughput(from, to time.Duration) ([]uint64, uint64) {
	per := make([]uint64, len(p.cores))
	var total uint64
	for slot := range p.cores {
		c := &p.cores[slot]
		for i := uint64(0); i < c.taskNext; i++ {
			ti := &c.tasks[i]
			if ti.End == Unset {
				continue
			}
			if ti.Start > int64(from) && ti.End < int64(to) {
				per[slot]++
			}
		}
		total += per[slot]
	}
	return per, total
}
