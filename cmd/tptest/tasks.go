package main

import (
	"sync/atomic"

	"coretask/tasking"
)

// workload counts what the demo tasks did.
type workload struct {
	dummies  atomic.Uint64
	failures atomic.Uint64
	sink     atomic.Uint64
}

// dummyTask burns a few hundred nanoseconds and finishes.
type dummyTask struct {
	tasking.Header
	seed  uint64
	stats *workload
}

func (d *dummyTask) TaskType() uint32 { return 2 }

func (d *dummyTask) Execute(core, channel uint16) tasking.Result {
	x := d.seed | 1
	for range 64 {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
	}
	d.stats.sink.Add(x & 1)
	d.stats.dummies.Add(1)
	return tasking.Remove
}

// driverTask spawns num dummies on its core, then either its successor or,
// after the last round, stops the core.
type driverTask struct {
	tasking.Header
	num, rounds, round int
	stats              *workload
}

func (d *driverTask) TaskType() uint32 { return 1 }

func (d *driverTask) Execute(core, channel uint16) tasking.Result {
	rt := d.Runtime()
	for i := range d.num {
		x, err := tasking.NewTask[dummyTask](rt, core)
		if err != nil {
			d.stats.failures.Add(1)
			continue
		}
		x.seed = uint64(d.round)<<32 | uint64(i)
		x.stats = d.stats
		if err := rt.Spawn(x); err != nil {
			d.stats.failures.Add(1)
		}
	}

	if d.round++; d.round >= d.rounds {
		return tasking.Stop
	}
	if err := spawnNext(rt, core, d); err != nil {
		d.stats.failures.Add(1)
		return tasking.Stop
	}
	return tasking.Remove
}

func spawnNext(rt *tasking.Runtime, core uint16, prev *driverTask) error {
	next, err := tasking.NewTask[driverTask](rt, core)
	if err != nil {
		return err
	}
	next.num, next.rounds, next.round, next.stats = prev.num, prev.rounds, prev.round, prev.stats
	return rt.Spawn(next)
}

func spawnDriver(rt *tasking.Runtime, core uint16, num, rounds int, stats *workload) error {
	return spawnNext(rt, core, &driverTask{num: num, rounds: rounds, stats: stats})
}
