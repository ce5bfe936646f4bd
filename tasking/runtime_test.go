// -----------------------------------------------------------------------------
// runtime_test.go — end-to-end tests for the pinned per-core runtime
// -----------------------------------------------------------------------------
//
//  Verifies: the driver/dummy workload, barrier shutdown across cores, handle
//  lifetime (Remove, Stop, Reschedule, stale handles), spawn error paths,
//  concurrent runtimes, forced shutdown, and tracer integration.
// -----------------------------------------------------------------------------

package tasking

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"coretask/coreset"
	"coretask/utils"
)

func TestMain(m *testing.M) {
	// pin failures on small machines are expected and only logged
	utils.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ArenaSlots = 1024
	opts.Trace.Capacity = 4096
	return opts
}

func mustCores(t *testing.T, ids ...uint16) coreset.CoreSet {
	t.Helper()
	cs, err := coreset.New(ids...)
	if err != nil {
		t.Fatal(err)
	}
	return cs
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// ─────────────────────────── test tasks ───────────────────────────

type dummyTask struct {
	Header
	counter *atomic.Int64
}

func (d *dummyTask) Execute(core, channel uint16) Result {
	d.counter.Add(1)
	return Remove
}

type driverTask struct {
	Header
	num, rounds, round int
	dummies            *atomic.Int64
	failures           *atomic.Int64
}

func (d *driverTask) TaskType() uint32 { return 7 }

func (d *driverTask) Execute(core, channel uint16) Result {
	rt := d.Runtime()
	for range d.num {
		x, err := NewTask[dummyTask](rt, core)
		if err != nil {
			d.failures.Add(1)
			continue
		}
		x.counter = d.dummies
		if err := rt.Spawn(x); err != nil {
			d.failures.Add(1)
		}
	}
	if d.round++; d.round >= d.rounds {
		return Stop
	}
	next, err := NewTask[driverTask](rt, core)
	if err != nil {
		d.failures.Add(1)
		return Stop
	}
	next.num, next.rounds, next.round = d.num, d.rounds, d.round
	next.dummies, next.failures = d.dummies, d.failures
	if err := rt.Spawn(next); err != nil {
		d.failures.Add(1)
		return Stop
	}
	return Remove
}

type stopTask struct{ Header }

func (s *stopTask) Execute(core, channel uint16) Result { return Stop }

type repeatTask struct {
	Header
	left  int
	runs  *atomic.Int64
	cores *atomic.Int64
}

func (r *repeatTask) Execute(core, channel uint16) Result {
	r.runs.Add(1)
	if core == r.Core() {
		r.cores.Add(1)
	}
	if r.left--; r.left > 0 {
		return Reschedule
	}
	return Remove
}

type spinTask struct{ Header }

func (s *spinTask) Execute(core, channel uint16) Result { return Reschedule }

type blockTask struct {
	Header
	entered chan struct{}
	release chan struct{}
}

func (b *blockTask) Execute(core, channel uint16) Result {
	close(b.entered)
	<-b.release
	return Remove
}

func spawnDriver(rt *Runtime, core uint16, num, rounds int, dummies, failures *atomic.Int64) error {
	d, err := NewTask[driverTask](rt, core)
	if err != nil {
		return err
	}
	d.num, d.rounds = num, rounds
	d.dummies, d.failures = dummies, failures
	return rt.Spawn(d)
}

// ─────────────────────────── tests ───────────────────────────

func TestDriverDummyWorkload(t *testing.T) {
	cores := mustCores(t, 0, 1, 2, 3)
	var dummies, failures atomic.Int64

	rt, err := Run(context.Background(), cores, testOptions(), func(rt *Runtime) error {
		for _, core := range cores.Cores() {
			if err := spawnDriver(rt, core, 8, 4, &dummies, &failures); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := dummies.Load(); got != 4*8*4 {
		t.Fatalf("dummies executed = %d, want 128", got)
	}
	if failures.Load() != 0 {
		t.Fatalf("%d spawn failures", failures.Load())
	}
	if rt.StoppedCores() != 4 {
		t.Fatalf("stopped cores = %d, want 4", rt.StoppedCores())
	}
	for _, core := range cores.Cores() {
		if got := rt.Executed(core); got != 36 {
			t.Fatalf("core %d executed %d tasks, want 36", core, got)
		}
		if s, _ := rt.State(core); s != Stopped {
			t.Fatalf("core %d state %v after Wait", core, s)
		}
	}
	if rt.Abandoned() != 0 {
		t.Fatalf("abandoned = %d", rt.Abandoned())
	}
	// the last driver on each core returned Stop and was reclaimed at teardown
	if rt.Reclaimed() != 4 {
		t.Fatalf("reclaimed = %d, want 4", rt.Reclaimed())
	}
}

func TestProfilerSeesEveryTask(t *testing.T) {
	cores := mustCores(t, 0, 1)
	var dummies, failures atomic.Int64

	rt, err := Run(context.Background(), cores, testOptions(), func(rt *Runtime) error {
		for _, core := range cores.Cores() {
			if err := spawnDriver(rt, core, 3, 2, &dummies, &failures); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	p := rt.Profiler()
	for slot := range cores.Len() {
		tasks := p.Tasks(slot)
		if len(tasks) != 8 {
			t.Fatalf("slot %d traced %d tasks, want 8", slot, len(tasks))
		}
		if p.Enqueued(slot) != 8 {
			t.Fatalf("slot %d traced %d enqueues, want 8", slot, p.Enqueued(slot))
		}
		drivers := 0
		for _, ti := range tasks {
			if ti.End < ti.Start {
				t.Fatalf("task %+v ends before it starts", ti)
			}
			if ti.Type == 7 {
				drivers++
				if ti.Name != "tasking.driverTask" {
					t.Fatalf("driver traced as %q", ti.Name)
				}
			}
		}
		if drivers != 2 {
			t.Fatalf("slot %d traced %d drivers, want 2", slot, drivers)
		}
	}

	var buf bytes.Buffer
	if err := p.SaveProfile(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"name":"CPU 1"`)) {
		t.Fatal("export lacks metadata of core 1")
	}
}

func TestRuntimeWaitsForEveryCore(t *testing.T) {
	cores := mustCores(t, 0, 1, 2, 3)
	rt, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	for _, core := range []uint16{0, 1, 2} {
		s, err := NewTask[stopTask](rt, core)
		if err != nil {
			t.Fatal(err)
		}
		if err := rt.Spawn(s); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, time.Second, "three stopped cores", func() bool { return rt.StoppedCores() == 3 })

	done := make(chan error, 1)
	go func() { done <- rt.Wait() }()
	select {
	case <-done:
		t.Fatal("runtime ended before core 3 stopped")
	case <-time.After(30 * time.Millisecond):
	}

	// stopped cores keep serving work until the barrier completes
	var runs, same atomic.Int64
	r, err := NewTask[repeatTask](rt, 1)
	if err != nil {
		t.Fatal(err)
	}
	r.left, r.runs, r.cores = 1, &runs, &same
	if err := rt.Spawn(r); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, "task on a stopped core", func() bool { return runs.Load() == 1 })

	last, err := NewTask[stopTask](rt, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Spawn(last); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not end after the last core stopped")
	}
}

func TestRepeatedStopCountsOnce(t *testing.T) {
	cores := mustCores(t, 0, 1)
	rt, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		s, _ := NewTask[stopTask](rt, 0)
		if err := rt.Spawn(s); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, time.Second, "core 0 drained", func() bool { return rt.Executed(0) == 3 })
	if rt.StoppedCores() != 1 {
		t.Fatalf("stopped cores = %d, want 1", rt.StoppedCores())
	}
	s, _ := NewTask[stopTask](rt, 1)
	if err := rt.Spawn(s); err != nil {
		t.Fatal(err)
	}
	if err := rt.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestRescheduleKeepsHandle(t *testing.T) {
	cores := mustCores(t, 0, 1)
	rt, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		rt.Shutdown()
		_ = rt.Wait()
	}()

	var runs, same atomic.Int64
	r, err := NewTask[repeatTask](rt, 1)
	if err != nil {
		t.Fatal(err)
	}
	r.left, r.runs, r.cores = 5, &runs, &same
	h := r.Handle()
	if h.Core() != 1 {
		t.Fatalf("handle core = %d", h.Core())
	}
	if err := rt.Spawn(r); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, "five runs", func() bool { return runs.Load() == 5 })
	waitFor(t, time.Second, "release", func() bool { return rt.Live(1) == 0 })

	if same.Load() != 5 {
		t.Fatalf("ran %d times on its annotated core, want 5", same.Load())
	}
	if _, ok := rt.Lookup(h); ok {
		t.Fatal("handle still live after Remove")
	}
}

func TestArenaRecyclesSameType(t *testing.T) {
	cores := mustCores(t, 0)
	rt, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		rt.Shutdown()
		_ = rt.Wait()
	}()

	var runs, same atomic.Int64
	a, err := NewTask[repeatTask](rt, 0)
	if err != nil {
		t.Fatal(err)
	}
	a.left, a.runs, a.cores = 1, &runs, &same
	ha := a.Handle()
	if got, ok := rt.Lookup(ha); !ok || got != Task(a) {
		t.Fatal("fresh handle does not resolve to its task")
	}
	if err := rt.Spawn(a); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, "release", func() bool { return rt.Live(0) == 0 })

	b, err := NewTask[repeatTask](rt, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b != a {
		t.Fatal("same-type slot was not recycled")
	}
	if b.left != 0 || b.runs != nil {
		t.Fatal("recycled task was not zeroed")
	}
	if b.Handle() == ha {
		t.Fatal("recycled slot kept the old generation")
	}
	if _, ok := rt.Lookup(ha); ok {
		t.Fatal("stale handle resolved")
	}
}

func TestSpawnErrors(t *testing.T) {
	cores := mustCores(t, 0, 2)
	rt, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewTask[stopTask](rt, 1); !errors.Is(err, ErrUnknownCore) {
		t.Fatalf("NewTask on core 1: %v", err)
	}

	s, _ := NewTask[stopTask](rt, 0)
	s.Annotate(9)
	if err := rt.Spawn(s); !errors.Is(err, ErrUnknownCore) {
		t.Fatalf("Spawn to core 9: %v", err)
	}
	s.Annotate(0)

	var bare stopTask
	if err := rt.Spawn(&bare); !errors.Is(err, ErrForeign) {
		t.Fatalf("Spawn of unallocated task: %v", err)
	}

	// hold core 2 busy so a spawned task stays queued
	b, _ := NewTask[blockTask](rt, 2)
	b.entered, b.release = make(chan struct{}), make(chan struct{})
	if err := rt.Spawn(b); err != nil {
		t.Fatal(err)
	}
	<-b.entered
	if st, _ := rt.State(2); st != Running {
		t.Fatalf("core 2 state %v while executing", st)
	}
	q, _ := NewTask[stopTask](rt, 2)
	if err := rt.Spawn(q); err != nil {
		t.Fatal(err)
	}
	if err := rt.Spawn(q); !errors.Is(err, ErrQueued) {
		t.Fatalf("second Spawn of a queued task: %v", err)
	}
	close(b.release)

	if err := rt.Spawn(s); err != nil {
		t.Fatal(err)
	}
	if err := rt.Wait(); err != nil {
		t.Fatal(err)
	}

	late, err := NewTask[stopTask](rt, 0)
	if !errors.Is(err, ErrStopped) || late != nil {
		t.Fatalf("NewTask after Wait: %v", err)
	}
	if err := rt.Spawn(s); !errors.Is(err, ErrStopped) {
		t.Fatalf("Spawn after Wait: %v", err)
	}
}

func TestForeignRuntime(t *testing.T) {
	cores := mustCores(t, 0)
	a, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	s, _ := NewTask[stopTask](a, 0)
	if err := b.Spawn(s); !errors.Is(err, ErrForeign) {
		t.Fatalf("cross-runtime Spawn: %v", err)
	}
	for _, rt := range []*Runtime{a, b} {
		rt.Shutdown()
		if err := rt.Wait(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestIndependentRuntimes(t *testing.T) {
	cores := mustCores(t, 0, 1)
	type result struct {
		rt  *Runtime
		err error
	}
	var counters [2]atomic.Int64
	var failures atomic.Int64
	out := make(chan result, 2)
	for i := range 2 {
		go func() {
			rt, err := Run(context.Background(), cores, testOptions(), func(rt *Runtime) error {
				for _, core := range cores.Cores() {
					if err := spawnDriver(rt, core, 4, 3, &counters[i], &failures); err != nil {
						return err
					}
				}
				return nil
			})
			out <- result{rt, err}
		}()
	}
	for range 2 {
		select {
		case r := <-out:
			if r.err != nil {
				t.Fatal(r.err)
			}
			if r.rt.StoppedCores() != 2 {
				t.Fatalf("stopped cores = %d", r.rt.StoppedCores())
			}
		case <-time.After(5 * time.Second):
			t.Fatal("runtimes did not finish")
		}
	}
	for i := range counters {
		if got := counters[i].Load(); got != 2*4*3 {
			t.Fatalf("runtime %d executed %d dummies, want 24", i, got)
		}
	}
}

func TestShutdownForcesExit(t *testing.T) {
	cores := mustCores(t, 0, 1)
	rt, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	s, _ := NewTask[spinTask](rt, 0)
	if err := rt.Spawn(s); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, "spinning task", func() bool { return rt.Executed(0) > 10 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rt.WaitContext(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forced shutdown did not end the runtime")
	}
	if rt.StoppedCores() != 0 {
		t.Fatalf("stopped cores = %d after forced shutdown", rt.StoppedCores())
	}
	// the spinning task was either queued or live when the workers left
	if rt.Reclaimed() != 1 {
		t.Fatalf("reclaimed = %d, want 1", rt.Reclaimed())
	}
}

func TestSetupErrorShutsDown(t *testing.T) {
	cores := mustCores(t, 0)
	boom := errors.New("boom")
	rt, err := Run(context.Background(), cores, testOptions(), func(*Runtime) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v", err)
	}
	if s, _ := rt.State(0); s != Stopped {
		t.Fatalf("state after failed setup: %v", s)
	}
}

func TestInvalidOptions(t *testing.T) {
	cores := mustCores(t, 0)
	for _, mod := range []func(*Options){
		func(o *Options) { o.ArenaSlots = 0 },
		func(o *Options) { o.SpinBudget = -1 },
	} {
		opts := testOptions()
		mod(&opts)
		if _, err := New(cores, opts); !errors.Is(err, ErrOptions) {
			t.Fatalf("New with %+v: %v", opts, err)
		}
	}
	opts := testOptions()
	opts.Trace.Capacity = 0
	if _, err := New(cores, opts); err == nil {
		t.Fatal("zero trace capacity accepted")
	}
	if _, err := New(coreset.CoreSet{}, testOptions()); !errors.Is(err, coreset.ErrEmpty) {
		t.Fatalf("empty core set: %v", err)
	}
}

func TestProfilingOff(t *testing.T) {
	cores := mustCores(t, 0)
	opts := testOptions()
	opts.Profiling = false
	var dummies, failures atomic.Int64
	rt, err := Run(context.Background(), cores, opts, func(rt *Runtime) error {
		return spawnDriver(rt, 0, 2, 2, &dummies, &failures)
	})
	if err != nil {
		t.Fatal(err)
	}
	if rt.Profiler() != nil {
		t.Fatal("profiler allocated with profiling off")
	}
	if dummies.Load() != 4 {
		t.Fatalf("dummies = %d, want 4", dummies.Load())
	}
}

// continueTask respawns itself once and returns Remove both times. On its
// first run it queues a blocker ahead of its continuation.
type continueTask struct {
	Header
	runs    *atomic.Int64
	blocker *blockTask
}

func (c *continueTask) Execute(core, channel uint16) Result {
	c.runs.Add(1)
	if c.blocker != nil {
		rt := c.Runtime()
		_ = rt.Spawn(c.blocker)
		c.blocker = nil
		_ = rt.Spawn(c)
	}
	return Remove
}

func TestSelfRespawnKeepsHandle(t *testing.T) {
	cores := mustCores(t, 0)
	rt, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		rt.Shutdown()
		_ = rt.Wait()
	}()

	b, _ := NewTask[blockTask](rt, 0)
	b.entered, b.release = make(chan struct{}), make(chan struct{})
	var runs atomic.Int64
	c, err := NewTask[continueTask](rt, 0)
	if err != nil {
		t.Fatal(err)
	}
	c.runs, c.blocker = &runs, b
	h := c.Handle()
	if err := rt.Spawn(c); err != nil {
		t.Fatal(err)
	}

	// the continuation is queued behind the blocker
	<-b.entered
	if live := rt.Live(0); live != 2 {
		t.Fatalf("live = %d while the continuation is queued, want 2", live)
	}
	if _, ok := rt.Lookup(h); !ok {
		t.Fatal("handle released while its task was still queued")
	}

	close(b.release)
	waitFor(t, time.Second, "second run", func() bool { return runs.Load() == 2 })
	waitFor(t, time.Second, "release", func() bool { return rt.Live(0) == 0 })
	if _, ok := rt.Lookup(h); ok {
		t.Fatal("handle live after the final Remove")
	}
}

func TestSpawnRacingTeardownIsCounted(t *testing.T) {
	cores := mustCores(t, 0)
	rt, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	s, _ := NewTask[stopTask](rt, 0)

	rt.Shutdown()
	if err := rt.Wait(); err != nil {
		t.Fatal(err)
	}
	before := rt.Abandoned()

	// a spawner that passed the closed check before teardown drained
	w, _ := rt.workerFor(0)
	s.queued.Store(true)
	if err := rt.push(w, &s.Header); !errors.Is(err, ErrStopped) {
		t.Fatalf("late push: %v", err)
	}
	if rt.Abandoned() != before+1 {
		t.Fatalf("abandoned = %d, want %d", rt.Abandoned(), before+1)
	}
	if s.queued.Load() {
		t.Fatal("drained task still marked queued")
	}
	if !w.queue.Empty() {
		t.Fatal("queue not drained after a late push")
	}
}

func TestForcedShutdownReportsRunningCores(t *testing.T) {
	var buf bytes.Buffer
	prev := utils.SetOutput(&buf)
	defer utils.SetOutput(prev)

	cores := mustCores(t, 0, 1)
	rt, err := New(cores, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	s, _ := NewTask[stopTask](rt, 0)
	if err := rt.Spawn(s); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, "core 0 stopped", func() bool { return rt.StoppedCores() == 1 })
	rt.Shutdown()
	if err := rt.Wait(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("TASKING: forced shutdown, 1 cores never stopped\n")) {
		t.Fatalf("log %q", buf.String())
	}
}
