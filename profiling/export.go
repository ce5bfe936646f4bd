package profiling

import (
	"bufio"
	"bytes"
	"io"
	"slices"

	"github.com/sugawarayuuta/sonnet"

	"coretask/constants"
	"coretask/utils"
)

// Micros is a nanosecond offset rendered as microseconds with three
// fractional digits.
type Micros uint64

// MarshalJSON implements json.Marshaler.
func (m Micros) MarshalJSON() ([]byte, error) {
	return utils.AppendMicros(make([]byte, 0, 24), uint64(m)), nil
}

type metaEvent struct {
	Name string `json:"name"`
	Ph   string `json:"ph"`
	PID  uint16 `json:"pid"`
	TID  uint16 `json:"tid"`
	Args any    `json:"args"`
}

type processName struct {
	Name string `json:"name"`
}

type sortIndex struct {
	SortIndex uint16 `json:"sort_index"`
}

type counterEvent struct {
	PID  uint16 `json:"pid"`
	Name string `json:"name"`
	Ph   string `json:"ph"`
	TS   Micros `json:"ts"`
	Args any    `json:"args"`
}

type queueLength struct {
	TaskQueueLength uint64 `json:"TaskQueueLength"`
}

type throughput struct {
	TaskThroughput uint64 `json:"TaskThroughput"`
}

type completeEvent struct {
	PID  uint16   `json:"pid"`
	TID  uint16   `json:"tid"`
	TS   Micros   `json:"ts"`
	Dur  Micros   `json:"dur"`
	Ph   string   `json:"ph"`
	Name string   `json:"name"`
	Args taskType `json:"args"`
}

type taskType struct {
	Type uint32 `json:"type"`
}

type sampleEvent struct {
	Name string `json:"name"`
	Ph   string `json:"ph"`
	TS   Micros `json:"ts"`
	PID  uint32 `json:"pid"`
	TID  uint32 `json:"tid"`
}

// traceWriter streams one event per line into a traceEvents array.
type traceWriter struct {
	w   *bufio.Writer
	err error
}

func (tw *traceWriter) raw(s string) {
	if tw.err == nil {
		_, tw.err = tw.w.WriteString(s)
	}
}

func (tw *traceWriter) event(ev any) {
	tw.encode(ev, ",\n")
}

func (tw *traceWriter) last(ev any) {
	tw.encode(ev, "\n")
}

func (tw *traceWriter) encode(ev any, sep string) {
	if tw.err != nil {
		return
	}
	b, err := sonnet.Marshal(ev)
	if err != nil {
		tw.err = err
		return
	}
	if _, tw.err = tw.w.Write(b); tw.err == nil {
		_, tw.err = tw.w.WriteString(sep)
	}
}

// coreExport carries the per-core state of one export pass.
type coreExport struct {
	tw      *traceWriter
	pid     uint16
	counter string
	base    int64
	lastEnd int64
}

func (ce *coreExport) queueLength(ts int64, n uint64) {
	ce.tw.event(counterEvent{PID: ce.pid, Name: ce.counter, Ph: "C", TS: Micros(ts), Args: queueLength{n}})
}

func (ce *coreExport) throughput(ts int64, n uint64) {
	ce.tw.event(counterEvent{PID: ce.pid, Name: ce.counter, Ph: "C", TS: Micros(ts), Args: throughput{n}})
}

// task emits the complete event of ti and its throughput samples. A task
// without an end gets a synthetic duration; a zero duration produces no
// throughput sample.
func (ce *coreExport) task(ti *TaskInfo) {
	start := ti.Start - ce.base
	end := start + constants.SyntheticDurationNs
	if ti.End != Unset {
		end = ti.End - ce.base
	}

	ce.tw.event(completeEvent{
		PID:  ce.pid,
		TID:  ce.pid,
		TS:   Micros(start),
		Dur:  Micros(end - start),
		Ph:   "X",
		Name: ti.Name,
		Args: taskType{ti.Type},
	})

	if start-ce.lastEnd > constants.IdleGapNs {
		ce.throughput(ce.lastEnd, 0)
	}
	if dur := end - start; dur > 0 {
		ce.throughput(start, uint64(1000/dur))
	}
	ce.lastEnd = end
}

// SaveProfile writes the recorded events as a trace-viewer JSON document.
// It must run after the workers have stopped. Calling it repeatedly on the
// same state yields identical bytes. The document is written even when
// events were dropped; the returned error then wraps ErrCapacity.
func (p *Profiler) SaveProfile(w io.Writer) error {
	tw := &traceWriter{w: bufio.NewWriter(w)}
	tw.raw("{\"traceEvents\":[\n")

	for slot := range p.cores {
		p.exportCore(tw, slot)
	}

	// every event above ends in ",\n"; the sample closes the array
	tw.last(sampleEvent{Name: "sample", Ph: "P", PID: p.samplePID()})
	tw.raw("]}\n")

	if tw.err == nil {
		tw.err = tw.w.Flush()
	}
	if tw.err != nil {
		return tw.err
	}
	return p.Err()
}

// samplePID returns a pid no core is exported under.
func (p *Profiler) samplePID() uint32 {
	var top uint32
	for _, label := range p.labels {
		top = max(top, uint32(label))
	}
	return top + 1
}

// Profile renders SaveProfile into memory.
func (p *Profiler) Profile() ([]byte, error) {
	var buf bytes.Buffer
	err := p.SaveProfile(&buf)
	return buf.Bytes(), err
}

func (p *Profiler) exportCore(tw *traceWriter, slot int) {
	label := p.labels[slot]
	tw.event(metaEvent{Name: "process_name", Ph: "M", PID: label, TID: label, Args: processName{"CPU " + utils.Utoa(uint64(label))}})
	tw.event(metaEvent{Name: "process_sort_index", Ph: "M", PID: label, TID: label, Args: sortIndex{label}})

	c := &p.cores[slot]
	tasks := c.tasks[:c.taskNext]

	ce := &coreExport{tw: tw, pid: label, counter: "CPU" + utils.Utoa(uint64(label))}

	if !p.queueLength {
		if len(tasks) == 0 {
			return
		}
		ce.base = tasks[0].Start
		for i := range tasks {
			ce.task(&tasks[i])
		}
		return
	}

	// enqueuers reserve ids after reading the clock, so ids and timestamps
	// may disagree under contention; merge on timestamps
	n := min(c.queueNext.Load(), uint64(len(c.queue)))
	stamps := make([]int64, n)
	for i := range stamps {
		stamps[i] = c.queue[i].Timestamp
	}
	slices.Sort(stamps)

	switch {
	case len(tasks) > 0 && len(stamps) > 0:
		ce.base = min(tasks[0].Start, stamps[0])
	case len(tasks) > 0:
		ce.base = tasks[0].Start
	case len(stamps) > 0:
		ce.base = stamps[0]
	}

	var qlen uint64
	ce.queueLength(0, qlen)

	ti, qi := 0, 0
	for ti < len(tasks) || qi < len(stamps) {
		if qi < len(stamps) && (ti >= len(tasks) || stamps[qi] < tasks[ti].Start) {
			qlen++
			ts := stamps[qi] - ce.base
			if ts == 0 {
				ts = constants.ZeroOffsetNs
			}
			ce.queueLength(ts, qlen)
			qi++
			continue
		}

		t := &tasks[ti]
		ti++
		if qlen > 0 {
			qlen--
		}
		ce.queueLength(t.Start-ce.base, qlen)
		ce.task(t)
	}
}
