// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — Runtime & Tracing Tunables
//
// Purpose:
//   - Defines defaults for per-core arenas, trace arrays, and worker polling.
//   - Every value here can be overridden at startup through config.Config.
//
// Notes:
//   - Capacities are per core; memory is first-touched by the pinned worker.
//   - Trace timestamps are nanoseconds; exporter output is microseconds.
//
// ⚠️ No runtime logic here: all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

// ───────────────────────────── Tracing Arrays ──────────────────────────────

const (
	// TaskingArrayLength is the number of task-event and queue-event slots
	// reserved per core. Writes past this bound are rejected and counted.
	// 2^16 slots × 48 B ≈ 3 MiB of task events per core.
	TaskingArrayLength = 1 << 16

	// QueueLengthTracing enables the merged queue-length time series in the
	// exported trace by default.
	QueueLengthTracing = true

	// IdleGapNs is the gap between two consecutive tasks after which the
	// throughput series is reset to zero.
	IdleGapNs = 1000

	// SyntheticDurationNs is the duration rendered for tasks whose end was
	// never recorded.
	SyntheticDurationNs = 1000

	// ZeroOffsetNs replaces a zero enqueue offset so the sample does not sit
	// on top of the initial zero-length counter.
	ZeroOffsetNs = 10
)

// ───────────────────────────── Task Arenas ─────────────────────────────────

const (
	// ArenaSlots is the number of live task handles one core can hold.
	ArenaSlots = 1 << 14
)

// ─────────────────────────── Worker Polling ────────────────────────────────

const (
	// SpinBudget is the number of empty polls before a worker relaxes the CPU
	// and yields its P.
	SpinBudget = 224
)
