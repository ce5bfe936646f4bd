// ─────────────────────────────────────────────────────────────────────────────
// setaffinity_linux.go — pins the calling OS thread to one logical CPU
//
// Unlike a fixed 64-entry mask table, unix.CPUSet covers every CPU id the
// kernel accepts. Errors are returned so the worker can report them; an
// unpinned worker still runs correctly.
// ─────────────────────────────────────────────────────────────────────────────

//go:build linux && !tinygo

package tasking

import "golang.org/x/sys/unix"

// setAffinity pins the current thread to cpu. The caller must hold
// runtime.LockOSThread.
func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
