// ─────────────────────────────────────────────────────────────────────────────
// relax_amd64.go — PAUSE hint for idle polling on x86-64
// ─────────────────────────────────────────────────────────────────────────────

//go:build amd64 && !noasm

package tasking

// cpuRelax emits PAUSE. Implemented in relax_amd64.s.
func cpuRelax()
