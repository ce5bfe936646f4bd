// ─────────────────────────────────────────────────────────────────────────────
// relax_stub.go — no-op spin hint for architectures without PAUSE
// ─────────────────────────────────────────────────────────────────────────────

//go:build !amd64 || noasm

package tasking

//go:nosplit
func cpuRelax() {}
