// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — Cold-path diagnostics for workers and tooling
//
// Purpose:
//   - Logs infrequent events (pin failures, trace overflow, teardown) without
//     going through fmt or a logger allocation chain.
//   - Lines are pre-concatenated and handed to utils.PrintWarning as one write,
//     so concurrent workers never interleave partial lines.
//
// ⚠️ Never invoke in the worker hot loop, only on state transitions.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import "coretask/utils"

// DropError logs "<prefix>: <err>" or just "<prefix>" when err is nil.
//
//go:nosplit
//go:inline
func DropError(prefix string, err error) {
	if err != nil {
		utils.PrintWarning(prefix + ": " + err.Error() + "\n")
		return
	}
	utils.PrintWarning(prefix + "\n")
}

// DropMessage logs the informational line "<prefix>: <message>".
func DropMessage(prefix, message string) {
	utils.PrintInfo(prefix + ": " + message)
}

// DropCore logs a message tagged with the core it concerns:
// "<prefix> [core N]: <message>".
func DropCore(core uint16, prefix, message string) {
	utils.PrintWarning(prefix + " [core " + utils.Utoa(uint64(core)) + "]: " + message + "\n")
}
