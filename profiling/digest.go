package profiling

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Digest fingerprints an exported trace with SHA3-256 and returns it as
// lowercase hex. Identical recorded state yields an identical digest.
func Digest(trace []byte) string {
	sum := sha3.Sum256(trace)
	return hex.EncodeToString(sum[:])
}
