//go:build !linux

package coreset

import "runtime"

// Available returns 0..NumCPU-1; affinity masks are not queried here.
func Available() []uint16 {
	return firstN(runtime.NumCPU())
}
