//go:build linux

package coreset

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Available returns the ids of the cores in this process's affinity mask,
// ascending. If the mask cannot be read it falls back to 0..NumCPU-1.
func Available() []uint16 {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return firstN(runtime.NumCPU())
	}
	ids := make([]uint16, 0, set.Count())
	for cpu := 0; cpu < len(set)*64 && len(ids) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			ids = append(ids, uint16(cpu))
		}
	}
	return ids
}
