package coreset

import (
	"os"
	"strconv"
	"strings"
)

// sysCPU is the sysfs CPU directory; tests point it at a fixture tree.
var sysCPU = "/sys/devices/system/cpu"

// NodeOf returns the NUMA node core belongs to. Machines without NUMA
// information, and non-Linux systems, report node 0.
func NodeOf(core uint16) int {
	entries, err := os.ReadDir(sysCPU + "/cpu" + strconv.Itoa(int(core)))
	if err != nil {
		return 0
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		if n, err := strconv.Atoi(name[len("node"):]); err == nil {
			return n
		}
	}
	return 0
}

// Nodes returns the NUMA node of every core in slot order.
func (c CoreSet) Nodes() []int {
	out := make([]int, len(c.ids))
	for i, id := range c.ids {
		out[i] = NodeOf(id)
	}
	return out
}

func firstN(n int) []uint16 {
	ids := make([]uint16, n)
	for i := range ids {
		ids[i] = uint16(i)
	}
	return ids
}
