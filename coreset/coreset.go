// Package coreset selects the cores a runtime runs on.
//
// A CoreSet is an ordered list of unique core ids. Its position order is the
// worker slot order used by the runtime and the tracer; the ids themselves
// are what workers pin to and what tasks annotate.
package coreset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"coretask/utils"
)

var (
	// ErrEmpty is returned for a set without cores.
	ErrEmpty = errors.New("coreset: no cores")
	// ErrDuplicate is returned when a core id appears twice.
	ErrDuplicate = errors.New("coreset: duplicate core")
	// ErrTooManyCores is returned when more cores are requested than the
	// process may run on.
	ErrTooManyCores = errors.New("coreset: more cores than available")
)

// CoreSet is an immutable, ordered set of core ids.
type CoreSet struct {
	ids []uint16
}

// New builds a set from explicit ids in the given order. It does not check
// the ids against the hardware; Build and Parse do.
func New(ids ...uint16) (CoreSet, error) {
	if len(ids) == 0 {
		return CoreSet{}, ErrEmpty
	}
	seen := make(map[uint16]struct{}, len(ids))
	out := make([]uint16, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return CoreSet{}, fmt.Errorf("%w: %d", ErrDuplicate, id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return CoreSet{ids: out}, nil
}

// Build returns the first n cores the process is allowed to run on.
func Build(n int) (CoreSet, error) {
	if n <= 0 {
		return CoreSet{}, ErrEmpty
	}
	avail := Available()
	if n > len(avail) {
		return CoreSet{}, fmt.Errorf("%w: want %d, have %d", ErrTooManyCores, n, len(avail))
	}
	return New(avail[:n]...)
}

// Parse reads a list such as "0-3,6,8-9" and checks every id is available.
func Parse(list string) (CoreSet, error) {
	var ids []uint16
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 16)
		if err != nil {
			return CoreSet{}, fmt.Errorf("coreset: bad core %q: %w", part, err)
		}
		last := first
		if isRange {
			if last, err = strconv.ParseUint(strings.TrimSpace(hi), 10, 16); err != nil {
				return CoreSet{}, fmt.Errorf("coreset: bad range %q: %w", part, err)
			}
			if last < first {
				return CoreSet{}, fmt.Errorf("coreset: descending range %q", part)
			}
		}
		for id := first; id <= last; id++ {
			ids = append(ids, uint16(id))
		}
	}
	set, err := New(ids...)
	if err != nil {
		return CoreSet{}, err
	}
	avail := make(map[uint16]struct{})
	for _, id := range Available() {
		avail[id] = struct{}{}
	}
	for _, id := range set.ids {
		if _, ok := avail[id]; !ok {
			return CoreSet{}, fmt.Errorf("%w: core %d", ErrTooManyCores, id)
		}
	}
	return set, nil
}

// Len returns the number of cores.
func (c CoreSet) Len() int { return len(c.ids) }

// At returns the core id at slot i.
func (c CoreSet) At(i int) uint16 { return c.ids[i] }

// Cores returns a copy of the ids in slot order.
func (c CoreSet) Cores() []uint16 {
	out := make([]uint16, len(c.ids))
	copy(out, c.ids)
	return out
}

// Slot returns the position of core in the set.
func (c CoreSet) Slot(core uint16) (int, bool) {
	for i, id := range c.ids {
		if id == core {
			return i, true
		}
	}
	return -1, false
}

// Contains reports whether core is part of the set.
func (c CoreSet) Contains(core uint16) bool {
	_, ok := c.Slot(core)
	return ok
}

// Max returns the largest core id, or 0 for an empty set.
func (c CoreSet) Max() uint16 {
	var m uint16
	for _, id := range c.ids {
		m = max(m, id)
	}
	return m
}

// String renders the set in Parse syntax, collapsing consecutive runs.
func (c CoreSet) String() string {
	var b []byte
	for i := 0; i < len(c.ids); {
		j := i
		for j+1 < len(c.ids) && c.ids[j+1] == c.ids[j]+1 {
			j++
		}
		if len(b) > 0 {
			b = append(b, ',')
		}
		b = utils.AppendUint(b, uint64(c.ids[i]))
		if j > i {
			b = append(b, '-')
			b = utils.AppendUint(b, uint64(c.ids[j]))
		}
		i = j + 1
	}
	return string(b)
}
