package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Topology lists layer widths from input to output, e.g. [8 16 16 4].
type Topology []int

// DefaultTopology is 8 sensors → 16 → 16 → 4 actions.
func DefaultTopology() Topology {
	return Topology{SensorCount, 16, 16, ActionCount}
}

// WithHidden builds a topology with the fixed sensor and action widths around
// the given hidden layer sizes.
func WithHidden(hidden ...int) Topology {
	t := make(Topology, 0, len(hidden)+2)
	t = append(t, SensorCount)
	t = append(t, hidden...)
	return append(t, ActionCount)
}

// Validate checks the input and output widths and that every layer is non-empty.
func (t Topology) Validate() error {
	if len(t) < 2 {
		return fmt.Errorf("topology needs at least input and output layers, got %d", len(t))
	}
	if t[0] != SensorCount {
		return fmt.Errorf("topology input width %d, want %d", t[0], SensorCount)
	}
	if t[len(t)-1] != ActionCount {
		return fmt.Errorf("topology output width %d, want %d", t[len(t)-1], ActionCount)
	}
	for i, w := range t {
		if w < 1 {
			return fmt.Errorf("topology layer %d has width %d", i, w)
		}
	}
	return nil
}

// Equal reports whether both topologies have the same layer widths.
func (t Topology) Equal(o Topology) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

func (t Topology) String() string {
	parts := make([]string, len(t))
	for i, w := range t {
		parts[i] = strconv.Itoa(w)
	}
	return strings.Join(parts, "-")
}
