package policy

import "fmt"

// ShapeMismatchError reports parameters that do not fit the network topology.
type ShapeMismatchError struct {
	Layer int    // -1 when the layer count itself differs
	Part  string // "layers", "weights", "bias" or "missing"
	Want  [2]int
	Got   [2]int
}

func (e *ShapeMismatchError) Error() string {
	if e.Layer < 0 {
		return fmt.Sprintf("shape mismatch: got %d layers, want %d", e.Got[0], e.Want[0])
	}
	if e.Part == "missing" {
		return fmt.Sprintf("shape mismatch: layer %d has nil parameters", e.Layer)
	}
	return fmt.Sprintf("shape mismatch: layer %d %s got %dx%d, want %dx%d",
		e.Layer, e.Part, e.Got[0], e.Got[1], e.Want[0], e.Want[1])
}
