// Package policy provides the fixed-topology feed-forward network that maps an
// agent's sensor vector to one of four movement actions.
package policy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// SensorCount is the width of the input layer.
	SensorCount = 8
	// ActionCount is the width of the softmax output layer.
	ActionCount = 4
)

// Activation selects the nonlinearity applied after a layer's affine step.
type Activation uint8

const (
	ReLU Activation = iota
	Softmax
)

func (a Activation) String() string {
	switch a {
	case ReLU:
		return "relu"
	case Softmax:
		return "softmax"
	default:
		return "unknown"
	}
}

// Layer is one dense layer: W is outputs × inputs, B has one entry per output.
type Layer struct {
	W   *mat.Dense
	B   *mat.VecDense
	Act Activation
}

// Param is the full parameter set of a single layer.
type Param struct {
	W *mat.Dense
	B *mat.VecDense
}

// Network is an immutable-topology multilayer perceptron.
// Evaluate never writes to the network, so one Network may be read from
// several goroutines at once.
type Network struct {
	layers []Layer
}

// Zeros builds a network of the given topology with every parameter set to 0.
func Zeros(t Topology) (*Network, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	n := &Network{layers: make([]Layer, 0, len(t)-1)}
	for i := 1; i < len(t); i++ {
		act := ReLU
		if i == len(t)-1 {
			act = Softmax
		}
		n.layers = append(n.layers, Layer{
			W:   mat.NewDense(t[i], t[i-1], nil),
			B:   mat.NewVecDense(t[i], nil),
			Act: act,
		})
	}
	return n, nil
}

// Topology returns the layer widths, input layer first.
func (n *Network) Topology() Topology {
	t := make(Topology, 0, len(n.layers)+1)
	if len(n.layers) == 0 {
		return t
	}
	_, in := n.layers[0].W.Dims()
	t = append(t, in)
	for _, l := range n.layers {
		out, _ := l.W.Dims()
		t = append(t, out)
	}
	return t
}

// Layers returns the network layers. Callers must treat them as read-only.
func (n *Network) Layers() []Layer {
	return n.layers
}

// Forward runs the input through every layer and returns the softmax output.
func (n *Network) Forward(sensors []float64) ([]float64, error) {
	if len(n.layers) == 0 {
		return nil, fmt.Errorf("forward: network has no layers")
	}
	_, in := n.layers[0].W.Dims()
	if len(sensors) != in {
		return nil, fmt.Errorf("forward: got %d sensor values, want %d", len(sensors), in)
	}

	x := mat.NewVecDense(in, append([]float64(nil), sensors...))
	for _, l := range n.layers {
		rows, _ := l.W.Dims()
		out := mat.NewVecDense(rows, nil)
		out.MulVec(l.W, x)
		out.AddVec(out, l.B)
		activate(l.Act, out.RawVector().Data)
		x = out
	}
	return x.RawVector().Data, nil
}

// Evaluate returns the index of the most probable action. Ties go to the
// lowest index.
func (n *Network) Evaluate(sensors []float64) (int, error) {
	probs, err := n.Forward(sensors)
	if err != nil {
		return 0, err
	}
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best, nil
}

// Weights returns a deep copy of every layer's parameters.
func (n *Network) Weights() []Param {
	ps := make([]Param, len(n.layers))
	for i, l := range n.layers {
		ps[i] = Param{W: mat.DenseCopyOf(l.W), B: mat.VecDenseCopyOf(l.B)}
	}
	return ps
}

// SetWeights replaces every parameter. The provided shapes must match the
// existing topology exactly; on mismatch nothing is written.
func (n *Network) SetWeights(ps []Param) error {
	if len(ps) != len(n.layers) {
		return &ShapeMismatchError{Layer: -1, Part: "layers", Want: [2]int{len(n.layers), 0}, Got: [2]int{len(ps), 0}}
	}
	for i, p := range ps {
		l := n.layers[i]
		if p.W == nil || p.B == nil {
			return &ShapeMismatchError{Layer: i, Part: "missing"}
		}
		wr, wc := l.W.Dims()
		gr, gc := p.W.Dims()
		if wr != gr || wc != gc {
			return &ShapeMismatchError{Layer: i, Part: "weights", Want: [2]int{wr, wc}, Got: [2]int{gr, gc}}
		}
		if l.B.Len() != p.B.Len() {
			return &ShapeMismatchError{Layer: i, Part: "bias", Want: [2]int{l.B.Len(), 1}, Got: [2]int{p.B.Len(), 1}}
		}
	}
	for i, p := range ps {
		n.layers[i].W.Copy(p.W)
		n.layers[i].B.CopyVec(p.B)
	}
	return nil
}

// Clone returns an independent copy with identical parameters.
func (n *Network) Clone() *Network {
	c := &Network{layers: make([]Layer, len(n.layers))}
	for i, l := range n.layers {
		c.layers[i] = Layer{W: mat.DenseCopyOf(l.W), B: mat.VecDenseCopyOf(l.B), Act: l.Act}
	}
	return c
}

// ParamCount is the number of scalar weights and biases.
func (n *Network) ParamCount() int {
	total := 0
	for _, l := range n.layers {
		r, c := l.W.Dims()
		total += r*c + l.B.Len()
	}
	return total
}

func activate(act Activation, v []float64) {
	switch act {
	case ReLU:
		for i, x := range v {
			if x < 0 {
				v[i] = 0
			}
		}
	case Softmax:
		maxV := math.Inf(-1)
		for _, x := range v {
			if x > maxV {
				maxV = x
			}
		}
		sum := 0.0
		for i, x := range v {
			v[i] = math.Exp(x - maxV)
			sum += v[i]
		}
		for i := range v {
			v[i] /= sum
		}
	}
}
