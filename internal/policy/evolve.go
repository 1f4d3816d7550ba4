package policy

import (
	"math"
	"math/rand"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// New builds a network with Glorot-normal weights and zero biases.
// Draws beyond two standard deviations are resampled, matching the usual
// truncated-normal flavour of the initializer.
func New(t Topology, rng *rand.Rand) (*Network, error) {
	n, err := Zeros(t)
	if err != nil {
		return nil, err
	}
	src := exprand.NewSource(uint64(rng.Int63()))
	for _, l := range n.layers {
		out, in := l.W.Dims()
		dist := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2 / float64(in+out)), Src: src}
		data := l.W.RawMatrix().Data
		for i := range data {
			data[i] = truncatedDraw(dist)
		}
	}
	return n, nil
}

func truncatedDraw(dist distuv.Normal) float64 {
	for {
		v := dist.Rand()
		if math.Abs(v) <= 2*dist.Sigma {
			return v
		}
	}
}

// Mutate returns an independent copy in which every weight and bias is,
// with probability rate, shifted by a uniform draw from [-magnitude, magnitude].
// The receiver is not modified.
func (n *Network) Mutate(rng *rand.Rand, rate, magnitude float64) *Network {
	c := n.Clone()
	for _, l := range c.layers {
		perturb(rng, l.W.RawMatrix().Data, rate, magnitude)
		perturb(rng, l.B.RawVector().Data, rate, magnitude)
	}
	return c
}

func perturb(rng *rand.Rand, v []float64, rate, magnitude float64) {
	for i := range v {
		if rng.Float64() >= rate {
			continue
		}
		// A zero shift must leave the bits alone (including -0).
		if d := (rng.Float64()*2 - 1) * magnitude; d != 0 {
			v[i] += d
		}
	}
}
