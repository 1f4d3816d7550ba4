package agents

import "math/rand"

// Environment is the rectangular arena agents move in.
type Environment struct {
	Width   float64
	Height  float64
	Speed   float64 // units moved per action
	Sensors SensorProvider
}

// Contains reports whether (x, y) lies inside the arena, edges included.
func (e *Environment) Contains(x, y float64) bool {
	return x >= 0 && x <= e.Width && y >= 0 && y <= e.Height
}

// Clamp pulls (x, y) back inside the arena.
func (e *Environment) Clamp(x, y float64) (float64, float64) {
	return clamp(x, 0, e.Width), clamp(y, 0, e.Height)
}

// RandomPosition draws a uniform point inside the arena.
func (e *Environment) RandomPosition(rng *rand.Rand) (float64, float64) {
	return rng.Float64() * e.Width, rng.Float64() * e.Height
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
