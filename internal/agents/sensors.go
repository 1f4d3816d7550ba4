package agents

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// PerceptionChannels is the number of sensor values beyond the two position
// channels.
const PerceptionChannels = 6

// SensorProvider fills the perceptual part of an agent's sensor vector.
// Implementations must be safe for concurrent use; agents may be stepped in
// parallel.
type SensorProvider interface {
	Perceive(env *Environment, x, y float64, out []float64) error
}

// RandomSensors feeds independent uniform [0,1) noise into every channel.
// It stands in for real perception.
type RandomSensors struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSensors creates a noise provider drawing from rng.
func NewRandomSensors(rng *rand.Rand) *RandomSensors {
	return &RandomSensors{rng: rng}
}

// Perceive implements SensorProvider.
func (s *RandomSensors) Perceive(_ *Environment, _, _ float64, out []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range out {
		out[i] = s.rng.Float64()
	}
	return nil
}

// NoiseFieldConfig shapes the simplex terrain sampled by NoiseField.
type NoiseFieldConfig struct {
	Seed        int64
	Frequency   float64 // field cycles per arena width
	Octaves     int
	Persistence float64
	Reach       float64 // sampling distance from the agent, in arena units
}

// DefaultNoiseFieldConfig returns a gentle, low-frequency field.
func DefaultNoiseFieldConfig() NoiseFieldConfig {
	return NoiseFieldConfig{
		Frequency:   3,
		Octaves:     3,
		Persistence: 0.5,
		Reach:       20,
	}
}

// NoiseField senses a static simplex scalar field at six points spaced evenly
// on a circle around the agent, giving it a sense of the local gradient.
type NoiseField struct {
	cfg   NoiseFieldConfig
	noise opensimplex.Noise
}

// NewNoiseField builds the field provider.
func NewNoiseField(cfg NoiseFieldConfig) (*NoiseField, error) {
	if cfg.Octaves < 1 {
		return nil, fmt.Errorf("noise field octaves must be >= 1, got %d", cfg.Octaves)
	}
	if cfg.Frequency <= 0 {
		return nil, fmt.Errorf("noise field frequency must be > 0, got %v", cfg.Frequency)
	}
	return &NoiseField{cfg: cfg, noise: opensimplex.NewNormalized(cfg.Seed)}, nil
}

// Perceive implements SensorProvider. opensimplex evaluation is read-only, so
// no locking is needed.
func (f *NoiseField) Perceive(env *Environment, x, y float64, out []float64) error {
	scale := 1.0
	if env != nil && env.Width > 0 {
		scale = 1 / env.Width
	}
	for i := range out {
		angle := 2 * math.Pi * float64(i) / float64(len(out))
		sx := (x + f.cfg.Reach*math.Cos(angle)) * scale
		sy := (y + f.cfg.Reach*math.Sin(angle)) * scale
		out[i] = octaveNoise(f.noise, sx, sy, f.cfg.Octaves, f.cfg.Frequency, f.cfg.Persistence)
	}
	return nil
}

// octaveNoise layers frequencies of a normalized noise source; the result
// stays in [0,1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}
