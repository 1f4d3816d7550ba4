package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/talgya/evosim/internal/agents"
	"github.com/talgya/evosim/internal/evolution"
)

// Sensor provider names accepted in Config.Sensors.
const (
	SensorsRandom = "random"
	SensorsNoise  = "noise"
)

// Config holds everything the scheduler and the population need.
type Config struct {
	Evolution evolution.Params

	Width  float64
	Height float64
	Speed  float64

	Sensors    string
	NoiseField agents.NoiseFieldConfig

	GenerationLength int           // ticks per generation
	TickInterval     time.Duration // pause between scheduler turns
	StatsInterval    int           // publish a snapshot every N ticks
	AnalysisInterval int           // request advice every N generations; 0 disables
	AdvisoryTimeout  time.Duration
}

// DefaultConfig matches the reference run.
func DefaultConfig() Config {
	return Config{
		Evolution:        evolution.DefaultParams(),
		Width:            800,
		Height:           600,
		Speed:            5,
		Sensors:          SensorsRandom,
		NoiseField:       agents.DefaultNoiseFieldConfig(),
		GenerationLength: 800,
		TickInterval:     16 * time.Millisecond,
		StatsInterval:    10,
		AnalysisInterval: 10,
		AdvisoryTimeout:  30 * time.Second,
	}
}

// ConfigError reports an unusable configuration value. Start and New never
// return a partially started engine alongside it.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Validate returns a *ConfigError for the first bad field.
func (c Config) Validate() error {
	if err := c.Evolution.Validate(); err != nil {
		return &ConfigError{Field: "evolution", Err: err}
	}
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return &ConfigError{Field: "environment", Err: fmt.Errorf("arena must be positive, got %vx%v", c.Width, c.Height)}
	case c.Speed < 0:
		return &ConfigError{Field: "speed", Err: fmt.Errorf("must be >= 0, got %v", c.Speed)}
	case c.GenerationLength < 1:
		return &ConfigError{Field: "generation_length", Err: fmt.Errorf("must be >= 1, got %d", c.GenerationLength)}
	case c.TickInterval <= 0:
		return &ConfigError{Field: "tick_interval", Err: fmt.Errorf("must be > 0, got %v", c.TickInterval)}
	case c.StatsInterval < 1:
		return &ConfigError{Field: "stats_interval", Err: fmt.Errorf("must be >= 1, got %d", c.StatsInterval)}
	case c.AnalysisInterval < 0:
		return &ConfigError{Field: "analysis_interval", Err: fmt.Errorf("must be >= 0, got %d", c.AnalysisInterval)}
	case c.AnalysisInterval > 0 && c.AdvisoryTimeout <= 0:
		return &ConfigError{Field: "advisory_timeout", Err: errors.New("must be > 0 when analysis is enabled")}
	}
	switch c.Sensors {
	case SensorsRandom:
	case SensorsNoise:
		if c.NoiseField.Octaves < 1 || c.NoiseField.Frequency <= 0 {
			return &ConfigError{Field: "noise_field", Err: errors.New("octaves must be >= 1 and frequency > 0")}
		}
	default:
		return &ConfigError{Field: "sensors", Err: fmt.Errorf("unknown provider %q", c.Sensors)}
	}
	return nil
}

// environment builds the arena for one run. Each run gets its own sensor
// source so runs never share random state.
func (c Config) environment(rng *rand.Rand) (*agents.Environment, error) {
	env := &agents.Environment{Width: c.Width, Height: c.Height, Speed: c.Speed}
	switch c.Sensors {
	case SensorsNoise:
		nf := c.NoiseField
		if nf.Seed == 0 {
			nf.Seed = rng.Int63()
		}
		field, err := agents.NewNoiseField(nf)
		if err != nil {
			return nil, err
		}
		env.Sensors = field
	default:
		env.Sensors = agents.NewRandomSensors(rand.New(rand.NewSource(rng.Int63())))
	}
	return env, nil
}
