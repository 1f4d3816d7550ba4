// Package agents provides the simulated walker: its policy network, position,
// fitness accounting, and the sensors it perceives the arena through.
package agents

import (
	"fmt"
	"math"

	"github.com/talgya/evosim/internal/policy"
)

// AgentID is a unique identifier for an agent within one run.
type AgentID uint64

// Action is a movement decision produced by the policy network.
type Action int

const (
	ActionUp    Action = iota // y decreases
	ActionRight               // x increases
	ActionDown                // y increases
	ActionLeft                // x decreases
)

func (a Action) String() string {
	switch a {
	case ActionUp:
		return "up"
	case ActionRight:
		return "right"
	case ActionDown:
		return "down"
	case ActionLeft:
		return "left"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// DefaultSpecies is reported for every agent until a clustering policy exists.
const DefaultSpecies = 1

// Agent is one walker in the population.
type Agent struct {
	ID    AgentID
	Brain *policy.Network

	X, Y float64

	// Fitness mirrors DistanceTraveled; both reset at generation start.
	Fitness          float64
	DistanceTraveled float64

	// InheritedFitness is the final fitness of the agent this one was copied
	// or bred from. Zero for the founding generation.
	InheritedFitness float64

	History History
	Age     int // ticks survived this generation

	SpeciesID int
}

// New creates an agent at (x, y) owning brain.
func New(id AgentID, brain *policy.Network, x, y float64) *Agent {
	return &Agent{
		ID:        id,
		Brain:     brain,
		X:         x,
		Y:         y,
		SpeciesID: DefaultSpecies,
	}
}

// Sense builds the sensor vector: normalized position followed by the
// environment's perceptual channels.
func (a *Agent) Sense(env *Environment) ([]float64, error) {
	v := make([]float64, policy.SensorCount)
	if env.Width > 0 {
		v[0] = a.X / env.Width
	}
	if env.Height > 0 {
		v[1] = a.Y / env.Height
	}
	if env.Sensors != nil {
		if err := env.Sensors.Perceive(env, a.X, a.Y, v[2:]); err != nil {
			return nil, fmt.Errorf("perceive: %w", err)
		}
	}
	return v, nil
}

// Act moves the agent speed units in the action's direction, clamped to the
// arena, and credits the distance actually covered.
func (a *Agent) Act(action Action, speed float64, env *Environment) error {
	if action < ActionUp || action > ActionLeft {
		return fmt.Errorf("unknown action %d", int(action))
	}
	prevX, prevY := a.X, a.Y
	a.History.Push(Point{X: prevX, Y: prevY})

	switch action {
	case ActionUp:
		a.Y = math.Max(0, a.Y-speed)
	case ActionRight:
		a.X = math.Min(env.Width, a.X+speed)
	case ActionDown:
		a.Y = math.Min(env.Height, a.Y+speed)
	case ActionLeft:
		a.X = math.Max(0, a.X-speed)
	}

	a.DistanceTraveled += math.Hypot(a.X-prevX, a.Y-prevY)
	return nil
}

// UpdateFitness sets fitness from cumulative distance. No shaping terms.
func (a *Agent) UpdateFitness() {
	a.Fitness = a.DistanceTraveled
}

// Step runs one full tick for this agent: sense, decide, act, score.
func (a *Agent) Step(env *Environment) error {
	sensors, err := a.Sense(env)
	if err != nil {
		return err
	}
	choice, err := a.Brain.Evaluate(sensors)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if err := a.Act(Action(choice), env.Speed, env); err != nil {
		return err
	}
	a.UpdateFitness()
	a.Age++
	return nil
}

// Heading is the display angle of the most recent move, in radians.
func (a *Agent) Heading() float64 {
	prev, ok := a.History.Last()
	if !ok {
		return 0
	}
	return math.Atan2(a.Y-prev.Y, a.X-prev.X)
}

// ResetGeneration clears all tick-scoped state.
func (a *Agent) ResetGeneration() {
	a.Fitness = 0
	a.DistanceTraveled = 0
	a.Age = 0
	a.History = History{}
}
