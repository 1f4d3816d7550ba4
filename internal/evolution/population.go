// Package evolution owns the population of agents and the operators that turn
// one generation into the next: elitism, tournament selection and weight
// mutation.
package evolution

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"github.com/talgya/evosim/internal/agents"
	"github.com/talgya/evosim/internal/policy"
)

// Params controls selection and mutation.
type Params struct {
	Capacity          int
	EliteFraction     float64
	TournamentSize    int
	MutationRate      float64
	MutationMagnitude float64
	Topology          policy.Topology
	Workers           int // agents stepped concurrently per tick; <= 1 is sequential
}

// DefaultParams mirrors the reference run: 30 agents, 10% elites,
// tournaments of 5, rate 0.3 with ±0.1 perturbations.
func DefaultParams() Params {
	return Params{
		Capacity:          30,
		EliteFraction:     0.10,
		TournamentSize:    5,
		MutationRate:      0.3,
		MutationMagnitude: 0.1,
		Topology:          policy.DefaultTopology(),
		Workers:           1,
	}
}

// Validate checks every parameter is usable.
func (p Params) Validate() error {
	if p.Capacity < 1 {
		return fmt.Errorf("capacity must be >= 1, got %d", p.Capacity)
	}
	if p.EliteFraction < 0 || p.EliteFraction > 1 {
		return fmt.Errorf("elite fraction must be in [0,1], got %v", p.EliteFraction)
	}
	if p.TournamentSize < 1 {
		return fmt.Errorf("tournament size must be >= 1, got %d", p.TournamentSize)
	}
	if p.MutationRate < 0 || p.MutationRate > 1 {
		return fmt.Errorf("mutation rate must be in [0,1], got %v", p.MutationRate)
	}
	if p.MutationMagnitude < 0 {
		return fmt.Errorf("mutation magnitude must be >= 0, got %v", p.MutationMagnitude)
	}
	if err := p.Topology.Validate(); err != nil {
		return fmt.Errorf("topology: %w", err)
	}
	return nil
}

// EliteCount is ceil(capacity × eliteFraction), bounded by capacity.
func (p Params) EliteCount() int {
	// The epsilon absorbs float noise such as 30 × 0.1 = 3.0000000000000004.
	n := int(math.Ceil(float64(p.Capacity)*p.EliteFraction - 1e-9))
	if n < 0 {
		return 0
	}
	if n > p.Capacity {
		return p.Capacity
	}
	return n
}

// Population is an ordered, fixed-capacity set of agents plus the generation
// counter. It is not safe for concurrent use; the engine owns it.
type Population struct {
	params     Params
	env        *agents.Environment
	rng        *rand.Rand
	agents     []*agents.Agent
	generation int
	nextID     agents.AgentID
}

// NewPopulation creates capacity founding agents at random positions with
// freshly initialized networks. The generation counter starts at 1.
func NewPopulation(params Params, env *agents.Environment, rng *rand.Rand) (*Population, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	p := &Population{
		params:     params,
		env:        env,
		rng:        rng,
		generation: 1,
		nextID:     1,
	}
	p.agents = make([]*agents.Agent, 0, params.Capacity)
	for i := 0; i < params.Capacity; i++ {
		brain, err := policy.New(params.Topology, rng)
		if err != nil {
			return nil, fmt.Errorf("agent %d brain: %w", i, err)
		}
		x, y := env.RandomPosition(rng)
		p.agents = append(p.agents, agents.New(p.issueID(), brain, x, y))
	}
	return p, nil
}

// NewPopulationFrom wraps existing agents. Used to seed specific scenarios.
func NewPopulationFrom(params Params, env *agents.Environment, rng *rand.Rand, members []*agents.Agent) (*Population, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	p := &Population{params: params, env: env, rng: rng, generation: 1, agents: members}
	for _, a := range members {
		if a.ID >= p.nextID {
			p.nextID = a.ID
		}
	}
	p.nextID++
	return p, nil
}

func (p *Population) issueID() agents.AgentID {
	id := p.nextID
	p.nextID++
	return id
}

// Agents returns the live agent slice. Callers must not retain or modify it.
func (p *Population) Agents() []*agents.Agent { return p.agents }

// Len returns the number of agents.
func (p *Population) Len() int { return len(p.agents) }

// Generation returns the 1-based generation counter.
func (p *Population) Generation() int { return p.generation }

// Params returns the selection and mutation parameters.
func (p *Population) Params() Params { return p.params }

// Environment returns the arena the population lives in.
func (p *Population) Environment() *agents.Environment { return p.env }

// Tick advances every agent by one step. A failing or panicking agent is
// skipped for this tick; the others still move. The returned error joins the
// per-agent failures.
func (p *Population) Tick() error {
	errs := make([]error, len(p.agents))
	step := func(i int) {
		defer func() {
			if r := recover(); r != nil {
				errs[i] = fmt.Errorf("agent %d panicked: %v", p.agents[i].ID, r)
			}
		}()
		if err := p.agents[i].Step(p.env); err != nil {
			errs[i] = fmt.Errorf("agent %d: %w", p.agents[i].ID, err)
		}
	}

	if p.params.Workers > 1 && len(p.agents) > 1 {
		wp := pool.New().WithMaxGoroutines(p.params.Workers)
		for i := range p.agents {
			wp.Go(func() { step(i) })
		}
		wp.Wait()
	} else {
		for i := range p.agents {
			step(i)
		}
	}
	return errors.Join(errs...)
}

// Evolve replaces the population with the next generation. On error the
// current agents and generation counter are left untouched.
func (p *Population) Evolve() (err error) {
	firstID := p.nextID
	defer func() {
		if err != nil {
			p.nextID = firstID
		}
	}()

	ranked := make([]*agents.Agent, len(p.agents))
	copy(ranked, p.agents)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness > ranked[j].Fitness
	})

	next := make([]*agents.Agent, 0, p.params.Capacity)
	eliteCount := p.params.EliteCount()
	if eliteCount > len(ranked) {
		eliteCount = len(ranked)
	}
	for _, e := range ranked[:eliteCount] {
		if err := p.checkTopology(e.Brain); err != nil {
			return fmt.Errorf("elite agent %d: %w", e.ID, err)
		}
		x, y := p.env.RandomPosition(p.rng)
		child := agents.New(p.issueID(), e.Brain, x, y)
		child.InheritedFitness = e.Fitness
		next = append(next, child)
	}

	for len(next) < p.params.Capacity {
		parent := Tournament(p.rng, p.agents, p.params.TournamentSize)
		if parent == nil {
			return fmt.Errorf("evolve: no parent available from %d agents", len(p.agents))
		}
		child, err := p.offspring(parent)
		if err != nil {
			return fmt.Errorf("evolve generation %d: %w", p.generation, err)
		}
		next = append(next, child)
	}

	p.agents = next
	p.generation++
	return nil
}

// offspring places a child at the parent's last position with a mutated copy
// of the parent's network, checked against the population topology.
func (p *Population) offspring(parent *agents.Agent) (*agents.Agent, error) {
	mutated := parent.Brain.Mutate(p.rng, p.params.MutationRate, p.params.MutationMagnitude)
	brain, err := policy.Zeros(p.params.Topology)
	if err != nil {
		return nil, err
	}
	if err := brain.SetWeights(mutated.Weights()); err != nil {
		return nil, fmt.Errorf("offspring of agent %d: %w", parent.ID, err)
	}
	x, y := p.env.Clamp(parent.X, parent.Y)
	child := agents.New(p.issueID(), brain, x, y)
	child.InheritedFitness = parent.Fitness
	return child, nil
}

// checkTopology reports a *policy.ShapeMismatchError when brain does not fit
// the population topology.
func (p *Population) checkTopology(brain *policy.Network) error {
	if brain == nil {
		return errors.New("no network")
	}
	want, err := policy.Zeros(p.params.Topology)
	if err != nil {
		return err
	}
	return want.SetWeights(brain.Weights())
}
