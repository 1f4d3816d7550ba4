package evolution

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/evosim/internal/agents"
	"github.com/talgya/evosim/internal/policy"
)

func testEnv(seed int64) *agents.Environment {
	return &agents.Environment{
		Width:   800,
		Height:  600,
		Speed:   5,
		Sensors: agents.NewRandomSensors(rand.New(rand.NewSource(seed))),
	}
}

func seededAgents(t *testing.T, rng *rand.Rand, topo policy.Topology, fitness ...float64) []*agents.Agent {
	t.Helper()
	out := make([]*agents.Agent, len(fitness))
	for i, f := range fitness {
		brain, err := policy.New(topo, rng)
		require.NoError(t, err)
		a := agents.New(agents.AgentID(i+1), brain, float64(10*i), float64(20*i))
		a.DistanceTraveled = f
		a.Fitness = f
		out[i] = a
	}
	return out
}

func TestEliteCount(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 3, p.EliteCount())

	p.Capacity, p.EliteFraction = 4, 0.25
	assert.Equal(t, 1, p.EliteCount())

	p.Capacity, p.EliteFraction = 7, 0.1
	assert.Equal(t, 1, p.EliteCount())

	p.EliteFraction = 0
	assert.Equal(t, 0, p.EliteCount())

	p.EliteFraction = 1
	assert.Equal(t, 7, p.EliteCount())
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	bad := []func(*Params){
		func(p *Params) { p.Capacity = 0 },
		func(p *Params) { p.EliteFraction = 1.5 },
		func(p *Params) { p.TournamentSize = 0 },
		func(p *Params) { p.MutationRate = -0.1 },
		func(p *Params) { p.MutationMagnitude = -1 },
		func(p *Params) { p.Topology = policy.Topology{8, 16, 3} },
	}
	for i, mutate := range bad {
		p := DefaultParams()
		mutate(&p)
		assert.Error(t, p.Validate(), "case %d", i)
	}
}

func TestNewPopulation(t *testing.T) {
	env := testEnv(1)
	pop, err := NewPopulation(DefaultParams(), env, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	assert.Equal(t, 30, pop.Len())
	assert.Equal(t, 1, pop.Generation())
	seen := map[agents.AgentID]bool{}
	for _, a := range pop.Agents() {
		assert.True(t, env.Contains(a.X, a.Y))
		assert.False(t, seen[a.ID])
		seen[a.ID] = true
	}

	params := DefaultParams()
	params.Capacity = 0
	_, err = NewPopulation(params, env, rand.New(rand.NewSource(2)))
	assert.Error(t, err)
}

func TestEvolveKeepsOneEliteAndBreedsFromTournament(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	members := seededAgents(t, rng, policy.DefaultTopology(), 4, 10, 1, 7)
	best := members[1]

	params := DefaultParams()
	params.Capacity = 4
	params.EliteFraction = 0.25
	params.TournamentSize = 2
	pop, err := NewPopulationFrom(params, testEnv(4), rng, members)
	require.NoError(t, err)

	require.NoError(t, pop.Evolve())
	next := pop.Agents()
	require.Len(t, next, 4)
	assert.Equal(t, 2, pop.Generation())

	assert.Same(t, best.Brain, next[0].Brain, "elite keeps its network")
	assert.Equal(t, 10.0, next[0].InheritedFitness)

	parents := map[float64]bool{10: true, 7: true, 4: true, 1: true}
	for _, child := range next[1:] {
		assert.True(t, parents[child.InheritedFitness], "unexpected parent fitness %v", child.InheritedFitness)
		for _, m := range members {
			assert.NotSame(t, m.Brain, child.Brain)
		}
	}
	for _, a := range next {
		assert.Zero(t, a.Fitness)
		assert.Zero(t, a.DistanceTraveled)
		assert.Zero(t, a.Age)
		assert.Zero(t, a.History.Len())
	}
}

func TestOffspringStartsAtParentPosition(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	members := seededAgents(t, rng, policy.DefaultTopology(), 3, 3)
	params := DefaultParams()
	params.Capacity = 2
	params.EliteFraction = 0
	pop, err := NewPopulationFrom(params, testEnv(6), rng, members)
	require.NoError(t, err)

	require.NoError(t, pop.Evolve())
	for _, child := range pop.Agents() {
		matched := false
		for _, m := range members {
			if child.X == m.X && child.Y == m.Y {
				matched = true
			}
		}
		assert.True(t, matched, "child at (%v,%v) is not at a parent position", child.X, child.Y)
	}
}

func TestEvolveInvariantsAcrossGenerations(t *testing.T) {
	params := DefaultParams()
	params.Capacity = 12
	params.EliteFraction = 0.25
	rng := rand.New(rand.NewSource(7))
	pop, err := NewPopulation(params, testEnv(8), rng)
	require.NoError(t, err)
	topo := policy.DefaultTopology()

	for gen := 1; gen <= 6; gen++ {
		for tick := 0; tick < 25; tick++ {
			require.NoError(t, pop.Tick())
		}
		maxFitness := 0.0
		for _, a := range pop.Agents() {
			if a.Fitness > maxFitness {
				maxFitness = a.Fitness
			}
		}

		require.NoError(t, pop.Evolve())
		require.Equal(t, params.Capacity, pop.Len())
		assert.Equal(t, gen+1, pop.Generation())

		eliteMax := 0.0
		for _, e := range pop.Agents()[:params.EliteCount()] {
			if e.InheritedFitness > eliteMax {
				eliteMax = e.InheritedFitness
			}
		}
		assert.GreaterOrEqual(t, eliteMax, maxFitness)

		for _, a := range pop.Agents() {
			require.True(t, topo.Equal(a.Brain.Topology()))
		}
	}
}

func TestEvolveShapeMismatchLeavesPopulationIntact(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	members := seededAgents(t, rng, policy.WithHidden(12, 16), 5, 4, 3)
	params := DefaultParams()
	params.Capacity = 3
	params.EliteFraction = 0
	pop, err := NewPopulationFrom(params, testEnv(10), rng, members)
	require.NoError(t, err)

	err = pop.Evolve()
	var sme *policy.ShapeMismatchError
	require.True(t, errors.As(err, &sme))
	assert.Equal(t, 1, pop.Generation())
	require.Len(t, pop.Agents(), 3)
	for i, a := range pop.Agents() {
		assert.Same(t, members[i], a)
		assert.Equal(t, members[i].Fitness, a.Fitness)
	}
}

func TestEvolveRejectsEliteWithForeignTopology(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	members := seededAgents(t, rng, policy.DefaultTopology(), 1, 2, 3)
	odd, err := policy.New(policy.WithHidden(12, 16), rng)
	require.NoError(t, err)
	members[2].Brain = odd

	params := DefaultParams()
	params.Capacity = 3
	params.EliteFraction = 0.34
	pop, err := NewPopulationFrom(params, testEnv(14), rng, members)
	require.NoError(t, err)

	err = pop.Evolve()
	var sme *policy.ShapeMismatchError
	require.True(t, errors.As(err, &sme))
	assert.Equal(t, 1, pop.Generation())
	for i, a := range pop.Agents() {
		assert.Same(t, members[i], a)
	}
}

func TestTickIsolatesFailingAgent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	members := seededAgents(t, rng, policy.DefaultTopology(), 0, 0, 0)
	members[1].Brain = nil

	params := DefaultParams()
	params.Capacity = 3
	pop, err := NewPopulationFrom(params, testEnv(12), rng, members)
	require.NoError(t, err)

	err = pop.Tick()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent 2")
	assert.Equal(t, 1, members[0].Age)
	assert.Equal(t, 0, members[1].Age)
	assert.Equal(t, 1, members[2].Age)
}

func TestTickParallelMatchesCapacity(t *testing.T) {
	params := DefaultParams()
	params.Workers = 4
	pop, err := NewPopulation(params, testEnv(13), rand.New(rand.NewSource(14)))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, pop.Tick())
	}
	for _, a := range pop.Agents() {
		assert.Equal(t, 10, a.Age)
		assert.Equal(t, a.DistanceTraveled, a.Fitness)
		assert.True(t, pop.Environment().Contains(a.X, a.Y))
	}
}
