package stats

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/talgya/evosim/internal/agents"
	"github.com/talgya/evosim/internal/evolution"
	"github.com/talgya/evosim/internal/policy"
)

// Aggregate summarizes the population at the given tick. It reads but never
// modifies the population, and returns identical output for identical state.
func Aggregate(pop *evolution.Population, tick, generationLength int) Snapshot {
	if pop == nil {
		return Snapshot{Agents: []AgentView{}, Layers: []LayerStats{}}
	}
	members := pop.Agents()
	params := pop.Params()

	snap := Snapshot{
		Generation:       pop.Generation(),
		Tick:             tick,
		Population:       Summarize(members),
		Agents:           Views(members),
		Layers:           []LayerStats{},
		ActiveSpecies:    activeSpecies(members),
		TotalSpeciesEver: agents.DefaultSpecies,
		Performance: Performance{
			Generation:         pop.Generation(),
			CurrentStep:        tick,
			StepsPerGeneration: generationLength,
			MutationRate:       params.MutationRate,
			EliteFraction:      params.EliteFraction,
			TournamentSize:     params.TournamentSize,
			Topology:           params.Topology.String(),
		},
	}
	// The first agent's network stands in for the whole population.
	if len(members) > 0 && members[0].Brain != nil {
		snap.Layers = NetworkStats(members[0].Brain)
	}
	return snap
}

// Summarize computes fitness and distance aggregates. An empty slice yields
// all zeros.
func Summarize(members []*agents.Agent) PopulationStats {
	ps := PopulationStats{Size: len(members)}
	if len(members) == 0 {
		return ps
	}
	fitness := make([]float64, len(members))
	distance := make([]float64, len(members))
	inherited := make([]float64, len(members))
	for i, a := range members {
		fitness[i] = a.Fitness
		distance[i] = a.DistanceTraveled
		inherited[i] = a.InheritedFitness
	}
	ps.AvgFitness = stat.Mean(fitness, nil)
	ps.MaxFitness = floats.Max(fitness)
	ps.AvgDistance = stat.Mean(distance, nil)
	ps.MaxDistance = floats.Max(distance)
	ps.EliteFitness = floats.Max(inherited)
	return ps
}

// Views projects agents into renderer-friendly records.
func Views(members []*agents.Agent) []AgentView {
	out := make([]AgentView, len(members))
	for i, a := range members {
		out[i] = AgentView{
			ID:      uint64(a.ID),
			X:       a.X,
			Y:       a.Y,
			Fitness: a.Fitness,
			Heading: a.Heading(),
		}
	}
	return out
}

// NetworkStats returns mean and population variance of every weight matrix.
func NetworkStats(n *policy.Network) []LayerStats {
	layers := n.Layers()
	out := make([]LayerStats, len(layers))
	for i, l := range layers {
		rows, cols := l.W.Dims()
		flat := make([]float64, 0, rows*cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				flat = append(flat, l.W.At(r, c))
			}
		}
		ls := LayerStats{Name: fmt.Sprintf("Layer %d", i+1)}
		if len(flat) > 0 {
			ls.AvgWeight, ls.Variance = stat.PopMeanVariance(flat, nil)
		}
		out[i] = ls
	}
	return out
}

// activeSpecies counts distinct species IDs. Every agent carries the default
// species until clustering exists, so this is 1 for any non-empty population.
func activeSpecies(members []*agents.Agent) int {
	seen := make(map[int]struct{})
	for _, a := range members {
		seen[a.SpeciesID] = struct{}{}
	}
	return len(seen)
}
