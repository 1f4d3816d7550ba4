// Package stats computes the read-only population and network summaries that
// leave the engine: per-tick stats snapshots and per-generation reports.
package stats

import (
	"errors"
	"fmt"
	"time"
)

// ErrAdvisoryUnavailable marks any failure to obtain an advisory record.
// It is never fatal to the simulation.
var ErrAdvisoryUnavailable = errors.New("advisory unavailable")

// Snapshot is an immutable point-in-time summary of a population.
type Snapshot struct {
	RunID            string          `json:"run_id,omitempty"`
	Generation       int             `json:"generation"`
	Tick             int             `json:"tick"`
	Population       PopulationStats `json:"population"`
	Agents           []AgentView     `json:"agents"`
	Layers           []LayerStats    `json:"layers"`
	ActiveSpecies    int             `json:"active_species"`
	TotalSpeciesEver int             `json:"total_species_ever"`
	Performance      Performance     `json:"performance"`
	Advisory         *Advisory       `json:"advisory,omitempty"`
	PublishedAt      time.Time       `json:"published_at,omitzero"`
}

// PopulationStats aggregates fitness and distance across agents.
type PopulationStats struct {
	Size        int     `json:"size"`
	AvgFitness  float64 `json:"avg_fitness"`
	MaxFitness  float64 `json:"max_fitness"`
	AvgDistance float64 `json:"avg_distance"`
	MaxDistance float64 `json:"max_distance"`
	// EliteFitness is the best fitness inherited by any agent this generation.
	EliteFitness float64 `json:"elite_fitness"`
}

// AgentView is what a renderer needs to draw one agent.
type AgentView struct {
	ID      uint64  `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Fitness float64 `json:"fitness"`
	Heading float64 `json:"rotation"`
}

// LayerStats summarizes one weight matrix (biases excluded).
type LayerStats struct {
	Name      string  `json:"name"`
	AvgWeight float64 `json:"avg_weight"`
	Variance  float64 `json:"variance"`
}

// Performance is run metadata echoed to viewers and the advisor.
type Performance struct {
	Generation         int     `json:"generation"`
	CurrentStep        int     `json:"current_step"`
	StepsPerGeneration int     `json:"steps_per_generation"`
	MutationRate       float64 `json:"mutation_rate"`
	EliteFraction      float64 `json:"elite_fraction"`
	TournamentSize     int     `json:"tournament_size"`
	Topology           string  `json:"topology"`
	LastAnalysis       string  `json:"last_analysis,omitempty"`
}

// Advisory is an external assessment of one generation.
type Advisory struct {
	Generation       int      `json:"generation"`
	PerformanceScore float64  `json:"performance_score"`
	Summary          string   `json:"summary"`
	Insights         []string `json:"insights"`
	Recommendations  []string `json:"recommendations"`
}

// Clone returns a deep copy.
func (a *Advisory) Clone() *Advisory {
	if a == nil {
		return nil
	}
	c := *a
	c.Insights = append([]string(nil), a.Insights...)
	c.Recommendations = append([]string(nil), a.Recommendations...)
	return &c
}

// Clone returns a deep copy so the receiver can be handed to another
// goroutine without sharing slices.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Agents = append([]AgentView(nil), s.Agents...)
	c.Layers = append([]LayerStats(nil), s.Layers...)
	c.Advisory = s.Advisory.Clone()
	return c
}

// Key orders snapshots by (generation, tick).
func (s Snapshot) Key() string {
	return fmt.Sprintf("%d/%d", s.Generation, s.Tick)
}

// Before reports whether s was taken strictly earlier than o.
func (s Snapshot) Before(o Snapshot) bool {
	if s.Generation != o.Generation {
		return s.Generation < o.Generation
	}
	return s.Tick < o.Tick
}
