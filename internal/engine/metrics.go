package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/talgya/evosim/internal/stats"
)

// Metrics are the engine's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ticks            prometheus.Counter
	generations      prometheus.Counter
	agentFailureN    prometheus.Counter
	evolveFailures   prometheus.Counter
	advisoryFailures prometheus.Counter
	droppedEvents    prometheus.Counter

	generationGauge prometheus.Gauge
	populationSize  prometheus.Gauge
	maxFitness      prometheus.Gauge
	avgFitness      prometheus.Gauge
	completedMax    prometheus.Gauge
	advisoryScoreG  prometheus.Gauge
}

// NewMetrics registers the engine instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "evosim", Name: "ticks_total",
			Help: "Simulation ticks executed.",
		}),
		generations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "evosim", Name: "generations_total",
			Help: "Generations completed.",
		}),
		agentFailureN: f.NewCounter(prometheus.CounterOpts{
			Namespace: "evosim", Name: "agent_tick_failures_total",
			Help: "Agent steps that failed and were skipped.",
		}),
		evolveFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "evosim", Name: "evolve_failures_total",
			Help: "Generation transitions that failed and were retried.",
		}),
		advisoryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "evosim", Name: "advisory_failures_total",
			Help: "Generation analyses that could not be obtained.",
		}),
		droppedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: "evosim", Name: "dropped_events_total",
			Help: "Events not delivered to a full subscriber buffer.",
		}),
		generationGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "evosim", Name: "generation",
			Help: "Current generation of the active run.",
		}),
		populationSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "evosim", Name: "population_size",
			Help: "Agents in the active population.",
		}),
		maxFitness: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "evosim", Name: "max_fitness",
			Help: "Best fitness in the latest snapshot.",
		}),
		avgFitness: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "evosim", Name: "avg_fitness",
			Help: "Mean fitness in the latest snapshot.",
		}),
		completedMax: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "evosim", Name: "completed_generation_max_fitness",
			Help: "Best fitness reached by the last completed generation.",
		}),
		advisoryScoreG: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "evosim", Name: "advisory_score",
			Help: "Most recent advisory performance score (0-100).",
		}),
	}
}

func (m *Metrics) tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) agentFailures(n int) {
	if m == nil {
		return
	}
	m.agentFailureN.Add(float64(n))
}

func (m *Metrics) evolveFailure() {
	if m == nil {
		return
	}
	m.evolveFailures.Inc()
}

func (m *Metrics) advisoryFailure() {
	if m == nil {
		return
	}
	m.advisoryFailures.Inc()
}

func (m *Metrics) droppedEvent() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

func (m *Metrics) advisoryScore(v float64) {
	if m == nil {
		return
	}
	m.advisoryScoreG.Set(v)
}

// generation records a completed generation's final snapshot.
func (m *Metrics) generation(final stats.Snapshot) {
	if m == nil {
		return
	}
	m.generations.Inc()
	m.completedMax.Set(final.Population.MaxFitness)
}

func (m *Metrics) snapshot(s stats.Snapshot) {
	if m == nil {
		return
	}
	m.generationGauge.Set(float64(s.Generation))
	m.populationSize.Set(float64(s.Population.Size))
	m.maxFitness.Set(s.Population.MaxFitness)
	m.avgFitness.Set(s.Population.AvgFitness)
}
