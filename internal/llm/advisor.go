package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/talgya/evosim/internal/stats"
)

const advisorSystem = `You are an expert in neuroevolution. You analyze generation summaries from a simulation where small feed-forward networks steer agents around a 2D arena and fitness is distance traveled. Provide concise, technical analysis focused on improving performance.`

// Advisor scores finished generations through the Messages API.
type Advisor struct {
	client *Client
}

// NewAdvisor wraps client. A nil or disabled client yields an advisor whose
// every call fails with stats.ErrAdvisoryUnavailable.
func NewAdvisor(client *Client) *Advisor {
	return &Advisor{client: client}
}

// ScoreGeneration asks the model for a 0-100 assessment of snap.
func (a *Advisor) ScoreGeneration(ctx context.Context, snap stats.Snapshot, generation int) (*stats.Advisory, error) {
	if a == nil || !a.client.Enabled() {
		return nil, fmt.Errorf("%w: client not configured", stats.ErrAdvisoryUnavailable)
	}

	text, err := a.client.Complete(ctx, advisorSystem, buildAdvisoryPrompt(snap, generation), 1000)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrAdvisoryUnavailable, err)
	}

	adv, err := parseAdvisory(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stats.ErrAdvisoryUnavailable, err)
	}
	adv.Generation = generation
	return adv, nil
}

func buildAdvisoryPrompt(snap stats.Snapshot, generation int) string {
	var b strings.Builder
	p := snap.Population

	fmt.Fprintf(&b, "Analyze generation %d of the neural evolution run.\n\n", generation)
	b.WriteString("Population stats:\n")
	fmt.Fprintf(&b, "- Size: %d\n", p.Size)
	fmt.Fprintf(&b, "- Average fitness: %.2f\n", p.AvgFitness)
	fmt.Fprintf(&b, "- Max fitness: %.2f\n", p.MaxFitness)
	fmt.Fprintf(&b, "- Best inherited fitness: %.2f\n", p.EliteFitness)
	fmt.Fprintf(&b, "- Average distance: %.2f\n", p.AvgDistance)
	fmt.Fprintf(&b, "- Max distance: %.2f\n\n", p.MaxDistance)

	fmt.Fprintf(&b, "Network (%s):\n", snap.Performance.Topology)
	for _, l := range snap.Layers {
		fmt.Fprintf(&b, "- %s: mean weight %.4f, variance %.4f\n", l.Name, l.AvgWeight, l.Variance)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Species: %d active, %d ever.\n", snap.ActiveSpecies, snap.TotalSpeciesEver)
	fmt.Fprintf(&b, "Evolution: mutation rate %.2f, elite fraction %.2f, tournament size %d, %d ticks per generation.\n\n",
		snap.Performance.MutationRate, snap.Performance.EliteFraction,
		snap.Performance.TournamentSize, snap.Performance.StepsPerGeneration)

	b.WriteString(`Score performance from 0 to 100 as the sum of four criteria, each 0-25:
- Population diversity: number and distribution of active species
- Learning progress: generation-over-generation improvement in average fitness
- Exploration efficiency: ratio of average distance to max distance
- Network health: weight distributions and architecture

Then identify issues or bottlenecks and suggest concrete architecture or parameter changes.

Respond ONLY with a single JSON object:
{"performanceScore": number, "summary": "brief overview", "insights": ["..."], "recommendations": ["..."]}`)
	return b.String()
}

type advisoryJSON struct {
	PerformanceScore *float64 `json:"performanceScore"`
	Summary          string   `json:"summary"`
	Insights         []string `json:"insights"`
	Recommendations  []string `json:"recommendations"`
}

// parseAdvisory extracts the JSON object from a reply that may be wrapped in
// markdown fences or prose. The score is clamped to [0,100].
func parseAdvisory(text string) (*stats.Advisory, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		}
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var raw advisoryJSON
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse advisory: %w", err)
	}
	if raw.PerformanceScore == nil || math.IsNaN(*raw.PerformanceScore) {
		return nil, fmt.Errorf("advisory missing performanceScore")
	}

	adv := &stats.Advisory{
		PerformanceScore: math.Max(0, math.Min(100, *raw.PerformanceScore)),
		Summary:          strings.TrimSpace(raw.Summary),
		Insights:         raw.Insights,
		Recommendations:  raw.Recommendations,
	}
	if adv.Insights == nil {
		adv.Insights = []string{}
	}
	if adv.Recommendations == nil {
		adv.Recommendations = []string{}
	}
	return adv, nil
}
