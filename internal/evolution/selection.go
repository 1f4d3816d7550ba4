package evolution

import (
	"math/rand"

	"github.com/talgya/evosim/internal/agents"
)

// Tournament draws size contestants uniformly with replacement and returns
// the fittest. On equal fitness the earlier draw wins. Returns nil for an
// empty pool.
func Tournament(rng *rand.Rand, pool []*agents.Agent, size int) *agents.Agent {
	if len(pool) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	best := pool[rng.Intn(len(pool))]
	for i := 1; i < size; i++ {
		contestant := pool[rng.Intn(len(pool))]
		if contestant.Fitness > best.Fitness {
			best = contestant
		}
	}
	return best
}
