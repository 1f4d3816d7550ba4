package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/evosim/internal/engine"
	"github.com/talgya/evosim/internal/stats"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "evosim.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func genSnapshot(gen int, maxFit float64) stats.Snapshot {
	return stats.Snapshot{
		Generation: gen,
		Tick:       800,
		Population: stats.PopulationStats{Size: 30, MaxFitness: maxFit, AvgFitness: maxFit / 2},
		Layers:     []stats.LayerStats{{Name: "Layer 1", AvgWeight: 0.1, Variance: 0.5}},
	}
}

func TestEmptyHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	hist, err := db.LoadStatsHistory(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)

	advs, err := db.LoadAdvisories(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, advs)
}

func TestRecordAndLoadHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cfg := engine.DefaultConfig()

	require.NoError(t, db.RecordRun(ctx, "run-a", time.Unix(100, 0), cfg))
	require.NoError(t, db.RecordGeneration(ctx, "run-a", genSnapshot(1, 50)))

	require.NoError(t, db.RecordRun(ctx, "run-b", time.Unix(200, 0), cfg))
	for g := 1; g <= 4; g++ {
		require.NoError(t, db.RecordGeneration(ctx, "run-b", genSnapshot(g, float64(g*100))))
	}
	require.NoError(t, db.RecordGeneration(ctx, "run-b", genSnapshot(4, 999)))

	last, err := db.GetMeta("last_run_id")
	require.NoError(t, err)
	assert.Equal(t, "run-b", last)

	hist, err := db.LoadStatsHistory(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{hist[0].Generation, hist[1].Generation, hist[2].Generation})
	assert.Equal(t, 999.0, hist[2].MaxFitness)
	assert.Equal(t, "Layer 1", hist[2].Layers[0].Name)

	hist, err = db.LoadStatsHistory(ctx, "run-a", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 50.0, hist[0].MaxFitness)

	runs, err := db.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID)
	assert.Equal(t, "8-16-16-4", runs[0].Topology)
	assert.Equal(t, 30, runs[0].Capacity)
}

func TestDuplicateRunRejected(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.RecordRun(ctx, "run-a", time.Now(), engine.DefaultConfig()))
	assert.Error(t, db.RecordRun(ctx, "run-a", time.Now(), engine.DefaultConfig()))
}

func TestAdvisories(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.RecordRun(ctx, "run-a", time.Now(), engine.DefaultConfig()))

	require.NoError(t, db.RecordAdvisory(ctx, "run-a", stats.Advisory{
		Generation: 10, PerformanceScore: 40, Summary: "slow",
		Insights: []string{"low variance"},
	}))
	require.NoError(t, db.RecordAdvisory(ctx, "run-a", stats.Advisory{
		Generation: 20, PerformanceScore: 75, Summary: "better",
		Recommendations: []string{"raise mutation rate"},
	}))

	advs, err := db.LoadAdvisories(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, advs, 2)
	assert.Equal(t, 20, advs[0].Generation)
	assert.Equal(t, 75.0, advs[0].PerformanceScore)
	assert.Equal(t, []string{"raise mutation rate"}, advs[0].Recommendations)
	assert.Empty(t, advs[0].Insights)
	assert.Equal(t, []string{"low variance"}, advs[1].Insights)

	advs, err = db.LoadAdvisories(ctx, "run-other", 10)
	require.NoError(t, err)
	assert.Empty(t, advs)
}

func TestRecorderInterface(t *testing.T) {
	var _ engine.Recorder = openTestDB(t)
}
