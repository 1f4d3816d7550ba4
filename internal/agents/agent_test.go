package agents

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/evosim/internal/policy"
)

func testEnv(w, h float64) *Environment {
	return &Environment{Width: w, Height: h, Speed: 5, Sensors: NewRandomSensors(rand.New(rand.NewSource(1)))}
}

func testAgent(t *testing.T, x, y float64) *Agent {
	t.Helper()
	brain, err := policy.New(policy.DefaultTopology(), rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	return New(1, brain, x, y)
}

func TestActMovesRightThreeTicks(t *testing.T) {
	env := testEnv(200, 200)
	a := testAgent(t, 100, 100)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Act(ActionRight, 5, env))
		a.UpdateFitness()
	}

	assert.Equal(t, 115.0, a.X)
	assert.Equal(t, 100.0, a.Y)
	assert.Equal(t, 15.0, a.DistanceTraveled)
	assert.Equal(t, 15.0, a.Fitness)
}

func TestActClampedAtOrigin(t *testing.T) {
	env := testEnv(200, 200)
	a := testAgent(t, 0, 0)

	require.NoError(t, a.Act(ActionUp, 5, env))
	require.NoError(t, a.Act(ActionLeft, 5, env))
	a.UpdateFitness()

	assert.Equal(t, 0.0, a.X)
	assert.Equal(t, 0.0, a.Y)
	assert.Zero(t, a.DistanceTraveled)
	assert.Zero(t, a.Fitness)
	assert.Equal(t, 2, a.History.Len())
}

func TestActPartialClampCreditsActualDistance(t *testing.T) {
	env := testEnv(200, 200)
	a := testAgent(t, 198, 50)
	require.NoError(t, a.Act(ActionRight, 5, env))
	assert.Equal(t, 200.0, a.X)
	assert.InDelta(t, 2.0, a.DistanceTraveled, 1e-12)
}

func TestActRejectsUnknownAction(t *testing.T) {
	a := testAgent(t, 10, 10)
	assert.Error(t, a.Act(Action(7), 5, testEnv(100, 100)))
	assert.Error(t, a.Act(Action(-1), 5, testEnv(100, 100)))
	assert.Zero(t, a.History.Len())
	assert.Equal(t, 10.0, a.X)
	assert.Equal(t, 10.0, a.Y)
	assert.Zero(t, a.DistanceTraveled)
}

func TestHistoryKeepsLastFive(t *testing.T) {
	env := testEnv(1000, 1000)
	a := testAgent(t, 0, 500)
	for i := 0; i < 8; i++ {
		require.NoError(t, a.Act(ActionRight, 5, env))
	}
	pts := a.History.Points()
	require.Len(t, pts, HistorySize)
	assert.Equal(t, 15.0, pts[0].X)
	assert.Equal(t, 35.0, pts[4].X)
	assert.InDelta(t, 0, a.Heading(), 1e-12)

	require.NoError(t, a.Act(ActionDown, 5, env))
	assert.InDelta(t, math.Pi/2, a.Heading(), 1e-12)
}

func TestSenseNormalizesPosition(t *testing.T) {
	env := testEnv(800, 600)
	a := testAgent(t, 400, 150)
	v, err := a.Sense(env)
	require.NoError(t, err)
	require.Len(t, v, policy.SensorCount)
	assert.Equal(t, 0.5, v[0])
	assert.Equal(t, 0.25, v[1])
	for _, x := range v[2:] {
		assert.GreaterOrEqual(t, x, 0.0)
		assert.Less(t, x, 1.0)
	}
}

func TestStepStaysInBounds(t *testing.T) {
	env := testEnv(50, 50)
	a := testAgent(t, 25, 25)
	for i := 0; i < 200; i++ {
		require.NoError(t, a.Step(env))
		require.True(t, env.Contains(a.X, a.Y))
	}
	assert.Equal(t, 200, a.Age)
	assert.Equal(t, a.DistanceTraveled, a.Fitness)
}

func TestResetGeneration(t *testing.T) {
	env := testEnv(100, 100)
	a := testAgent(t, 50, 50)
	require.NoError(t, a.Step(env))
	a.ResetGeneration()
	assert.Zero(t, a.Fitness)
	assert.Zero(t, a.DistanceTraveled)
	assert.Zero(t, a.Age)
	assert.Zero(t, a.History.Len())
}

func TestNoiseFieldInUnitRange(t *testing.T) {
	cfg := DefaultNoiseFieldConfig()
	cfg.Seed = 99
	f, err := NewNoiseField(cfg)
	require.NoError(t, err)

	env := &Environment{Width: 800, Height: 600, Speed: 5, Sensors: f}
	out := make([]float64, PerceptionChannels)
	require.NoError(t, f.Perceive(env, 120, 340, out))
	for _, v := range out {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	again := make([]float64, PerceptionChannels)
	require.NoError(t, f.Perceive(env, 120, 340, again))
	assert.Equal(t, out, again)

	cfg.Octaves = 0
	_, err = NewNoiseField(cfg)
	assert.Error(t, err)
}
