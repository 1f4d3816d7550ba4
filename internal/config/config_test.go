package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/evosim/internal/engine"
)

func writeINI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evosim.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	ec, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, 30, ec.Evolution.Capacity)
	assert.Equal(t, 800, ec.GenerationLength)
	assert.Equal(t, 16*time.Millisecond, ec.TickInterval)
	assert.Equal(t, "8-16-16-4", ec.Evolution.Topology.String())
}

func TestLoadFile(t *testing.T) {
	path := writeINI(t, `
[simulation]
generation_length = 200
tick_interval = 5ms
sensors = Noise

[evolution]
population = 50
mutation_rate = 0.25

[network]
hidden = 32, 8

[advisory]
analysis_interval = 0

[log]
level = debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Simulation.GenerationLength)
	assert.Equal(t, 5*time.Millisecond, cfg.Simulation.TickInterval)
	assert.Equal(t, "noise", cfg.Simulation.Sensors)
	assert.Equal(t, 50, cfg.Evolution.Population)
	assert.Equal(t, 5, cfg.Evolution.TournamentSize)
	assert.Equal(t, []int{32, 8}, cfg.Network.Hidden)

	ec, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, "8-32-8-4", ec.Evolution.Topology.String())
	assert.Equal(t, 0, ec.AnalysisInterval)

	lvl, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.ini"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"EVOSIM_ADMIN_KEY":  "admin",
		"EVOSIM_RELAY_KEY":  "relay",
		"ANTHROPIC_API_KEY": "sk-test",
		"EVOSIM_PORT":       "9090",
		"EVOSIM_DB":         "/tmp/x.db",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, "admin", cfg.Server.AdminKey)
	assert.Equal(t, "relay", cfg.Server.RelayKey)
	assert.Equal(t, "sk-test", cfg.Advisory.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.DBPath)

	env["EVOSIM_PORT"] = "eighty"
	var ce *engine.ConfigError
	assert.ErrorAs(t, cfg.applyEnv(func(k string) string { return env[k] }), &ce)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"zero population", func(c *Config) { c.Evolution.Population = 0 }, "evolution"},
		{"negative analysis", func(c *Config) { c.Advisory.AnalysisInterval = -1 }, "analysis_interval"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log_level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log_format"},
		{"bad sensors", func(c *Config) { c.Simulation.Sensors = "lidar" }, "sensors"},
		{"no hidden layer width", func(c *Config) { c.Network.Hidden = []int{0} }, "evolution"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(&cfg)
			var ce *engine.ConfigError
			require.ErrorAs(t, cfg.Validate(), &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}
