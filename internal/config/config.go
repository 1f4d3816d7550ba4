// Package config loads evosim settings from an INI file with environment
// overrides for secrets and deployment knobs.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/talgya/evosim/internal/engine"
	"github.com/talgya/evosim/internal/evolution"
	"github.com/talgya/evosim/internal/policy"
)

// Config is the whole process configuration, one struct per INI section.
type Config struct {
	Simulation  Simulation
	Evolution   Evolution
	Network     Network
	Environment Environment
	Advisory    Advisory
	Server      Server
	Storage     Storage
	Log         Log
}

type Simulation struct {
	GenerationLength int           `ini:"generation_length"`
	TickInterval     time.Duration `ini:"tick_interval"`
	StatsInterval    int           `ini:"stats_interval"`
	Sensors          string        `ini:"sensors"` // "random" or "noise"
	Workers          int           `ini:"workers"`
	Autostart        bool          `ini:"autostart"`
}

type Evolution struct {
	Population        int     `ini:"population"`
	EliteFraction     float64 `ini:"elite_fraction"`
	TournamentSize    int     `ini:"tournament_size"`
	MutationRate      float64 `ini:"mutation_rate"`
	MutationMagnitude float64 `ini:"mutation_magnitude"`
}

type Network struct {
	Hidden []int `ini:"hidden" delim:","`
}

type Environment struct {
	Width            float64 `ini:"width"`
	Height           float64 `ini:"height"`
	Speed            float64 `ini:"speed"`
	NoiseSeed        int64   `ini:"noise_seed"` // 0 draws a fresh seed per run
	NoiseFrequency   float64 `ini:"noise_frequency"`
	NoiseOctaves     int     `ini:"noise_octaves"`
	NoisePersistence float64 `ini:"noise_persistence"`
	NoiseReach       float64 `ini:"noise_reach"`
}

type Advisory struct {
	AnalysisInterval int           `ini:"analysis_interval"`
	Timeout          time.Duration `ini:"timeout"`
	Model            string        `ini:"model"`
	URL              string        `ini:"api_url"`
	MaxPerMinute     int           `ini:"max_per_minute"`
	APIKey           string        `ini:"-"`
}

type Server struct {
	Port               int    `ini:"port"`
	MaxSSEConns        int    `ini:"max_sse_conns"`
	AdminRatePerMinute int    `ini:"admin_rate_per_minute"`
	AdminKey           string `ini:"-"`
	RelayKey           string `ini:"-"`
}

type Storage struct {
	DBPath          string `ini:"db_path"`
	RandomOrgAPIKey string `ini:"-"`
}

type Log struct {
	Level  string `ini:"level"`
	Format string `ini:"format"` // "auto", "text" or "json"
}

// Default returns the reference settings.
func Default() Config {
	ec := engine.DefaultConfig()
	return Config{
		Simulation: Simulation{
			GenerationLength: ec.GenerationLength,
			TickInterval:     ec.TickInterval,
			StatsInterval:    ec.StatsInterval,
			Sensors:          ec.Sensors,
			Workers:          ec.Evolution.Workers,
			Autostart:        true,
		},
		Evolution: Evolution{
			Population:        ec.Evolution.Capacity,
			EliteFraction:     ec.Evolution.EliteFraction,
			TournamentSize:    ec.Evolution.TournamentSize,
			MutationRate:      ec.Evolution.MutationRate,
			MutationMagnitude: ec.Evolution.MutationMagnitude,
		},
		Network: Network{Hidden: []int{16, 16}},
		Environment: Environment{
			Width:            ec.Width,
			Height:           ec.Height,
			Speed:            ec.Speed,
			NoiseFrequency:   ec.NoiseField.Frequency,
			NoiseOctaves:     ec.NoiseField.Octaves,
			NoisePersistence: ec.NoiseField.Persistence,
			NoiseReach:       ec.NoiseField.Reach,
		},
		Advisory: Advisory{
			AnalysisInterval: ec.AnalysisInterval,
			Timeout:          ec.AdvisoryTimeout,
			MaxPerMinute:     20,
		},
		Server: Server{
			Port:               8080,
			MaxSSEConns:        50,
			AdminRatePerMinute: 10,
		},
		Storage: Storage{DBPath: "data/evosim.db"},
		Log:     Log{Level: "info", Format: "auto"},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := ini.LoadSources(ini.LoadOptions{
			UnescapeValueCommentSymbols: true,
		}, path)
		if err != nil {
			return Config{}, fmt.Errorf("load config file %q: %w", path, err)
		}
		if err := cfg.mapFile(f); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mapFile(f *ini.File) error {
	sections := []struct {
		name string
		dst  any
	}{
		{"simulation", &c.Simulation},
		{"evolution", &c.Evolution},
		{"network", &c.Network},
		{"environment", &c.Environment},
		{"advisory", &c.Advisory},
		{"server", &c.Server},
		{"storage", &c.Storage},
		{"log", &c.Log},
	}
	for _, s := range sections {
		if !f.HasSection(s.name) {
			continue
		}
		if err := f.Section(s.name).MapTo(s.dst); err != nil {
			return fmt.Errorf("map [%s] section: %w", s.name, err)
		}
	}
	c.Simulation.Sensors = strings.ToLower(strings.TrimSpace(c.Simulation.Sensors))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	return nil
}

// applyEnv overlays secrets and deployment overrides.
func (c *Config) applyEnv(getenv func(string) string) error {
	c.Server.AdminKey = getenv("EVOSIM_ADMIN_KEY")
	c.Server.RelayKey = getenv("EVOSIM_RELAY_KEY")
	c.Advisory.APIKey = getenv("ANTHROPIC_API_KEY")
	c.Storage.RandomOrgAPIKey = getenv("RANDOM_ORG_API_KEY")

	if v := getenv("EVOSIM_DB"); v != "" {
		c.Storage.DBPath = v
	}
	if v := getenv("EVOSIM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &engine.ConfigError{Field: "port", Err: fmt.Errorf("EVOSIM_PORT: %w", err)}
		}
		c.Server.Port = port
	}
	if v := getenv("EVOSIM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Engine converts the settings to an engine configuration and validates it.
func (c Config) Engine() (engine.Config, error) {
	ec := engine.Config{
		Evolution: evolution.Params{
			Capacity:          c.Evolution.Population,
			EliteFraction:     c.Evolution.EliteFraction,
			TournamentSize:    c.Evolution.TournamentSize,
			MutationRate:      c.Evolution.MutationRate,
			MutationMagnitude: c.Evolution.MutationMagnitude,
			Topology:          policy.WithHidden(c.Network.Hidden...),
			Workers:           c.Simulation.Workers,
		},
		Width:  c.Environment.Width,
		Height: c.Environment.Height,
		Speed:  c.Environment.Speed,

		Sensors:    c.Simulation.Sensors,
		NoiseField: engine.DefaultConfig().NoiseField,

		GenerationLength: c.Simulation.GenerationLength,
		TickInterval:     c.Simulation.TickInterval,
		StatsInterval:    c.Simulation.StatsInterval,
		AnalysisInterval: c.Advisory.AnalysisInterval,
		AdvisoryTimeout:  c.Advisory.Timeout,
	}
	ec.NoiseField.Seed = c.Environment.NoiseSeed
	ec.NoiseField.Frequency = c.Environment.NoiseFrequency
	ec.NoiseField.Octaves = c.Environment.NoiseOctaves
	ec.NoiseField.Persistence = c.Environment.NoisePersistence
	ec.NoiseField.Reach = c.Environment.NoiseReach

	if err := ec.Validate(); err != nil {
		return engine.Config{}, err
	}
	return ec, nil
}

// Validate checks every section. Errors are *engine.ConfigError.
func (c Config) Validate() error {
	if _, err := c.Engine(); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &engine.ConfigError{Field: "port", Err: fmt.Errorf("must be in 1..65535, got %d", c.Server.Port)}
	}
	if c.Storage.DBPath == "" {
		return &engine.ConfigError{Field: "db_path", Err: fmt.Errorf("must not be empty")}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return &engine.ConfigError{Field: "log_level", Err: err}
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		return &engine.ConfigError{Field: "log_format", Err: fmt.Errorf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// SlogLevel parses the configured level name.
func (l Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}
