// Command evosim runs the neuroevolution simulation and its HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/talgya/evosim/internal/api"
	"github.com/talgya/evosim/internal/config"
	"github.com/talgya/evosim/internal/engine"
	"github.com/talgya/evosim/internal/entropy"
	"github.com/talgya/evosim/internal/llm"
	"github.com/talgya/evosim/internal/persistence"
)

func main() {
	configPath := flag.String("config", os.Getenv("EVOSIM_CONFIG"), "path to INI config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "evosim:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "evosim:", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	ec, err := cfg.Engine()
	if err != nil {
		slog.Error("invalid engine config", "error", err)
		os.Exit(1)
	}

	slog.Info("evosim starting",
		"topology", ec.Evolution.Topology.String(),
		"population", ec.Evolution.Capacity,
		"generation_length", ec.GenerationLength,
		"tick_interval", ec.TickInterval,
		"sensors", ec.Sensors,
	)

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.Storage.DBPath); dir != "" {
		os.MkdirAll(dir, 0755)
	}
	db, err := persistence.Open(cfg.Storage.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Storage.DBPath)

	// ── Engine ────────────────────────────────────────────────────────
	eng, err := engine.New(ec)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	eng.Recorder = db

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	eng.Metrics = engine.NewMetrics(reg)

	seeds := entropy.NewClient(cfg.Storage.RandomOrgAPIKey)
	if seeds.Enabled() {
		slog.Info("seeding runs from random.org")
	}
	eng.Rand = func() *rand.Rand { return seeds.Rand() }

	// ── LLM Advisor ──────────────────────────────────────────────────
	llmClient := llm.NewClient(llm.Config{
		APIKey:       cfg.Advisory.APIKey,
		Model:        cfg.Advisory.Model,
		URL:          cfg.Advisory.URL,
		MaxPerMinute: cfg.Advisory.MaxPerMinute,
		Timeout:      cfg.Advisory.Timeout,
	})
	if llmClient != nil && ec.AnalysisInterval > 0 {
		eng.Advisor = llm.NewAdvisor(llmClient)
		slog.Info("generation analysis enabled", "every", ec.AnalysisInterval)
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set or analysis disabled, generation analysis off")
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.Server.AdminKey == "" {
		slog.Warn("EVOSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	apiServer := &api.Server{
		Eng:                eng,
		DB:                 db,
		Metrics:            reg,
		Port:               cfg.Server.Port,
		AdminKey:           cfg.Server.AdminKey,
		RelayKey:           cfg.Server.RelayKey,
		MaxStreams:         cfg.Server.MaxSSEConns,
		AdminRatePerMinute: cfg.Server.AdminRatePerMinute,
	}
	apiServer.Start()

	if cfg.Simulation.Autostart {
		if err := eng.Start(); err != nil {
			slog.Error("failed to start simulation", "error", err)
			os.Exit(1)
		}
	}

	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Server.Port)
	if !cfg.Simulation.Autostart {
		fmt.Println("Waiting for POST /api/v1/start ... (Ctrl+C to quit)")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	eng.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	fmt.Println("Simulation stopped.")
}

// setupLogging picks a text handler for terminals and JSON otherwise.
func setupLogging(l config.Log) {
	level, _ := l.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	format := l.Format
	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
