// Package api provides the HTTP API for observing and controlling the
// simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"github.com/talgya/evosim/internal/engine"
	"github.com/talgya/evosim/internal/persistence"
)

const (
	defaultMaxStreams = 50
	heartbeatInterval = 15 * time.Second
	streamBuffer      = 64
)

// Server serves simulation state over HTTP.
type Server struct {
	Eng      *engine.Engine
	DB       *persistence.DB      // optional; history endpoints return 503 without it
	Metrics  prometheus.Gatherer  // optional; /metrics is not mounted without it
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	RelayKey string // Bearer token for SSE stream endpoint. Empty = SSE disabled.

	MaxStreams         int // concurrent SSE plus websocket clients
	AdminRatePerMinute int

	streams atomic.Int32
	limiter *RateLimiter
	srv     *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	if s.MaxStreams <= 0 {
		s.MaxStreams = defaultMaxStreams
	}
	if s.limiter == nil {
		rate := s.AdminRatePerMinute
		if rate <= 0 {
			rate = 10
		}
		s.limiter = NewRateLimiter(rate, time.Minute)
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("/api/v1/advisories", s.handleAdvisories)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.Handle("/api/v1/ws", websocket.Handler(s.handleWS))

	// SSE streaming endpoint (GET, requires relay token).
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/start", RateLimitMiddleware(s.limiter, s.adminOnly(s.handleStart)))
	mux.HandleFunc("/api/v1/stop", RateLimitMiddleware(s.limiter, s.adminOnly(s.handleStop)))

	if s.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.Metrics, promhttp.HandlerOpts{}))
	}

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the listener and the rate limiter sweeper.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed viewer origins.
// Set CORS_ORIGINS to a comma-separated list of extra origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no EVOSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !bearerMatches(r, s.AdminKey) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func bearerMatches(r *http.Request, key string) bool {
	auth := r.Header.Get("Authorization")
	return key != "" && strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key
}

type statusResponse struct {
	engine.Status
	Topology         string  `json:"topology"`
	Population       int     `json:"population"`
	GenerationLength int     `json:"generation_length"`
	MutationRate     float64 `json:"mutation_rate"`
	EliteFraction    float64 `json:"elite_fraction"`
	TournamentSize   int     `json:"tournament_size"`
	Streams          int     `json:"streams"`
}

func (s *Server) status() statusResponse {
	cfg := s.Eng.Config()
	return statusResponse{
		Status:           s.Eng.Status(),
		Topology:         cfg.Evolution.Topology.String(),
		Population:       cfg.Evolution.Capacity,
		GenerationLength: cfg.GenerationLength,
		MutationRate:     cfg.Evolution.MutationRate,
		EliteFraction:    cfg.Evolution.EliteFraction,
		TournamentSize:   cfg.Evolution.TournamentSize,
		Streams:          int(s.streams.Load()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.Eng.Latest()
	if !ok {
		http.Error(w, "no stats published yet", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func queryLimit(r *http.Request, def, max int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= max {
			return v
		}
	}
	return def
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	rows, err := s.DB.LoadStatsHistory(r.Context(), r.URL.Query().Get("run"), queryLimit(r, 100, 1000))
	if err != nil {
		slog.Error("stats history query failed", "error", err)
		writeJSON(w, []persistence.GenerationRecord{})
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleAdvisories(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	advs, err := s.DB.LoadAdvisories(r.Context(), r.URL.Query().Get("run"), queryLimit(r, 20, 200))
	if err != nil {
		slog.Error("advisory query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, advs)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.Runs(r.Context(), queryLimit(r, 20, 200))
	if err != nil {
		slog.Error("runs query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.Eng.Start(); err != nil {
		code := http.StatusInternalServerError
		var ce *engine.ConfigError
		switch {
		case errors.Is(err, engine.ErrAlreadyRunning):
			code = http.StatusConflict
		case errors.As(err, &ce):
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	slog.Info("simulation started via API", "remote", r.RemoteAddr)
	writeJSON(w, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.Eng.Stop()
	slog.Info("simulation stopped via API", "remote", r.RemoteAddr)
	writeJSON(w, s.status())
}

// acquireStream enforces MaxStreams across SSE and websocket clients.
func (s *Server) acquireStream() bool {
	if s.streams.Add(1) > int32(s.MaxStreams) {
		s.streams.Add(-1)
		return false
	}
	return true
}

func (s *Server) releaseStream() { s.streams.Add(-1) }

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// Auth check uses the relay key, not the admin key.
	if s.RelayKey == "" {
		http.Error(w, "streaming disabled (no relay key)", http.StatusForbidden)
		return
	}
	if !bearerMatches(r, s.RelayKey) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !s.acquireStream() {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseStream()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, ch, catchUp := s.Eng.SubscribeWithCatchUp(streamBuffer)
	defer s.Eng.Unsubscribe(subID)

	if catchUp != nil {
		writeSSEEvent(w, *catchUp)
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, e engine.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
