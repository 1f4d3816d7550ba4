// Package engine drives the generational simulation: a timer-driven tick loop
// that advances the population, publishes stats snapshots, and hands control
// to the evolve step at the end of each generation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/evosim/internal/agents"
	"github.com/talgya/evosim/internal/entropy"
	"github.com/talgya/evosim/internal/evolution"
	"github.com/talgya/evosim/internal/stats"
)

// ErrAlreadyRunning is returned by Start while a run is active.
var ErrAlreadyRunning = errors.New("engine already running")

// State is the scheduler state.
type State int

const (
	StateIdle       State = iota // not started, or stopped
	StateRunning                 // ticking within a generation
	StateEvaluating              // generation length reached, evolve pending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateEvaluating:
		return "evaluating"
	default:
		return "unknown"
	}
}

// Advisor scores a finished generation. A nil record with a nil error means
// no advice. Any error is treated as stats.ErrAdvisoryUnavailable.
type Advisor interface {
	ScoreGeneration(ctx context.Context, snap stats.Snapshot, generation int) (*stats.Advisory, error)
}

// Recorder stores run history. Failures are logged and otherwise ignored.
type Recorder interface {
	RecordRun(ctx context.Context, runID string, startedAt time.Time, cfg Config) error
	RecordGeneration(ctx context.Context, runID string, snap stats.Snapshot) error
	RecordAdvisory(ctx context.Context, runID string, adv stats.Advisory) error
}

// Engine owns at most one live run. Start and Stop may be called from any
// goroutine; the population itself is only touched by the run's loop.
type Engine struct {
	// Optional collaborators, set before the first Start.
	Advisor  Advisor
	Recorder Recorder
	Metrics  *Metrics
	Rand     func() *rand.Rand // defaults to a crypto-seeded source

	cfg Config

	mu        sync.Mutex
	current   *run
	state     State
	latest    *stats.Snapshot
	latestSeq uint64 // Seq of the event that carried latest
	lastErr   error
	pending   *stats.Advisory // attached to the next published snapshot only
	lastAdv   *stats.Advisory
	seq       uint64
	subs      map[int]chan Event
	nextSub   int
	advising  sync.WaitGroup
}

type run struct {
	id        string
	startedAt time.Time
	pop       *evolution.Population
	env       *agents.Environment

	tick       atomic.Int64
	generation atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and returns an idle engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:  cfg,
		subs: make(map[int]chan Event),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) newRand() *rand.Rand {
	if e.Rand != nil {
		return e.Rand()
	}
	return entropy.NewRand()
}

// Start builds a fresh population and begins ticking. It fails with
// ErrAlreadyRunning if a run is active.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		return ErrAlreadyRunning
	}
	r, err := e.newRun()
	if err != nil {
		return err
	}

	e.current = r
	e.state = StateRunning
	e.lastErr = nil
	e.pending = nil
	e.lastAdv = nil

	slog.Info("simulation started",
		"run_id", r.id,
		"agents", r.pop.Len(),
		"topology", e.cfg.Evolution.Topology.String(),
		"generation_length", e.cfg.GenerationLength,
	)
	e.broadcastLocked(Event{Kind: EventGenerationStarted, RunID: r.id})
	e.publishLocked(r)

	if e.Recorder != nil {
		ctx, cancel := context.WithTimeout(r.ctx, recordTimeout)
		if err := e.Recorder.RecordRun(ctx, r.id, r.startedAt, e.cfg); err != nil {
			slog.Error("record run failed", "run_id", r.id, "error", err)
		}
		cancel()
	}

	go e.loop(r)
	return nil
}

const recordTimeout = 5 * time.Second

func (e *Engine) newRun() (*run, error) {
	rng := e.newRand()
	env, err := e.cfg.environment(rng)
	if err != nil {
		return nil, &ConfigError{Field: "sensors", Err: err}
	}
	pop, err := evolution.NewPopulation(e.cfg.Evolution, env, rng)
	if err != nil {
		return nil, &ConfigError{Field: "evolution", Err: err}
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		pop:       pop,
		env:       env,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.generation.Store(int64(pop.Generation()))
	return r, nil
}

// Stop abandons the active run. Pending work is not drained: the loop exits
// before its next tick and late advisory results are dropped.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.current
	if r == nil {
		return
	}
	r.cancel()
	e.current = nil
	e.state = StateIdle
	e.pending = nil

	slog.Info("simulation stopped",
		"run_id", r.id,
		"generation", r.generation.Load(),
		"tick", r.tick.Load(),
	)
	e.broadcastLocked(Event{Kind: EventGenerationStopped, RunID: r.id})
}

// Done returns a channel closed when the active run's loop exits, or nil
// when idle.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	return e.current.done
}

// loop yields between ticks on a fixed interval so Stop and the publish path
// stay responsive.
func (e *Engine) loop(r *run) {
	defer close(r.done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
		if r.ctx.Err() != nil {
			return
		}
		e.turn(r)
	}
}

// turn performs one scheduling step: a tick, or the evolve transition once
// the generation is complete.
func (e *Engine) turn(r *run) {
	if int(r.tick.Load()) >= e.cfg.GenerationLength {
		e.evaluate(r)
		return
	}

	if err := r.pop.Tick(); err != nil {
		failed := countJoined(err)
		e.Metrics.agentFailures(failed)
		slog.Warn("agent tick failures", "run_id", r.id, "failed", failed, "error", err)
	}
	tick := r.tick.Add(1)
	e.Metrics.tick()

	if int(tick)%e.cfg.StatsInterval == 0 {
		e.publish(r)
	}
}

// evaluate runs selection and mutation. On failure the old population stays
// in place and the transition is retried on the next turn.
func (e *Engine) evaluate(r *run) {
	e.setState(r, StateEvaluating)

	final := stats.Aggregate(r.pop, int(r.tick.Load()), e.cfg.GenerationLength)
	final.RunID = r.id

	if err := r.pop.Evolve(); err != nil {
		e.Metrics.evolveFailure()
		slog.Error("generation transition failed",
			"run_id", r.id,
			"generation", final.Generation,
			"error", err,
		)
		e.mu.Lock()
		if e.current == r {
			e.lastErr = err
		}
		e.mu.Unlock()
		return
	}

	r.tick.Store(0)
	r.generation.Store(int64(r.pop.Generation()))
	e.Metrics.generation(final)

	e.mu.Lock()
	if e.current == r {
		e.lastErr = nil
		e.state = StateRunning
	}
	e.mu.Unlock()

	totalTicks := uint64(final.Generation) * uint64(e.cfg.GenerationLength)
	slog.Info("generation complete",
		"run_id", r.id,
		"generation", final.Generation,
		"max_fitness", fmt.Sprintf("%.1f", final.Population.MaxFitness),
		"avg_fitness", fmt.Sprintf("%.1f", final.Population.AvgFitness),
		"elite_fitness", fmt.Sprintf("%.1f", final.Population.EliteFitness),
		"ticks_total", humanize.Comma(int64(totalTicks)),
	)

	e.publish(r)

	if e.Recorder != nil {
		ctx, cancel := context.WithTimeout(r.ctx, recordTimeout)
		if err := e.Recorder.RecordGeneration(ctx, r.id, final); err != nil {
			slog.Error("record generation failed", "run_id", r.id, "generation", final.Generation, "error", err)
		}
		cancel()
	}

	if e.Advisor != nil && e.cfg.AnalysisInterval > 0 && final.Generation%e.cfg.AnalysisInterval == 0 {
		e.advise(r, final)
	}
}

// advise asks the advisor about a finished generation without blocking the
// loop. The result is kept only if the same run is still active.
func (e *Engine) advise(r *run, snap stats.Snapshot) {
	e.advising.Add(1)
	go func() {
		defer e.advising.Done()

		// Stop does not abort the call; its result is dropped below.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), e.cfg.AdvisoryTimeout)
		defer cancel()

		adv, err := e.Advisor.ScoreGeneration(ctx, snap, snap.Generation)
		if err != nil {
			if r.ctx.Err() != nil {
				slog.Debug("analysis for stopped run failed", "run_id", r.id, "generation", snap.Generation, "error", err)
				return
			}
			e.Metrics.advisoryFailure()
			slog.Warn("generation analysis skipped",
				"run_id", r.id,
				"generation", snap.Generation,
				"error", fmt.Errorf("%w: %w", stats.ErrAdvisoryUnavailable, err),
			)
			return
		}
		if adv == nil {
			return
		}
		adv = adv.Clone()
		adv.Generation = snap.Generation

		e.mu.Lock()
		if e.current != r {
			e.mu.Unlock()
			slog.Debug("discarding analysis for stopped run", "run_id", r.id, "generation", snap.Generation)
			return
		}
		e.pending = adv
		e.lastAdv = adv
		e.mu.Unlock()

		e.Metrics.advisoryScore(adv.PerformanceScore)
		slog.Info("generation analysis",
			"run_id", r.id,
			"generation", adv.Generation,
			"score", adv.PerformanceScore,
			"summary", adv.Summary,
		)

		if e.Recorder != nil {
			rctx, rcancel := context.WithTimeout(context.Background(), recordTimeout)
			defer rcancel()
			if err := e.Recorder.RecordAdvisory(rctx, r.id, *adv); err != nil {
				slog.Error("record advisory failed", "run_id", r.id, "error", err)
			}
		}
	}()
}

func (e *Engine) setState(r *run, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == r {
		e.state = s
	}
}

func (e *Engine) publish(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishLocked(r)
}

// publishLocked aggregates and broadcasts a snapshot. Snapshots from a run
// that is no longer current are dropped. Caller holds e.mu.
func (e *Engine) publishLocked(r *run) {
	if e.current != r {
		return
	}
	snap := stats.Aggregate(r.pop, int(r.tick.Load()), e.cfg.GenerationLength)
	snap.RunID = r.id
	if e.pending != nil {
		snap.Advisory = e.pending
		e.pending = nil
	}
	if e.lastAdv != nil {
		snap.Performance.LastAnalysis = e.lastAdv.Summary
	}
	snap.PublishedAt = time.Now()

	e.latest = &snap
	e.Metrics.snapshot(snap)
	e.broadcastLocked(Event{Kind: EventStats, RunID: r.id, Stats: &snap})
	e.latestSeq = e.seq
}

// Latest returns a copy of the most recently published snapshot.
func (e *Engine) Latest() (stats.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return stats.Snapshot{}, false
	}
	return e.latest.Clone(), true
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State       string    `json:"state"`
	Running     bool      `json:"running"`
	RunID       string    `json:"run_id,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	Generation  int       `json:"generation"`
	Tick        int       `json:"tick"`
	LastError   string    `json:"last_error,omitempty"`
	Subscribers int       `json:"subscribers"`
}

// Status reports the current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:       e.state.String(),
		Running:     e.current != nil,
		Subscribers: len(e.subs),
	}
	if r := e.current; r != nil {
		st.RunID = r.id
		st.StartedAt = r.startedAt
		st.Generation = int(r.generation.Load())
		st.Tick = int(r.tick.Load())
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

func countJoined(err error) int {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return len(j.Unwrap())
	}
	return 1
}
