// Package persistence stores run history in SQLite: one row per run, one per
// completed generation, and one per advisory record. Populations themselves
// are never saved.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/evosim/internal/engine"
	"github.com/talgya/evosim/internal/stats"
)

// DB wraps a SQLite connection for run history.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		topology TEXT NOT NULL,
		capacity INTEGER NOT NULL,
		config_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS generations (
		run_id TEXT NOT NULL,
		generation INTEGER NOT NULL,
		ticks INTEGER NOT NULL,
		size INTEGER NOT NULL,
		avg_fitness REAL NOT NULL,
		max_fitness REAL NOT NULL,
		avg_distance REAL NOT NULL,
		max_distance REAL NOT NULL,
		elite_fitness REAL NOT NULL,
		layers_json TEXT NOT NULL,
		recorded_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, generation)
	);

	CREATE TABLE IF NOT EXISTS advisories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		generation INTEGER NOT NULL,
		score REAL NOT NULL,
		summary TEXT NOT NULL,
		insights_json TEXT NOT NULL,
		recommendations_json TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_advisories_run ON advisories(run_id, generation);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// RecordRun inserts a run and marks it as the latest.
func (db *DB) RecordRun(ctx context.Context, runID string, startedAt time.Time, cfg engine.Config) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, started_at, topology, capacity, config_json) VALUES (?, ?, ?, ?, ?)",
		runID, startedAt.Unix(), cfg.Evolution.Topology.String(), cfg.Evolution.Capacity, string(cfgJSON),
	); err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", metaLastRun, runID,
	); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return tx.Commit()
}

// RecordGeneration stores the final snapshot of a completed generation. A
// repeated generation number for the same run replaces the earlier row.
func (db *DB) RecordGeneration(ctx context.Context, runID string, snap stats.Snapshot) error {
	layersJSON, err := json.Marshal(snap.Layers)
	if err != nil {
		return fmt.Errorf("marshal layers: %w", err)
	}
	p := snap.Population
	_, err = db.conn.ExecContext(ctx, `INSERT OR REPLACE INTO generations
		(run_id, generation, ticks, size, avg_fitness, max_fitness,
		 avg_distance, max_distance, elite_fitness, layers_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, snap.Generation, snap.Tick, p.Size, p.AvgFitness, p.MaxFitness,
		p.AvgDistance, p.MaxDistance, p.EliteFitness, string(layersJSON), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert generation %d: %w", snap.Generation, err)
	}
	return nil
}

// RecordAdvisory appends an advisory record.
func (db *DB) RecordAdvisory(ctx context.Context, runID string, adv stats.Advisory) error {
	insights, _ := json.Marshal(nonNil(adv.Insights))
	recs, _ := json.Marshal(nonNil(adv.Recommendations))
	_, err := db.conn.ExecContext(ctx, `INSERT INTO advisories
		(run_id, generation, score, summary, insights_json, recommendations_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, adv.Generation, adv.PerformanceScore, adv.Summary,
		string(insights), string(recs), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert advisory for generation %d: %w", adv.Generation, err)
	}
	slog.Debug("advisory stored", "run_id", runID, "generation", adv.Generation)
	return nil
}

const metaLastRun = "last_run_id"

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

// Run is one row of the runs table.
type Run struct {
	ID        string `db:"id" json:"id"`
	StartedAt int64  `db:"started_at" json:"started_at"`
	Topology  string `db:"topology" json:"topology"`
	Capacity  int    `db:"capacity" json:"capacity"`
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	runs := []Run{}
	err := db.conn.SelectContext(ctx, &runs,
		"SELECT id, started_at, topology, capacity FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	return runs, err
}

// GenerationRecord is a stored generation summary.
type GenerationRecord struct {
	RunID      string             `db:"run_id" json:"run_id"`
	Generation int                `db:"generation" json:"generation"`
	Ticks      int                `db:"ticks" json:"ticks"`
	Size       int                `db:"size" json:"size"`
	AvgFitness float64            `db:"avg_fitness" json:"avg_fitness"`
	MaxFitness float64            `db:"max_fitness" json:"max_fitness"`
	AvgDist    float64            `db:"avg_distance" json:"avg_distance"`
	MaxDist    float64            `db:"max_distance" json:"max_distance"`
	Elite      float64            `db:"elite_fitness" json:"elite_fitness"`
	LayersJSON string             `db:"layers_json" json:"-"`
	Layers     []stats.LayerStats `db:"-" json:"layers"`
	RecordedAt int64              `db:"recorded_at" json:"recorded_at"`
}

// LoadStatsHistory returns up to limit of the latest generation summaries for
// runID in ascending generation order. An empty runID means the latest run.
func (db *DB) LoadStatsHistory(ctx context.Context, runID string, limit int) ([]GenerationRecord, error) {
	runID, err := db.resolveRun(runID)
	if err != nil || runID == "" {
		return []GenerationRecord{}, err
	}

	rows := []GenerationRecord{}
	err = db.conn.SelectContext(ctx, &rows, `SELECT * FROM (
		SELECT run_id, generation, ticks, size, avg_fitness, max_fitness,
		       avg_distance, max_distance, elite_fitness, layers_json, recorded_at
		FROM generations WHERE run_id = ? ORDER BY generation DESC LIMIT ?
	) ORDER BY generation ASC`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("load stats history: %w", err)
	}
	for i := range rows {
		if err := json.Unmarshal([]byte(rows[i].LayersJSON), &rows[i].Layers); err != nil {
			return nil, fmt.Errorf("generation %d layers: %w", rows[i].Generation, err)
		}
	}
	return rows, nil
}

type advisoryRow struct {
	Generation      int     `db:"generation"`
	Score           float64 `db:"score"`
	Summary         string  `db:"summary"`
	Insights        string  `db:"insights_json"`
	Recommendations string  `db:"recommendations_json"`
}

// LoadAdvisories returns up to limit of the newest advisory records for runID,
// newest first. An empty runID means the latest run.
func (db *DB) LoadAdvisories(ctx context.Context, runID string, limit int) ([]stats.Advisory, error) {
	runID, err := db.resolveRun(runID)
	if err != nil || runID == "" {
		return []stats.Advisory{}, err
	}

	var rows []advisoryRow
	err = db.conn.SelectContext(ctx, &rows, `SELECT generation, score, summary, insights_json, recommendations_json
		FROM advisories WHERE run_id = ? ORDER BY id DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("load advisories: %w", err)
	}

	out := make([]stats.Advisory, 0, len(rows))
	for _, r := range rows {
		adv := stats.Advisory{
			Generation:       r.Generation,
			PerformanceScore: r.Score,
			Summary:          r.Summary,
		}
		if err := json.Unmarshal([]byte(r.Insights), &adv.Insights); err != nil {
			return nil, fmt.Errorf("advisory %d insights: %w", r.Generation, err)
		}
		if err := json.Unmarshal([]byte(r.Recommendations), &adv.Recommendations); err != nil {
			return nil, fmt.Errorf("advisory %d recommendations: %w", r.Generation, err)
		}
		out = append(out, adv)
	}
	return out, nil
}

// resolveRun maps "" to the latest recorded run. It returns "" with no error
// when nothing has been recorded yet.
func (db *DB) resolveRun(runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	id, err := db.GetMeta(metaLastRun)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
