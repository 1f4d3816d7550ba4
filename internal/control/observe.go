// Package control is the operator-side client for the evosim HTTP API.
// Observer reads public endpoints; Actor drives the admin endpoints.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/talgya/evosim/internal/persistence"
	"github.com/talgya/evosim/internal/stats"
)

// Status mirrors GET /api/v1/status.
type Status struct {
	State            string    `json:"state"`
	Running          bool      `json:"running"`
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	Generation       int       `json:"generation"`
	Tick             int       `json:"tick"`
	LastError        string    `json:"last_error"`
	Subscribers      int       `json:"subscribers"`
	Topology         string    `json:"topology"`
	Population       int       `json:"population"`
	GenerationLength int       `json:"generation_length"`
	MutationRate     float64   `json:"mutation_rate"`
	EliteFraction    float64   `json:"elite_fraction"`
	TournamentSize   int       `json:"tournament_size"`
	Streams          int       `json:"streams"`
}

// Observer reads simulation state from the public API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Status fetches GET /api/v1/status.
func (o *Observer) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := o.getJSON(ctx, "/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Stats fetches the latest snapshot.
func (o *Observer) Stats(ctx context.Context) (*stats.Snapshot, error) {
	var snap stats.Snapshot
	if err := o.getJSON(ctx, "/api/v1/stats", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// History fetches per-generation summaries for runID ("" = latest run).
func (o *Observer) History(ctx context.Context, runID string, limit int) ([]persistence.GenerationRecord, error) {
	var rows []persistence.GenerationRecord
	if err := o.getJSON(ctx, "/api/v1/stats/history?"+query(runID, limit), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Advisories fetches stored advisory records, newest first.
func (o *Observer) Advisories(ctx context.Context, runID string, limit int) ([]stats.Advisory, error) {
	var advs []stats.Advisory
	if err := o.getJSON(ctx, "/api/v1/advisories?"+query(runID, limit), &advs); err != nil {
		return nil, err
	}
	return advs, nil
}

func query(runID string, limit int) string {
	q := url.Values{}
	if runID != "" {
		q.Set("run", runID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q.Encode()
}

func (o *Observer) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s (%d): %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
