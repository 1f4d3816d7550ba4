package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Actor starts and stops runs via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Start sends POST /api/v1/start.
func (a *Actor) Start(ctx context.Context) (*Status, error) {
	return a.post(ctx, "/api/v1/start")
}

// Stop sends POST /api/v1/stop.
func (a *Actor) Stop(ctx context.Context) (*Status, error) {
	return a.post(ctx, "/api/v1/stop")
}

func (a *Actor) post(ctx context.Context, path string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Path: path, Code: resp.StatusCode, Body: string(respBody)}
	}

	var st Status
	if err := json.Unmarshal(respBody, &st); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &st, nil
}

// RequestError is a non-200 admin response.
type RequestError struct {
	Path string
	Code int
	Body string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("POST %s failed (%d): %s", e.Path, e.Code, e.Body)
}
