package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/feltops/blindclock/internal/clock"
)

// Tournament status values as reported by the tournament API. Comparisons
// against Status are case-insensitive; these are the canonical spellings
// used when writing back.
const (
	StatusRunning  = "running"
	StatusPaused   = "paused"
	StatusFinished = "finished"
)

// ErrNotFound is returned when the tournament API has no record for an id.
var ErrNotFound = errors.New("backend: tournament not found")

// Tournament is the durable record owned by the tournament API. The clock
// engine never persists any of this; it is fetched on demand.
type Tournament struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	CurrentLevel int           `json:"currentLevel"`
	StartTime    time.Time     `json:"startTime"`
	Levels       []clock.Level `json:"levels"`
}

// Patch is a partial update of a durable tournament record. Nil fields are
// left untouched by the API.
type Patch struct {
	Status       *string `json:"status,omitempty"`
	CurrentLevel *int    `json:"currentLevel,omitempty"`
}

// Client talks to the authoritative tournament API over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a tournament API client. A zero timeout defaults to 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchTournament retrieves the durable record for a tournament.
func (c *Client) FetchTournament(ctx context.Context, id string) (*Tournament, error) {
	body, err := c.makeRequest(ctx, http.MethodGet, "/tournaments/"+id, nil)
	if err != nil {
		return nil, err
	}
	var t Tournament
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode tournament %s: %w", id, err)
	}
	return &t, nil
}

// PatchTournament issues a partial update. Callers in the tick path treat
// this as best-effort and never let a failure stop the clock.
func (c *Client) PatchTournament(ctx context.Context, id string, patch Patch) error {
	payload, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch for tournament %s: %w", id, err)
	}
	_, err = c.makeRequest(ctx, http.MethodPatch, "/tournaments/"+id, bytes.NewReader(payload))
	return err
}

// StartTournament asks the API to transition the tournament to running and
// returns the updated record, including the fresh start time assigned
// atomically with the transition.
func (c *Client) StartTournament(ctx context.Context, id string) (*Tournament, error) {
	body, err := c.makeRequest(ctx, http.MethodPost, "/tournaments/"+id+"/start", nil)
	if err != nil {
		return nil, err
	}
	var t Tournament
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode started tournament %s: %w", id, err)
	}
	return &t, nil
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return responseBody, nil
}
