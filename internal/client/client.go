// Package client provides an HTTP client for the tripsync server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/tripsync-go/internal/consistency"
	"github.com/raphaelgruber/tripsync-go/internal/metrics"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// Client talks to the tripsync server REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. An empty baseURL defaults to localhost:8585, a zero timeout to 30s.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8585"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode    int
	Message       string
	ExistingJobID string
}

func (e *APIError) Error() string {
	if e.ExistingJobID != "" {
		return fmt.Sprintf("server error %d: %s (existing job %s)", e.StatusCode, e.Message, e.ExistingJobID)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the model sentinels so callers can use errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case models.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case models.ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Health is the /health response.
type Health struct {
	Status  string   `json:"status"`
	Version string   `json:"version"`
	Kinds   []string `json:"kinds"`
}

// ToggleResult is the response of the child toggle endpoints.
type ToggleResult struct {
	Lodging  *models.Lodging         `json:"lodging,omitempty"`
	Activity *models.Activity        `json:"activity,omitempty"`
	Sync     *consistency.SyncResult `json:"sync,omitempty"`
}

// do sends a JSON request and decodes a JSON response into result when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var payload struct {
		Error         string `json:"error"`
		ExistingJobID string `json:"existing_job_id"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.ExistingJobID = payload.ExistingJobID
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// StartJob starts a job of kind for the trip.
func (c *Client) StartJob(ctx context.Context, tripID, kind string) (*models.Job, error) {
	var job models.Job
	body := map[string]string{"kind": kind}
	if err := c.do(ctx, http.MethodPost, "/v1/trips/"+url.PathEscape(tripID)+"/jobs", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns the trip's jobs, most recent first.
func (c *Client) ListJobs(ctx context.Context, tripID string) ([]models.Job, error) {
	var jobs []models.Job
	if err := c.do(ctx, http.MethodGet, "/v1/trips/"+url.PathEscape(tripID)+"/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob returns a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob requests cancellation of a job.
func (c *Client) CancelJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// SyncStep recomputes a step on the server.
func (c *Client) SyncStep(ctx context.Context, stepID string) (*consistency.SyncResult, error) {
	var res consistency.SyncResult
	if err := c.do(ctx, http.MethodPost, "/v1/steps/"+url.PathEscape(stepID)+"/sync", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetLodgingActive toggles a lodging, re-syncing its step when sync is set.
func (c *Client) SetLodgingActive(ctx context.Context, id string, active, sync bool) (*ToggleResult, error) {
	return c.toggle(ctx, "/v1/lodgings/"+url.PathEscape(id)+"/active", active, sync)
}

// SetActivityActive toggles an activity, re-syncing its step when sync is set.
func (c *Client) SetActivityActive(ctx context.Context, id string, active, sync bool) (*ToggleResult, error) {
	return c.toggle(ctx, "/v1/activities/"+url.PathEscape(id)+"/active", active, sync)
}

func (c *Client) toggle(ctx context.Context, path string, active, sync bool) (*ToggleResult, error) {
	if sync {
		path += "?sync=true"
	}
	var res ToggleResult
	if err := c.do(ctx, http.MethodPatch, path, map[string]bool{"active": active}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health returns the server health document.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Stats returns the server's in-memory timing statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var s metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// WatchJob streams job snapshots over a websocket until the job is terminal.
// onUpdate is called for every snapshot; return an error from it to stop watching.
// The last snapshot received is returned.
func (c *Client) WatchJob(ctx context.Context, id string, onUpdate func(models.Job) error) (*models.Job, error) {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL+"/v1/jobs/"+url.PathEscape(id)+"/ws", nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, decodeError(resp.StatusCode, body)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	var last *models.Job
	for {
		var job models.Job
		if err := conn.ReadJSON(&job); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && last != nil && last.Status.Terminal() {
				return last, nil
			}
			return last, fmt.Errorf("read message: %w", err)
		}
		last = &job
		if err := onUpdate(job); err != nil {
			return last, err
		}
	}
}

// IsConflict reports whether err is a 409 and returns the blocking job id if known.
func IsConflict(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return apiErr.ExistingJobID, true
	}
	return "", false
}
