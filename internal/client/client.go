// Package client calls the generation API.
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
	"strconv"
	"strings"
	"time"

	"example.com/analytics-synth/internal/pipeline"
	"example.com/analytics-synth/internal/runs"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// Client captures the HTTP calls issued toward the generation server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New configures a client. Synchronous runs can take minutes, so the
// timeout is generous; callers bound individual calls with ctx.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Minute},
	}
}

// CreateRun launches a run. With async the returned run is still running.
func (c *Client) CreateRun(ctx context.Context, req pipeline.Request, async bool) (runs.Run, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return runs.Run{}, fmt.Errorf("encode request: %w", err)
	}
	endpoint := c.baseURL + "/runs"
	if async {
		endpoint += "?async=true"
	}
	var run runs.Run
	err = c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), &run)
	return run, err
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, id string) (runs.Run, error) {
	var run runs.Run
	err := c.do(ctx, http.MethodGet, c.baseURL+"/runs/"+url.PathEscape(id), nil, &run)
	return run, err
}

// ListRuns fetches a page of runs, newest first.
func (c *Client) ListRuns(ctx context.Context, page, pageSize int) (runs.RunPage, error) {
	query := make(url.Values)
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))
	var out runs.RunPage
	err := c.do(ctx, http.MethodGet, c.baseURL+"/runs?"+query.Encode(), nil, &out)
	return out, err
}

// WaitRun polls until the run finishes or ctx is done.
func (c *Client) WaitRun(ctx context.Context, id string, interval time.Duration) (runs.Run, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return run, err
		}
		if run.Done() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error.Message != "" {
		apiErr.Message = payload.Error.Message
		apiErr.Code = payload.Error.Code
	}
	return apiErr
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
