package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vote-aggregator/internal/api"
)

// Client reads the aggregator's HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   adminToken,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Stats(ctx context.Context) (api.StatsResponse, error) {
	var out api.StatsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/stats", &out)
	return out, err
}

func (c *Client) Pending(ctx context.Context) (api.PendingResponse, error) {
	var out api.PendingResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/subjects/pending", &out)
	return out, err
}

// Trigger runs a manual sweep and returns the number of committed subjects.
func (c *Client) Trigger(ctx context.Context) (int, error) {
	var out struct {
		Committed int `json:"committed"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/aggregation/trigger", &out)
	return out.Committed, err
}

// SetScheduler starts or stops the periodic scheduler.
func (c *Client) SetScheduler(ctx context.Context, run bool) (api.SchedulerView, error) {
	path := "/api/v1/scheduler/stop"
	if run {
		path = "/api/v1/scheduler/start"
	}
	var out api.SchedulerView
	err := c.do(ctx, http.MethodPost, path, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Code != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
