package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clawinfra/applytrack/internal/actions"
)

// queueStatus mirrors GET /api/status.
type queueStatus struct {
	IsOnline      bool    `json:"isOnline"`
	IsSyncing     bool    `json:"isSyncing"`
	QueueLength   int     `json:"queueLength"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// apiClient talks to the applytrack-syncd control API.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) Status(ctx context.Context) (queueStatus, error) {
	var st queueStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, http.StatusOK, &st)
	return st, err
}

func (c *apiClient) Actions(ctx context.Context) ([]actions.Action, error) {
	var list []actions.Action
	err := c.do(ctx, http.MethodGet, "/api/actions", nil, http.StatusOK, &list)
	return list, err
}

func (c *apiClient) Sync(ctx context.Context) ([]actions.Result, error) {
	var results []actions.Result
	err := c.do(ctx, http.MethodPost, "/api/sync", nil, http.StatusOK, &results)
	return results, err
}

func (c *apiClient) SetOnline(ctx context.Context, online bool) (queueStatus, error) {
	var st queueStatus
	err := c.do(ctx, http.MethodPost, "/api/connectivity", map[string]bool{"online": online}, http.StatusOK, &st)
	return st, err
}

func (c *apiClient) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/actions/"+url.PathEscape(id), nil, http.StatusNoContent, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
