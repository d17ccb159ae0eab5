package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forgerun/forge/pkg/api"
)

// apiClient talks to a running forge daemon's HTTP facade, grounded on
// firestige-Otus/cmd/status.go's daemon-query shape (ping/call, then
// render the decoded result) translated from its UDS transport to this
// runtime's HTTP one.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(port string) *apiClient {
	return &apiClient{
		baseURL: "http://127.0.0.1:" + port,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) submitGoal(ctx context.Context, description string, priority int) (api.CreateGoalResponse, error) {
	var out api.CreateGoalResponse
	body, err := json.Marshal(api.CreateGoalRequest{Description: description, Priority: priority})
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodPost, "/goals", bytes.NewReader(body), &out)
	return out, err
}

func (c *apiClient) getGoal(ctx context.Context, goalID string) (api.GetGoalResponse, error) {
	var out api.GetGoalResponse
	err := c.do(ctx, http.MethodGet, "/goals/"+goalID, nil, &out)
	return out, err
}

func (c *apiClient) cancelGoal(ctx context.Context, goalID string) (api.CancelGoalResponse, error) {
	var out api.CancelGoalResponse
	err := c.do(ctx, http.MethodPost, "/goals/"+goalID+"/cancel", nil, &out)
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling forge daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
