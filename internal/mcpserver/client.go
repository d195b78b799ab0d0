package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Config holds the configuration for connecting to the ExitGuard API.
type Config struct {
	APIURL            string // Base URL, e.g. "http://localhost:8080"
	APIKey            string // Tracking API key for session endpoints
	DashboardUser     string // Dashboard credentials for analytics endpoints
	DashboardPassword string
}

// ExitGuardClient is a pure HTTP client for the ExitGuard API.
type ExitGuardClient struct {
	cfg        Config
	httpClient *http.Client

	mu             sync.Mutex
	dashboardToken string
}

// NewExitGuardClient creates a new client for the ExitGuard API.
func NewExitGuardClient(cfg Config) *ExitGuardClient {
	return &ExitGuardClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request and returns the response body.
// auth is the value for the Authorization header, or "" for none.
func (c *ExitGuardClient) doRequest(ctx context.Context, method, path, auth string, body any) (json.RawMessage, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, resp.StatusCode, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, resp.StatusCode, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), resp.StatusCode, nil
}

// dashboardAuth returns a cached dashboard token, logging in on first use
// or after the cached token is rejected.
func (c *ExitGuardClient) dashboardAuth(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.dashboardToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	raw, _, err := c.doRequest(ctx, http.MethodPost, "/api/login", "", map[string]string{
		"username": c.cfg.DashboardUser,
		"password": c.cfg.DashboardPassword,
	})
	if err != nil {
		return "", fmt.Errorf("dashboard login: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Token == "" {
		return "", fmt.Errorf("dashboard login: malformed response")
	}

	c.mu.Lock()
	c.dashboardToken = resp.Token
	c.mu.Unlock()
	return resp.Token, nil
}

// doDashboard makes a dashboard-authenticated request, retrying once with a
// fresh login if the cached token has expired.
func (c *ExitGuardClient) doDashboard(ctx context.Context, method, path string) (json.RawMessage, error) {
	token, err := c.dashboardAuth(ctx)
	if err != nil {
		return nil, err
	}

	raw, status, err := c.doRequest(ctx, method, path, token, nil)
	if status == http.StatusUnauthorized {
		c.mu.Lock()
		c.dashboardToken = ""
		c.mu.Unlock()

		token, err = c.dashboardAuth(ctx)
		if err != nil {
			return nil, err
		}
		raw, _, err = c.doRequest(ctx, method, path, token, nil)
	}
	return raw, err
}

// GetSession returns the full stored record for one session.
func (c *ExitGuardClient) GetSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	raw, _, err := c.doRequest(ctx, http.MethodGet, "/api/session/"+sessionID, c.cfg.APIKey, nil)
	return raw, err
}

// ListActiveSessions returns the live-session dashboard view.
func (c *ExitGuardClient) ListActiveSessions(ctx context.Context) (json.RawMessage, error) {
	return c.doDashboard(ctx, http.MethodGet, "/api/sessions")
}

// GetSalvageStats returns the fleet-wide salvage report.
func (c *ExitGuardClient) GetSalvageStats(ctx context.Context) (json.RawMessage, error) {
	return c.doDashboard(ctx, http.MethodGet, "/api/salvage-stats")
}

// MarkIntervention records that an intervention fired for a session.
func (c *ExitGuardClient) MarkIntervention(ctx context.Context, sessionID, interventionType string) (json.RawMessage, error) {
	body := map[string]any{
		"session_id": sessionID,
		"timestamp":  time.Now().UnixMilli(),
	}
	if interventionType != "" {
		body["intervention_type"] = interventionType
	}
	raw, _, err := c.doRequest(ctx, http.MethodPost, "/api/intervention", c.cfg.APIKey, body)
	return raw, err
}
