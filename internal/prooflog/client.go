package prooflog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Client is the consumer side of the proof log service. Policy and user
// data fetches degrade to defaults on any failure; only LogInference
// surfaces errors, and callers treat those as non-fatal for their primary
// operation.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger

	mu        sync.Mutex
	available *bool
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// IsAvailable probes the service's health endpoint. The result is cached
// after the first check to avoid repeated probes.
func (c *Client) IsAvailable(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.available != nil {
		return *c.available
	}

	ok := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err == nil {
		resp, err := c.http.Do(req)
		if err == nil {
			ok = resp.StatusCode == http.StatusOK
			resp.Body.Close()
		}
	}
	c.available = &ok
	return ok
}

// FetchPolicy returns the user's policy, falling back to the default policy
// on any failure.
func (c *Client) FetchPolicy(ctx context.Context, userID string) Policy {
	if userID == "" {
		userID = "default"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/policy/"+userID, nil)
	if err != nil {
		return DefaultPolicy()
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("policy service not reachable, using default policy", "error", err)
		return DefaultPolicy()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("policy fetch returned non-200", "status", resp.StatusCode)
		return DefaultPolicy()
	}

	var out struct {
		Success bool    `json:"success"`
		Policy  *Policy `json:"policy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.Success || out.Policy == nil {
		c.log.Warn("policy fetch returned unusable body", "error", err)
		return DefaultPolicy()
	}
	return *out.Policy
}

// FetchUserData returns the user's metadata, degrading to an empty map on
// any failure.
func (c *Client) FetchUserData(ctx context.Context, userID string) map[string]any {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/userdata/"+userID, nil)
	if err != nil {
		return map[string]any{}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("user data fetch failed", "error", err)
		return map[string]any{}
	}
	defer resp.Body.Close()

	var out struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if resp.StatusCode != http.StatusOK ||
		json.NewDecoder(resp.Body).Decode(&out) != nil || !out.Success || out.Data == nil {
		return map[string]any{}
	}
	return out.Data
}

// LogInference posts a metadata-only entry and returns the service receipt.
// The entry type cannot carry raw prompt or response content.
func (c *Client) LogInference(ctx context.Context, entry Entry) (*Receipt, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("prooflog: marshal entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/log", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("prooflog: create log request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prooflog: post log: %w", ErrServiceDown)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("prooflog: read log response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &eb) == nil && eb.Message != "" {
			return nil, fmt.Errorf("prooflog: %s (%s): %w", eb.Message, eb.Error, ErrLogRejected)
		}
		return nil, fmt.Errorf("prooflog: log returned status %d: %w", resp.StatusCode, ErrLogRejected)
	}

	var out struct {
		Success bool     `json:"success"`
		Receipt *Receipt `json:"receipt"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || !out.Success || out.Receipt == nil {
		return nil, fmt.Errorf("prooflog: unusable log response: %w", ErrLogRejected)
	}
	return out.Receipt, nil
}
