// Package opencode adapts the OpenCode agent server (`opencode serve`) to
// the agent.Adapter contract. A single shared server process serves every
// OpenCode session; this package only needs the HTTP client side, since
// sharedserver.Manager owns spawning and health-probing the process.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a thin HTTP client over one shared OpenCode server instance.
type Client struct {
	addr string
	hc   *http.Client
}

// NewClient wraps the OpenCode server listening at addr ("host:port").
func NewClient(addr string) *Client {
	return &Client{addr: addr, hc: &http.Client{Timeout: 30 * time.Second}}
}

// HealthCheck implements sharedserver.HealthCheck for an OpenCode server.
func HealthCheck(ctx context.Context, addr string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/global/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK, nil
}

// CreateSession creates a new OpenCode session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/session", nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create session failed: %s", string(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	return result.ID, nil
}

// SendMessageAsync posts a user message to a session via the async prompt
// endpoint; the reply streams back over SSE instead of this call's response.
// model is "providerID/modelID"; variant is the reasoning level ("low",
// "medium", "high", or "" for none).
func (c *Client) SendMessageAsync(ctx context.Context, sessionID, message, model, variant string) error {
	body := map[string]any{
		"parts": []map[string]string{{"type": "text", "text": message}},
	}
	if model != "" {
		if parts := strings.SplitN(model, "/", 2); len(parts) == 2 {
			body["model"] = map[string]string{"providerID": parts[0], "modelID": parts[1]}
		}
	}
	if variant != "" && variant != "off" {
		body["variant"] = variant
	}

	jsonBody, _ := json.Marshal(body)
	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/session/%s/prompt_async", sessionID), bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send message async failed: %s", string(respBody))
	}
	return nil
}

// AbortSession stops the current in-flight turn for a session.
func (c *Client) AbortSession(ctx context.Context, sessionID string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/session/%s/abort", sessionID), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return nil
}

// SubscribeEvents opens the server's SSE event stream.
func (c *Client) SubscribeEvents(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.addr+"/event", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe to events: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("subscribe to events: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.addr+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.hc.Do(req)
}
