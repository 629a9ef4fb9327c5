// Package wpp implements the WPPConnect REST client used for outbound
// delivery and the webhook event types for inbound traffic.
package wpp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DispatchError wraps an outbound delivery failure.
type DispatchError struct {
	Endpoint string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("wpp: %s failed: %v", e.Endpoint, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Client talks to a WPPConnect server session.
type Client struct {
	baseURL    string
	session    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a WPPConnect client for one session.
func NewClient(baseURL, session, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		session:    session,
		token:      token,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger.With("component", "wpp"),
	}
}

// SendMessage delivers a text reply to a phone number or chat ID.
func (c *Client) SendMessage(ctx context.Context, phone, message string) error {
	return c.post(ctx, "send-message", map[string]any{
		"phone":   phone,
		"message": message,
	})
}

// SendVoice delivers audio as a WhatsApp voice note. The audio bytes are
// base64-encoded into the request body.
func (c *Client) SendVoice(ctx context.Context, phone string, audio []byte) error {
	if len(audio) == 0 {
		return &DispatchError{Endpoint: "send-voice-base64", Err: fmt.Errorf("empty audio payload")}
	}
	return c.post(ctx, "send-voice-base64", map[string]any{
		"phone":        phone,
		"base64Ptt":    base64.StdEncoding.EncodeToString(audio),
		"isNewMessage": true,
	})
}

// post sends one authenticated call to a session endpoint. WPPConnect
// reports failures both via status codes and via a status field in an
// otherwise-200 body, so both are checked.
func (c *Client) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &DispatchError{Endpoint: endpoint, Err: fmt.Errorf("marshal request: %w", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/%s/%s", c.baseURL, c.session, endpoint)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{Endpoint: endpoint, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DispatchError{Endpoint: endpoint, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &DispatchError{Endpoint: endpoint, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &DispatchError{Endpoint: endpoint,
			Err: fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))}
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Status != "" && parsed.Status != "success" && parsed.Status != "Success" {
			return &DispatchError{Endpoint: endpoint,
				Err: fmt.Errorf("API reported status %q", parsed.Status)}
		}
	}

	c.logger.Debug("message dispatched",
		"endpoint", endpoint, "latency", time.Since(start))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
