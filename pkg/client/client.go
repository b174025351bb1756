// Package client talks to a slackrpc relay server.
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
	"time"

	"slackrpc/pkg/activity"
)

var (
	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnauthorized means the relay token is unknown; pair again.
	ErrUnauthorized = errors.New("relay token rejected")

	// ErrPairingTimeout means the pairing was not completed in time.
	ErrPairingTimeout = errors.New("timed out waiting for authentication")
)

// APIError is a non-2xx response from the relay.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// PollResponse is the relay's answer to a poll.
type PollResponse struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
}

// Client is a relay API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the relay token for activity calls.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the relay at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StartPairing registers code for hostname and returns the URL the user must
// open to authorize Slack.
func (c *Client) StartPairing(ctx context.Context, code, hostname string) (string, error) {
	q := url.Values{"code": {code}, "hostname": {hostname}}
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/oauth/start?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", errors.New("server returned no authorization URL")
	}
	return resp.URL, nil
}

// Poll asks once whether the pairing for code has completed.
func (c *Client) Poll(ctx context.Context, code string) (*PollResponse, error) {
	var resp PollResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/poll?"+url.Values{"code": {code}}.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForToken polls every interval, at most attempts times, until the relay
// hands out the token for code. Rate-limited polls count as waiting.
func (c *Client) WaitForToken(ctx context.Context, code string, interval time.Duration, attempts int) (string, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		resp, err := c.Poll(ctx, code)
		switch {
		case errors.Is(err, ErrRateLimited):
		case err != nil:
			return "", err
		case resp.Status == "complete" && resp.Token != "":
			return resp.Token, nil
		}

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
	return "", ErrPairingTimeout
}

// SetActivity shows a as the user's Slack status.
func (c *Client) SetActivity(ctx context.Context, a activity.Activity) error {
	body := struct {
		Activity activity.Activity `json:"activity"`
	}{a}
	return c.do(ctx, http.MethodPost, "/api/activity", body, nil)
}

// ClearActivity clears the user's Slack status.
func (c *Client) ClearActivity(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/activity", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&detail) == nil {
			apiErr.Detail = detail.Detail
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse server response: %w", err)
	}
	return nil
}
