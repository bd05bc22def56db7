// Package qwen implements the upstream collaborator client for the Qwen
// web-chat API: token exchange, session (chat) creation, completion dispatch,
// and remote chat deletion. The client never retries; callers decide whether
// to fail over to another credential.
package qwen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// DefaultBaseURL is the production upstream endpoint.
	DefaultBaseURL = "https://chat.qwen.ai"

	// callTimeout bounds every non-streaming upstream call.
	callTimeout = 30 * time.Second
)

// statusErr carries an upstream HTTP status alongside the response body.
type statusErr struct {
	code int
	msg  string
}

func (e statusErr) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.code, e.msg)
}

func (e statusErr) StatusCode() int { return e.code }

// Client talks to one upstream base URL. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an upstream client. An empty baseURL selects the
// production endpoint.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		// No overall client timeout: dispatch streams for minutes. Individual
		// control-plane calls are bounded per request via context.
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: callTimeout,
			},
		},
	}
}

func (c *Client) applyHeaders(req *http.Request, bearer string, stream bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Source", "web")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		return
	}
	req.Header.Set("Accept", "application/json")
}

// ExchangeToken trades a long-lived secret for a short-lived bearer token.
// The bearer's expiry is embedded in the token itself, see TokenExpiry.
func (c *Client) ExchangeToken(ctx context.Context, secret string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auths/refresh", http.NoBody)
	if err != nil {
		return "", fmt.Errorf("qwen: create token exchange request: %w", err)
	}
	c.applyHeaders(req, secret, false)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("qwen: token exchange failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("qwen: read token exchange response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusErr{code: resp.StatusCode, msg: string(body)}
	}

	token := gjson.GetBytes(body, "token").String()
	if token == "" {
		return "", fmt.Errorf("qwen: token exchange response missing token")
	}
	return token, nil
}

// OpenSession creates a new upstream chat bound to the given bearer token and
// returns its identifier. The chat is only usable with the same token.
func (c *Client) OpenSession(ctx context.Context, bearer, model, chatType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	payload := []byte(`{"title":"New Chat","chat_mode":"normal"}`)
	payload, _ = sjson.SetBytes(payload, "models", []string{model})
	payload, _ = sjson.SetBytes(payload, "chat_type", chatType)
	payload, _ = sjson.SetBytes(payload, "timestamp", time.Now().UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/chats/new", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("qwen: create session request: %w", err)
	}
	c.applyHeaders(req, bearer, false)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("qwen: open session failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("qwen: read session response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusErr{code: resp.StatusCode, msg: string(body)}
	}

	chatID := gjson.GetBytes(body, "data.id").String()
	if chatID == "" {
		chatID = gjson.GetBytes(body, "id").String()
	}
	if chatID == "" {
		return "", fmt.Errorf("qwen: session response missing chat id: %s", body)
	}
	return chatID, nil
}

// Dispatch posts a completion payload to an opened chat and returns the raw
// upstream body stream. The caller owns the returned reader and must close it.
// Non-2xx responses are drained and surfaced as a StatusError.
func (c *Client) Dispatch(ctx context.Context, bearer, chatID string, payload []byte, stream bool) (io.ReadCloser, error) {
	url := c.baseURL + "/api/v2/chat/completions?chat_id=" + chatID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("qwen: create dispatch request: %w", err)
	}
	c.applyHeaders(req, bearer, stream)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwen: dispatch failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, statusErr{code: resp.StatusCode, msg: string(body)}
	}
	return resp.Body, nil
}

// DeleteChat removes a chat record on the upstream. Used by housekeeping only;
// failures are reported but carry no pool accounting weight.
func (c *Client) DeleteChat(ctx context.Context, bearer, chatID string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v2/chats/"+chatID, http.NoBody)
	if err != nil {
		return fmt.Errorf("qwen: create delete request: %w", err)
	}
	c.applyHeaders(req, bearer, false)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qwen: delete chat failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return statusErr{code: resp.StatusCode, msg: string(body)}
	}
	return nil
}
