package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from the backend, captured before any
// stream event is produced.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Config carries everything the client needs. There are no globals and no
// implicit environment reads; env handling belongs to the config loader.
type Config struct {
	// BaseURL is the backend origin, e.g. "https://app.example.com".
	BaseURL string
	// APIVersion selects the /api/{version} path segment. Defaults to v1.
	APIVersion string
	// Token is a static bearer token. Empty means unauthenticated.
	Token string
	// TokenProvider, when set, is consulted per request and takes
	// precedence over Token, so refreshed tokens are picked up.
	TokenProvider func() string
	// HTTPClient, when set, is used for every request including streams,
	// so it must not carry a whole-request timeout. When nil, unary calls
	// get a 30s timeout and streams get none.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the assistant endpoints of the finance backend. Every
// operation performs exactly one HTTP request; nothing retries.
type Client struct {
	baseURL      string
	version      string
	token        func() string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = "v1"
	}
	token := cfg.TokenProvider
	if token == nil {
		static := cfg.Token
		token = func() string { return static }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	httpClient := cfg.HTTPClient
	streamClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
		streamClient = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		version:      version,
		token:        token,
		httpClient:   httpClient,
		streamClient: streamClient,
		logger:       logger,
	}
}

// SendMessage posts a chat turn and blocks for the complete reply.
func (c *Client) SendMessage(ctx context.Context, message, sessionID string) (*ChatResponse, error) {
	var out ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "ai/chat", ChatRequest{Message: message, SessionID: sessionID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamMessage posts a chat turn and returns its event stream. Events are
// read lazily from the single underlying connection; cancel ctx to abandon
// the turn mid-stream.
func (c *Client) StreamMessage(ctx context.Context, message, sessionID string) (*Stream, error) {
	return c.openStream(ctx, "ai/chat/stream", ChatRequest{Message: message, SessionID: sessionID})
}

// ConfirmAction reports the user's decision on a pending action and
// returns the follow-up event stream carrying the action_result and any
// post-action narration.
func (c *Client) ConfirmAction(ctx context.Context, actionID string, confirmed bool, sessionID string) (*Stream, error) {
	return c.openStream(ctx, "ai/chat/confirm", ConfirmRequest{ActionID: actionID, Confirmed: confirmed, SessionID: sessionID})
}

// ListSessions fetches the caller's chat sessions.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.doJSON(ctx, http.MethodGet, "ai/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession fetches one session with its persisted message history.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	var out SessionDetail
	if err := c.doJSON(ctx, http.MethodGet, "ai/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSession applies the non-nil fields of update and returns the
// updated session.
func (c *Client) UpdateSession(ctx context.Context, id string, update UpdateSessionRequest) (*Session, error) {
	var out Session
	if err := c.doJSON(ctx, http.MethodPut, "ai/sessions/"+url.PathEscape(id), update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session and its history.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "ai/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/api/" + c.version + "/" + path
}

func (c *Client) setAuth(req *http.Request) {
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func (c *Client) openStream(ctx context.Context, path string, payload any) (*Stream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.setAuth(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
	}
	c.logger.Debug("stream opened", "path", path)
	return newStream(ctx, resp), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	c.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode)
	if resp.StatusCode/100 != 2 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse %s response: %w", path, err)
		}
	}
	return nil
}
