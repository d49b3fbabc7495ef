package casaclient

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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseconnect/casa-cli/pkg/core/pipeline"
)

// TokenProvider supplies bearer tokens for authenticated calls. The session
// store implements it; AccessToken refreshes transparently when the token
// has expired, ForceRefresh is the one retry the client spends after a 401.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) error
}

// Client wraps the backend's REST API. Every response arrives in a
// {success, data, error} envelope.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	logger     *zap.Logger
}

// NewClient creates a backend client. baseURL is the API root, e.g.
// "https://example.org/wp-json/casa/v1".
func NewClient(baseURL string, tokens TokenProvider, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     logger,
	}
}

// envelope is the backend's generic response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// roundTrip performs one HTTP exchange and decodes the envelope. A non-JSON
// body yields an empty envelope; the status code still drives error mapping.
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any, token, requestID string) (int, envelope, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, envelope{}, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, envelope{}, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}
	req.Header.Set("X-Request-Id", requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("Backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, envelope{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		env = envelope{}
	}

	c.logger.Debug("Backend response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Bool("success", env.Success))

	return resp.StatusCode, env, nil
}

// authed performs an authenticated exchange with the refresh-then-retry-once
// policy: the token provider refreshes an already-expired token before the
// first attempt, and a 401 response buys exactly one forced refresh and one
// retry before the call fails as session-expired.
func (c *Client) authed(ctx context.Context, method, path string, query url.Values, body any, requestID string, out any) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return pipeline.NewSessionExpiredError(err)
	}

	status, env, err := c.roundTrip(ctx, method, path, query, body, token, requestID)
	if err != nil {
		return pipeline.NewBackendError("", err)
	}

	if status == http.StatusUnauthorized {
		if err := c.tokens.ForceRefresh(ctx); err != nil {
			return pipeline.NewSessionExpiredError(err)
		}
		token, err = c.tokens.AccessToken(ctx)
		if err != nil {
			return pipeline.NewSessionExpiredError(err)
		}
		status, env, err = c.roundTrip(ctx, method, path, query, body, token, requestID)
		if err != nil {
			return pipeline.NewBackendError("", err)
		}
		if status == http.StatusUnauthorized {
			return pipeline.NewSessionExpiredError(nil)
		}
	}

	switch {
	case status == http.StatusForbidden:
		return pipeline.NewForbiddenError(env.Error)
	case status < 200 || status >= 300 || !env.Success:
		return pipeline.NewBackendError(env.Error, nil)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return pipeline.NewBackendError("", fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}
