// Package ragflow is a client for the RAGFlow REST API. It covers the
// operations the admin console proxies: listings, deletions, parsing control
// and the system health probe.
package ragflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	ragadmin "github.com/tedhappy/ragflow-admin"
)

const (
	apiPrefix = "/api/v1"

	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	baseRetryDelay = time.Second
)

// Client talks to one RAGFlow deployment. A Client built without a base URL
// or API key is valid but every call fails with ErrRemoteNotConfigured.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	counts  *CountCache

	maxRetries int
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

// WithCountCache shares a total-count cache.
func WithCountCache(cache *CountCache) Option {
	return func(c *Client) { c.counts = cache }
}

// WithRetry overrides the retry budget and the base backoff delay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = attempts
		c.retryDelay = delay
	}
}

// New creates a client for cfg.
func New(cfg ragadmin.RAGFlowConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: baseRetryDelay,
	}
	if cfg.Configured() {
		c.baseURL = cfg.NormalizedBaseURL()
		c.apiKey = cfg.APIKey
	}
	for _, o := range opts {
		o(c)
	}
	if c.counts == nil {
		c.counts = NewCountCache(DefaultCountTTL)
	}
	return c
}

// Configured reports whether the client has a base URL and API key.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// InvalidateCounts drops the cached total for resource, or every total when
// resource is empty. Callers that delete rows behind the API's back use it.
func (c *Client) InvalidateCounts(resource string) {
	c.counts.Invalidate(resource)
}

// envelope is the response wrapper every API endpoint uses.
type envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Total   *int            `json:"total,omitempty"`
}

// retryableStatusCode returns true for HTTP status codes that warrant a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// do sends one API request, retrying transient failures with exponential
// backoff, and unwraps the envelope. A non-zero envelope code is returned as
// a remote error carrying that code.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	if !c.Configured() {
		return nil, ragadmin.ConfigurationError(ragadmin.ErrRemoteNotConfigured)
	}

	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	target := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("ragflow: retrying request",
				"method", method,
				"path", path,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader
		if data != nil {
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request to %s failed: %w", path, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}
		slog.Debug("ragflow: request completed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"duration", time.Since(start),
		)

		if resp.StatusCode == http.StatusOK {
			var env envelope
			if err := json.Unmarshal(respBody, &env); err != nil {
				return nil, fmt.Errorf("decoding %s response: %w", path, err)
			}
			if env.Code != 0 {
				msg := env.Message
				if msg == "" {
					msg = fmt.Sprintf("%s %s failed", method, path)
				}
				return nil, ragadmin.RemoteError(env.Code, msg)
			}
			return &env, nil
		}

		lastErr = ragadmin.RemoteError(resp.StatusCode, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(respBody)))
		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			// Rate limits back off twice as long as other transient failures.
			wait := 2 * c.retryDelay * time.Duration(1<<attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
					if d := time.Duration(seconds) * time.Second; d > wait {
						wait = d
					}
				}
			}
			slog.Warn("ragflow: rate limited, waiting before retry",
				"path", path,
				"attempt", attempt+1,
				"delay", wait,
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
