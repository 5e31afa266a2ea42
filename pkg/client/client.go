// Package client provides HTTP access to an upstream vendor API through
// the caching and rate-limiting core. It owns transport concerns: URL
// construction, auth headers, timeouts, and reading response bodies.
// Retry and caching policy live in pkg/manager.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/seolytics/apicache/pkg/config"
	"github.com/seolytics/apicache/pkg/manager"
)

// maxResponseBytes caps how much of an upstream body is read. Vendor
// payloads are a few MB at most; anything larger is a broken response.
const maxResponseBytes = 64 << 20

// Client talks to one upstream API on behalf of one registered client
// name. All requests flow through manager.Fetch, so responses are
// cached and attempts are rate limited.
type Client struct {
	name       string
	cfg        config.ClientConfig
	httpClient *http.Client
	manager    *manager.Manager
	logger     zerolog.Logger
}

// New creates a client for a name registered in settings. The client's
// BaseURL must be configured.
func New(name string, mgr *manager.Manager, settings *config.Settings, logger zerolog.Logger) (*Client, error) {
	if mgr == nil {
		return nil, fmt.Errorf("manager is required")
	}

	cfg := settings.Client(name)
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client %q has no base URL configured", name)
	}

	return &Client{
		name: name,
		cfg:  cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		manager: mgr,
		logger:  logger.With().Str("component", "client").Str("client", name).Logger(),
	}, nil
}

// SetHTTPClient replaces the underlying HTTP client (for testing).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Get performs a GET request with the params encoded as query string.
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]any) (*manager.Response, error) {
	exec := func(ctx context.Context) (*manager.Result, error) {
		fullURL := c.urlFor(endpoint)
		if len(params) > 0 {
			fullURL += "?" + encodeQuery(params)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		return c.do(req, nil)
	}

	return c.manager.Fetch(ctx, c.name, endpoint, params, exec)
}

// Post performs a POST request with the payload as JSON body. The
// payload also feeds the cache key, so identical requests hit the cache.
func (c *Client) Post(ctx context.Context, endpoint string, payload map[string]any) (*manager.Response, error) {
	exec := func(ctx context.Context) (*manager.Result, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.urlFor(endpoint), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		return c.do(req, body)
	}

	return c.manager.Fetch(ctx, c.name, endpoint, payload, exec)
}

// PostJSON performs a Post and decodes a successful response body into
// out. Non-2xx statuses come back as *APIError; the response is still
// cached by the manager either way.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload map[string]any, out any) error {
	resp, err := c.Post(ctx, endpoint, payload)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Client:     c.name,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return nil
}

// do executes one upstream request and packages it for the manager.
func (c *Client) do(req *http.Request, requestBody []byte) (*manager.Result, error) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Basic "+c.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("Executing upstream request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	return &manager.Result{
		StatusCode:     resp.StatusCode,
		Headers:        headerMap(resp.Header),
		Body:           body,
		ResponseTime:   time.Since(start).Seconds(),
		Method:         req.Method,
		FullURL:        req.URL.String(),
		RequestHeaders: headerMap(req.Header),
		RequestBody:    requestBody,
	}, nil
}

// urlFor joins base URL, API version and endpoint.
func (c *Client) urlFor(endpoint string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if c.cfg.Version != "" {
		base += "/" + c.cfg.Version
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}

// headerMap flattens headers to a single value per key for storage.
func headerMap(h http.Header) map[string]any {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]any, len(h))
	for key := range h {
		m[key] = h.Get(key)
	}
	return m
}

// encodeQuery renders params as a query string in sorted key order.
func encodeQuery(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, fmt.Sprintf("%v", params[k]))
	}
	return values.Encode()
}
