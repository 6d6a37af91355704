// Package httpclient provides the JSON REST client used by workers to talk to
// their backends.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "doni/1.0"

	// maxErrorMessage bounds how much of an error body ends up in APIError
	maxErrorMessage = 512
)

// Client is an interface for JSON REST operations against one backend
type Client interface {
	// Do sends body (JSON encoded when non-nil) to path and returns the
	// response. Any status outside 2xx and allowed is returned as an APIError.
	Do(ctx context.Context, method, path string, body any, allowed ...int) (*Response, error)
	Get(ctx context.Context, path string, allowed ...int) (*Response, error)
	Post(ctx context.Context, path string, body any) (*Response, error)
	Put(ctx context.Context, path string, body any) (*Response, error)
	Patch(ctx context.Context, path string, body any) (*Response, error)
	Delete(ctx context.Context, path string, allowed ...int) (*Response, error)
}

// Response is a fully read backend response
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON returns the parsed body for path-based field access.
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Get returns the value at a gjson path.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithTimeout sets the per-request timeout. Zero keeps DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *DefaultClient) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(name, value string) Option {
	return func(c *DefaultClient) {
		c.headers.Set(name, value)
	}
}

// WithBearerToken authenticates requests with an Authorization bearer token.
func WithBearerToken(token string) Option {
	return func(c *DefaultClient) {
		if token != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAuthToken authenticates requests with an OpenStack X-Auth-Token header.
func WithAuthToken(token string) Option {
	return func(c *DefaultClient) {
		if token != "" {
			c.headers.Set("X-Auth-Token", token)
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *DefaultClient) {
		if client != nil {
			c.client = client
		}
	}
}

// DefaultClient is the default HTTP client implementation
type DefaultClient struct {
	client  *http.Client
	baseURL string
	headers http.Header
}

// NewDefaultClient creates a client for the backend rooted at baseURL
func NewDefaultClient(baseURL string, opts ...Option) Client {
	c := &DefaultClient{
		client:  &http.Client{Timeout: DefaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: http.Header{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs an HTTP GET request
func (c *DefaultClient) Get(ctx context.Context, path string, allowed ...int) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, allowed...)
}

// Post performs an HTTP POST request
func (c *DefaultClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put performs an HTTP PUT request
func (c *DefaultClient) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Patch performs an HTTP PATCH request
func (c *DefaultClient) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body)
}

// Delete performs an HTTP DELETE request
func (c *DefaultClient) Delete(ctx context.Context, path string, allowed ...int) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, allowed...)
}

// Do performs an HTTP request
func (c *DefaultClient) Do(ctx context.Context, method, path string, body any, allowed ...int) (*Response, error) {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	for name, values := range c.headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes (%.2f MB)",
			resp.ContentLength, MaxResponseSize, float64(MaxResponseSize)/(1024*1024))
	}

	// +1 to detect if limit exceeded
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes (%.2f MB)",
			MaxResponseSize, float64(MaxResponseSize)/(1024*1024))
	}

	if !statusAccepted(resp.StatusCode, allowed) {
		return nil, NewAPIError(resp.StatusCode, method, url, errorMessage(resp.Status, data))
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func statusAccepted(status int, allowed []int) bool {
	if status >= 200 && status < 300 {
		return true
	}
	for _, code := range allowed {
		if code == status {
			return true
		}
	}
	return false
}

// errorMessage picks the most useful description from an error body. OpenStack
// services wrap it in error_message (sometimes itself JSON encoded), others use
// message or error.
func errorMessage(status string, body []byte) string {
	if !gjson.ValidBytes(body) {
		return truncate(strings.TrimSpace(string(body)), status)
	}
	doc := gjson.ParseBytes(body)
	for _, path := range []string{"error_message", "message", "error.message", "error", "faultstring"} {
		v := doc.Get(path)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.String && gjson.Valid(v.Str) {
			if nested := gjson.Get(v.Str, "faultstring"); nested.Exists() {
				return truncate(nested.String(), status)
			}
		}
		if v.Type == gjson.String {
			return truncate(v.Str, status)
		}
	}
	return status
}

func truncate(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	if len(msg) > maxErrorMessage {
		return msg[:maxErrorMessage] + "..."
	}
	return msg
}
