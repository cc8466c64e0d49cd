// Package api provides a Go client for the pipeline management REST API.
// It covers the read-only endpoints the CLI needs to discover pipelines
// before opening a debug chat session.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client provides HTTP methods for the management REST API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(client *Client) {
		client.token = token
	}
}

// New creates a new management API client.
// baseURL should be the server address (e.g., "http://localhost:5300").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) apiURL(path string) string {
	return c.baseURL + "/api/v1" + path
}

func (c *Client) get(path string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, c.apiURL(path), nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.httpClient.Do(req)
}

// Pipeline describes a running bot pipeline on the server.
type Pipeline struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	AdapterType string `json:"adapter_type,omitempty"`
	IsStarted   bool   `json:"is_started"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ListPipelines returns all pipelines visible to the caller.
func (c *Client) ListPipelines() ([]Pipeline, error) {
	resp, err := c.get("/pipelines")
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("list pipelines: unauthorized, check your token")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list pipelines: status %d: %s", resp.StatusCode, string(body))
	}

	var pipelines []Pipeline
	if err := json.NewDecoder(resp.Body).Decode(&pipelines); err != nil {
		return nil, fmt.Errorf("list pipelines: decode: %w", err)
	}
	return pipelines, nil
}

// GetPipeline returns a specific pipeline by its UUID.
func (c *Client) GetPipeline(pipelineID string) (*Pipeline, error) {
	resp, err := c.get("/pipelines/" + url.PathEscape(pipelineID))
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("pipeline not found: %s", pipelineID)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("get pipeline: unauthorized, check your token")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get pipeline: status %d: %s", resp.StatusCode, string(body))
	}

	var p Pipeline
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("get pipeline: decode: %w", err)
	}
	return &p, nil
}
