package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client provides HTTP access to the backend's message and static session endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:8501/_stcore".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getJSON(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMessage fetches the raw frame of a cached forward message by hash.
func (c *Client) GetMessage(ctx context.Context, hash string) ([]byte, error) {
	return c.get(ctx, "/message?hash="+url.QueryEscape(hash))
}

// GetManifest fetches the manifest of a static session.
func (c *Client) GetManifest(ctx context.Context, sessionID string) (*Manifest, error) {
	var resp Manifest
	if err := c.getJSON(ctx, "/static/"+url.PathEscape(sessionID)+"/manifest.json", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStaticFrame fetches raw frame n of a static session.
func (c *Client) GetStaticFrame(ctx context.Context, sessionID string, n int) ([]byte, error) {
	return c.get(ctx, fmt.Sprintf("/static/%s/%d.frame", url.PathEscape(sessionID), n))
}

// Helper methods

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Handle error responses
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("http error: %s (status %d)", string(body), resp.StatusCode)
	}
	return body, nil
}
