// Package keyctl implements the keyctl command line client for the
// keyadmin HTTP API.
package keyctl

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

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
	"github.com/vyrodovalexey/keyrelay/internal/server"
)

// Client calls the keyadmin API.
type Client struct {
	baseURL    string
	adminToken string
	http       *http.Client
}

// NewClient creates a Client for the API at baseURL.
func NewClient(baseURL, adminToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		http:       &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// CreateRequest is the body of a create call.
type CreateRequest struct {
	Key             string `json:"key"`
	RateLimitPerMin int64  `json:"rateLimitPerMin"`
	ExpiresAt       int64  `json:"expiresAt"`
}

// Create creates a key.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*accesskey.Record, error) {
	var rec accesskey.Record
	if err := c.do(ctx, http.MethodPost, "/admin/key", "", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get returns a key.
func (c *Client) Get(ctx context.Context, key string) (*accesskey.Record, error) {
	var rec accesskey.Record
	if err := c.do(ctx, http.MethodGet, "/admin/key/"+url.PathEscape(key), "", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every key.
func (c *Client) List(ctx context.Context) ([]*accesskey.Record, error) {
	var recs []*accesskey.Record
	if err := c.do(ctx, http.MethodGet, "/admin/keys", "", nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Update applies patch to a key.
func (c *Client) Update(ctx context.Context, key string, patch accesskey.Patch) (*accesskey.Record, error) {
	var rec accesskey.Record
	if err := c.do(ctx, http.MethodPut, "/admin/key/"+url.PathEscape(key), "", patch, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete deletes a key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/admin/key/"+url.PathEscape(key), "", nil, nil)
}

// KeyInfo returns the record of the caller's own key.
func (c *Client) KeyInfo(ctx context.Context, apiKey string) (*accesskey.Record, error) {
	var rec accesskey.Record
	if err := c.do(ctx, http.MethodGet, "/user/key-info", apiKey, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Disable disables the caller's own key.
func (c *Client) Disable(ctx context.Context, apiKey string) (*accesskey.Record, error) {
	var rec accesskey.Record
	if err := c.do(ctx, http.MethodPut, "/user/disable-key", apiKey, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" && strings.HasPrefix(path, "/admin/") {
		req.Header.Set(server.HeaderAdminToken, c.adminToken)
	}
	if apiKey != "" {
		req.Header.Set(server.HeaderAPIKey, apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var env struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
