package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPClient talks to a registry service over its JSON HTTP API. It
// implements Client; timeouts come from the request context, which the
// Verifier bounds per lookup.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithClient replaces the underlying HTTP client.
func WithClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// NewHTTPClient creates a client for the registry service at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type resolveResponse struct {
	ID string `json:"id"`
}

// Resolve maps a registry name to its id via GET /registries/{name}.
func (c *HTTPClient) Resolve(ctx context.Context, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/registries/%s", c.baseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve %s: status %d", name, resp.StatusCode)
	}

	var data resolveResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if data.ID == "" {
		return "", fmt.Errorf("resolve %s: empty id", name)
	}
	return data.ID, nil
}

// Exists checks a reference via GET /registries/{id}/refs/{reference}.
// 200 means the reference exists, 404 means it positively does not; any
// other status leaves the answer unknown.
func (c *HTTPClient) Exists(ctx context.Context, id, reference string) (Tri, error) {
	endpoint := fmt.Sprintf("%s/registries/%s/refs/%s",
		c.baseURL, url.PathEscape(id), url.PathEscape(reference))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return TriUnknown, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TriUnknown, fmt.Errorf("lookup %s/%s: %w", id, reference, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return TriYes, nil
	case http.StatusNotFound:
		return TriNo, nil
	default:
		return TriUnknown, fmt.Errorf("lookup %s/%s: status %d", id, reference, resp.StatusCode)
	}
}
