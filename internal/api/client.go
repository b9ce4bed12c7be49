package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/banshee-data/xpol2mom/internal/httputil"
	"github.com/banshee-data/xpol2mom/internal/sink"
	"github.com/banshee-data/xpol2mom/internal/xpol"
)

// Client reads a running daemon's API.
type Client struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

// NewClient returns a client for the daemon at baseURL, for example
// "http://localhost:8080".
func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	if c == nil {
		c = httputil.NewStandardClient(nil)
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: c}
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if err := httputil.DecodeJSON(resp, v); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return nil
}

// Health fetches /api/health. An unhealthy daemon answers 503, which is
// returned as a *httputil.StatusError.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Conf fetches the server configuration and its archive index.
func (c *Client) Conf(ctx context.Context) (int32, *xpol.Conf, error) {
	var body struct {
		ArchiveIndex int32     `json:"archive_index"`
		Conf         xpol.Conf `json:"conf"`
	}
	if err := c.get(ctx, "/api/conf", &body); err != nil {
		return 0, nil, err
	}
	return body.ArchiveIndex, &body.Conf, nil
}

// Status fetches the latest server status.
func (c *Client) Status(ctx context.Context) (*xpol.Status, error) {
	var st xpol.Status
	if err := c.get(ctx, "/api/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ServerInfo fetches the server's self description.
func (c *Client) ServerInfo(ctx context.Context) (*xpol.ServerInfo, error) {
	var si xpol.ServerInfo
	if err := c.get(ctx, "/api/serverinfo", &si); err != nil {
		return nil, err
	}
	return &si, nil
}

// LatestRay fetches the summary of the newest ray.
func (c *Client) LatestRay(ctx context.Context) (*sink.RaySummary, error) {
	var s sink.RaySummary
	if err := c.get(ctx, "/api/ray/latest", &s); err != nil {
		return nil, err
	}
	return &s, nil
}
