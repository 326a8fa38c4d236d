// Package api is the console's HTTP client for the robot backend's REST
// surface. Responses decode into the types in types.go; non-2xx responses
// become *Error carrying the backend's detail text.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/large-farva/operator-console/internal/metrics"
)

// Error is a non-2xx response.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Client talks to one backend. It is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for baseURL (e.g. "http://127.0.0.1:8000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	var d Diagnostics
	if err := c.do(ctx, http.MethodGet, "/api/diagnostics", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodGet, "/api/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Command sends one CLI command to the robot. With raiseOnError the backend
// turns a firmware error line into a non-2xx response.
func (c *Client) Command(ctx context.Context, command string, raiseOnError bool) (*CommandResult, error) {
	var res CommandResult
	body := CommandRequest{Command: command, RaiseOnError: raiseOnError}
	if err := c.do(ctx, http.MethodPost, "/api/command", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ControlTransport returns the raw control-transport payload; callers pass
// it through transport.NormalizeJSON.
func (c *Client) ControlTransport(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/control/transport", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// SetControlTransport selects "auto" or a transport id.
func (c *Client) SetControlTransport(ctx context.Context, mode string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/control/transport", map[string]string{"mode": mode}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) WifiConfig(ctx context.Context) (map[string]any, error) {
	var raw map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/control/wifi", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) SetWifiConfig(ctx context.Context, changes map[string]any) (map[string]any, error) {
	var raw map[string]any
	if err := c.do(ctx, http.MethodPost, "/api/control/wifi", changes, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) CameraConfig(ctx context.Context) (map[string]any, error) {
	var raw map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/camera/config", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) SetCameraConfig(ctx context.Context, update CameraConfigUpdate) (map[string]any, error) {
	var raw map[string]any
	if err := c.do(ctx, http.MethodPost, "/api/camera/config", update, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) ShelfMap(ctx context.Context) (*ShelfMap, error) {
	var m ShelfMap
	if err := c.do(ctx, http.MethodGet, "/api/shelf-map", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateShelfMap writes grid; with persist the firmware saves it to flash.
func (c *Client) UpdateShelfMap(ctx context.Context, grid [][]string, persist bool) (*ShelfMap, error) {
	var m ShelfMap
	body := ShelfMapUpdate{Grid: grid, Persist: persist}
	if err := c.do(ctx, http.MethodPut, "/api/shelf-map", body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ResetShelfMap restores the firmware default map.
func (c *Client) ResetShelfMap(ctx context.Context, persist bool) (*ShelfMap, error) {
	var m ShelfMap
	if err := c.do(ctx, http.MethodPost, "/api/shelf-map/reset", ShelfMapReset{Persist: persist}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Logs fetches the most recent structured log entries.
func (c *Client) Logs(ctx context.Context, limit int) (*LogSnapshot, error) {
	if limit <= 0 {
		limit = 200
	}
	var snap LogSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/logs?limit="+strconv.Itoa(limit), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// do sends a JSON request and decodes the JSON response into dst.
func (c *Client) do(ctx context.Context, method, path string, body, dst any) (err error) {
	endpoint, _, _ := strings.Cut(path, "?")
	defer func() { metrics.RecordRequest(endpoint, err) }()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, dst)
}

// decodeJSON checks the status code and decodes the body into dst. A 204
// leaves dst untouched.
func decodeJSON(resp *http.Response, dst any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &Error{Status: resp.StatusCode, Detail: errorDetail(resp, b)}
	}
	if resp.StatusCode == http.StatusNoContent || dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// errorDetail prefers the backend's "detail", then "error", then the HTTP
// status text.
func errorDetail(resp *http.Response, body []byte) string {
	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch d := payload.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}
