package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"rollcall/internal/api"
	"rollcall/internal/config"
)

// ErrDaemonNotRunning indicates the control API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// APIError is a non-2xx control API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("daemon returned HTTP %d: %s", e.Status, e.Message)
}

// Client talks to the daemon control API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the API bound at bind. Wildcard hosts are
// dialled on loopback.
func NewClient(bind, token string, timeout time.Duration) (*Client, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(bind))
	if err != nil {
		return nil, fmt.Errorf("parse api bind %q: %w", bind, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: "http://" + net.JoinHostPort(host, port),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// NewFromConfig returns a client for the configured API.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return NewClient(cfg.API.Bind, cfg.API.Token, 0)
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var out api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cameras lists discovered cameras.
func (c *Client) Cameras(ctx context.Context) (*api.CameraList, error) {
	var out api.CameraList
	if err := c.do(ctx, http.MethodGet, "/api/cameras", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Info asks the capture loop for its state.
func (c *Client) Info(ctx context.Context) (*api.CommandResponse, error) {
	return c.command(ctx, http.MethodGet, "/api/info", nil)
}

// Capture forces a match on the next frame and saves a snapshot.
func (c *Client) Capture(ctx context.Context) (*api.CommandResponse, error) {
	return c.command(ctx, http.MethodPost, "/api/capture", nil)
}

// Quit stops the daemon.
func (c *Client) Quit(ctx context.Context) (*api.CommandResponse, error) {
	return c.command(ctx, http.MethodPost, "/api/quit", nil)
}

// Rescan re-runs camera discovery.
func (c *Client) Rescan(ctx context.Context) (*api.CommandResponse, error) {
	return c.command(ctx, http.MethodPost, "/api/cameras/rescan", nil)
}

// Switch selects camera id, or the next camera when id is nil.
func (c *Client) Switch(ctx context.Context, id *int) (*api.CommandResponse, error) {
	return c.command(ctx, http.MethodPost, "/api/cameras/switch", api.SwitchRequest{ID: id})
}

// Templates summarises the loaded roster; full lists every template.
func (c *Client) Templates(ctx context.Context, full bool) (*api.TemplateStatus, error) {
	query := url.Values{}
	if full {
		query.Set("full", "1")
	}
	var out api.TemplateStatus
	if err := c.do(ctx, http.MethodGet, "/api/templates", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReloadTemplates rebuilds the roster from the photo directory.
func (c *Client) ReloadTemplates(ctx context.Context) (*api.TemplateStatus, error) {
	var out api.TemplateStatus
	if err := c.do(ctx, http.MethodPost, "/api/templates/reload", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Attendance lists the most recent marks.
func (c *Client) Attendance(ctx context.Context, limit int) (*api.AttendanceList, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out api.AttendanceList
	if err := c.do(ctx, http.MethodGet, "/api/attendance", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LogQuery selects log events.
type LogQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	Component string
	CameraID  string
}

// Logs fetches buffered log events. With Follow set the call blocks until
// new events arrive, so callers should pass a context without a short
// deadline.
func (c *Client) Logs(ctx context.Context, q LogQuery) (*api.LogStreamResponse, error) {
	query := url.Values{}
	if q.Since > 0 {
		query.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		query.Set("follow", "1")
	}
	if q.Tail {
		query.Set("tail", "1")
	}
	if q.Component != "" {
		query.Set("component", q.Component)
	}
	if q.CameraID != "" {
		query.Set("camera", q.CameraID)
	}
	client := c.http
	if q.Follow {
		client = &http.Client{Transport: c.http.Transport}
	}
	var out api.LogStreamResponse
	if err := c.doWith(ctx, client, http.MethodGet, "/api/logs", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// command issues an operator command. A refused command returns the
// decoded response together with an *APIError.
func (c *Client) command(ctx context.Context, method, path string, body any) (*api.CommandResponse, error) {
	var out api.CommandResponse
	err := c.do(ctx, method, path, nil, body, &out)
	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) {
		return nil, err
	}
	if err == nil && !out.OK {
		err = &APIError{Status: http.StatusConflict, Message: firstNonEmpty(out.Error, out.Message)}
	}
	return &out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.doWith(ctx, c.http, method, path, query, body, out)
}

func (c *Client) doWith(ctx context.Context, client *http.Client, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = strings.NewReader(string(data))
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		if isUnavailable(err) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload api.ErrorResponse
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Error
		}
		// Command replies carry their own body on failure.
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
