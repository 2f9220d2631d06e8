package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotIdle is returned by Start when the backend is already starting or running.
	ErrNotIdle = errors.New("backend is not idle")
	// ErrStartFailed is returned by Start when the backend could not be brought up.
	ErrStartFailed = errors.New("backend failed to start")
)

const (
	DefaultBaseURL      = "http://127.0.0.1:8990/api"
	DefaultTimeout      = 10 * time.Second
	DefaultStartTimeout = 60 * time.Second
)

// Client talks to a running launcher's control API.
type Client struct {
	baseURL      string
	timeout      time.Duration
	startTimeout time.Duration
	client       *http.Client
	logger       *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	// StartTimeout bounds Start, which waits for the whole startup sequence.
	StartTimeout time.Duration
	Logger       *slog.Logger // Optional logger for client operations
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Timeout:      DefaultTimeout,
		StartTimeout: DefaultStartTimeout,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.StartTimeout <= 0 {
		config.StartTimeout = DefaultStartTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		timeout:      config.Timeout,
		startTimeout: config.StartTimeout,
		logger:       config.Logger,
		client:       &http.Client{},
	}
}

// IsReachable checks if the launcher is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Launcher unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	reachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Launcher reachability check", "reachable", reachable, "status", resp.StatusCode)
	return reachable
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, c.timeout, http.MethodGet, "/status", &st)
	return st, err
}

// Start asks the launcher to bring the backend up and waits for the outcome.
// On failure the returned Status, when present, is the launcher's snapshot.
func (c *Client) Start(ctx context.Context) (Status, error) {
	c.logger.Debug("Starting backend")
	var st Status
	err := c.do(ctx, c.startTimeout, http.MethodPost, "/start", &st)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Body.Status != nil {
			st = *apiErr.Body.Status
		}
		return st, err
	}
	c.logger.Debug("Backend ready", "pid", st.PID)
	return st, nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.logger.Debug("Stopping backend")
	return c.do(ctx, c.timeout, http.MethodPost, "/stop", nil)
}

// APIError is a non-200 reply from the control API.
type APIError struct {
	Code int
	Body ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Error == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Code, e.Body.Error)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotIdle:
		return e.Code == http.StatusConflict
	case ErrStartFailed:
		return e.Code == http.StatusBadGateway
	}
	return false
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{Code: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr.Body); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return apiErr
	}
	c.logger.Error("API request failed", "error", apiErr.Body.Error, "status", resp.StatusCode)
	return apiErr
}
