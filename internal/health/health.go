package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrHealthCheckTimeout means every attempt failed.
var ErrHealthCheckTimeout = errors.New("health check timed out")

const (
	DefaultHost     = "localhost"
	DefaultPath     = "/status"
	DefaultAttempts = 20
	DefaultTimeout  = time.Second
	DefaultInterval = 500 * time.Millisecond
)

type Options struct {
	Host     string
	Path     string
	Attempts int
	Timeout  time.Duration // per attempt
	Interval time.Duration // between failed attempts
	Logger   *slog.Logger
}

// Outcome is the result of one Poll.
type Outcome struct {
	Succeeded bool          `json:"succeeded"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed"`
	LastErr   error         `json:"-"`
}

// Err returns nil on success, the context error when the poll was cancelled
// and an error wrapping ErrHealthCheckTimeout otherwise.
func (o Outcome) Err() error {
	if o.Succeeded {
		return nil
	}
	if errors.Is(o.LastErr, context.Canceled) || errors.Is(o.LastErr, context.DeadlineExceeded) {
		return o.LastErr
	}
	if o.LastErr != nil {
		return fmt.Errorf("%w after %d attempts in %s: %v", ErrHealthCheckTimeout, o.Attempts, o.Elapsed.Round(time.Millisecond), o.LastErr)
	}
	return fmt.Errorf("%w after %d attempts in %s", ErrHealthCheckTimeout, o.Attempts, o.Elapsed.Round(time.Millisecond))
}

type Checker struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Checker {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Checker{opts: opts, log: opts.Logger.With("component", "health")}
}

func (c *Checker) URL(port int) string {
	return fmt.Sprintf("http://%s:%d%s", c.opts.Host, port, c.opts.Path)
}

// Poll probes the status endpoint until it answers 200 or the attempts run out.
// Attempts are strictly sequential.
func (c *Checker) Poll(ctx context.Context, port int) Outcome {
	start := time.Now()
	url := c.URL(port)

	var (
		mu       sync.Mutex
		attempts int
		lastErr  error
	)
	record := func(err error) {
		mu.Lock()
		lastErr = err
		mu.Unlock()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: c.opts.Timeout}
	rc.Logger = c.log
	rc.RetryMax = c.opts.Attempts - 1
	rc.RetryWaitMin = c.opts.Interval
	rc.RetryWaitMax = c.opts.Interval
	rc.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return c.opts.Interval
	}
	rc.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, n int) {
		mu.Lock()
		attempts = n + 1
		mu.Unlock()
	}
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			record(err)
			c.log.Debug("health attempt failed", "url", url, "error", err)
			return true, nil
		}
		if resp.StatusCode != http.StatusOK {
			record(fmt.Errorf("unexpected status %d", resp.StatusCode))
			c.log.Debug("health attempt failed", "url", url, "status", resp.StatusCode)
			return true, nil
		}
		return false, nil
	}
	rc.ErrorHandler = func(resp *http.Response, err error, _ int) (*http.Response, error) {
		if resp != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			err = ErrHealthCheckTimeout
		}
		return nil, err
	}

	out := Outcome{}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		out.LastErr = err
		out.Elapsed = time.Since(start)
		return out
	}
	resp, err := rc.Do(req)
	mu.Lock()
	out.Attempts, out.LastErr = attempts, lastErr
	mu.Unlock()
	out.Elapsed = time.Since(start)

	if err == nil && resp != nil {
		_ = resp.Body.Close()
		out.Succeeded = true
		out.LastErr = nil
		c.log.Info("backend healthy", "url", url, "attempts", out.Attempts, "elapsed", out.Elapsed)
		return out
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		out.LastErr = ctxErr
		c.log.Info("health poll cancelled", "url", url, "attempts", out.Attempts)
		return out
	}
	if out.LastErr == nil {
		out.LastErr = err
	}
	c.log.Error("backend did not become healthy", "url", url, "attempts", out.Attempts, "elapsed", out.Elapsed, "error", out.LastErr)
	return out
}
