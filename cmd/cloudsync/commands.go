package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/cloudsync"
	"github.com/loykin/cloudsync/internal/platform"
	"github.com/loykin/cloudsync/internal/ui"
	"github.com/loykin/cloudsync/pkg/client"
)

type command struct {
	out    io.Writer
	global *GlobalFlags
}

func (c *command) config() (*cloudsync.Config, error) {
	cfg, err := cloudsync.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func (c *command) launcher() (*cloudsync.Launcher, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	return cloudsync.New(cfg, cloudsync.Options{})
}

// Run starts the backend and blocks until ctx ends or a signal arrives.
func (c *command) Run(ctx context.Context, f RunFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.Daemonize {
		if err := daemonize(f.PidFile, f.LogFile); err != nil {
			return err
		}
	}
	l, err := c.launcher()
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()
	defer func() { _ = removePidFile(f.PidFile) }()
	log := l.Logger()
	cfg := l.Config()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		if err := cloudsync.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		go l.NewSampler().Run(ctx)
	}
	srv, err := l.NewHTTPServer()
	if err != nil {
		return err
	}
	if srv != nil {
		log.Info("control api listening", "addr", srv.Addr, "base", cfg.Control.BasePath)
		defer func() { _ = srv.Close() }()
	}

	if err := l.Run(ctx, ui.NewConsole(c.out, l.HealthURL(), log)); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if f.NonBlocking {
		return nil
	}
	<-ctx.Done()
	_, _ = fmt.Fprintln(c.out, "Shutting down...")
	return nil
}

func (c *command) Resolve(ctx context.Context) error {
	l, err := c.launcher()
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()
	cand, err := l.Resolve(ctxOrBackground(ctx))
	if err != nil {
		return err
	}
	printJSON(c.out, cand)
	return nil
}

type probeResult struct {
	URL       string `json:"url"`
	Succeeded bool   `json:"succeeded"`
	Attempts  int    `json:"attempts"`
	Elapsed   string `json:"elapsed"`
	Error     string `json:"error,omitempty"`
}

func (c *command) Probe(ctx context.Context, f ProbeFlags) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	if f.Port > 0 {
		cfg.Server.Port = f.Port
	}
	l, err := cloudsync.New(cfg, cloudsync.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	out := l.Probe(ctxOrBackground(ctx), cfg.Server.Port)
	res := probeResult{
		URL:       l.HealthURL(),
		Succeeded: out.Succeeded,
		Attempts:  out.Attempts,
		Elapsed:   out.Elapsed.Round(time.Millisecond).String(),
	}
	if err := out.Err(); err != nil {
		res.Error = err.Error()
	}
	printJSON(c.out, res)
	return out.Err()
}

func (c *command) Platform() error {
	p, err := platform.Current()
	if err != nil {
		printJSON(c.out, map[string]any{"supported": platform.Supported()})
		return err
	}
	printJSON(c.out, p)
	return nil
}

func (c *command) apiClient(f APIFlags) (*client.Client, error) {
	url := f.APIUrl
	if url == "" {
		cfg, err := c.config()
		if err != nil {
			return nil, err
		}
		url = apiURL(cfg)
	}
	return client.New(client.Config{BaseURL: url, Timeout: f.APITimeout}), nil
}

func (c *command) Status(ctx context.Context, f APIFlags) error {
	api, err := c.apiClient(f)
	if err != nil {
		return err
	}
	st, err := api.Status(ctxOrBackground(ctx))
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

func (c *command) Stop(ctx context.Context, f APIFlags) error {
	ctx = ctxOrBackground(ctx)
	api, err := c.apiClient(f)
	if err != nil {
		return err
	}
	if err := api.Stop(ctx); err != nil {
		return err
	}
	st, err := api.Status(ctx)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return err
		}
		// the launcher may exit right after stopping
		return nil
	}
	printJSON(c.out, st)
	return nil
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
