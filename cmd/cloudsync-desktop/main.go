// Command cloudsync-desktop is the windowed launcher: the main window
// appears once the backend is ready, and startup failures end the app
// after a dialog.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"

	"github.com/loykin/cloudsync"
	"github.com/loykin/cloudsync/internal/desktop"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:           "cloudsync-desktop",
		Short:         "Windowed cloudsync launcher",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to TOML config file (optional)")

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := cloudsync.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	l, err := cloudsync.New(cfg, cloudsync.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()
	log := l.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		log.Info("control api listening", "addr", srv.Addr)
		defer func() { _ = srv.Close() }()
	}

	a := app.NewWithID(desktop.AppID)
	shell := desktop.New(a, "CloudSync", l.HealthURL(), func() {
		cancel()
		l.Stop()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx, shell) }()
	shell.Run()
	// quitting cancels ctx and stops the supervisor, so Run returns promptly
	if err := <-errCh; err != nil && !errors.Is(err, cloudsync.ErrStopped) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
