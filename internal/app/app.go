// Package app is the startup flow between the supervisor and the presenter.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loykin/cloudsync/internal/health"
	"github.com/loykin/cloudsync/internal/launcher"
	"github.com/loykin/cloudsync/internal/resolver"
	"github.com/loykin/cloudsync/internal/supervisor"
	"github.com/loykin/cloudsync/internal/ui"
)

const (
	TitleDependentNotFound = "Rclone Not Found"
	TitleBackendFailed     = "Backend Failed to Start"
	TitleStartupFailed     = "Startup Failed"
	TitleFatal             = "Fatal Error"
)

const msgDependentNotFound = "The bundled rclone is missing or corrupted, and no system-wide rclone could be found in the PATH."

type Starter interface {
	Start(ctx context.Context) error
}

// Describe maps a startup error to the dialog shown for it.
func Describe(err error) (title, message string) {
	switch {
	case errors.Is(err, resolver.ErrDependentBinaryNotFound):
		return TitleDependentNotFound, msgDependentNotFound
	case errors.Is(err, launcher.ErrServerBinaryMissing), errors.Is(err, launcher.ErrServerSpawnFailed):
		title = TitleBackendFailed
	case errors.Is(err, health.ErrHealthCheckTimeout), errors.Is(err, supervisor.ErrServerExited):
		title = TitleStartupFailed
	default:
		title = TitleFatal
	}
	return title, fmt.Sprintf("Could not start the backend server. Please check the logs.\n\nError: %v", err)
}

// Run starts the supervisor once. A failed start produces exactly one
// Fatal and is returned; success produces exactly one ShowMain.
// Interruptions (Stop or ctx cancellation) are returned without a dialog.
func Run(ctx context.Context, s Starter, p ui.Presenter, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	err := s.Start(ctx)
	if err == nil {
		log.Info("backend ready")
		p.ShowMain()
		return nil
	}
	if interrupted(ctx, err) {
		log.Info("startup interrupted", "err", err)
		return err
	}
	title, msg := Describe(err)
	log.Error("startup failed", "title", title, "err", err)
	p.Fatal(title, msg)
	return err
}

func interrupted(ctx context.Context, err error) bool {
	if errors.Is(err, supervisor.ErrStopped) {
		return true
	}
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
