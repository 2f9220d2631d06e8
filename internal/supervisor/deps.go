package supervisor

import (
	"context"
	"time"

	"github.com/loykin/cloudsync/internal/health"
	"github.com/loykin/cloudsync/internal/launcher"
)

// Resolver finds the dependent binary.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Process is a running backend.
type Process interface {
	PID() int
	ID() string
	// Exited delivers the exit exactly once.
	Exited() <-chan launcher.Exit
	Terminate(wait time.Duration) error
	SetReady(bool)
}

// Launcher spawns the backend.
type Launcher interface {
	Launch(ctx context.Context, dependentPath string, port int) (Process, error)
}

// Prober polls backend health.
type Prober interface {
	Poll(ctx context.Context, port int) health.Outcome
}

// Clock supplies time and context-aware sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// LaunchFunc adapts a function to Launcher.
type LaunchFunc func(ctx context.Context, dependentPath string, port int) (Process, error)

func (f LaunchFunc) Launch(ctx context.Context, dependentPath string, port int) (Process, error) {
	return f(ctx, dependentPath, port)
}

// FromLauncher adapts *launcher.Launcher to Launcher.
func FromLauncher(l *launcher.Launcher) Launcher {
	return LaunchFunc(func(ctx context.Context, dependentPath string, port int) (Process, error) {
		h, err := l.Launch(ctx, dependentPath, port)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }
