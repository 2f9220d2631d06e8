// Package cloudsync supervises the local sync backend and the rclone
// binary it depends on.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/cloudsync/internal/app"
	cfg "github.com/loykin/cloudsync/internal/config"
	"github.com/loykin/cloudsync/internal/health"
	"github.com/loykin/cloudsync/internal/history"
	"github.com/loykin/cloudsync/internal/history/factory"
	"github.com/loykin/cloudsync/internal/launcher"
	"github.com/loykin/cloudsync/internal/metrics"
	"github.com/loykin/cloudsync/internal/resolver"
	iapi "github.com/loykin/cloudsync/internal/server"
	"github.com/loykin/cloudsync/internal/supervisor"
	"github.com/loykin/cloudsync/internal/ui"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = supervisor.Status

type State = supervisor.State

type Presenter = ui.Presenter

type HistorySink = history.Sink

type OutputSink = launcher.OutputSink

type HealthOutcome = health.Outcome

type Candidate = resolver.Candidate

var (
	ErrNotIdle                 = supervisor.ErrNotIdle
	ErrStopped                 = supervisor.ErrStopped
	ErrServerExited            = supervisor.ErrServerExited
	ErrDependentBinaryNotFound = resolver.ErrDependentBinaryNotFound
	ErrServerBinaryMissing     = launcher.ErrServerBinaryMissing
	ErrServerSpawnFailed       = launcher.ErrServerSpawnFailed
	ErrHealthCheckTimeout      = health.ErrHealthCheckTimeout
)

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func DefaultConfig() *Config { return cfg.Default() }

type Options struct {
	Logger *slog.Logger
	// History sinks receive lifecycle events in addition to the one built
	// from history.dsn.
	History []HistorySink
	// Output receives every backend output line in addition to the log.
	Output OutputSink
}

// Launcher wires the resolver, backend launcher, health checker and
// supervisor from a Config.
type Launcher struct {
	cfg      *Config
	log      *slog.Logger
	resolver *resolver.Resolver
	launcher *launcher.Launcher
	checker  *health.Checker
	sup      *supervisor.Supervisor
	owned    []io.Closer
}

func New(c *Config, o Options) (*Launcher, error) {
	if c == nil {
		c = cfg.Default()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := o.Logger
	if log == nil {
		log = c.Log.NewSlogger("cloudsync")
	}
	base, err := c.BackendEnv()
	if err != nil {
		return nil, err
	}

	l := &Launcher{cfg: c, log: log}
	sinks := append([]HistorySink(nil), o.History...)
	if c.History.DSN != "" {
		s, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, s)
		if cl, ok := s.(io.Closer); ok {
			l.owned = append(l.owned, cl)
		}
	}

	l.resolver = resolver.New(resolver.Options{
		ResourcesDir:  c.ResourcesDir,
		BundleDir:     c.Dependent.Dir,
		Name:          c.Dependent.Name,
		Marker:        c.Dependent.Marker,
		VersionArg:    c.Dependent.VersionArg,
		VerifyTimeout: c.Dependent.VerifyTimeout,
		VerifySystem:  c.Dependent.VerifySystem,
		Logger:        log,
	})
	l.launcher = launcher.New(launcher.Options{
		ResourcesDir: c.ResourcesDir,
		Binary:       c.Server.Binary,
		Args:         c.Server.Args,
		WorkDir:      c.Server.WorkDir,
		Env:          base,
		Log:          c.Log,
		Sink:         o.Output,
		Logger:       log,
	})
	l.checker = health.New(health.Options{
		Path:     c.Health.Path,
		Attempts: c.Health.Attempts,
		Timeout:  c.Health.Timeout,
		Interval: c.Health.Interval,
		Logger:   log,
	})
	l.sup = supervisor.New(supervisor.Options{
		Port:                c.Server.Port,
		GraceDelay:          c.Server.GraceDelay,
		StopTimeout:         c.Server.StopTimeout,
		KeepOnHealthFailure: c.Server.KeepOnHealthFailure,
		Resolver:            l.resolver,
		Launcher:            supervisor.FromLauncher(l.launcher),
		Prober:              l.checker,
		Clock:               supervisor.RealClock(),
		History:             sinks,
		Logger:              log,
	})
	return l, nil
}

func (l *Launcher) Config() *Config { return l.cfg }

func (l *Launcher) Logger() *slog.Logger { return l.log }

func (l *Launcher) Supervisor() *supervisor.Supervisor { return l.sup }

func (l *Launcher) Start(ctx context.Context) error { return l.sup.Start(ctx) }

func (l *Launcher) Stop() { l.sup.Stop() }

func (l *Launcher) Status() Status { return l.sup.Status() }

// Run starts the backend once and reports the outcome to p.
func (l *Launcher) Run(ctx context.Context, p Presenter) error {
	return app.Run(ctx, l.sup, p, l.log)
}

// Resolve locates the dependent binary without launching anything.
func (l *Launcher) Resolve(ctx context.Context) (Candidate, error) {
	return l.resolver.ResolveCandidate(ctx)
}

// Probe runs one health poll against port.
func (l *Launcher) Probe(ctx context.Context, port int) HealthOutcome {
	return l.checker.Poll(ctx, port)
}

// HealthURL is the status endpoint polled for the configured port.
func (l *Launcher) HealthURL() string { return l.checker.URL(l.cfg.Server.Port) }

// Handler returns the control API for mounting in another server.
func (l *Launcher) Handler() http.Handler {
	return iapi.NewRouter(l.sup, l.cfg.Control.BasePath, l.cfg.Metrics.Enabled, l.log).Handler()
}

// NewHTTPServer serves the control API on control.listen. It returns nil
// when no listen address is configured.
func (l *Launcher) NewHTTPServer() (*http.Server, error) {
	if l.cfg.Control.Listen == "" {
		return nil, nil
	}
	return iapi.NewServer(l.cfg.Control.Listen, l.cfg.Control.BasePath, l.sup, l.cfg.Metrics.Enabled, l.log)
}

// NewSampler samples the backend's resource usage while it is Ready.
func (l *Launcher) NewSampler() *metrics.Sampler {
	return metrics.NewSampler(l.cfg.Metrics.SampleInterval, func() int {
		if st := l.sup.Status(); st.State == supervisor.Ready {
			return st.PID
		}
		return 0
	}, l.log)
}

// Close stops the backend and releases sinks opened from history.dsn.
func (l *Launcher) Close() error {
	l.sup.Stop()
	var errs []error
	for _, c := range l.owned {
		errs = append(errs, c.Close())
	}
	l.owned = nil
	return errors.Join(errs...)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
