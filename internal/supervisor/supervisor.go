package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/cloudsync/internal/history"
	"github.com/loykin/cloudsync/internal/launcher"
	"github.com/loykin/cloudsync/internal/metrics"
)

var (
	ErrNotIdle      = errors.New("supervisor is not idle")
	ErrStopped      = errors.New("start interrupted by stop")
	ErrServerExited = errors.New("server exited before becoming healthy")
)

const (
	DefaultName        = "sync-server"
	DefaultPort        = 8989
	DefaultGraceDelay  = 2 * time.Second
	DefaultStopTimeout = 5 * time.Second

	// stopPublishTimeout bounds history delivery of the stopped event.
	stopPublishTimeout = time.Second
)

type Options struct {
	Name        string // backend name used in history records
	Port        int
	GraceDelay  time.Duration
	StopTimeout time.Duration
	// KeepOnHealthFailure leaves an unhealthy backend running for diagnosis.
	KeepOnHealthFailure bool

	Resolver Resolver
	Launcher Launcher
	Prober   Prober
	Clock    Clock
	History  []history.Sink
	Logger   *slog.Logger
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State         State     `json:"state"`
	PID           int       `json:"pid,omitempty"`
	RunID         string    `json:"run_id,omitempty"`
	DependentPath string    `json:"dependent_path,omitempty"`
	Port          int       `json:"port"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	ReadyAt       time.Time `json:"ready_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
	LastErr       error     `json:"-"`
}

// Supervisor owns at most one backend process and drives it through
// resolve, launch and health polling.
//
// Lock order: stopMu before mu. Nothing blocking runs under mu.
type Supervisor struct {
	opts Options
	log  *slog.Logger

	stopMu sync.Mutex

	mu        sync.Mutex
	state     State
	gen       uint64
	cancel    context.CancelCauseFunc
	proc      Process
	dep       string
	startedAt time.Time
	readyAt   time.Time
	lastErr   error
}

func New(opts Options) *Supervisor {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}
	if opts.GraceDelay < 0 {
		opts.GraceDelay = 0
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{opts: opts, log: opts.Logger.With("component", "supervisor")}
}

func (s *Supervisor) Port() int { return s.opts.Port }

// Status returns a snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:         s.state,
		DependentPath: s.dep,
		Port:          s.opts.Port,
		StartedAt:     s.startedAt,
		ReadyAt:       s.readyAt,
		LastErr:       s.lastErr,
	}
	if s.proc != nil {
		st.PID = s.proc.PID()
		st.RunID = s.proc.ID()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID of the current backend, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.PID()
}

// Start resolves the dependent binary, launches the backend, waits the grace
// delay and polls health. It returns nil once the backend is Ready.
// Start is accepted only in Idle or Failed.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.CanStart() {
		st := s.state
		s.mu.Unlock()
		metrics.IncStart("rejected")
		return fmt.Errorf("%w: state is %s", ErrNotIdle, st)
	}
	s.gen++
	gen := s.gen
	runCtx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	leftover := s.proc
	s.proc = nil
	s.dep = ""
	s.lastErr = nil
	s.startedAt = s.opts.Clock.Now()
	s.readyAt = time.Time{}
	s.setStateLocked(Resolving)
	s.mu.Unlock()
	defer cancel(nil)

	if leftover != nil {
		// a backend kept after a failed health check
		s.terminate(leftover)
	}

	s.log.Info("resolving dependent binary")
	dep, err := s.opts.Resolver.Resolve(runCtx)
	if err != nil {
		return s.fail(gen, runCtx, nil, fmt.Errorf("resolve: %w", err))
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return stopped()
	}
	s.dep = dep
	s.setStateLocked(Launching)
	s.mu.Unlock()

	s.log.Info("launching backend", "dependent", dep, "port", s.opts.Port)
	proc, err := s.opts.Launcher.Launch(runCtx, dep, s.opts.Port)
	if err != nil {
		return s.fail(gen, runCtx, nil, fmt.Errorf("launch: %w", err))
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.terminate(proc)
		return stopped()
	}
	s.proc = proc
	rec := s.recordLocked()
	s.mu.Unlock()
	go s.watch(proc, cancel)
	s.publish(history.EventStart, rec)

	if err := s.opts.Clock.Sleep(runCtx, s.opts.GraceDelay); err != nil {
		return s.fail(gen, runCtx, proc, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return stopped()
	}
	if s.proc != proc {
		s.mu.Unlock()
		return s.fail(gen, runCtx, nil, ErrServerExited)
	}
	s.setStateLocked(AwaitingHealth)
	s.mu.Unlock()

	out := s.opts.Prober.Poll(runCtx, s.opts.Port)
	metrics.ObserveHealthAttempts(out.Attempts)
	if !out.Succeeded {
		return s.fail(gen, runCtx, proc, out.Err())
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return stopped()
	}
	if s.proc != proc {
		s.mu.Unlock()
		return s.fail(gen, runCtx, nil, ErrServerExited)
	}
	proc.SetReady(true)
	s.readyAt = s.opts.Clock.Now()
	took := s.readyAt.Sub(s.startedAt)
	s.setStateLocked(Ready)
	rec = s.recordLocked()
	s.mu.Unlock()

	metrics.IncStart("ready")
	metrics.ObserveReady(took.Seconds())
	s.log.Info("backend ready", "pid", proc.PID(), "attempts", out.Attempts, "took", took)
	s.publish(history.EventReady, rec)
	return nil
}

// fail ends an in-flight Start. proc is the backend spawned by this Start, if any.
func (s *Supervisor) fail(gen uint64, runCtx context.Context, proc Process, err error) error {
	if runCtx.Err() != nil {
		switch cause := context.Cause(runCtx); {
		case errors.Is(cause, ErrStopped):
			err = ErrStopped
		case errors.Is(cause, ErrServerExited):
			err = cause
		default:
			err = fmt.Errorf("start cancelled: %w", cause)
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		// Stop took over and already released the handle
		s.mu.Unlock()
		return stopped()
	}
	var victim Process
	if proc != nil && s.proc == proc && !(s.opts.KeepOnHealthFailure && isHealthFailure(err)) {
		victim = proc
		s.proc = nil
	}
	s.cancel = nil
	s.lastErr = err
	s.setStateLocked(Failed)
	rec := s.recordLocked()
	if proc != nil {
		rec.PID, rec.RunID = proc.PID(), proc.ID()
	}
	s.mu.Unlock()

	if victim != nil {
		s.terminate(victim)
	}
	metrics.IncStart("failed")
	s.log.Error("start failed", "error", err)
	s.publish(history.EventFailed, rec)
	return err
}

func stopped() error {
	metrics.IncStart("stopped")
	return ErrStopped
}

func isHealthFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrServerExited) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Stop terminates the backend, if any, and returns to Idle. An in-flight
// Start is interrupted and returns ErrStopped. Stop never fails and may be
// called at any time, including concurrently.
func (s *Supervisor) Stop() {
	rec, ok := s.release()
	if !ok {
		return
	}
	// published after stopMu is released
	ctx, cancel := context.WithTimeout(context.Background(), stopPublishTimeout)
	defer cancel()
	s.publishCtx(ctx, history.EventStopped, rec)
}

// release cancels any start and terminates the current handle. It reports
// whether a handle was terminated, with its record for history.
func (s *Supervisor) release() (history.Record, bool) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.mu.Lock()
	s.gen++
	cancel := s.cancel
	s.cancel = nil
	proc := s.proc
	s.proc = nil
	rec := s.recordLocked()
	if proc != nil {
		rec.PID, rec.RunID = proc.PID(), proc.ID()
	}
	if s.state != Idle {
		s.setStateLocked(Idle)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel(ErrStopped)
	}
	if proc == nil {
		return history.Record{}, false
	}
	s.log.Info("stopping backend", "pid", proc.PID())
	s.terminate(proc)
	metrics.IncStop()
	rec.State = Idle.String()
	return rec, true
}

func (s *Supervisor) terminate(p Process) {
	if err := p.Terminate(s.opts.StopTimeout); err != nil {
		s.log.Warn("backend termination incomplete", "pid", p.PID(), "error", err)
	}
}

// watch consumes the exit of p. Only the current handle changes state.
func (s *Supervisor) watch(p Process, cancel context.CancelCauseFunc) {
	ex := <-p.Exited()

	s.mu.Lock()
	if s.proc != p {
		s.mu.Unlock()
		s.log.Debug("exit of released backend", "pid", p.PID(), "code", ex.Code)
		return
	}
	s.proc = nil
	during := s.state
	switch {
	case during == Ready:
		s.setStateLocked(Idle)
	case during.starting():
		cancel(fmt.Errorf("%w: exit code %d", ErrServerExited, ex.Code))
	}
	rec := s.recordLocked()
	rec.PID, rec.RunID = p.PID(), p.ID()
	if ex.Err != nil {
		rec.Error = ex.Err.Error()
	} else {
		rec.Error = fmt.Sprintf("exit code %d", ex.Code)
	}
	s.mu.Unlock()

	metrics.IncExit(during.String())
	s.log.Warn("backend exited", "pid", p.PID(), "code", ex.Code, "during", during)
	s.publish(history.EventExited, rec)
}

func (s *Supervisor) setStateLocked(to State) {
	from := s.state
	s.state = to
	metrics.RecordTransition(from.String(), to.String())
	s.log.Debug("state change", "from", from, "to", to)
}

func (s *Supervisor) recordLocked() history.Record {
	r := history.Record{
		Name:          s.opts.Name,
		DependentPath: s.dep,
		Port:          s.opts.Port,
		State:         s.state.String(),
	}
	if s.proc != nil {
		r.PID, r.RunID = s.proc.PID(), s.proc.ID()
	}
	if s.lastErr != nil {
		r.Error = s.lastErr.Error()
	}
	return r
}

func (s *Supervisor) publish(t history.EventType, rec history.Record) {
	s.publishCtx(context.Background(), t, rec)
}

func (s *Supervisor) publishCtx(ctx context.Context, t history.EventType, rec history.Record) {
	history.Publish(ctx, s.log, s.opts.History, history.Event{
		Type:       t,
		OccurredAt: s.opts.Clock.Now().UTC(),
		Record:     rec,
	})
}

var _ Process = (*launcher.Handle)(nil)
