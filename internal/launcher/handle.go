package launcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// killGrace bounds the wait for the reaper after a forced kill.
const killGrace = 2 * time.Second

// drainGrace bounds how long exit publication waits for trailing output.
const drainGrace = time.Second

// Exit describes how the backend ended. Code is -1 when it was killed by a signal.
type Exit struct {
	Code int
	Err  error
	At   time.Time
}

// Handle is one spawned backend. A single waiter goroutine reaps the child
// and publishes its Exit exactly once.
type Handle struct {
	RunID     string
	StartedAt time.Time

	cmd *exec.Cmd
	pid int
	log *slog.Logger

	mu      sync.Mutex
	running bool
	ready   bool
	exit    *Exit

	exited chan Exit
	done   chan struct{}
}

func newHandle(cmd *exec.Cmd, runID string, log *slog.Logger) *Handle {
	return &Handle{
		RunID:     runID,
		StartedAt: time.Now(),
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		log:       log,
		running:   true,
		exited:    make(chan Exit, 1),
		done:      make(chan struct{}),
	}
}

func (h *Handle) PID() int { return h.pid }

// ID returns the run identifier.
func (h *Handle) ID() string { return h.RunID }

func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// SetReady marks the backend healthy. It has no effect once the process exited.
func (h *Handle) SetReady(v bool) {
	h.mu.Lock()
	if h.running {
		h.ready = v
	}
	h.mu.Unlock()
}

// Exited delivers the exit once. Use Done to wait from more than one place.
func (h *Handle) Exited() <-chan Exit { return h.exited }

// Done is closed after the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitStatus returns the exit once the process has been reaped.
func (h *Handle) ExitStatus() (Exit, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exit == nil {
		return Exit{}, false
	}
	return *h.exit, true
}

func (h *Handle) run(outR, errR *os.File, sink *lineSink) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); drain(outR, Stdout, sink) }()
	go func() { defer wg.Done(); drain(errR, Stderr, sink) }()
	drained := make(chan struct{})
	go func() { wg.Wait(); close(drained) }()

	err := h.cmd.Wait()

	// helpers left in the process group may keep the pipes open
	t := time.NewTimer(drainGrace)
	select {
	case <-drained:
	case <-t.C:
		h.log.Warn("backend output still open after exit")
	}
	t.Stop()

	ex := Exit{Code: -1, Err: err, At: time.Now()}
	if st := h.cmd.ProcessState; st != nil {
		ex.Code = st.ExitCode()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// non-zero status is reported through Code
		ex.Err = nil
	}

	h.mu.Lock()
	h.running = false
	h.ready = false
	h.exit = &ex
	h.mu.Unlock()

	h.log.Info("backend exited", "pid", h.pid, "code", ex.Code, "error", ex.Err)
	h.exited <- ex
	close(h.done)

	go func() {
		<-drained
		if err := sink.Close(); err != nil {
			h.log.Warn("closing backend log files", "error", err)
		}
	}()
}

// Terminate asks the process group to stop, waits up to wait, then kills it.
// It returns nil once the process has been reaped and is safe to call repeatedly.
func (h *Handle) Terminate(wait time.Duration) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	h.log.Info("terminating backend", "pid", h.pid, "wait", wait)
	if err := terminateGroup(h.pid); err != nil {
		h.log.Warn("graceful termination failed", "pid", h.pid, "error", err)
	}
	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-h.done:
			t.Stop()
			return nil
		case <-t.C:
		}
	}
	h.log.Warn("backend did not stop in time, killing", "pid", h.pid)
	if err := killGroup(h.pid); err != nil {
		h.log.Warn("kill failed", "pid", h.pid, "error", err)
	}
	t := time.NewTimer(killGrace)
	defer t.Stop()
	select {
	case <-h.done:
		return nil
	case <-t.C:
		return fmt.Errorf("backend pid %d not reaped after kill", h.pid)
	}
}
