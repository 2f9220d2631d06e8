package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/cloudsync/internal/health"
	"github.com/loykin/cloudsync/internal/history"
	"github.com/loykin/cloudsync/internal/launcher"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeClock advances virtual time on every Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// gate, when set, blocks Sleep until it is closed or ctx ends
	gate chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeResolver struct {
	path  string
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (r *fakeResolver) Resolve(ctx context.Context) (string, error) {
	r.calls.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.path, r.err
}

type fakeProc struct {
	pid    int
	id     string
	exited chan launcher.Exit
	once   sync.Once

	mu         sync.Mutex
	ready      bool
	terminated int
	// holdExit keeps Terminate from delivering the exit, like a slow reaper
	holdExit bool
}

func newFakeProc(pid int) *fakeProc {
	return &fakeProc{pid: pid, id: fmt.Sprintf("run-%d", pid), exited: make(chan launcher.Exit, 1)}
}

func (p *fakeProc) PID() int                     { return p.pid }
func (p *fakeProc) ID() string                   { return p.id }
func (p *fakeProc) Exited() <-chan launcher.Exit { return p.exited }

func (p *fakeProc) SetReady(v bool) {
	p.mu.Lock()
	p.ready = v
	p.mu.Unlock()
}

func (p *fakeProc) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *fakeProc) Terminate(time.Duration) error {
	p.mu.Lock()
	p.terminated++
	hold := p.holdExit
	p.mu.Unlock()
	if !hold {
		p.exit(-1)
	}
	return nil
}

func (p *fakeProc) HoldExit() {
	p.mu.Lock()
	p.holdExit = true
	p.mu.Unlock()
}

func (p *fakeProc) Terminated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// exit simulates the process ending on its own.
func (p *fakeProc) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.ready = false
		p.mu.Unlock()
		p.exited <- launcher.Exit{Code: code, At: time.Now()}
	})
}

type launchCall struct {
	dep  string
	port int
}

type fakeLauncher struct {
	mu      sync.Mutex
	calls   []launchCall
	procs   []*fakeProc
	err     error
	nextPID int
	gate    chan struct{}
}

func (l *fakeLauncher) Launch(ctx context.Context, dep string, port int) (Process, error) {
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, launchCall{dep, port})
	if l.err != nil {
		return nil, l.err
	}
	l.nextPID++
	p := newFakeProc(1000 + l.nextPID)
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) Calls() []launchCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]launchCall(nil), l.calls...)
}

func (l *fakeLauncher) Proc(i int) *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

// fakeProber simulates the health loop on the fake clock: it succeeds on
// attempt healthyFrom (0 = never) and waits interval between failures.
type fakeProber struct {
	clock       *fakeClock
	attempts    int
	interval    time.Duration
	timeout     time.Duration // charged per failed attempt when failSlow is set
	failSlow    bool
	healthyFrom int

	calls atomic.Int32
	// onPoll runs before probing, e.g. to crash the backend mid-poll
	onPoll func(ctx context.Context)
}

func (p *fakeProber) Poll(ctx context.Context, port int) health.Outcome {
	p.calls.Add(1)
	if p.onPoll != nil {
		p.onPoll(ctx)
	}
	start := p.clock.Now()
	out := health.Outcome{}
	for i := 1; i <= p.attempts; i++ {
		if err := ctx.Err(); err != nil {
			out.LastErr = err
			break
		}
		out.Attempts = i
		if p.healthyFrom > 0 && i >= p.healthyFrom {
			out.Succeeded = true
			out.LastErr = nil
			break
		}
		if p.failSlow {
			p.clock.advance(p.timeout)
		}
		out.LastErr = fmt.Errorf("unexpected status 503")
		if i < p.attempts {
			if err := p.clock.Sleep(ctx, p.interval); err != nil {
				out.LastErr = err
				break
			}
		}
	}
	out.Elapsed = p.clock.Now().Sub(start)
	return out
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *memSink) Types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// stallSink blocks Send for stalled event types until ctx ends.
type stallSink struct {
	stall   history.EventType
	entered chan struct{}
	once    sync.Once
}

func (s *stallSink) Send(ctx context.Context, e history.Event) error {
	if e.Type != s.stall {
		return nil
	}
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return ctx.Err()
}
