package launcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/cloudsync/internal/env"
	"github.com/loykin/cloudsync/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// recorder collects output lines per stream.
type recorder struct {
	mu    sync.Mutex
	lines map[Stream][]string
	seen  chan string
}

func newRecorder() *recorder {
	return &recorder{lines: map[Stream][]string{}, seen: make(chan string, 64)}
}

func (r *recorder) Line(s Stream, line string) {
	r.mu.Lock()
	r.lines[s] = append(r.lines[s], line)
	r.mu.Unlock()
	select {
	case r.seen <- line:
	default:
	}
}

func (r *recorder) get(s Stream) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines[s]...)
}

func (r *recorder) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case l := <-r.seen:
			if l == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for output %q", want)
		}
	}
}

func writeServer(t *testing.T, dir, script string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, DefaultBinary), []byte("#!/bin/sh\n"+script), mode); err != nil {
		t.Fatal(err)
	}
}

func waitDone(t *testing.T, h *Handle) Exit {
	t.Helper()
	select {
	case ex := <-h.Exited():
		return ex
	case <-time.After(10 * time.Second):
		t.Fatalf("backend did not exit")
	}
	return Exit{}
}

func TestMissingBinary(t *testing.T) {
	l := New(Options{ResourcesDir: t.TempDir(), Logger: quiet()})
	_, err := l.Launch(context.Background(), "/usr/bin/rclone", 8989)
	if !errors.Is(err, ErrServerBinaryMissing) {
		t.Fatalf("expected ErrServerBinaryMissing, got %v", err)
	}
}

func TestDirectoryIsNotABinary(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, DefaultBinary), 0o755); err != nil {
		t.Fatal(err)
	}
	l := New(Options{ResourcesDir: dir, Logger: quiet()})
	if _, err := l.Launch(context.Background(), "rclone", 1); !errors.Is(err, ErrServerBinaryMissing) {
		t.Fatalf("expected ErrServerBinaryMissing, got %v", err)
	}
}

func TestCancelledContextDoesNotSpawn(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	writeServer(t, dir, "echo should-not-run\n", 0o755)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := New(Options{ResourcesDir: dir, Logger: quiet()})
	if _, err := l.Launch(ctx, "rclone", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEnvironmentInjection(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	writeServer(t, dir, `echo "port=$CLOUDSYNC_PORT"
echo "rclone=$CLOUDSYNC_RCLONE_PATH"
echo "extra=$SYNC_MODE" 1>&2
`, 0o755)

	rec := newRecorder()
	base := env.New().WithBase([]string{"CLOUDSYNC_PORT=1", "CLOUDSYNC_RCLONE_PATH=/wrong", "SYNC_MODE=mirror"})
	l := New(Options{ResourcesDir: dir, Env: base, Sink: rec, Logger: quiet()})
	h, err := l.Launch(context.Background(), "/opt/rclone", 8989)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if h.PID() <= 0 || h.RunID == "" {
		t.Fatalf("handle missing identity: pid=%d run=%q", h.PID(), h.RunID)
	}
	ex := waitDone(t, h)
	if ex.Code != 0 || ex.Err != nil {
		t.Fatalf("unexpected exit %+v", ex)
	}
	out := strings.Join(rec.get(Stdout), "\n")
	if !strings.Contains(out, "port=8989") || !strings.Contains(out, "rclone=/opt/rclone") {
		t.Fatalf("fixed variables not injected, stdout=%q", out)
	}
	if got := rec.get(Stderr); len(got) != 1 || got[0] != "extra=mirror" {
		t.Fatalf("stderr=%q", got)
	}
}

func TestExitObservedAndStateCleared(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	writeServer(t, dir, "exit 7\n", 0o755)
	l := New(Options{ResourcesDir: dir, Env: env.New(), Logger: quiet()})
	h, err := l.Launch(context.Background(), "rclone", 1)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	h.SetReady(true)
	ex := waitDone(t, h)
	if ex.Code != 7 {
		t.Fatalf("exit code=%d, want 7", ex.Code)
	}
	<-h.Done()
	if h.Running() || h.Ready() {
		t.Fatalf("exit must clear running and ready")
	}
	h.SetReady(true)
	if h.Ready() {
		t.Fatalf("ready must not be set after exit")
	}
	if got, ok := h.ExitStatus(); !ok || got.Code != 7 {
		t.Fatalf("exit status not recorded: %+v %v", got, ok)
	}
	if err := h.Terminate(time.Second); err != nil {
		t.Fatalf("terminate after exit should be a no-op: %v", err)
	}
}

func TestExecuteBitIsAdded(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	writeServer(t, dir, "exit 0\n", 0o644)
	l := New(Options{ResourcesDir: dir, Env: env.New(), Logger: quiet()})
	h, err := l.Launch(context.Background(), "rclone", 1)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitDone(t, h)
	fi, _ := os.Stat(l.ServerPath())
	if fi.Mode().Perm()&0o100 == 0 {
		t.Fatalf("execute bit missing: %v", fi.Mode())
	}
}

func TestTerminateGraceful(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	writeServer(t, dir, "echo up\nsleep 30\n", 0o755)
	rec := newRecorder()
	l := New(Options{ResourcesDir: dir, Sink: rec, Logger: quiet()})
	h, err := l.Launch(context.Background(), "rclone", 1)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	rec.waitFor(t, "up")
	start := time.Now()
	if err := h.Terminate(3 * time.Second); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if time.Since(start) > 2500*time.Millisecond {
		t.Fatalf("SIGTERM should have stopped the group quickly")
	}
	if h.Running() {
		t.Fatalf("still running after terminate")
	}
	if err := h.Terminate(time.Second); err != nil {
		t.Fatalf("second terminate: %v", err)
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	writeServer(t, dir, "trap '' TERM\necho armed\nwhile :; do sleep 1; done\n", 0o755)
	rec := newRecorder()
	l := New(Options{ResourcesDir: dir, Sink: rec, Logger: quiet()})
	h, err := l.Launch(context.Background(), "rclone", 1)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	rec.waitFor(t, "armed")
	if err := h.Terminate(200 * time.Millisecond); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	ex, ok := h.ExitStatus()
	if !ok || ex.Code != -1 {
		t.Fatalf("expected a signalled exit, got %+v", ex)
	}
}

func TestLongLinesAreDrained(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	writeServer(t, dir, "printf '%0200000d\\n' 0\necho after\n", 0o755)
	rec := newRecorder()
	l := New(Options{ResourcesDir: dir, Env: env.New(), Sink: rec, Logger: quiet()})
	h, err := l.Launch(context.Background(), "rclone", 1)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if ex := waitDone(t, h); ex.Code != 0 {
		t.Fatalf("exit=%+v", ex)
	}
	lines := rec.get(Stdout)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if len(lines[0]) != maxLine {
		t.Fatalf("long line should be cut to %d, got %d", maxLine, len(lines[0]))
	}
	if lines[1] != "after" {
		t.Fatalf("output after a long line was lost: %q", lines[1])
	}
}

func TestOutputMirroredToFiles(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	logDir := filepath.Join(t.TempDir(), "logs")
	writeServer(t, dir, "echo hello-out\necho hello-err 1>&2\n", 0o755)
	l := New(Options{
		ResourcesDir: dir,
		Env:          env.New(),
		Log:          logger.Config{File: logger.FileConfig{Dir: logDir}},
		Logger:       quiet(),
	})
	h, err := l.Launch(context.Background(), "rclone", 1)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitDone(t, h)
	for file, want := range map[string]string{
		"sync-server.stdout.log": "hello-out\n",
		"sync-server.stderr.log": "hello-err\n",
	} {
		b, err := os.ReadFile(filepath.Join(logDir, file))
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if string(b) != want {
			t.Fatalf("%s=%q want %q", file, b, want)
		}
	}
}

func TestDrainHandlesMissingTrailingNewline(t *testing.T) {
	rec := newRecorder()
	drain(io.NopCloser(strings.NewReader("one\r\n\ntwo")), Stdout, rec)
	got := rec.get(Stdout)
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("got %q", got)
	}
}

func TestBinaryNameOnWindows(t *testing.T) {
	l := New(Options{ResourcesDir: "res", Binary: "sync-server"})
	want := "sync-server"
	if runtime.GOOS == "windows" {
		want += ".exe"
	}
	if filepath.Base(l.ServerPath()) != want {
		t.Fatalf("got %s", l.ServerPath())
	}
}
