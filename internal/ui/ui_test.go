package ui

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestConsoleFatal(t *testing.T) {
	var out, logs bytes.Buffer
	c := NewConsole(&out, "", slog.New(slog.NewTextHandler(&logs, nil)))
	c.Fatal("Rclone Not Found", "nothing on PATH")
	if got := out.String(); got != "Rclone Not Found\n\nnothing on PATH\n" {
		t.Fatalf("unexpected output %q", got)
	}
	if !strings.Contains(logs.String(), `title="Rclone Not Found"`) {
		t.Fatalf("fatal not logged: %s", logs.String())
	}
}

func TestConsoleShowMain(t *testing.T) {
	var out bytes.Buffer
	NewConsole(&out, "http://localhost:8989", nil).ShowMain()
	if !strings.Contains(out.String(), "http://localhost:8989") {
		t.Fatalf("url missing: %q", out.String())
	}
	out.Reset()
	NewConsole(&out, "", nil).ShowMain()
	if out.String() != "backend ready\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRecorderConcurrent(t *testing.T) {
	var r Recorder
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); r.Fatal("t", "m") }()
		go func() { defer wg.Done(); r.ShowMain() }()
	}
	wg.Wait()
	if len(r.Fatals()) != 10 || r.Shown() != 10 {
		t.Fatalf("fatals=%d shown=%d", len(r.Fatals()), r.Shown())
	}
}
