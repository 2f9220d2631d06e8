package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/cloudsync/internal/history"
)

func event(t history.EventType, state string, at time.Time) history.Event {
	return history.Event{
		Type:       t,
		OccurredAt: at,
		Record: history.Record{
			RunID:         "6f1c2d3e-run",
			Name:          "sync-server",
			PID:           12345,
			DependentPath: "/Applications/CloudSync.app/Contents/Resources/rclone-binaries/darwin-arm64/rclone",
			Port:          8989,
			State:         state,
		},
	}
}

func TestSQLiteSink_RoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	if err := sink.Send(ctx, event(history.EventStart, "launching", now)); err != nil {
		t.Fatalf("send start: %v", err)
	}
	failed := event(history.EventFailed, "failed", now.Add(time.Second))
	failed.Record.Error = "health check timed out"
	if err := sink.Send(ctx, failed); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	got, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != history.EventFailed || got[0].Record.Error != "health check timed out" {
		t.Fatalf("newest event first expected, got %+v", got[0])
	}
	if got[1].Record.Port != 8989 || got[1].Record.PID != 12345 || got[1].Record.RunID != "6f1c2d3e-run" {
		t.Fatalf("record fields lost: %+v", got[1].Record)
	}
}

func TestSQLiteSink_ReopenKeepsEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	s1, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Send(context.Background(), event(history.EventReady, "ready", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	_ = s1.Close()

	s2, err := New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	got, err := s2.Recent(context.Background(), 0)
	if err != nil || len(got) != 1 || got[0].Type != history.EventReady {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), event(history.EventStopped, "idle", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	got, _ := sink.Recent(context.Background(), 1)
	if len(got) != 1 {
		t.Fatalf("expected one event")
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
