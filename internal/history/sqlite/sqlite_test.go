package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/recpanel/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	rec := history.Record{
		Name:       "recorder",
		PID:        12345,
		Executable: "/usr/bin/python3",
		WorkDir:    "/srv/rec",
		StartedAt:  time.Now().Add(-time.Minute),
		ExitCode:   -1,
	}
	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now(), Record: rec}); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}

	rec.StoppedAt = time.Now()
	rec.ExitCode = 0
	if err := sink.Send(ctx, history.Event{Type: history.EventStop, OccurredAt: rec.StoppedAt, Record: rec}); err != nil {
		t.Fatalf("Failed to send stop event: %v", err)
	}

	total, err := sink.Count(ctx, "")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 rows, got %d", total)
	}
	stops, err := sink.Count(ctx, history.EventStop)
	if err != nil || stops != 1 {
		t.Fatalf("expected 1 stop row, got %d (%v)", stops, err)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	e := history.Event{
		Type:       history.EventSpawnFailure,
		OccurredAt: time.Now(),
		Record:     history.Record{Name: "recorder", Executable: "/missing", Error: "no such file"},
	}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	n, err := sink.Count(context.Background(), history.EventSpawnFailure)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 spawn failure, got %d (%v)", n, err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
