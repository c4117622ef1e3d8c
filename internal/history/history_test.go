package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

func newMemSink(t *testing.T) *SQLSink {
	t.Helper()
	s, err := NewSQLSinkFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLSinkSendAndRecent(t *testing.T) {
	s := newMemSink(t)
	ctx := context.Background()
	created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	started := created.Add(2 * time.Minute)
	finished := started.Add(20 * time.Minute)

	job := store.Job{ID: 3, Name: "panel", Status: store.StatusCreated, Material: "mdf", CreatedAt: created}
	events := []Event{{Type: EventCreated, OccurredAt: created, Job: job}}
	job.Status, job.StartedAt = store.StatusRunning, &started
	events = append(events, Event{Type: EventStarted, OccurredAt: started, Job: job})
	job.Status, job.FinishedAt = store.StatusFinished, &finished
	events = append(events, Event{Type: EventStopped, OccurredAt: finished, Job: job})

	for _, e := range events {
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}
	if err := s.Send(ctx, Event{Type: EventCreated, OccurredAt: created, Job: store.Job{ID: 4, Name: "other", CreatedAt: created}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(ctx, 3, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("recent = %d events, want 3", len(got))
	}
	if got[0].Type != EventCreated || got[2].Type != EventStopped {
		t.Fatalf("unexpected order: %s..%s", got[0].Type, got[2].Type)
	}
	last := got[2].Job
	if last.Status != store.StatusFinished || last.Material != "mdf" || !last.CreatedAt.Equal(created) ||
		last.StartedAt == nil || !last.StartedAt.Equal(started) || last.FinishedAt == nil || !last.FinishedAt.Equal(finished) {
		t.Fatalf("unexpected job snapshot: %+v", last)
	}
	if got[0].Job.StartedAt != nil {
		t.Fatalf("created snapshot should have no start: %+v", got[0].Job)
	}

	tail, err := s.Recent(ctx, 3, 1)
	if err != nil || len(tail) != 1 || tail[0].Type != EventStopped {
		t.Fatalf("limited recent = %+v err=%v", tail, err)
	}
}

func TestSQLSinkBorrowedHandle(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLSink(context.Background(), db, "sqlite")
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	// a borrowed handle stays usable after the sink is closed
	if err := db.Ping(); err != nil {
		t.Fatalf("borrowed handle closed: %v", err)
	}
	if _, err := NewSQLSink(context.Background(), db, "mysql"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
}

func TestSQLSinkEmptyDSN(t *testing.T) {
	if _, err := NewSQLSinkFromDSN("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
