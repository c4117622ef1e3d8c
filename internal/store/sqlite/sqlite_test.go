package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store/storetest"
)

func TestSQLiteStore(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	storetest.Run(t, db)
}

func TestSQLiteEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSQLiteFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cnc.db")
	ctx := context.Background()

	db, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	id, err := db.CreateJob(ctx, store.Job{Name: "persist", CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetActiveJob(ctx, id); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	// schema creation is idempotent
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	got, ok, err := db.ActiveJob(ctx)
	if err != nil || !ok || got != id {
		t.Fatalf("active after reopen = %d ok=%v err=%v", got, ok, err)
	}
	var raw string
	if err := db.Conn().QueryRow(`SELECT created_ts_utc FROM jobs WHERE id = ?`, id).Scan(&raw); err != nil {
		t.Fatal(err)
	}
	if raw != "2024-01-02T03:04:05.000000Z" {
		t.Fatalf("stored timestamp = %q", raw)
	}
}

func TestSQLiteUnparsableActivePointer(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Conn().Exec(`INSERT INTO app_state(key, value) VALUES('active_job_id', 'oops')`); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := db.ActiveJob(ctx); err != nil || ok {
		t.Fatalf("garbage pointer must read as unset, ok=%v err=%v", ok, err)
	}
}
