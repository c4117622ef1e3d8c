// Package storetest holds the behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// Run exercises db, which must have an empty, freshly created schema.
func Run(t *testing.T, db *store.DB) {
	t.Helper()
	t.Run("JobLifecycle", func(t *testing.T) { testJobLifecycle(t, db) })
	t.Run("Finalize", func(t *testing.T) { testFinalize(t, db) })
	t.Run("ActivePointer", func(t *testing.T) { testActivePointer(t, db) })
	t.Run("Records", func(t *testing.T) { testRecords(t, db) })
	t.Run("Introspection", func(t *testing.T) { testIntrospection(t, db) })
}

func mustCreate(t *testing.T, db *store.DB, name string) int64 {
	t.Helper()
	id, err := db.CreateJob(context.Background(), store.Job{Name: name, Material: "plywood", CreatedAt: t0})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return id
}

func mustGet(t *testing.T, db *store.DB, id int64) store.Job {
	t.Helper()
	j, err := db.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get %d: %v", id, err)
	}
	return j
}

func testJobLifecycle(t *testing.T, db *store.DB) {
	ctx := context.Background()
	id := mustCreate(t, db, "lifecycle")
	j := mustGet(t, db, id)
	if j.Status != store.StatusCreated || j.Material != "plywood" || j.StartedAt != nil || !j.CreatedAt.Equal(t0) {
		t.Fatalf("unexpected new job: %+v", j)
	}
	if _, err := db.GetJob(ctx, id+1000); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing job err = %v", err)
	}

	if ok, err := db.PauseJob(ctx, id); err != nil || ok {
		t.Fatalf("pause created job: ok=%v err=%v", ok, err)
	}
	if ok, err := db.StartJob(ctx, id, t0.Add(time.Minute)); err != nil || !ok {
		t.Fatalf("start: ok=%v err=%v", ok, err)
	}
	if ok, err := db.StartJob(ctx, id, t0.Add(2*time.Minute)); err != nil || ok {
		t.Fatalf("start running job: ok=%v err=%v", ok, err)
	}
	if ok, err := db.PauseJob(ctx, id); err != nil || !ok {
		t.Fatalf("pause: ok=%v err=%v", ok, err)
	}
	if ok, err := db.StartJob(ctx, id, t0.Add(5*time.Minute)); err != nil || !ok {
		t.Fatalf("resume: ok=%v err=%v", ok, err)
	}
	j = mustGet(t, db, id)
	if j.StartedAt == nil || !j.StartedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("resume must keep first start, got %v", j.StartedAt)
	}

	// a stop stamped before the start is clamped to the start
	if ok, err := db.FinishJob(ctx, id, store.StatusFinished, t0); err != nil || !ok {
		t.Fatalf("finish: ok=%v err=%v", ok, err)
	}
	j = mustGet(t, db, id)
	if j.Status != store.StatusFinished || j.FinishedAt == nil || !j.FinishedAt.Equal(*j.StartedAt) {
		t.Fatalf("unexpected finished job: %+v", j)
	}
	if ok, err := db.FinishJob(ctx, id, store.StatusFailed, t0.Add(time.Hour)); err != nil || ok {
		t.Fatalf("finish twice: ok=%v err=%v", ok, err)
	}

	if ok, err := db.ResetJob(ctx, id); err != nil || !ok {
		t.Fatalf("reset: ok=%v err=%v", ok, err)
	}
	j = mustGet(t, db, id)
	if j.Status != store.StatusCreated || j.StartedAt != nil || j.FinishedAt != nil {
		t.Fatalf("unexpected reset job: %+v", j)
	}

	later := mustCreate(t, db, "later")
	latest, err := db.LatestJob(ctx)
	if err != nil || latest.ID != later {
		t.Fatalf("latest = %+v err=%v, want id %d", latest, err, later)
	}
	all, err := db.ListJobs(ctx)
	if err != nil || len(all) < 2 || all[0].ID != later {
		t.Fatalf("list = %+v err=%v", all, err)
	}
}

func testFinalize(t *testing.T, db *store.DB) {
	ctx := context.Background()
	first, last := t0.Add(10*time.Minute), t0.Add(40*time.Minute)

	id := mustCreate(t, db, "finalize-created")
	if ok, err := db.FinalizeJob(ctx, id, first, last); err != nil || !ok {
		t.Fatalf("finalize: ok=%v err=%v", ok, err)
	}
	j := mustGet(t, db, id)
	if j.Status != store.StatusFinished || !j.StartedAt.Equal(first) || !j.FinishedAt.Equal(last) {
		t.Fatalf("unexpected finalized job: %+v", j)
	}

	failed := mustCreate(t, db, "finalize-failed")
	if _, err := db.StartJob(ctx, failed, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := db.FinishJob(ctx, failed, store.StatusFailed, t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := db.FinalizeJob(ctx, failed, first, last); err != nil {
		t.Fatal(err)
	}
	j = mustGet(t, db, failed)
	if j.Status != store.StatusFailed || !j.StartedAt.Equal(t0) || !j.FinishedAt.Equal(last) {
		t.Fatalf("finalize must keep status and start, overwrite finish: %+v", j)
	}
}

func testActivePointer(t *testing.T, db *store.DB) {
	ctx := context.Background()
	if err := db.ClearActiveJob(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := db.ActiveJob(ctx); err != nil || ok {
		t.Fatalf("expected no active job, ok=%v err=%v", ok, err)
	}
	for _, id := range []int64{7, 42} {
		if err := db.SetActiveJob(ctx, id); err != nil {
			t.Fatalf("set active %d: %v", id, err)
		}
		got, ok, err := db.ActiveJob(ctx)
		if err != nil || !ok || got != id {
			t.Fatalf("active = %d ok=%v err=%v, want %d", got, ok, err, id)
		}
	}
	if err := db.ClearActiveJob(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.ActiveJob(ctx); ok {
		t.Fatalf("active pointer survived clear")
	}
}

func testRecords(t *testing.T, db *store.DB) {
	ctx := context.Background()
	id := mustCreate(t, db, "records")
	empty, err := db.TelemetryBounds(ctx, id)
	if err != nil || empty.Count != 0 {
		t.Fatalf("bounds on empty job = %+v err=%v", empty, err)
	}

	for i := 0; i < 3; i++ {
		s := &store.TelemetrySample{
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			Source:    "test",
			State:     "Run",
			MPos:      store.Position{X: float64(i), Y: 1, Z: 2},
			Feed:      100 * float64(i),
			Spindle:   8000,
			JobID:     &id,
		}
		if i == 1 {
			s.WPos = &store.Position{X: 0.5}
		}
		if err := db.AppendTelemetry(ctx, s); err != nil || s.ID == 0 {
			t.Fatalf("append telemetry: id=%d err=%v", s.ID, err)
		}
	}
	if err := db.AppendTelemetry(ctx, &store.TelemetrySample{Timestamp: t0, State: "Idle"}); err != nil {
		t.Fatalf("append unattributed telemetry: %v", err)
	}

	b, err := db.TelemetryBounds(ctx, id)
	if err != nil || b.Count != 3 || !b.First.Equal(t0) || !b.Last.Equal(t0.Add(2*time.Second)) {
		t.Fatalf("bounds = %+v err=%v", b, err)
	}
	samples, err := db.Telemetry(ctx, store.Filter{JobID: &id})
	if err != nil || len(samples) != 3 {
		t.Fatalf("telemetry = %d err=%v", len(samples), err)
	}
	if samples[1].WPos == nil || samples[1].WPos.X != 0.5 || samples[0].WPos != nil || samples[2].Feed != 200 {
		t.Fatalf("unexpected samples: %+v", samples)
	}
	limited, err := db.Telemetry(ctx, store.Filter{JobID: &id, From: t0.Add(time.Second), Limit: 1})
	if err != nil || len(limited) != 1 || !limited[0].Timestamp.Equal(t0.Add(time.Second)) {
		t.Fatalf("filtered telemetry = %+v err=%v", limited, err)
	}

	e := &store.Event{Timestamp: t0, Level: "error", Category: "grbl", Type: "alarm", Code: "ALARM",
		Message: "ALARM:1", Raw: "ALARM:1", Meta: map[string]any{"run_id": "abc"}, JobID: &id}
	if err := db.AppendEvent(ctx, e); err != nil || e.ID == 0 {
		t.Fatalf("append event: %v", err)
	}
	events, err := db.Events(ctx, store.Filter{JobID: &id})
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %+v err=%v", events, err)
	}
	if events[0].Code != "ALARM" || events[0].Meta["run_id"] != "abc" || *events[0].JobID != id {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func testIntrospection(t *testing.T, db *store.DB) {
	ctx := context.Background()
	cols, err := db.Columns(ctx, store.TableTelemetry)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"id": false, "ts_utc": false, "state": false, "feed": false, "spindle": false, "job_id": false}
	for _, c := range cols {
		if _, ok := want[c]; ok {
			want[c] = true
		}
	}
	for c, seen := range want {
		if !seen {
			t.Fatalf("column %s missing from %v", c, cols)
		}
	}
	none, err := db.Columns(ctx, "no_such_table")
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown table columns = %v err=%v", none, err)
	}

	id := mustCreate(t, db, "select")
	for i, f := range []float64{3, 1, 2} {
		if err := db.AppendTelemetry(ctx, &store.TelemetrySample{
			Timestamp: t0.Add(time.Duration(i) * time.Second), State: "Run", Feed: f, JobID: &id,
		}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := db.SelectWhere(ctx, store.Selection{
		Table: store.TableTelemetry, Columns: []string{"state", "feed"}, KeyColumn: "job_id", Key: id, OrderBy: "id",
	})
	if err != nil || len(rows) != 3 {
		t.Fatalf("select = %v err=%v", rows, err)
	}
	for i, want := range []float64{3, 1, 2} {
		if got, ok := rows[i][1].(float64); !ok || got != want {
			t.Fatalf("row %d feed = %#v, want %v", i, rows[i][1], want)
		}
	}
	if _, err := db.SelectWhere(ctx, store.Selection{Table: store.TableTelemetry}); err == nil {
		t.Fatalf("expected error for empty selection")
	}
}
