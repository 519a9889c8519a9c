package sqlitestore_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"rollcall/internal/attendance"
	"rollcall/internal/faces"
	"rollcall/internal/store/sqlitestore"
)

func openStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "rollcall.db"), sqlitestore.Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var monday = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

func TestUpsertMarkByDay(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	mark := attendance.Mark{EventID: "e1", IdentityID: 42, DateKey: "2026-03-02", At: monday, Score: 0.7, Source: "camera"}

	res, err := store.UpsertMark(ctx, mark)
	if err != nil || res != attendance.Inserted {
		t.Fatalf("first upsert = %s, %v; want inserted", res, err)
	}
	mark.EventID = "e2"
	mark.At = monday.Add(time.Minute)
	mark.Score = 0.9
	res, err = store.UpsertMark(ctx, mark)
	if err != nil || res != attendance.Updated {
		t.Fatalf("second upsert = %s, %v; want updated", res, err)
	}
	mark.DateKey = "2026-03-03"
	mark.At = monday.Add(24 * time.Hour)
	if res, _ := store.UpsertMark(ctx, mark); res != attendance.Inserted {
		t.Fatalf("next day upsert = %s, want inserted", res)
	}

	entries, err := store.RecentMarks(ctx, 10)
	if err != nil {
		t.Fatalf("RecentMarks: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(entries))
	}
	want := attendance.Entry{
		EventID:    "e1",
		IdentityID: 42,
		DateKey:    "2026-03-02",
		Status:     "present",
		At:         monday.Add(time.Minute),
		Score:      0.9,
		Source:     "camera",
	}
	if diff := cmp.Diff(want, entries[1]); diff != "" {
		t.Fatalf("day row mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertMarkBySession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	mark := attendance.Mark{EventID: "e1", IdentityID: 42, SessionID: 100, DateKey: "2026-03-02", At: monday}

	if res, err := store.UpsertMark(ctx, mark); err != nil || res != attendance.Inserted {
		t.Fatalf("first upsert = %s, %v", res, err)
	}
	if res, err := store.UpsertMark(ctx, mark); err != nil || res != attendance.Updated {
		t.Fatalf("second upsert = %s, %v", res, err)
	}
	mark.SessionID = 101
	if res, err := store.UpsertMark(ctx, mark); err != nil || res != attendance.Inserted {
		t.Fatalf("other session upsert = %s, %v", res, err)
	}
	// A day row and session rows for the same identity do not collide.
	mark.SessionID = 0
	if res, err := store.UpsertMark(ctx, mark); err != nil || res != attendance.Inserted {
		t.Fatalf("day upsert = %s, %v", res, err)
	}
}

const schedule = `
classes:
  - id: 1
    code: CS101
    students: [42]
    sessions:
      - id: 10
        start: "09:00"
        end: "10:30"
        instances:
          - id: 100
            date: "2026-03-02"
          - id: 101
            date: "2026-03-09"
  - id: 2
    code: OLD
    status: archived
    students: [42]
    sessions:
      - id: 20
        start: "09:00"
        end: "12:00"
        instances:
          - id: 200
            date: "2026-03-02"
`

func TestLookupActiveSession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	parsed, err := attendance.ParseSchedule([]byte(schedule))
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	report, err := store.ImportSchedule(ctx, parsed)
	if err != nil {
		t.Fatalf("ImportSchedule: %v", err)
	}
	if diff := cmp.Diff(attendance.ImportReport{Classes: 2, Enrollments: 2, Sessions: 2, Instances: 3}, report); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	// Re-importing the same file is an upsert.
	if _, err := store.ImportSchedule(ctx, parsed); err != nil {
		t.Fatalf("re-import: %v", err)
	}

	tests := []struct {
		name     string
		identity int64
		now      time.Time
		want     int64
	}{
		{"inside window", 42, monday, 100},
		{"window end inclusive", 42, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), 100},
		{"after class", 42, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), 0},
		{"other week", 42, monday.Add(7 * 24 * time.Hour), 101},
		{"not enrolled", 7, monday, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, ok, err := store.LookupActiveSession(ctx, tt.identity, tt.now)
			if err != nil {
				t.Fatalf("LookupActiveSession: %v", err)
			}
			if tt.want == 0 {
				if ok {
					t.Fatalf("expected no session, got %+v", session)
				}
				return
			}
			if !ok || session.ID != tt.want {
				t.Fatalf("got session %+v ok=%v, want %d", session, ok, tt.want)
			}
			if session.EndsAt.Hour() != 10 || session.EndsAt.Minute() != 30 {
				t.Fatalf("unexpected session end %s", session.EndsAt)
			}
		})
	}
}

func TestTemplateCache(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	key := faces.CacheKey{Label: "1042_a.jpg", Digest: "abc", Model: "buffalo_l"}

	if _, ok, err := store.LookupTemplate(ctx, key); err != nil || ok {
		t.Fatalf("expected cache miss, got ok=%v err=%v", ok, err)
	}
	feature := faces.Feature{0.25, -1, 3.5}
	if err := store.SaveTemplate(ctx, key, feature); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	got, ok, err := store.LookupTemplate(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected cache hit, got ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(feature, got); diff != "" {
		t.Fatalf("feature mismatch (-want +got):\n%s", diff)
	}
	other := key
	other.Model = "antelope"
	if _, ok, _ := store.LookupTemplate(ctx, other); ok {
		t.Fatal("a different model must miss")
	}

	if err := store.SaveTemplate(ctx, faces.CacheKey{Label: "gone.jpg", Digest: "d", Model: "m"}, feature); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	removed, err := store.PruneTemplates(ctx, []string{"1042_a.jpg"})
	if err != nil || removed != 1 {
		t.Fatalf("PruneTemplates = %d, %v; want 1", removed, err)
	}
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollcall.db")
	store, err := sqlitestore.Open(path, sqlitestore.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := sqlitestore.Open(path, sqlitestore.Options{}); !errors.Is(err, sqlitestore.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
