package testsupport

import (
	"context"
	"testing"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/store/sqlitestore"
)

// MustOpenStore opens the SQLite attendance store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *sqlitestore.Store {
	t.Helper()

	store, err := sqlitestore.Open(cfg.Database.SQLitePath, sqlitestore.Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// ImportSession seeds store with one class holding a single dated session
// instance for the given students.
func ImportSession(t testing.TB, store attendance.ScheduleImporter, instanceID int64, date, start, end string, students ...int64) {
	t.Helper()

	schedule := &attendance.Schedule{Classes: []attendance.Class{{
		ID:       1,
		Code:     "CS101",
		Name:     "Intro",
		Students: students,
		Sessions: []attendance.TimetableSession{{
			ID:        1,
			Start:     start,
			End:       end,
			Instances: []attendance.SessionInstance{{ID: instanceID, Date: date, Status: "scheduled"}},
		}},
	}}}
	if _, err := store.ImportSchedule(context.Background(), schedule); err != nil {
		t.Fatalf("import schedule: %v", err)
	}
}
