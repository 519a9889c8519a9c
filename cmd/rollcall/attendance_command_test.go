package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rollcall/internal/api"
	"rollcall/internal/attendance"
	"rollcall/internal/testsupport"
)

func TestAttendanceListReadsStoreWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	st := testsupport.MustOpenStore(t, env.cfg)
	at := time.Date(2026, 10, 19, 9, 5, 0, 0, time.UTC)
	for i, id := range []int64{7, 9} {
		_, err := st.UpsertMark(context.Background(), attendance.Mark{
			EventID:    "evt-" + string(rune('a'+i)),
			IdentityID: id,
			DateKey:    "2026-10-19",
			At:         at.Add(time.Duration(i) * time.Minute),
			Score:      0.8,
			Source:     "camera",
		})
		if err != nil {
			t.Fatalf("UpsertMark: %v", err)
		}
	}

	out, _, err := runCLI(t, env.configPath, "attendance", "list", "--json")
	if err != nil {
		t.Fatalf("attendance list: %v", err)
	}
	list := decodeJSON[api.AttendanceList](t, out)
	if len(list.Entries) != 2 {
		t.Fatalf("entries = %+v", list.Entries)
	}
	if list.Entries[0].IdentityID != 9 {
		t.Fatalf("expected newest mark first, got %+v", list.Entries[0])
	}

	out, _, err = runCLI(t, env.configPath, "attendance", "list", "-n", "1")
	if err != nil {
		t.Fatalf("attendance list: %v", err)
	}
	requireContains(t, out, "Identity")
	if _, _, err := runCLI(t, env.configPath, "attendance", "list", "-n", "0"); err == nil {
		t.Fatal("expected a zero limit to be rejected")
	}
}

const scheduleYAML = `classes:
  - id: 1
    code: CS101
    name: Intro to Programming
    students: [7, 9]
    sessions:
      - id: 10
        start: "09:00"
        end: "10:30"
        instances:
          - id: 100
            date: "2026-10-19"
          - id: 101
            date: "2026-10-26"
`

func TestScheduleImport(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	if err := os.WriteFile(path, []byte(scheduleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, env.configPath, "schedule", "import", path, "--dry-run")
	if err != nil {
		t.Fatalf("schedule import --dry-run: %v", err)
	}
	requireContains(t, out, "1 classes, 2 enrolments, 1 sessions, 2 session instances")

	out, _, err = runCLI(t, env.configPath, "schedule", "import", path)
	if err != nil {
		t.Fatalf("schedule import: %v", err)
	}
	requireContains(t, out, "Imported 1 classes")
}

func TestScheduleImportRejectsInvalidFile(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	if err := os.WriteFile(path, []byte("classes:\n  - id: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, env.configPath, "schedule", "import", path); err == nil {
		t.Fatal("expected an invalid schedule to be rejected")
	}
}
