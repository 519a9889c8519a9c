package attendance_test

import (
	"strings"
	"testing"
	"time"

	"rollcall/internal/attendance"
)

const sampleSchedule = `
classes:
  - id: 1
    code: CS101
    students: [1042, 1043]
    sessions:
      - id: 10
        start: "09:00"
        end: "10:30"
        instances:
          - id: 100
            date: "2026-03-02"
          - id: 101
            date: "2026-03-09"
            status: in_progress
`

func TestParseScheduleDefaults(t *testing.T) {
	schedule, err := attendance.ParseSchedule([]byte(sampleSchedule))
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	class := schedule.Classes[0]
	if class.Name != "CS101" || class.Status != "active" {
		t.Fatalf("unexpected class defaults: %+v", class)
	}
	insts := class.Sessions[0].Instances
	if insts[0].Status != "scheduled" || insts[1].Status != "in_progress" {
		t.Fatalf("unexpected instance statuses: %+v", insts)
	}
}

func TestParseScheduleRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		edit func(string) string
		want string
	}{
		{"bad clock", func(s string) string { return strings.Replace(s, `"09:00"`, `"9am"`, 1) }, "want HH:MM"},
		{"end before start", func(s string) string { return strings.Replace(s, `"10:30"`, `"08:00"`, 1) }, "end must be after start"},
		{"bad date", func(s string) string { return strings.Replace(s, `"2026-03-02"`, `"02/03/2026"`, 1) }, "want YYYY-MM-DD"},
		{"duplicate instance", func(s string) string { return strings.Replace(s, "id: 101", "id: 100", 1) }, "unique"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := attendance.ParseSchedule([]byte(tt.edit(sampleSchedule)))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSessionWindow(t *testing.T) {
	start, end, err := attendance.SessionWindow("2026-03-02", "09:00:00", "10:30", time.UTC)
	if err != nil {
		t.Fatalf("SessionWindow: %v", err)
	}
	if !start.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window %s - %s", start, end)
	}
	if !attendance.ActiveWindow(end, start, end) {
		t.Fatal("window end is inclusive")
	}
	if attendance.ActiveWindow(end.Add(time.Second), start, end) {
		t.Fatal("after end must be inactive")
	}
}
