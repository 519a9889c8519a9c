package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"rollcall/internal/api"
	"rollcall/internal/deps"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestDaemonStatusLines(t *testing.T) {
	status := &api.DaemonStatus{
		Running: true,
		PID:     42,
		Loop:    api.LoopStatus{Health: "ok", FramesRead: 90, FramesSampled: 30, FramesMatched: 4},
		Camera: api.CameraStatus{
			State:    "reading",
			ActiveID: 1,
			Backend:  "v4l2",
			Cameras:  []api.Camera{{ID: 0}, {ID: 1}},
		},
		Templates: api.TemplateStatus{Count: 12, Skipped: []api.SkippedPhoto{{Name: "x.jpg"}}},
		Attendance: api.AttendanceStatus{
			Enabled:     true,
			Mode:        "session",
			Store:       "mysql",
			Marked:      3,
			StoreErrors: 1,
			LastError:   "connection refused",
		},
	}
	joined := strings.Join(daemonStatusLines(status, false), "\n")
	for _, want := range []string{
		"[OK] Running (pid 42)",
		"[OK] ok",
		"[OK] #1 via v4l2 (2 discovered)",
		"90 read, 30 sampled, 4 matched",
		"[WARN] 12 loaded, 1 skipped",
		"[WARN] session via mysql: 3 marked",
		"1 store errors",
		"connection refused",
	} {
		requireContains(t, joined, want)
	}

	stopped := daemonStatusLines(nil, false)
	if len(stopped) != 1 || !strings.Contains(stopped[0], "[ERROR] Not running") {
		t.Fatalf("unexpected lines for stopped daemon: %q", stopped)
	}
}

func TestDaemonStatusLinesCameraFault(t *testing.T) {
	status := &api.DaemonStatus{
		Loop:   api.LoopStatus{Health: "camera_fault"},
		Camera: api.CameraStatus{State: "failed"},
	}
	joined := strings.Join(daemonStatusLines(status, false), "\n")
	requireContains(t, joined, "[ERROR] camera_fault")
	requireContains(t, joined, "[ERROR] failed (0 discovered)")
	requireContains(t, joined, "[INFO] Disabled")
}

func TestDependencyLines(t *testing.T) {
	lines := dependencyLines([]deps.Status{
		{Name: "FFmpeg", Command: "ffmpeg", Available: true},
		{Name: "GStreamer", Optional: true, Detail: "gst-inspect-1.0 not found"},
		{Name: "v4l2-ctl"},
	}, false)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), lines)
	}
	requireContains(t, lines[0], "[OK] Ready (command: ffmpeg)")
	requireContains(t, lines[1], "[WARN] gst-inspect-1.0 not found")
	requireContains(t, lines[2], "[ERROR] not available")
	requireContains(t, lines[3], "Missing dependencies:")
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "[ERROR] Not running")
	requireContains(t, out, "== Preflight ==")
	requireContains(t, out, "Photo directory:")
}
