package logging_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/logging"
)

func TestConsoleLoggerFormatsComponentAndSubject(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	camLogger := logging.NewComponentLogger(logger, "camera").With(logging.CameraID(2))
	camLogger.Info("device opened", logging.String("backend", "v4l2"), logging.Int("width", 640))
	camLogger.Debug("hidden")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(content))
	if !strings.Contains(line, "INFO camera [cam 2]: device opened") {
		t.Fatalf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "backend=v4l2 width=640") {
		t.Fatalf("expected key=value attrs, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
	if strings.Contains(string(content), "hidden") {
		t.Fatal("debug record should be filtered at info level")
	}
}

func TestConsoleLoggerQuotesValues(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "quoted.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("template skipped", logging.String("label", "12 jane doe.jpg"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), `label="12 jane doe.jpg"`) {
		t.Fatalf("expected quoted value, got %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewRunLoggerWritesJSONRunFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	hub := logging.NewStreamHub(16)

	logger, runPath, err := logging.NewRunLogger(&cfg, logging.RunOptions{RunID: "0123456789abcdef", Hub: hub})
	if err != nil {
		t.Fatalf("NewRunLogger returned error: %v", err)
	}
	if !strings.HasSuffix(runPath, "-01234567.log") {
		t.Fatalf("unexpected run log path: %s", runPath)
	}

	logging.NewComponentLogger(logger, "recorder").Info("attendance marked", logging.IdentityID(1042))

	file, err := os.Open(runPath)
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatal("expected a JSON line in the run log")
	}
	var record map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
		t.Fatalf("decode run log line: %v", err)
	}
	if record["msg"] != "attendance marked" {
		t.Fatalf("unexpected msg: %v", record["msg"])
	}
	if record[logging.FieldRunID] != "0123456789abcdef" {
		t.Fatalf("expected run id in record, got %v", record[logging.FieldRunID])
	}
	if record["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", record["level"])
	}

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected one streamed event, got %d", len(events))
	}
	if events[0].Component != "recorder" || events[0].IdentityID != "1042" {
		t.Fatalf("unexpected streamed event: %+v", events[0])
	}
}

func TestRunLogName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if got := logging.RunLogName(ts, ""); got != "rollcall-20260304T050607Z.log" {
		t.Fatalf("unexpected name: %s", got)
	}
	if got := logging.RunLogName(ts, "abc"); got != "rollcall-20260304T050607Z-abc.log" {
		t.Fatalf("unexpected name: %s", got)
	}
}

func TestPruneRunLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "rollcall-20200101T000000Z.log")
	current := filepath.Join(dir, "rollcall-20200102T000000Z.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, current, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		stale := time.Now().AddDate(0, 0, -90)
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.PruneRunLogs(logging.NewNop(), dir, 30, current)
	if removed != 1 {
		t.Fatalf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected stale run log removed, err=%v", err)
	}
	for _, path := range []string{current, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
}
