package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"rollcall/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options. The API binds
// an ephemeral port and the face service points at a closed port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.PhotoDir = filepath.Join(base, "photos")
	cfgVal.Paths.CaptureDir = filepath.Join(base, "captures")
	cfgVal.Database.SQLitePath = filepath.Join(base, "state", "rollcall.db")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.API.Token = ""
	cfgVal.Recognition.FaceServiceURL = "http://127.0.0.1:1"
	cfgVal.Recognition.WatchPhotos = false
	cfgVal.Camera.Hotplug = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAttendanceMode sets the attendance mode and enables recording.
func WithAttendanceMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Attendance.Enabled = true
		b.cfg.Attendance.Mode = mode
	}
}

// WithoutAttendance disables attendance recording.
func WithoutAttendance() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Attendance.Enabled = false
	}
}

// WithFaceService points recognition at url, typically an httptest server.
func WithFaceService(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Recognition.FaceServiceURL = url
	}
}

// WithAPIToken requires bearer authentication on the control API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the external binaries rollcall
// checks for are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "gst-inspect-1.0"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
