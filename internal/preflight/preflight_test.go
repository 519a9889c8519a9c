package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rollcall/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFaceService(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ok.Close()
	if result := CheckFaceService(context.Background(), ok.URL, time.Second); !result.Passed {
		t.Fatalf("expected a 404 root to count as reachable, got %s", result.Detail)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	if result := CheckFaceService(context.Background(), broken.URL, time.Second); result.Passed {
		t.Fatal("expected failure for a 502 response")
	}

	if result := CheckFaceService(context.Background(), "", time.Second); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

func TestCheckStore(t *testing.T) {
	if result := CheckStore(context.Background(), "sqlite", pingStub{}); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	result := CheckStore(context.Background(), "mysql", pingStub{err: errors.New("connection refused")})
	if result.Passed {
		t.Fatal("expected failure when ping fails")
	}
	if result.Name != "Attendance store (mysql)" {
		t.Fatalf("unexpected name %q", result.Name)
	}
}

func TestRunAllReportsDirectoriesAndStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = base
	cfg.Paths.PhotoDir = filepath.Join(base, "missing")
	cfg.Paths.CaptureDir = ""
	cfg.Camera.DiscoveryBackends = []string{"gstreamer"}
	cfg.Camera.OpenBackends = []string{"gstreamer"}
	cfg.Recognition.FaceServiceURL = srv.URL

	results := RunAll(context.Background(), &cfg, pingStub{})
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Photo directory" {
		t.Fatalf("expected only the photo directory to fail, got %+v", failed)
	}
	last := results[len(results)-1]
	if last.Name != "Attendance store (sqlite)" || !last.Passed {
		t.Fatalf("unexpected store result %+v", last)
	}
}
