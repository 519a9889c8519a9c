package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"rollcall/internal/config"
	"rollcall/internal/store"
)

func TestOpenSQLiteExposesCapabilities(t *testing.T) {
	cfg := config.Default()
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "rollcall.db")

	backend, err := store.Open(context.Background(), &cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	if err := backend.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if store.TemplateCache(backend) == nil {
		t.Fatal("expected sqlite to provide a template cache")
	}
	if store.ScheduleImporter(backend) == nil {
		t.Fatal("expected sqlite to import schedules")
	}
	if store.Pruner(backend) == nil {
		t.Fatal("expected sqlite to prune templates")
	}
	if store.Name(&cfg) != config.StoreSQLite {
		t.Fatalf("unexpected name %q", store.Name(&cfg))
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Attendance.Store = "redis"
	if _, err := store.Open(context.Background(), &cfg, nil); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}
