//go:build integration

package pgstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"rollcall/internal/attendance"
	"rollcall/internal/faces"
)

func setupTestContainer(t *testing.T) *Store {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "rollcall",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	url := fmt.Sprintf("postgres://test:test@%s:%s/rollcall?sslmode=disable", host, port.Port())

	store, err := Open(ctx, url, Options{MaxOpenConns: 2, Location: time.UTC})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresStore(t *testing.T) {
	store := setupTestContainer(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("second Migrate: %v", err)
		}
	})

	t.Run("ImportAndLookup", func(t *testing.T) {
		schedule := &attendance.Schedule{Classes: []attendance.Class{{
			ID: 1, Code: "CS101", Name: "Intro", Status: "active", Students: []int64{42},
			Sessions: []attendance.TimetableSession{{
				ID: 10, Start: "09:00", End: "10:30",
				Instances: []attendance.SessionInstance{{ID: 100, Date: "2026-03-02", Status: "scheduled"}},
			}},
		}}}
		report, err := store.ImportSchedule(ctx, schedule)
		if err != nil {
			t.Fatalf("ImportSchedule: %v", err)
		}
		if report.Instances != 1 || report.Enrollments != 1 {
			t.Fatalf("unexpected report %+v", report)
		}
		session, ok, err := store.LookupActiveSession(ctx, 42, now)
		if err != nil || !ok || session.ID != 100 {
			t.Fatalf("got %+v ok=%v err=%v, want session 100", session, ok, err)
		}
		if !session.EndsAt.Equal(time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)) {
			t.Fatalf("unexpected end %s", session.EndsAt)
		}
		if _, ok, _ := store.LookupActiveSession(ctx, 7, now); ok {
			t.Fatal("expected no session for a student who is not enrolled")
		}
	})

	t.Run("UpsertMarks", func(t *testing.T) {
		day := attendance.Mark{EventID: "e1", IdentityID: 42, DateKey: "2026-03-02", At: now, Score: 0.7, Source: "camera"}
		if res, err := store.UpsertMark(ctx, day); err != nil || res != attendance.Inserted {
			t.Fatalf("first day upsert = %s, %v", res, err)
		}
		day.At = now.Add(time.Minute)
		if res, err := store.UpsertMark(ctx, day); err != nil || res != attendance.Updated {
			t.Fatalf("second day upsert = %s, %v", res, err)
		}
		session := attendance.Mark{EventID: "e2", IdentityID: 42, SessionID: 100, DateKey: "2026-03-02", At: now, Score: 0.8, Source: "camera"}
		if res, err := store.UpsertMark(ctx, session); err != nil || res != attendance.Inserted {
			t.Fatalf("session upsert = %s, %v", res, err)
		}
		entries, err := store.RecentMarks(ctx, 10)
		if err != nil {
			t.Fatalf("RecentMarks: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 marks, got %d", len(entries))
		}
		if entries[0].DateKey != "2026-03-02" {
			t.Fatalf("unexpected date key %q", entries[0].DateKey)
		}
	})

	t.Run("TemplateCache", func(t *testing.T) {
		key := faces.CacheKey{Label: "42_alice.jpg", Digest: "abc", Model: "buffalo_l"}
		if _, ok, err := store.LookupTemplate(ctx, key); err != nil || ok {
			t.Fatalf("expected a miss, got ok=%v err=%v", ok, err)
		}
		want := faces.Feature{0.25, -0.5, 1}
		if err := store.SaveTemplate(ctx, key, want); err != nil {
			t.Fatalf("SaveTemplate: %v", err)
		}
		got, ok, err := store.LookupTemplate(ctx, key)
		if err != nil || !ok {
			t.Fatalf("LookupTemplate ok=%v err=%v", ok, err)
		}
		if len(got) != len(want) || got[1] != want[1] {
			t.Fatalf("got %v, want %v", got, want)
		}
		removed, err := store.PruneTemplates(ctx, []string{"7_bob.jpg"})
		if err != nil || removed != 1 {
			t.Fatalf("PruneTemplates = %d, %v", removed, err)
		}
	})
}
