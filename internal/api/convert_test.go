package api

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rollcall/internal/camera"
	"rollcall/internal/faces"
	"rollcall/internal/match"
	"rollcall/internal/scheduler"
)

func TestFromCameraInfoFlagsActive(t *testing.T) {
	info := camera.Info{
		State:    "reading",
		ActiveID: 2,
		Descriptors: []camera.Descriptor{
			{ID: 0, Name: "Camera 0", Backend: "v4l2", Width: 640, Height: 480, FPS: 30},
			{ID: 2, Name: "HD Webcam", Backend: "v4l2-mjpeg", Width: 1280, Height: 720, FPS: 30},
		},
	}
	got := FromCameraInfo(info)
	if got.LastScan != "" {
		t.Fatalf("zero scan time should be omitted, got %q", got.LastScan)
	}
	want := []Camera{
		{ID: 0, Name: "Camera 0", Backend: "v4l2", Width: 640, Height: 480, FPS: 30},
		{ID: 2, Name: "HD Webcam", Backend: "v4l2-mjpeg", Width: 1280, Height: 720, FPS: 30, Active: true},
	}
	if diff := cmp.Diff(want, got.Cameras); diff != "" {
		t.Fatalf("cameras mismatch (-want +got):\n%s", diff)
	}
}

func TestFromReplyCopiesMatches(t *testing.T) {
	id := int64(42)
	reply := scheduler.Reply{
		OK:      true,
		Message: "1 match(es)",
		Results: []match.Result{{IdentityID: &id, Label: "42_alice.jpg", Score: 0.91, Region: faces.Region{X: 1, Y: 2, W: 3, H: 4}}},
		Status:  &scheduler.Status{Health: scheduler.HealthOK, LastSampleAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	got := FromReply(reply)
	if len(got.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got.Matches))
	}
	id = 7
	if *got.Matches[0].IdentityID != 42 {
		t.Fatal("match identity must not alias the source result")
	}
	if got.Matches[0].Width != 3 || got.Matches[0].Height != 4 {
		t.Fatalf("unexpected region %+v", got.Matches[0])
	}
	if got.Loop == nil || got.Loop.LastSampleAt != "2026-03-02T09:00:00.000Z" {
		t.Fatalf("unexpected loop status %+v", got.Loop)
	}
	if got.Camera != nil {
		t.Fatal("camera should be omitted when the reply has none")
	}
}

func TestFromSnapshotListsTemplatesOnRequest(t *testing.T) {
	id := int64(7)
	snap := &faces.Snapshot{
		Templates: []faces.Template{{IdentityID: &id, Label: "7_bob.png", Feature: faces.Feature{1, 2, 3}}},
		Model:     "buffalo_l",
		Version:   3,
	}
	report := &faces.LoadReport{CacheHits: 1, Skipped: []faces.SkippedEntry{{Name: "x.jpg", Stage: "detect", Reason: "no face detected"}}}

	brief := FromSnapshot(snap, report, false)
	if brief.Count != 1 || brief.Templates != nil || len(brief.Skipped) != 1 {
		t.Fatalf("unexpected brief status %+v", brief)
	}
	full := FromSnapshot(snap, nil, true)
	if len(full.Templates) != 1 || full.Templates[0].Dim != 3 {
		t.Fatalf("unexpected template listing %+v", full.Templates)
	}
}
