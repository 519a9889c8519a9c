//go:build gstreamer

package gstreamer

import (
	"strings"
	"testing"

	"rollcall/internal/camera"
)

func TestBackendRegistered(t *testing.T) {
	if _, ok := camera.LookupBackend(BackendName); !ok {
		t.Fatal("gstreamer backend should register on import")
	}
}

func TestPipelineString(t *testing.T) {
	got := PipelineString(1, camera.Params{Width: 320, Height: 240})
	if !strings.HasPrefix(got, "v4l2src device=/dev/video1 ! videoconvert") {
		t.Fatalf("unexpected pipeline: %s", got)
	}
	if !strings.Contains(got, "format=RGB,width=320,height=240") {
		t.Fatalf("pipeline missing caps: %s", got)
	}
}
