package camera

import (
	"strings"
	"testing"
)

func TestEmbeddedProfilesParse(t *testing.T) {
	profiles, err := LoadProfiles()
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	linux := profiles.forOS("linux")
	if len(linux) != 2 || linux[0].Name != "v4l2" || linux[1].Name != "v4l2-mjpeg" {
		t.Fatalf("unexpected linux profiles: %+v", linux)
	}
	if darwin := profiles.forOS("darwin"); len(darwin) != 1 || darwin[0].Name != "avfoundation" {
		t.Fatalf("unexpected darwin profiles: %+v", darwin)
	}
}

func TestParseProfilesRejectsIncompleteEntries(t *testing.T) {
	_, err := parseProfiles([]byte("profiles:\n  - name: broken\n    format: v4l2\n"))
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected error naming the profile, got %v", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	b := NewFFmpegBackend("", Profile{
		Name:      "v4l2-mjpeg",
		Format:    "v4l2",
		Device:    "/dev/video{index}",
		InputArgs: []string{"-input_format", "mjpeg"},
	})
	args := strings.Join(b.Args(3, Params{Width: 320, Height: 240, FPS: 15}), " ")
	want := "-hide_banner -loglevel error -nostdin -f v4l2 -input_format mjpeg -video_size 320x240 -framerate 15 " +
		"-i /dev/video3 -vf scale=320:240 -f rawvideo -pix_fmt rgb24 -"
	if args != want {
		t.Fatalf("unexpected args:\n got %s\nwant %s", args, want)
	}
	if b.binary != "ffmpeg" {
		t.Fatalf("expected default binary, got %q", b.binary)
	}
}

func TestTailBufferKeepsSuffix(t *testing.T) {
	buf := &tailBuffer{limit: 8}
	_, _ = buf.Write([]byte("0123456789"))
	_, _ = buf.Write([]byte("ab"))
	if got := buf.String(); got != "456789ab" {
		t.Fatalf("unexpected tail %q", got)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry(newFakeBackend("Zeta", nil), newFakeBackend("alpha", nil))
	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("unexpected names: %v", names)
	}
	if _, ok := r.Lookup(" ZETA "); !ok {
		t.Fatal("lookup should be case-insensitive")
	}
}
