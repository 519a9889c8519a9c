package camera

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
)

// writeCaptureStub installs a script that writes the given number of 2x2
// RGB24 frames and exits at once.
func writeCaptureStub(t *testing.T, frames int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\ni=0\nwhile [ $i -lt " + strconv.Itoa(frames) + " ]; do printf 'abcdefghijkl'; i=$((i+1)); done\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestFFmpegDeviceReadsFramesWrittenBeforeExit(t *testing.T) {
	binary := writeCaptureStub(t, 3)
	b := NewFFmpegBackend(binary, Profile{Name: "v4l2", Format: "v4l2", Device: "/dev/video{index}"})

	dev, err := b.Open(context.Background(), 0, Params{Width: 2, Height: 2, FPS: 10})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	for i := 0; i < 3; i++ {
		frame, err := dev.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if string(frame.Data) != "abcdefghijkl" {
			t.Fatalf("frame %d = %q", i, frame.Data)
		}
	}
	if _, err := dev.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after the process exited, got %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
