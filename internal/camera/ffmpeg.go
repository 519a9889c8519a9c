package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const stderrTailBytes = 2048

// FFmpegBackend captures through an ffmpeg subprocess that writes raw RGB24
// frames to stdout.
type FFmpegBackend struct {
	binary  string
	profile Profile
}

// NewFFmpegBackend returns a backend for one capture profile.
func NewFFmpegBackend(binary string, profile Profile) *FFmpegBackend {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegBackend{binary: binary, profile: profile}
}

// Name returns the profile name.
func (b *FFmpegBackend) Name() string { return b.profile.Name }

// Args returns the ffmpeg argument list used to open index.
func (b *FFmpegBackend) Args(index int, want Params) []string {
	want = normalizeParams(want)
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-f", b.profile.Format}
	for _, arg := range b.profile.InputArgs {
		args = append(args, strings.ReplaceAll(arg, "{index}", strconv.Itoa(index)))
	}
	args = append(args,
		"-video_size", fmt.Sprintf("%dx%d", want.Width, want.Height),
		"-framerate", strconv.FormatFloat(want.FPS, 'f', -1, 64),
		"-i", b.profile.DevicePath(index),
		"-vf", fmt.Sprintf("scale=%d:%d", want.Width, want.Height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	)
	return args
}

// Open starts ffmpeg for the device. The process outlives ctx; it stops on Close.
// Frames travel over a pipe the device owns, so Wait never closes the read
// side and frames written before ffmpeg exits stay readable.
func (b *FFmpegBackend) Open(ctx context.Context, index int, want Params) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want = normalizeParams(want)
	stdout, pipeWriter, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	cmd := exec.Command(b.binary, b.Args(index, want)...) //nolint:gosec
	cmd.Stdout = pipeWriter
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr
	err = cmd.Start()
	// The child holds its own copy of the write end.
	_ = pipeWriter.Close()
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("start %s for camera %d: %w", b.binary, index, err)
	}
	dev := &ffmpegDevice{
		cmd:       cmd,
		stdout:    stdout,
		reader:    bufio.NewReaderSize(stdout, want.Width*want.Height*3),
		stderr:    stderr,
		params:    want,
		frameSize: want.Width * want.Height * 3,
		done:      make(chan struct{}),
	}
	go func() {
		dev.waitErr = cmd.Wait()
		close(dev.done)
	}()
	return dev, nil
}

type ffmpegDevice struct {
	cmd       *exec.Cmd
	stdout    *os.File
	reader    *bufio.Reader
	stderr    *tailBuffer
	params    Params
	frameSize int

	closeOnce sync.Once
	done      chan struct{}
	waitErr   error
}

func (d *ffmpegDevice) Read() (Frame, error) {
	buf := make([]byte, d.frameSize)
	if _, err := io.ReadFull(d.reader, buf); err != nil {
		if msg := d.stderr.String(); msg != "" {
			return Frame{}, fmt.Errorf("%w: %s", err, msg)
		}
		return Frame{}, err
	}
	return Frame{
		Timestamp: time.Now(),
		Width:     d.params.Width,
		Height:    d.params.Height,
		Channels:  3,
		Data:      buf,
	}, nil
}

func (d *ffmpegDevice) Info() (int, int, float64) {
	return d.params.Width, d.params.Height, d.params.FPS
}

func (d *ffmpegDevice) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
		}
		select {
		case <-d.done:
		case <-time.After(2 * time.Second):
			err = errors.New("ffmpeg did not exit after kill")
		}
		_ = d.stdout.Close()
	})
	return err
}

func normalizeParams(p Params) Params {
	if p.Width <= 0 {
		p.Width = 640
	}
	if p.Height <= 0 {
		p.Height = 480
	}
	if p.FPS <= 0 {
		p.FPS = 30
	}
	return p
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
