package scheduler

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"rollcall/internal/camera"
	"rollcall/internal/logging"
	"rollcall/internal/match"
)

// finishCaptures answers pending ManualCapture commands with the results of
// frame and, when a capture directory is configured, a JPEG snapshot.
func (l *Loop) finishCaptures(frame camera.Frame, results []match.Result, matchErr error) {
	pending := l.pending
	l.pending = nil

	path, saveErr := l.saveCapture(frame)
	if saveErr != nil {
		logging.WarnWithContext(l.logger, "capture snapshot not saved", "capture_save_failed",
			logging.Error(saveErr),
			logging.String(logging.FieldImpact, "match results returned without an image"),
			logging.String(logging.FieldErrorHint, "check paths.capture_dir permissions"),
		)
	}
	reply := Reply{OK: matchErr == nil, Results: results, CapturePath: path}
	switch {
	case matchErr != nil:
		reply.Err = matchErr.Error()
	case len(results) == 0:
		reply.Message = "no match"
	default:
		reply.Message = fmt.Sprintf("%d match(es)", len(results))
	}
	for _, cmd := range pending {
		cmd.reply(reply)
	}
}

func (l *Loop) saveCapture(frame camera.Frame) (string, error) {
	dir := strings.TrimSpace(l.opts.CaptureDir)
	if dir == "" {
		return "", nil
	}
	img := frame.Image()
	if img == nil {
		return "", camera.ErrEmptyFrame
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure capture dir: %w", err)
	}
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = l.opts.now()
	}
	name := fmt.Sprintf("capture-%s-%s.jpg", ts.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create capture: %w", err)
	}
	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("encode capture: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close capture: %w", err)
	}
	return path, nil
}
