package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/camera"
	"rollcall/internal/config"
	"rollcall/internal/faces"
	"rollcall/internal/logging"
	"rollcall/internal/match"
)

// Camera is the part of camera.Manager the loop drives.
type Camera interface {
	Read() (camera.Frame, error)
	Recover(ctx context.Context, now time.Time) error
	SwitchNext(ctx context.Context) bool
	SwitchTo(ctx context.Context, id int) bool
	Rescan(ctx context.Context) error
	Snapshot() camera.Info
}

// Analyzer detects and encodes every face in a frame.
type Analyzer interface {
	Analyze(ctx context.Context, img image.Image) ([]faces.DetectedFace, error)
}

// Roster supplies the current template snapshot.
type Roster interface {
	Snapshot() *faces.Snapshot
}

// Matcher decides which detected faces match a template.
type Matcher interface {
	MatchAll(detected []faces.DetectedFace, snap *faces.Snapshot) []match.Result
}

// Recorder receives fresh identifications. attendance.Recorder and
// attendance.Queue both satisfy it.
type Recorder interface {
	Record(ctx context.Context, identityID int64, now time.Time, score float64) attendance.Outcome
}

// Options configures a Loop.
type Options struct {
	// SampleEvery runs detection on every Nth frame.
	SampleEvery int
	// RetryDelay is the sleep after a failed frame read.
	RetryDelay time.Duration
	// PauseBase and PauseLimit bound the backoff taken while no camera can
	// be opened.
	PauseBase  time.Duration
	PauseLimit time.Duration
	// MaxPauses stops the loop after that many consecutive pause windows.
	// Zero keeps retrying forever.
	MaxPauses  int
	CaptureDir string
	Logger     *slog.Logger

	now func() time.Time
}

// OptionsFromConfig maps configuration onto loop options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		SampleEvery: cfg.Recognition.SampleEvery,
		RetryDelay:  100 * time.Millisecond,
		PauseBase:   cfg.ReinitInterval(),
		PauseLimit:  cfg.UnavailablePause(),
		MaxPauses:   cfg.Camera.MaxUnavailablePauses,
		CaptureDir:  cfg.Paths.CaptureDir,
		Logger:      logger,
	}
}

// Loop is the frame scheduler.
type Loop struct {
	opts     Options
	cam      Camera
	analyzer Analyzer
	roster   Roster
	matcher  Matcher
	recorder Recorder
	logger   *slog.Logger

	commands chan Command
	done     chan struct{}
	running  atomic.Bool
	started  atomic.Bool
	stopMu   sync.Mutex
	cancel   context.CancelFunc

	frame       uint64
	pending     []Command
	pauses      int
	pausedUntil time.Time
	storeFault  atomic.Bool

	statusMu sync.RWMutex
	status   Status
}

// New constructs a Loop. recorder may be nil, in which case matches are only
// reported in status.
func New(cam Camera, analyzer Analyzer, roster Roster, matcher Matcher, recorder Recorder, opts Options) *Loop {
	if opts.SampleEvery <= 0 {
		opts.SampleEvery = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	if opts.PauseLimit <= 0 {
		opts.PauseLimit = 30 * time.Second
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Loop{
		opts:     opts,
		cam:      cam,
		analyzer: analyzer,
		roster:   roster,
		matcher:  matcher,
		recorder: recorder,
		logger:   logging.NewComponentLogger(opts.Logger, "scheduler"),
		commands: make(chan Command, 8),
		done:     make(chan struct{}),
		status:   Status{Health: HealthOK, ActiveCamera: -1},
	}
}

// Run executes the loop until ctx ends, Stop is called, a Quit command
// arrives or the camera stays unavailable for MaxPauses pause windows. Only
// the last case returns an error. Run may be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.stopMu.Lock()
	l.cancel = cancel
	l.stopMu.Unlock()
	defer cancel()

	l.running.Store(true)
	l.updateStatus(func(s *Status) {
		s.Running = true
		s.StartedAt = l.opts.now()
	})
	defer func() {
		l.running.Store(false)
		l.updateStatus(func(s *Status) { s.Running = false })
		close(l.done)
		l.failPending()
	}()

	l.logger.Info("capture loop started", logging.Int("sample_every", l.opts.SampleEvery))
	for {
		if runCtx.Err() != nil || !l.running.Load() {
			l.logger.Info("capture loop stopped")
			return nil
		}

		select {
		case cmd := <-l.commands:
			if stop := l.handle(runCtx, cmd); stop {
				l.logger.Info("capture loop stopped by quit command")
				return nil
			}
		default:
		}

		if wait := l.pausedUntil.Sub(l.opts.now()); wait > 0 {
			if stop := l.waitOrCommand(runCtx, wait); stop {
				return nil
			}
			continue
		}

		if runCtx.Err() != nil {
			continue
		}
		frame, err := l.cam.Read()
		if err != nil {
			if err := l.handleReadFailure(runCtx, err); err != nil {
				return err
			}
			continue
		}
		l.pauses = 0
		l.processFrame(runCtx, frame)
	}
}

// Stop ends the loop. It does not wait for Run to return.
func (l *Loop) Stop() {
	l.running.Store(false)
	l.stopMu.Lock()
	cancel := l.cancel
	l.stopMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Running reports whether Run is executing.
func (l *Loop) Running() bool {
	return l.running.Load()
}

func (l *Loop) processFrame(ctx context.Context, frame camera.Frame) {
	l.frame++
	l.updateStatus(func(s *Status) {
		s.FramesRead++
		s.ActiveCamera = frame.DeviceID
		if s.Health == HealthCameraFault {
			s.Health = HealthOK
		}
	})

	capture := len(l.pending) > 0
	if !capture && l.frame%uint64(l.opts.SampleEvery) != 0 {
		return
	}

	results, err := l.identify(ctx, frame)
	storeFault := false
	if err == nil {
		storeFault = l.record(ctx, frame, results) || l.storeFault.Load()
	}

	l.updateStatus(func(s *Status) {
		s.FramesSampled++
		s.LastSampleAt = frame.Timestamp
		switch {
		case err != nil:
			s.Health = HealthDetectorFault
			s.LastError = err.Error()
			return
		case storeFault:
			s.Health = HealthStoreFault
		case len(results) == 0:
			s.Health = HealthNoMatch
		default:
			s.Health = HealthOK
		}
		s.LastResults = results
		if len(results) > 0 {
			s.FramesMatched++
		}
	})

	if capture {
		l.finishCaptures(frame, results, err)
	}
}

func (l *Loop) identify(ctx context.Context, frame camera.Frame) ([]match.Result, error) {
	img := frame.Image()
	if img == nil {
		return nil, fmt.Errorf("frame %d: %w", frame.Seq, camera.ErrEmptyFrame)
	}
	detected, err := l.analyzer.Analyze(ctx, img)
	if err != nil && !errors.Is(err, faces.ErrNoFace) {
		logging.WarnWithContext(l.logger, "face analysis failed", "face_analysis_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "frame skipped; attendance not recorded for it"),
			logging.String(logging.FieldErrorHint, "check that the face service is running"),
		)
		return nil, err
	}
	if len(detected) == 0 {
		return nil, nil
	}
	return l.matcher.MatchAll(detected, l.roster.Snapshot()), nil
}

// record hands each identified result to the recorder once per frame and
// reports whether any write failed.
func (l *Loop) record(ctx context.Context, frame camera.Frame, results []match.Result) bool {
	if l.recorder == nil {
		return false
	}
	at := frame.Timestamp
	if at.IsZero() {
		at = l.opts.now()
	}
	seen := make(map[int64]struct{}, len(results))
	fault := false
	for _, res := range results {
		if !res.Identified() {
			continue
		}
		id := *res.IdentityID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		outcome := l.recorder.Record(ctx, id, at, res.Score)
		l.updateStatus(func(s *Status) {
			s.RecorderCalls++
			s.LastOutcome = outcome.String()
		})
		if outcome == attendance.StoreError {
			fault = true
		}
		l.logger.Debug("identity recorded",
			logging.IdentityID(id),
			logging.String("outcome", outcome.String()),
			logging.Float64("score", res.Score),
		)
	}
	return fault
}

// NoteOutcome takes a final attendance outcome, including those a queued
// recorder reports after Record returned Pending. A store error holds the
// health at store_fault until a later write reaches the store.
func (l *Loop) NoteOutcome(event attendance.Event) {
	switch event.Outcome {
	case attendance.StoreError:
		l.storeFault.Store(true)
		l.updateStatus(func(s *Status) {
			s.Health = HealthStoreFault
			if event.Err != nil {
				s.LastError = event.Err.Error()
			}
		})
	case attendance.Marked, attendance.NoActiveSession:
		l.storeFault.Store(false)
	}
}

func (l *Loop) handleReadFailure(ctx context.Context, readErr error) error {
	l.updateStatus(func(s *Status) {
		s.ReadFailures++
		s.Health = HealthCameraFault
		s.LastError = readErr.Error()
	})

	err := l.cam.Recover(ctx, l.opts.now())
	switch {
	case err == nil, errors.Is(err, camera.ErrReinitDeferred):
	case errors.Is(err, camera.ErrCameraUnavailable):
		l.pauses++
		if l.opts.MaxPauses > 0 && l.pauses >= l.opts.MaxPauses {
			logging.ErrorWithContext(l.logger, "camera unavailable; stopping capture loop", "camera_exhausted",
				logging.Int("pauses", l.pauses),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "connect a working camera and restart rollcall"),
			)
			return fmt.Errorf("capture loop: %w", err)
		}
		pause := camera.PauseWindow(l.pauses, l.opts.PauseBase, l.opts.PauseLimit)
		l.pausedUntil = l.opts.now().Add(pause)
		l.updateStatus(func(s *Status) {
			s.PausedUntil = l.pausedUntil
			s.UnavailablePauses = l.pauses
		})
		logging.WarnWithContext(l.logger, "camera unavailable; pausing", "camera_pause",
			logging.Duration("pause", pause),
			logging.Int("pause_window", l.pauses),
			logging.String(logging.FieldImpact, "no frames are processed until the pause ends"),
			logging.String(logging.FieldErrorHint, "reconnect the camera or run rollcall rescan"),
		)
		return nil
	default:
		l.updateStatus(func(s *Status) { s.LastError = err.Error() })
	}

	l.sleep(ctx, l.opts.RetryDelay)
	return nil
}

// waitOrCommand waits for d while still servicing commands. It reports
// whether a Quit command arrived.
func (l *Loop) waitOrCommand(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case cmd := <-l.commands:
			if l.handle(ctx, cmd) {
				return true
			}
			if cmd.Kind == SwitchCamera || cmd.Kind == Rescan {
				l.clearPause()
				return false
			}
		}
	}
}

func (l *Loop) clearPause() {
	l.pausedUntil = time.Time{}
	l.updateStatus(func(s *Status) { s.PausedUntil = time.Time{} })
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// handle executes one command and reports whether the loop must stop.
func (l *Loop) handle(ctx context.Context, cmd Command) bool {
	l.logger.Debug("command received", logging.String("command", cmd.Kind.String()))
	switch cmd.Kind {
	case Quit:
		l.running.Store(false)
		cmd.reply(Reply{OK: true, Message: "stopping"})
		return true
	case ManualCapture:
		l.pending = append(l.pending, cmd)
	case SwitchCamera:
		var ok bool
		if cmd.CameraID != nil {
			ok = l.cam.SwitchTo(ctx, *cmd.CameraID)
		} else {
			ok = l.cam.SwitchNext(ctx)
		}
		info := l.cam.Snapshot()
		l.resetResults(info.ActiveID)
		if ok {
			l.clearPause()
			cmd.reply(Reply{OK: true, Message: fmt.Sprintf("switched to camera %d", info.ActiveID), Camera: &info})
		} else {
			cmd.reply(Reply{OK: false, Message: "camera switch failed", Camera: &info})
		}
	case Rescan:
		err := l.cam.Rescan(ctx)
		info := l.cam.Snapshot()
		l.resetResults(info.ActiveID)
		if err != nil {
			cmd.reply(Reply{OK: false, Err: err.Error(), Camera: &info})
			break
		}
		l.pauses = 0
		l.clearPause()
		cmd.reply(Reply{OK: true, Message: fmt.Sprintf("%d camera(s) found", len(info.Descriptors)), Camera: &info})
	case ShowInfo:
		info := l.cam.Snapshot()
		status := l.Status()
		cmd.reply(Reply{OK: true, Camera: &info, Status: &status})
	default:
		cmd.reply(Reply{OK: false, Err: fmt.Sprintf("unsupported command %s", cmd.Kind)})
	}
	return false
}

func (l *Loop) resetResults(active int) {
	l.updateStatus(func(s *Status) {
		s.LastResults = nil
		s.ActiveCamera = active
	})
}

func (l *Loop) failPending() {
	for _, cmd := range l.pending {
		cmd.reply(Reply{OK: false, Err: ErrNotRunning.Error()})
	}
	l.pending = nil
	for {
		select {
		case cmd := <-l.commands:
			cmd.reply(Reply{OK: false, Err: ErrNotRunning.Error()})
		default:
			return
		}
	}
}
