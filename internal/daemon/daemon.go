package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"rollcall/internal/attendance"
	"rollcall/internal/camera"
	"rollcall/internal/config"
	"rollcall/internal/faces"
	"rollcall/internal/logging"
	"rollcall/internal/preflight"
	"rollcall/internal/scheduler"
	"rollcall/internal/store"
)

const (
	rescanDebounce  = time.Second
	shutdownTimeout = 10 * time.Second
)

// CameraService is the camera manager as seen by the daemon.
type CameraService interface {
	scheduler.Camera
	Start(ctx context.Context) error
	Close() error
}

// Roster holds the loaded templates and reloads them from a photo source.
type Roster interface {
	Snapshot() *faces.Snapshot
	Load(ctx context.Context, src faces.PhotoSource) (faces.LoadReport, error)
}

// Recorder is an attendance recorder with counters and a flush on close.
// attendance.Recorder and attendance.Queue both satisfy it.
type Recorder interface {
	scheduler.Recorder
	Mode() string
	Stats() attendance.Stats
	AddObserver(fn attendance.Observer)
	Close(ctx context.Context) error
}

// Dependencies are the components the daemon coordinates. Store and
// Recorder are nil when attendance is disabled.
type Dependencies struct {
	Camera   CameraService
	Analyzer scheduler.Analyzer
	Roster   Roster
	Matcher  scheduler.Matcher
	Recorder Recorder
	Store    store.Backend
	// PhotoDir is the roster directory loaded at start and, when enabled,
	// watched for changes.
	PhotoDir string
	// Hub backs the log endpoint of the control API. It may be nil.
	Hub *logging.StreamHub
	// RunID and LogPath identify the current run in status.
	RunID   string
	LogPath string
}

// Daemon coordinates the capture loop and its supporting services and
// enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Dependencies
	loop   *scheduler.Loop
	api    *apiServer

	lockPath string
	lock     *flock.Flock
	pidPath  string

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	group     *errgroup.Group
	done      chan struct{}
	runErr    error
	stopOnce  sync.Once

	rescan chan struct{}

	loadMu     sync.RWMutex
	lastLoad   *faces.LoadReport
	preflights []preflight.Result
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	RunID        string
	StartedAt    time.Time
	LogPath      string
	LockFilePath string
	Loop         scheduler.Status
	Camera       camera.Info
	Templates    *faces.Snapshot
	LastLoad     *faces.LoadReport
	Attendance   AttendanceInfo
	Preflight    []preflight.Result
}

// AttendanceInfo summarises the recorder for status.
type AttendanceInfo struct {
	Enabled bool
	Mode    string
	Store   string
	Stats   attendance.Stats
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Camera == nil || deps.Analyzer == nil || deps.Roster == nil || deps.Matcher == nil {
		return nil, errors.New("daemon requires config, camera, analyzer, roster, and matcher")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.PhotoDir == "" {
		deps.PhotoDir = cfg.Paths.PhotoDir
	}

	var recorder scheduler.Recorder
	if deps.Recorder != nil {
		recorder = deps.Recorder
	}
	loop := scheduler.New(deps.Camera, deps.Analyzer, deps.Roster, deps.Matcher, recorder, scheduler.OptionsFromConfig(cfg, logger))
	if deps.Recorder != nil {
		deps.Recorder.AddObserver(loop.NoteOutcome)
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		deps:     deps,
		loop:     loop,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		pidPath:  cfg.PIDPath(),
		done:     make(chan struct{}),
		rescan:   make(chan struct{}, 1),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, loads the roster, opens the camera and
// launches the capture loop with its supporting services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another rollcall daemon instance is already running")
	}
	if err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		d.logger.Warn("failed to write pid file", logging.String("path", d.pidPath), logging.Error(err))
	}

	if removed := logging.PruneRunLogs(d.logger, d.cfg.Paths.LogDir, d.cfg.Logging.RetentionDays, d.deps.LogPath); removed > 0 {
		d.logger.Info("pruned old run logs", logging.Int("removed", removed))
	}

	results := preflight.RunAll(ctx, d.cfg, d.pinger())
	for _, failed := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldImpact, "related features may not work"),
		)
	}
	d.loadMu.Lock()
	d.preflights = results
	d.loadMu.Unlock()

	if err := d.reloadTemplates(ctx); err != nil {
		d.releaseLock()
		return fmt.Errorf("load templates: %w", err)
	}

	if err := d.deps.Camera.Start(ctx); err != nil {
		if !errors.Is(err, camera.ErrCameraUnavailable) {
			d.releaseLock()
			return fmt.Errorf("start camera: %w", err)
		}
		logging.WarnWithContext(d.logger, "no camera available at start; retrying in the background", "camera_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no frames are processed until a camera appears"),
			logging.String(logging.FieldErrorHint, "connect a camera or run `rollcall cameras` to inspect discovery"),
		)
	}

	if err := d.api.listen(); err != nil {
		_ = d.deps.Camera.Close()
		d.releaseLock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	d.cancel = cancel
	d.group = group
	d.startedAt = time.Now()

	group.Go(func() error {
		err := d.loop.Run(gctx)
		// The loop ending for any reason ends the daemon.
		cancel()
		return err
	})
	group.Go(func() error { return d.api.serve(gctx) })
	group.Go(func() error { return d.debounceRescans(gctx) })
	if d.cfg.Camera.Hotplug {
		monitor := camera.NewHotplugMonitor(d.logger, d.requestRescan)
		if err := monitor.Start(gctx); err != nil {
			logging.WarnWithContext(d.logger, "hotplug monitor unavailable", "hotplug_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "new cameras are only found by `rollcall rescan`"),
			)
		} else {
			group.Go(func() error {
				<-gctx.Done()
				monitor.Stop()
				return nil
			})
		}
	}
	if d.cfg.Recognition.WatchPhotos {
		watcher := faces.NewWatcher(d.deps.PhotoDir, d.reloadTemplates, d.logger)
		group.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				logging.WarnWithContext(d.logger, "roster photo watcher stopped", "photo_watch_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "roster changes need `rollcall templates reload`"),
				)
			}
			return nil
		})
	}

	go func() {
		err := group.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		d.runErr = err
		close(d.done)
	}()

	d.running.Store(true)
	d.logger.Info("rollcall daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.Bool("attendance", d.deps.Recorder != nil),
	)
	return nil
}

// Done is closed once the capture loop and every service has returned.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Err reports why the daemon ended. It is nil after a requested stop or a
// quit command.
func (d *Daemon) Err() error {
	select {
	case <-d.done:
		return d.runErr
	default:
		return nil
	}
}

// Stop shuts the daemon down: the loop and services first, then pending
// attendance writes, the camera and the store. It is safe to call more than
// once.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.stopOnce.Do(func() {
		d.cancel()
		<-d.done
		d.running.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if d.deps.Recorder != nil {
			if err := d.deps.Recorder.Close(ctx); err != nil {
				logging.WarnWithContext(d.logger, "attendance flush incomplete", "attendance_flush_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "queued marks were not written"),
				)
			}
		}
		if err := d.deps.Camera.Close(); err != nil {
			d.logger.Warn("failed to close camera", logging.Error(err))
		}
		if d.deps.Store != nil {
			if err := d.deps.Store.Close(); err != nil {
				d.logger.Warn("failed to close attendance store", logging.Error(err))
			}
		}
		d.releaseLock()
		d.logger.Info("rollcall daemon stopped")
	})
}

func (d *Daemon) releaseLock() {
	if err := os.Remove(d.pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("failed to remove pid file", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

func (d *Daemon) pinger() preflight.Pinger {
	if d.deps.Store == nil {
		return nil
	}
	return d.deps.Store
}

// reloadTemplates rebuilds the roster from the photo directory. A failed
// reload keeps the previous snapshot.
func (d *Daemon) reloadTemplates(ctx context.Context) error {
	report, err := d.deps.Roster.Load(ctx, faces.DirSource{Dir: d.deps.PhotoDir})
	if err != nil {
		logging.ErrorWithContext(d.logger, "template load failed", "templates_load_failed",
			logging.Error(err),
			logging.String("photo_dir", d.deps.PhotoDir),
			logging.String(logging.FieldErrorHint, "check the photo directory and face service"),
		)
		return err
	}
	d.loadMu.Lock()
	d.lastLoad = &report
	d.loadMu.Unlock()
	d.logger.Info("templates loaded",
		logging.Int("loaded", report.Loaded),
		logging.Int("cache_hits", report.CacheHits),
		logging.Int("skipped", len(report.Skipped)),
		logging.Duration("duration", report.Duration),
	)
	return nil
}

// requestRescan is the hotplug callback. Bursts of udev events collapse into
// one rescan.
func (d *Daemon) requestRescan(_ context.Context, device string) {
	d.logger.Debug("camera hotplug event", logging.String("device", device))
	select {
	case d.rescan <- struct{}{}:
	default:
	}
}

func (d *Daemon) debounceRescans(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.rescan:
		}
		timer := time.NewTimer(rescanDebounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		// Drop events that arrived while waiting.
		select {
		case <-d.rescan:
		default:
		}
		reply, err := d.loop.Submit(ctx, scheduler.Rescan, nil)
		if err != nil {
			if errors.Is(err, scheduler.ErrNotRunning) || ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("hotplug rescan failed", logging.Error(err))
			continue
		}
		d.logger.Info("cameras rescanned after hotplug", logging.String("result", reply.Message))
	}
}

// Submit forwards an operator command to the capture loop.
func (d *Daemon) Submit(ctx context.Context, kind scheduler.CommandKind, cameraID *int) (scheduler.Reply, error) {
	return d.loop.Submit(ctx, kind, cameraID)
}

// ReloadTemplates rebuilds the roster on request.
func (d *Daemon) ReloadTemplates(ctx context.Context) (faces.LoadReport, error) {
	if err := d.reloadTemplates(ctx); err != nil {
		return faces.LoadReport{}, err
	}
	d.loadMu.RLock()
	defer d.loadMu.RUnlock()
	return *d.lastLoad, nil
}

// RecentMarks lists stored marks, newest first.
func (d *Daemon) RecentMarks(ctx context.Context, limit int) ([]attendance.Entry, error) {
	if d.deps.Store == nil {
		return nil, errors.New("attendance store unavailable")
	}
	return d.deps.Store.RecentMarks(ctx, limit)
}

// LogStream returns the in-memory log hub, if any.
func (d *Daemon) LogStream() *logging.StreamHub {
	return d.deps.Hub
}

// Cameras returns the camera manager snapshot.
func (d *Daemon) Cameras() camera.Info {
	return d.deps.Camera.Snapshot()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.loadMu.RLock()
	lastLoad := d.lastLoad
	checks := append([]preflight.Result(nil), d.preflights...)
	d.loadMu.RUnlock()

	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		RunID:        d.deps.RunID,
		StartedAt:    d.startedAt,
		LogPath:      d.deps.LogPath,
		LockFilePath: d.lockPath,
		Loop:         d.loop.Status(),
		Camera:       d.deps.Camera.Snapshot(),
		Templates:    d.deps.Roster.Snapshot(),
		LastLoad:     lastLoad,
		Preflight:    checks,
	}
	if d.deps.Recorder != nil {
		status.Attendance = AttendanceInfo{
			Enabled: true,
			Mode:    d.deps.Recorder.Mode(),
			Store:   store.Name(d.cfg),
			Stats:   d.deps.Recorder.Stats(),
		}
	}
	return status
}
