package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/logging"
)

// Options configures a Manager.
type Options struct {
	MaxIndex          int
	DiscoveryBackends []string
	OpenBackends      []string
	Params            Params
	ReleaseWait       time.Duration
	SettleWait        time.Duration
	ProbeInterval     time.Duration
	ReinitInterval    time.Duration
	MaxReinitFailures int
	// MaxConsecutiveFailures is the number of failed reads in a row that
	// Recover tolerates before it reinitialises an open device.
	MaxConsecutiveFailures int
	Registry               *Registry
	// NameFunc resolves a display name for a device index.
	NameFunc func(index int) string
	Logger   *slog.Logger

	sleep sleepFunc
}

// OptionsFromConfig maps the camera section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config, registry *Registry, logger *slog.Logger) Options {
	return Options{
		MaxIndex:          cfg.Camera.MaxIndex,
		DiscoveryBackends: slices.Clone(cfg.Camera.DiscoveryBackends),
		OpenBackends:      slices.Clone(cfg.Camera.OpenBackends),
		Params: Params{
			Width:  cfg.Camera.Width,
			Height: cfg.Camera.Height,
			FPS:    float64(cfg.Camera.FPS),
		},
		ReleaseWait:            cfg.ReleaseWait(),
		SettleWait:             200 * time.Millisecond,
		ProbeInterval:          100 * time.Millisecond,
		ReinitInterval:         cfg.ReinitInterval(),
		MaxReinitFailures:      cfg.Camera.MaxReinitFailures,
		MaxConsecutiveFailures: cfg.Camera.MaxConsecutiveFailures,
		Registry:               registry,
		NameFunc:               DisplayName,
		Logger:                 logger,
	}
}

// Manager owns the discovered device set and the single open device.
// Every method is safe for concurrent use; reads and switches are
// serialised by one lock so a frame never spans two device handles.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	descriptors []Descriptor
	active      int
	backend     string
	device      Device
	handle      uint64
	seq         uint64

	framesRead     uint64
	readFailures   uint64
	consecutive    int
	reinitFailures int
	lastReinit     time.Time
	lastScan       time.Time
}

// NewManager constructs a Manager. No device is touched until Discover.
func NewManager(opts Options) *Manager {
	if opts.MaxIndex <= 0 {
		opts.MaxIndex = 10
	}
	if opts.MaxReinitFailures <= 0 {
		opts.MaxReinitFailures = 5
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 5
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.NameFunc == nil {
		opts.NameFunc = fallbackName
	}
	if opts.sleep == nil {
		opts.sleep = sleepContext
	}
	return &Manager{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "camera"),
		active: -1,
	}
}

// Discover probes device indices and replaces the descriptor set with the
// devices that produced stable frames, sorted by index. The open device is
// re-validated with one read instead of being probed; it is released when
// that read fails.
func (m *Manager) Discover(ctx context.Context) ([]Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.discoverLocked(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(m.descriptors), nil
}

func (m *Manager) discoverLocked(ctx context.Context) error {
	prev := m.state
	m.state = StateScanning
	m.logger.Info("camera discovery started",
		logging.Int("max_index", m.opts.MaxIndex),
		logging.String("backends", strings.Join(m.opts.DiscoveryBackends, ",")),
	)

	var found []Descriptor
	for index := 0; index < m.opts.MaxIndex; index++ {
		if err := ctx.Err(); err != nil {
			m.state = prev
			return err
		}
		if index == m.active && m.device != nil {
			if d, ok := m.revalidateActiveLocked(); ok {
				found = append(found, d)
			}
			continue
		}
		if d, ok := m.probeIndexLocked(ctx, index); ok {
			found = append(found, d)
		}
	}
	slices.SortFunc(found, func(a, b Descriptor) int { return a.ID - b.ID })

	m.descriptors = found
	m.lastScan = time.Now()
	switch {
	case m.device != nil:
		m.state = StateOpen
	case len(found) == 0:
		m.state = StateFailed
	default:
		m.state = StateUninitialized
	}

	ids := make([]string, 0, len(found))
	for _, d := range found {
		ids = append(ids, fmt.Sprintf("%d(%s)", d.ID, d.Backend))
	}
	m.logger.Info("camera discovery finished",
		logging.Int("found", len(found)),
		logging.String("devices", strings.Join(ids, ",")),
	)
	return nil
}

func (m *Manager) revalidateActiveLocked() (Descriptor, bool) {
	var current Descriptor
	for _, d := range m.descriptors {
		if d.ID == m.active {
			current = d
		}
	}
	frame, err := m.device.Read()
	if err == nil && !frame.Empty() {
		if current.Name == "" {
			current = m.describeLocked(m.active, m.backend, m.device)
		}
		return current, true
	}
	logging.WarnWithContext(m.logger, "open camera failed revalidation; releasing", "camera_revalidate_failed",
		logging.CameraID(m.active),
		logging.String(logging.FieldImpact, "device dropped from the discovered set"),
		logging.String(logging.FieldErrorHint, "check the USB connection or reseat the camera"),
	)
	m.releaseLocked()
	return Descriptor{}, false
}

func (m *Manager) probeIndexLocked(ctx context.Context, index int) (Descriptor, bool) {
	for _, name := range m.opts.DiscoveryBackends {
		backend, ok := m.opts.Registry.Lookup(name)
		if !ok {
			continue
		}
		dev, err := backend.Open(ctx, index, m.opts.Params)
		if err != nil {
			m.logger.Debug("camera probe open failed",
				logging.CameraID(index),
				logging.String("backend", name),
				logging.Error(err),
			)
			continue
		}
		stable := probe(ctx, dev, discoveryAttempts, discoveryRequired, m.opts.ProbeInterval, m.opts.sleep)
		desc := m.describeLocked(index, backend.Name(), dev)
		if err := dev.Close(); err != nil {
			m.logger.Debug("camera probe close failed", logging.CameraID(index), logging.Error(err))
		}
		_ = m.opts.sleep(ctx, m.opts.SettleWait)
		if stable {
			m.logger.Info("camera accepted",
				logging.CameraID(index),
				logging.String("backend", desc.Backend),
				logging.String("name", desc.Name),
				logging.Int("width", desc.Width),
				logging.Int("height", desc.Height),
			)
			return desc, true
		}
		m.logger.Debug("camera probe unstable", logging.CameraID(index), logging.String("backend", name))
	}
	return Descriptor{}, false
}

func (m *Manager) describeLocked(index int, backend string, dev Device) Descriptor {
	w, h, fps := dev.Info()
	return Descriptor{
		ID:      index,
		Backend: backend,
		Width:   w,
		Height:  h,
		FPS:     fps,
		Name:    m.opts.NameFunc(index),
		Path:    DevicePath(index),
	}
}

// Open releases any held device and opens d, trying d's own backend first
// and then prefs (OpenBackends when empty). The device is accepted after
// three good reads out of five.
func (m *Manager) Open(ctx context.Context, d Descriptor, prefs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.openLocked(ctx, d, prefs); err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	return nil
}

func (m *Manager) openLocked(ctx context.Context, d Descriptor, prefs []string) error {
	if m.device != nil {
		m.state = StateSwitching
		m.releaseLocked()
		if err := m.opts.sleep(ctx, m.opts.ReleaseWait); err != nil {
			return err
		}
	}
	if len(prefs) == 0 {
		prefs = m.opts.OpenBackends
	}
	order := backendOrder(d.Backend, prefs)

	var lastErr error
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		backend, ok := m.opts.Registry.Lookup(name)
		if !ok {
			continue
		}
		dev, err := backend.Open(ctx, d.ID, m.opts.Params)
		if err != nil {
			lastErr = fmt.Errorf("backend %s: %w", name, err)
			continue
		}
		if !probe(ctx, dev, openAttempts, openRequired, m.opts.ProbeInterval, m.opts.sleep) {
			_ = dev.Close()
			lastErr = fmt.Errorf("backend %s: fewer than %d of %d reads succeeded", name, openRequired, openAttempts)
			continue
		}
		m.device = dev
		m.active = d.ID
		m.backend = backend.Name()
		m.handle++
		m.consecutive = 0
		m.state = StateOpen
		m.logger.Info("camera opened",
			logging.CameraID(d.ID),
			logging.String("backend", m.backend),
			logging.Uint64("handle", m.handle),
		)
		return nil
	}
	m.state = StateFailed
	if lastErr == nil {
		lastErr = fmt.Errorf("no usable backend among %s", strings.Join(order, ","))
	}
	return fmt.Errorf("open camera %d: %w", d.ID, lastErr)
}

// backendOrder puts first ahead of prefs and drops duplicates.
func backendOrder(first string, prefs []string) []string {
	order := make([]string, 0, len(prefs)+1)
	seen := make(map[string]struct{}, len(prefs)+1)
	for _, name := range append([]string{first}, prefs...) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}
	return order
}

func (m *Manager) releaseLocked() {
	if m.device == nil {
		return
	}
	if err := m.device.Close(); err != nil {
		m.logger.Debug("camera release failed", logging.CameraID(m.active), logging.Error(err))
	}
	m.device = nil
	m.backend = ""
	m.active = -1
}

// Read returns one frame from the open device.
func (m *Manager) Read() (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return Frame{}, &FrameReadError{DeviceID: m.active, Err: ErrNoDevice}
	}
	frame, err := m.device.Read()
	if err == nil && frame.Empty() {
		err = ErrEmptyFrame
	}
	if err != nil {
		m.readFailures++
		m.consecutive++
		return Frame{}, &FrameReadError{DeviceID: m.active, Err: err}
	}
	m.seq++
	m.framesRead++
	m.consecutive = 0
	m.state = StateReading
	frame.Seq = m.seq
	frame.DeviceID = m.active
	frame.Handle = m.handle
	if frame.Channels == 0 {
		frame.Channels = 3
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	return frame, nil
}

// SwitchNext opens the descriptor after the active one, wrapping around.
func (m *Manager) SwitchNext(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.descriptors) == 0 {
		return false
	}
	next := 0
	for i, d := range m.descriptors {
		if d.ID == m.active {
			next = (i + 1) % len(m.descriptors)
			break
		}
	}
	return m.switchLocked(ctx, m.descriptors[next])
}

// SwitchTo opens the descriptor with the given id. An unknown id returns
// false and leaves the current device untouched.
func (m *Manager) SwitchTo(ctx context.Context, id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.descriptors {
		if d.ID != id {
			continue
		}
		if d.ID == m.active && m.device != nil {
			return true
		}
		return m.switchLocked(ctx, d)
	}
	m.logger.Info("camera switch ignored; unknown id", logging.CameraID(id))
	return false
}

func (m *Manager) switchLocked(ctx context.Context, d Descriptor) bool {
	if err := m.openLocked(ctx, d, nil); err != nil {
		logging.WarnWithContext(m.logger, "camera switch failed", "camera_switch_failed",
			logging.CameraID(d.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no camera open until recovery succeeds"),
			logging.String(logging.FieldErrorHint, "run rollcall cameras to list working devices"),
		)
		return false
	}
	return true
}

// Rescan releases the open device, re-runs discovery and opens the first
// device found.
func (m *Manager) Rescan(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
	if err := m.discoverLocked(ctx); err != nil {
		return err
	}
	return m.openFirstLocked(ctx)
}

// Start discovers devices and opens the first one that works.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.discoverLocked(ctx); err != nil {
		return err
	}
	return m.openFirstLocked(ctx)
}

func (m *Manager) openFirstLocked(ctx context.Context) error {
	if len(m.descriptors) == 0 {
		m.state = StateFailed
		return fmt.Errorf("%w: no cameras discovered", ErrCameraUnavailable)
	}
	var errs []error
	for _, d := range m.descriptors {
		err := m.openLocked(ctx, d, nil)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("%w: %w", ErrCameraUnavailable, errors.Join(errs...))
}

// Recover reinitialises the camera after sustained read failures. While a
// device is open and fewer than MaxConsecutiveFailures reads in a row have
// failed, it returns ErrReinitDeferred and keeps the device. Attempts are
// spaced by the reinit interval; a call inside the interval also returns
// ErrReinitDeferred. The active device is retried first, then the other
// discovered devices in order. Once MaxReinitFailures consecutive cycles
// have failed the manager enters StateFailed and every further failed cycle
// returns ErrCameraUnavailable.
func (m *Manager) Recover(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil && m.consecutive < m.opts.MaxConsecutiveFailures {
		return ErrReinitDeferred
	}
	if !m.lastReinit.IsZero() && now.Sub(m.lastReinit) < m.opts.ReinitInterval {
		return ErrReinitDeferred
	}
	m.lastReinit = now

	target := m.active
	if len(m.descriptors) == 0 {
		if err := m.discoverLocked(ctx); err != nil {
			return err
		}
	}

	err := m.reopenLocked(ctx, target)
	if err == nil {
		if m.reinitFailures > 0 {
			m.logger.Info("camera recovered",
				logging.CameraID(m.active),
				logging.Int("failed_cycles", m.reinitFailures),
			)
		}
		m.reinitFailures = 0
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.reinitFailures++
	if m.reinitFailures >= m.opts.MaxReinitFailures {
		m.state = StateFailed
		logging.ErrorWithContext(m.logger, "camera unavailable", "camera_unavailable",
			logging.Int("failed_cycles", m.reinitFailures),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "reconnect a camera; rollcall keeps retrying with backoff"),
		)
		return fmt.Errorf("%w after %d reinit cycles: %v", ErrCameraUnavailable, m.reinitFailures, err)
	}
	logging.WarnWithContext(m.logger, "camera reinit failed", "camera_reinit_failed",
		logging.Int("cycle", m.reinitFailures),
		logging.Int("max_cycles", m.opts.MaxReinitFailures),
		logging.Error(err),
		logging.String(logging.FieldImpact, "frames unavailable until the next attempt"),
	)
	return fmt.Errorf("reinit camera (cycle %d/%d): %w", m.reinitFailures, m.opts.MaxReinitFailures, err)
}

func (m *Manager) reopenLocked(ctx context.Context, preferred int) error {
	if len(m.descriptors) == 0 {
		m.state = StateFailed
		return errors.New("no cameras discovered")
	}
	start := 0
	for i, d := range m.descriptors {
		if d.ID == preferred {
			start = i
			break
		}
	}
	var errs []error
	for i := range m.descriptors {
		d := m.descriptors[(start+i)%len(m.descriptors)]
		err := m.openLocked(ctx, d, nil)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Snapshot returns the current state for status output.
func (m *Manager) Snapshot() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		State:          m.state.String(),
		ActiveID:       m.active,
		Backend:        m.backend,
		Handle:         m.handle,
		Descriptors:    slices.Clone(m.descriptors),
		FramesRead:     m.framesRead,
		ReadFailures:   m.readFailures,
		ReinitFailures: m.reinitFailures,
		LastScan:       m.lastScan,
	}
}

// Active returns the open device id, or -1.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close releases the open device. The Manager is unusable afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
	m.state = StateClosed
	return nil
}
