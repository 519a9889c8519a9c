package daemon

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/camera"
	"rollcall/internal/config"
	"rollcall/internal/faces"
	"rollcall/internal/match"
	"rollcall/internal/testsupport"
)

type fakeCamera struct {
	mu      sync.Mutex
	seq     uint64
	active  int
	started bool
	closed  bool
	rescans int
}

func (c *fakeCamera) Read() (camera.Frame, error) {
	time.Sleep(2 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return camera.Frame{
		Seq:       c.seq,
		Timestamp: time.Now(),
		Width:     2,
		Height:    2,
		Channels:  3,
		Data:      make([]byte, 12),
		DeviceID:  c.active,
	}, nil
}

func (c *fakeCamera) Recover(context.Context, time.Time) error { return nil }

func (c *fakeCamera) SwitchNext(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = (c.active + 1) % 2
	return true
}

func (c *fakeCamera) SwitchTo(_ context.Context, id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id > 1 {
		return false
	}
	c.active = id
	return true
}

func (c *fakeCamera) Rescan(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rescans++
	return nil
}

func (c *fakeCamera) Snapshot() camera.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return camera.Info{
		State:      "reading",
		ActiveID:   c.active,
		Backend:    "fake",
		FramesRead: c.seq,
		Descriptors: []camera.Descriptor{
			{ID: 0, Name: "Front", Backend: "fake", Width: 2, Height: 2},
			{ID: 1, Name: "Door", Backend: "fake", Width: 2, Height: 2},
		},
	}
}

func (c *fakeCamera) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeCamera) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(context.Context, image.Image) ([]faces.DetectedFace, error) {
	return []faces.DetectedFace{{Region: faces.Region{W: 2, H: 2}, Feature: faces.Feature{1, 0}}}, nil
}

type fakeRoster struct {
	mu    sync.Mutex
	snap  *faces.Snapshot
	loads int
}

func newFakeRoster() *fakeRoster {
	id := int64(7)
	return &fakeRoster{snap: &faces.Snapshot{
		Templates: []faces.Template{{IdentityID: &id, Label: "7_bob.png", Feature: faces.Feature{1, 0}}},
		Model:     "test",
		Version:   1,
	}}
}

func (r *fakeRoster) Snapshot() *faces.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

func (r *fakeRoster) Load(context.Context, faces.PhotoSource) (faces.LoadReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	return faces.LoadReport{Loaded: len(r.snap.Templates)}, nil
}

type fakeMatcher struct{}

func (fakeMatcher) MatchAll(detected []faces.DetectedFace, snap *faces.Snapshot) []match.Result {
	if len(detected) == 0 || snap.Len() == 0 {
		return nil
	}
	tpl := snap.Templates[0]
	return []match.Result{{IdentityID: tpl.IdentityID, Label: tpl.Label, Score: 0.93, Region: detected[0].Region}}
}

type fakeRecorder struct {
	calls  atomic.Int64
	closed atomic.Bool

	mu        sync.Mutex
	observers []attendance.Observer
}

func (r *fakeRecorder) AddObserver(fn attendance.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *fakeRecorder) notify(event attendance.Event) {
	r.mu.Lock()
	observers := append([]attendance.Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, fn := range observers {
		fn(event)
	}
}

func (r *fakeRecorder) Record(context.Context, int64, time.Time, float64) attendance.Outcome {
	if r.calls.Add(1) == 1 {
		return attendance.Marked
	}
	return attendance.AlreadyMarked
}

func (r *fakeRecorder) Mode() string { return config.AttendanceModeCooldown }

func (r *fakeRecorder) Stats() attendance.Stats {
	calls := int(r.calls.Load())
	stats := attendance.Stats{}
	if calls > 0 {
		stats.Marked = 1
		stats.AlreadyMarked = calls - 1
	}
	return stats
}

func (r *fakeRecorder) Close(context.Context) error {
	r.closed.Store(true)
	return nil
}

type harness struct {
	cfg      *config.Config
	camera   *fakeCamera
	roster   *fakeRoster
	recorder *fakeRecorder
	daemon   *Daemon
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithStubbedBinaries()}, opts...)...)
	cfg.Recognition.SampleEvery = 1

	h := &harness{
		cfg:      cfg,
		camera:   &fakeCamera{},
		roster:   newFakeRoster(),
		recorder: &fakeRecorder{},
	}
	d, err := New(cfg, Dependencies{
		Camera:   h.camera,
		Analyzer: fakeAnalyzer{},
		Roster:   h.roster,
		Matcher:  fakeMatcher{},
		Recorder: h.recorder,
		RunID:    "test-run",
	}, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	h.daemon = d
	t.Cleanup(d.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
