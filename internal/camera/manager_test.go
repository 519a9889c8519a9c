package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func descriptorIDs(ds []Descriptor) []int {
	ids := make([]int, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.ID)
	}
	return ids
}

func TestDiscoverAppliesTwoOfThreeRule(t *testing.T) {
	backend := newFakeBackend("fake", map[int][]bool{
		0: {true, false, true},
		1: {false, false, false},
		2: {true, false, false},
		3: {false, true, true},
	})
	m := newTestManager(backend)

	found, err := m.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if diff := cmp.Diff([]int{0, 3}, descriptorIDs(found)); diff != "" {
		t.Fatalf("accepted devices mismatch (-want +got):\n%s", diff)
	}
	for _, idx := range []int{0, 1, 2, 3} {
		if live := backend.liveCount(idx); live != 0 {
			t.Fatalf("probe left device %d open (%d handles)", idx, live)
		}
	}
	if got := m.Snapshot().ActiveID; got != -1 {
		t.Fatalf("discovery must not open a device, active=%d", got)
	}
}

func TestDiscoverReplacesPreviousSet(t *testing.T) {
	backend := newFakeBackend("fake", map[int][]bool{0: {true}, 1: {true}})
	m := newTestManager(backend)
	if _, err := m.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	backend.setPattern(0, []bool{false})
	found, err := m.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if diff := cmp.Diff([]int{1}, descriptorIDs(found)); diff != "" {
		t.Fatalf("rescan should replace the set (-want +got):\n%s", diff)
	}
}

func TestDiscoverReleasesOpenDeviceThatStoppedWorking(t *testing.T) {
	backend := newFakeBackend("fake", map[int][]bool{0: {true}, 1: {true}})
	m := newTestManager(backend)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Active() != 0 {
		t.Fatalf("expected camera 0 open, got %d", m.Active())
	}

	dev := m.device.(*fakeDevice)
	dev.mu.Lock()
	dev.pattern = []bool{false}
	dev.mu.Unlock()

	found, err := m.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if diff := cmp.Diff([]int{1}, descriptorIDs(found)); diff != "" {
		t.Fatalf("unexpected set (-want +got):\n%s", diff)
	}
	if m.Active() != -1 {
		t.Fatalf("failed device should be released, active=%d", m.Active())
	}
	if backend.liveCount(0) != 0 {
		t.Fatal("released device still holds a handle")
	}
}

func TestOpenRequiresThreeOfFiveAndFallsBack(t *testing.T) {
	weak := newFakeBackend("weak", map[int][]bool{0: {true, false, true, false, false}})
	strong := newFakeBackend("strong", map[int][]bool{0: {true, true, false, false, true}})
	m := newTestManager(weak, strong)

	err := m.Open(context.Background(), Descriptor{ID: 0, Backend: "weak"}, []string{"strong"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	info := m.Snapshot()
	if info.Backend != "strong" || info.ActiveID != 0 {
		t.Fatalf("expected fallback to strong backend, got %+v", info)
	}
	if weak.liveCount(0) != 0 {
		t.Fatal("rejected backend handle was not closed")
	}
}

func TestOpenFailsWithCameraUnavailable(t *testing.T) {
	backend := newFakeBackend("fake", map[int][]bool{0: {true, true, false, false, false}})
	m := newTestManager(backend)

	err := m.Open(context.Background(), Descriptor{ID: 0, Backend: "fake"}, nil)
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable, got %v", err)
	}
	if m.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", m.State())
	}
}

func TestReadWithoutDeviceIsFrameReadError(t *testing.T) {
	m := newTestManager(newFakeBackend("fake", nil))
	_, err := m.Read()
	var readErr *FrameReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected FrameReadError, got %T", err)
	}
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice cause, got %v", err)
	}
}

func TestReadStampsSequenceAndHandle(t *testing.T) {
	backend := newFakeBackend("fake", map[int][]bool{1: {true}})
	m := newTestManager(backend)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, err := m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	second, err := m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if first.DeviceID != 1 || second.Seq != first.Seq+1 || first.Handle != second.Handle {
		t.Fatalf("unexpected frame stamps: %+v / %+v", first, second)
	}
	if img := first.Image(); img == nil || img.Bounds().Dx() != 2 {
		t.Fatal("expected frame to convert to a 2x2 image")
	}
}

func TestSwitchToUnknownKeepsDevice(t *testing.T) {
	backend := newFakeBackend("fake", map[int][]bool{0: {true}, 2: {true}})
	m := newTestManager(backend)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	handle := m.Snapshot().Handle

	if m.SwitchTo(context.Background(), 7) {
		t.Fatal("switch to unknown id should fail")
	}
	info := m.Snapshot()
	if info.ActiveID != 0 || info.Handle != handle {
		t.Fatalf("current device must be untouched, got %+v", info)
	}
	if backend.openCount(0) != 2 {
		t.Fatalf("expected probe + open for camera 0, got %d opens", backend.openCount(0))
	}
}

func TestSwitchNextRoundRobin(t *testing.T) {
	backend := newFakeBackend("fake", map[int][]bool{0: {true}, 2: {true}, 3: {true}})
	m := newTestManager(backend)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var order []int
	for i := 0; i < 3; i++ {
		if !m.SwitchNext(context.Background()) {
			t.Fatalf("SwitchNext %d failed", i)
		}
		order = append(order, m.Active())
	}
	if diff := cmp.Diff([]int{2, 3, 0}, order); diff != "" {
		t.Fatalf("round robin order mismatch (-want +got):\n%s", diff)
	}
	for _, idx := range []int{0, 2, 3} {
		want := 0
		if idx == 0 {
			want = 1
		}
		if live := backend.liveCount(idx); live != want {
			t.Fatalf("camera %d has %d live handles, want %d", idx, live, want)
		}
	}
}

func TestConcurrentSwitchNeverMixesHandles(t *testing.T) {
	backend := newFakeBackend("fake", map[int][]bool{0: {true}, 1: {true}, 2: {true}})
	m := newTestManager(backend)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200 && ctx.Err() == nil; i++ {
			m.SwitchTo(ctx, i%3)
		}
	}()

	handles := make(map[uint64]int)
	var mismatch error
	go func() {
		defer wg.Done()
		for i := 0; i < 1000 && ctx.Err() == nil; i++ {
			frame, err := m.Read()
			if err != nil {
				continue
			}
			if int(frame.Data[0]) != frame.DeviceID {
				mismatch = errors.New("frame data came from a different device than reported")
				return
			}
			if prev, ok := handles[frame.Handle]; ok && prev != frame.DeviceID {
				mismatch = errors.New("one handle produced frames for two devices")
				return
			}
			handles[frame.Handle] = frame.DeviceID
		}
	}()
	wg.Wait()

	if mismatch != nil {
		t.Fatal(mismatch)
	}
	total := 0
	for _, idx := range []int{0, 1, 2} {
		total += backend.liveCount(idx)
	}
	if total != 1 {
		t.Fatalf("expected exactly one live device handle, got %d", total)
	}
}

func TestRecoverHonoursIntervalAndBudget(t *testing.T) {
	// Three good reads pass the open probe; every read after that fails.
	backend := newFakeBackend("fake", map[int][]bool{0: {true, true, true, false}})
	m := newTestManager(backend)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	backend.setPattern(0, []bool{false})

	now := time.Now()
	if _, err := m.Read(); err == nil {
		t.Fatal("expected the first read to fail")
	}
	if err := m.Recover(context.Background(), now); !errors.Is(err, ErrReinitDeferred) {
		t.Fatalf("expected ErrReinitDeferred below the consecutive failure limit, got %v", err)
	}
	if _, err := m.Read(); err == nil {
		t.Fatal("expected the second read to fail")
	}

	err := m.Recover(context.Background(), now)
	if err == nil || errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("first failed cycle should not exhaust the budget, got %v", err)
	}
	if err := m.Recover(context.Background(), now.Add(time.Second)); !errors.Is(err, ErrReinitDeferred) {
		t.Fatalf("expected ErrReinitDeferred inside the interval, got %v", err)
	}
	err = m.Recover(context.Background(), now.Add(2*time.Second))
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable once the budget is spent, got %v", err)
	}
	if m.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", m.State())
	}

	backend.setPattern(0, []bool{true})
	if err := m.Recover(context.Background(), now.Add(4*time.Second)); err != nil {
		t.Fatalf("expected recovery once the device works again, got %v", err)
	}
	if info := m.Snapshot(); info.ReinitFailures != 0 || info.ActiveID != 0 {
		t.Fatalf("unexpected state after recovery: %+v", info)
	}
}

func TestIsolatedReadFailureKeepsDevice(t *testing.T) {
	// Open probe takes reads 0-2; read 4 is the only failure afterwards.
	backend := newFakeBackend("fake", map[int][]bool{0: {true, true, true, true, false, true}})
	m := newTestManager(backend)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before, err := m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	_, err = m.Read()
	var readErr *FrameReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected FrameReadError, got %v", err)
	}
	if err := m.Recover(context.Background(), time.Now()); !errors.Is(err, ErrReinitDeferred) {
		t.Fatalf("expected ErrReinitDeferred after one failed read, got %v", err)
	}

	for i := 0; i < 10; i++ {
		after, err := m.Read()
		if err != nil {
			t.Fatalf("Read %d after glitch: %v", i, err)
		}
		if after.Handle != before.Handle {
			t.Fatalf("device reopened after one failed read: handle %d -> %d", before.Handle, after.Handle)
		}
	}
	// One open during discovery, one for the capture device.
	if got := backend.openCount(0); got != 2 {
		t.Fatalf("expected 2 opens, got %d", got)
	}
}

func TestRescanWithNoDevices(t *testing.T) {
	m := newTestManager(newFakeBackend("fake", map[int][]bool{}))
	err := m.Rescan(context.Background())
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable, got %v", err)
	}
	if m.Active() != -1 {
		t.Fatalf("expected no active device, got %d", m.Active())
	}
}

func TestBackendOrder(t *testing.T) {
	got := backendOrder("V4L2", []string{"gstreamer", "v4l2", " ", "v4l2-mjpeg"})
	if diff := cmp.Diff([]string{"v4l2", "gstreamer", "v4l2-mjpeg"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestPauseWindow(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := PauseWindow(tt.attempt, 2*time.Second, 30*time.Second); got != tt.want {
			t.Errorf("PauseWindow(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateReading.String() != "reading" || State(42).String() != "unknown(42)" {
		t.Fatal("unexpected state labels")
	}
}
