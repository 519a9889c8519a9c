//go:build linux

package camera

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"rollcall/internal/logging"
)

const hotplugDebounce = time.Second

// HotplugMonitor listens for video4linux add/remove uevents and calls
// onChange once the burst of events for a plug or unplug has settled.
type HotplugMonitor struct {
	logger   *slog.Logger
	onChange func(ctx context.Context, device string)
	debounce time.Duration

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	timer   *time.Timer
	running bool
}

// NewHotplugMonitor returns a monitor that reports device changes to onChange.
func NewHotplugMonitor(logger *slog.Logger, onChange func(ctx context.Context, device string)) *HotplugMonitor {
	return &HotplugMonitor{
		logger:   logging.NewComponentLogger(logger, "hotplug"),
		onChange: onChange,
		debounce: hotplugDebounce,
	}
}

// Start connects to the kernel uevent socket. A connection failure is
// logged and leaves the monitor stopped; rescans then rely on the
// control API.
func (m *HotplugMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; camera hotplug disabled", "hotplug_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets, or use rollcall rescan"),
			logging.String(logging.FieldImpact, "new cameras are not picked up automatically"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true
	go m.monitorLoop(ctx, conn, m.quit)

	m.logger.Info("hotplug monitor started", logging.String(logging.FieldEventType, "hotplug_started"))
	return nil
}

// Stop closes the uevent socket.
func (m *HotplugMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
	m.logger.Info("hotplug monitor stopped", logging.String(logging.FieldEventType, "hotplug_stopped"))
}

// Running reports whether the monitor is connected.
func (m *HotplugMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *HotplugMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "hotplug monitor error", "hotplug_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "camera changes may be missed"),
			)
		}
	}
}

// buildMatcher matches SUBSYSTEM=video4linux with ACTION=add|remove.
func buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func (m *HotplugMonitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	device := extractDeviceName(uevent)
	m.logger.Info("camera hotplug event",
		logging.String(logging.FieldEventType, "hotplug_event"),
		logging.String("action", string(uevent.Action)),
		logging.String("device", device),
	)
	if m.onChange == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	if m.debounce <= 0 {
		go m.onChange(ctx, device)
		return
	}
	m.timer = time.AfterFunc(m.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		m.onChange(ctx, device)
	})
}

func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			return "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
