//go:build !linux

package camera

import (
	"context"
	"log/slog"
)

// HotplugMonitor is inactive on platforms without udev.
type HotplugMonitor struct{}

// NewHotplugMonitor returns an inactive monitor.
func NewHotplugMonitor(*slog.Logger, func(ctx context.Context, device string)) *HotplugMonitor {
	return &HotplugMonitor{}
}

func (m *HotplugMonitor) Start(context.Context) error { return nil }

func (m *HotplugMonitor) Stop() {}

func (m *HotplugMonitor) Running() bool { return false }
