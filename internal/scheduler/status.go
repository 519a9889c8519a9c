package scheduler

import (
	"slices"
	"time"

	"rollcall/internal/match"
)

// Health summarises the loop's most recent outcome.
type Health string

const (
	HealthOK            Health = "ok"
	HealthNoMatch       Health = "no_match"
	HealthCameraFault   Health = "camera_fault"
	HealthStoreFault    Health = "store_fault"
	HealthDetectorFault Health = "detector_fault"
)

// Status is a point-in-time view of the loop.
type Status struct {
	Running           bool           `json:"running"`
	StartedAt         time.Time      `json:"started_at,omitempty"`
	ActiveCamera      int            `json:"active_camera"`
	FramesRead        uint64         `json:"frames_read"`
	FramesSampled     uint64         `json:"frames_sampled"`
	FramesMatched     uint64         `json:"frames_matched"`
	RecorderCalls     uint64         `json:"recorder_calls"`
	ReadFailures      uint64         `json:"read_failures"`
	LastSampleAt      time.Time      `json:"last_sample_at,omitempty"`
	LastResults       []match.Result `json:"last_results,omitempty"`
	LastOutcome       string         `json:"last_outcome,omitempty"`
	Health            Health         `json:"health"`
	LastError         string         `json:"last_error,omitempty"`
	PausedUntil       time.Time      `json:"paused_until,omitempty"`
	UnavailablePauses int            `json:"unavailable_pauses"`
}

// Status returns a copy of the current status.
func (l *Loop) Status() Status {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()
	out := l.status
	out.LastResults = slices.Clone(l.status.LastResults)
	return out
}

func (l *Loop) updateStatus(fn func(*Status)) {
	l.statusMu.Lock()
	fn(&l.status)
	l.statusMu.Unlock()
}
