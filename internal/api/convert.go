package api

import (
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/camera"
	"rollcall/internal/faces"
	"rollcall/internal/logging"
	"rollcall/internal/match"
	"rollcall/internal/preflight"
	"rollcall/internal/scheduler"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromDescriptors converts discovered devices, flagging the active one.
func FromDescriptors(descriptors []camera.Descriptor, active int) []Camera {
	out := make([]Camera, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, Camera{
			ID:      d.ID,
			Name:    d.Name,
			Backend: d.Backend,
			Width:   d.Width,
			Height:  d.Height,
			FPS:     d.FPS,
			Path:    d.Path,
			Active:  d.ID == active,
		})
	}
	return out
}

// FromCameraInfo converts a camera manager snapshot.
func FromCameraInfo(info camera.Info) CameraStatus {
	return CameraStatus{
		State:          info.State,
		ActiveID:       info.ActiveID,
		Backend:        info.Backend,
		FramesRead:     info.FramesRead,
		ReadFailures:   info.ReadFailures,
		ReinitFailures: info.ReinitFailures,
		LastScan:       formatTime(info.LastScan),
		Cameras:        FromDescriptors(info.Descriptors, info.ActiveID),
	}
}

// FromMatches converts match results.
func FromMatches(results []match.Result) []Match {
	out := make([]Match, 0, len(results))
	for _, r := range results {
		var id *int64
		if r.IdentityID != nil {
			v := *r.IdentityID
			id = &v
		}
		out = append(out, Match{
			IdentityID: id,
			Label:      r.Label,
			Score:      r.Score,
			X:          r.Region.X,
			Y:          r.Region.Y,
			Width:      r.Region.W,
			Height:     r.Region.H,
		})
	}
	return out
}

// FromLoopStatus converts the capture loop status.
func FromLoopStatus(s scheduler.Status) LoopStatus {
	return LoopStatus{
		Running:           s.Running,
		StartedAt:         formatTime(s.StartedAt),
		Health:            string(s.Health),
		ActiveCamera:      s.ActiveCamera,
		FramesRead:        s.FramesRead,
		FramesSampled:     s.FramesSampled,
		FramesMatched:     s.FramesMatched,
		RecorderCalls:     s.RecorderCalls,
		ReadFailures:      s.ReadFailures,
		LastSampleAt:      formatTime(s.LastSampleAt),
		LastOutcome:       s.LastOutcome,
		LastError:         s.LastError,
		LastResults:       FromMatches(s.LastResults),
		PausedUntil:       formatTime(s.PausedUntil),
		UnavailablePauses: s.UnavailablePauses,
	}
}

// FromSnapshot summarises a roster snapshot and the report of the load that
// produced it. Individual templates are listed only when withTemplates is set.
func FromSnapshot(snap *faces.Snapshot, report *faces.LoadReport, withTemplates bool) TemplateStatus {
	status := TemplateStatus{}
	if snap != nil {
		status.Count = snap.Len()
		status.Version = snap.Version
		status.Model = snap.Model
		status.LoadedAt = formatTime(snap.LoadedAt)
		if withTemplates {
			for _, tpl := range snap.Templates {
				status.Templates = append(status.Templates, TemplateEntry{
					IdentityID: tpl.IdentityID,
					Label:      tpl.Label,
					Order:      tpl.Order,
					Dim:        len(tpl.Feature),
				})
			}
		}
	}
	if report != nil {
		status.CacheHits = report.CacheHits
		for _, skip := range report.Skipped {
			status.Skipped = append(status.Skipped, SkippedPhoto{Name: skip.Name, Stage: skip.Stage, Reason: skip.Reason})
		}
	}
	return status
}

// FromAttendanceStats converts recorder statistics.
func FromAttendanceStats(mode, store string, stats attendance.Stats) AttendanceStatus {
	return AttendanceStatus{
		Enabled:       true,
		Mode:          mode,
		Store:         store,
		Marked:        stats.Marked,
		AlreadyMarked: stats.AlreadyMarked,
		NoSession:     stats.NoSession,
		StoreErrors:   stats.StoreErrors,
		Pending:       stats.Pending,
		Dropped:       stats.Dropped,
		LastError:     stats.LastError,
		LastErrorKind: stats.LastErrorKind,
		LastErrorAt:   formatTime(stats.LastErrorAt),
	}
}

// FromEntries converts stored marks.
func FromEntries(entries []attendance.Entry) []AttendanceEntry {
	out := make([]AttendanceEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, AttendanceEntry{
			EventID:    e.EventID,
			IdentityID: e.IdentityID,
			SessionID:  e.SessionID,
			DateKey:    e.DateKey,
			Status:     e.Status,
			MarkedAt:   formatTime(e.At),
			Score:      e.Score,
			Source:     e.Source,
		})
	}
	return out
}

// FromCheckResults converts preflight results.
func FromCheckResults(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// FromReply converts a capture loop command reply.
func FromReply(r scheduler.Reply) CommandResponse {
	resp := CommandResponse{
		OK:          r.OK,
		Message:     r.Message,
		Error:       r.Err,
		CapturePath: r.CapturePath,
	}
	if len(r.Results) > 0 {
		resp.Matches = FromMatches(r.Results)
	}
	if r.Camera != nil {
		cam := FromCameraInfo(*r.Camera)
		resp.Camera = &cam
	}
	if r.Status != nil {
		loop := FromLoopStatus(*r.Status)
		resp.Loop = &loop
	}
	return resp
}

// FromLogEvents converts buffered log events.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:   evt.Sequence,
			Timestamp:  formatTime(evt.Timestamp),
			Level:      evt.Level,
			Message:    evt.Message,
			Component:  evt.Component,
			CameraID:   evt.CameraID,
			IdentityID: evt.IdentityID,
			Fields:     evt.Fields,
		})
	}
	return out
}
