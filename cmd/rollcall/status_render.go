package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"rollcall/internal/api"
	"rollcall/internal/camera"
	"rollcall/internal/deps"
	"rollcall/internal/scheduler"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// daemonStatusLines renders the daemon section of `rollcall status`.
func daemonStatusLines(status *api.DaemonStatus, colorize bool) []string {
	if status == nil {
		return []string{renderStatusLine("Daemon", statusError, "Not running", colorize)}
	}
	lines := []string{
		renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize),
		renderStatusLine("Loop health", healthKind(status.Loop.Health), status.Loop.Health, colorize),
		renderStatusLine("Camera", cameraKind(status.Camera.State), cameraDetail(status.Camera), colorize),
		renderStatusLine("Frames", statusInfo, fmt.Sprintf("%d read, %d sampled, %d matched",
			status.Loop.FramesRead, status.Loop.FramesSampled, status.Loop.FramesMatched), colorize),
	}

	templates := fmt.Sprintf("%d loaded", status.Templates.Count)
	kind := statusOK
	if status.Templates.Count == 0 {
		kind = statusWarn
	}
	if skipped := len(status.Templates.Skipped); skipped > 0 {
		templates += fmt.Sprintf(", %d skipped", skipped)
		kind = statusWarn
	}
	lines = append(lines, renderStatusLine("Templates", kind, templates, colorize))

	if !status.Attendance.Enabled {
		lines = append(lines, renderStatusLine("Attendance", statusInfo, "Disabled", colorize))
	} else {
		a := status.Attendance
		kind := statusOK
		detail := fmt.Sprintf("%s via %s: %d marked, %d already marked, %d without session",
			a.Mode, a.Store, a.Marked, a.AlreadyMarked, a.NoSession)
		if a.StoreErrors > 0 || a.Dropped > 0 {
			kind = statusWarn
			detail += fmt.Sprintf(", %d store errors, %d dropped", a.StoreErrors, a.Dropped)
		}
		lines = append(lines, renderStatusLine("Attendance", kind, detail, colorize))
		if a.LastError != "" {
			lines = append(lines, renderStatusLine("Last store error", statusWarn, a.LastError, colorize))
		}
	}
	if status.Loop.LastError != "" {
		lines = append(lines, renderStatusLine("Last loop error", statusWarn, status.Loop.LastError, colorize))
	}
	if status.LogPath != "" {
		lines = append(lines, renderStatusLine("Log file", statusInfo, status.LogPath, colorize))
	}
	return lines
}

func healthKind(health string) statusKind {
	switch scheduler.Health(health) {
	case scheduler.HealthOK, scheduler.HealthNoMatch:
		return statusOK
	case "":
		return statusInfo
	case scheduler.HealthCameraFault:
		return statusError
	default:
		return statusWarn
	}
}

func cameraKind(state string) statusKind {
	switch state {
	case camera.StateOpen.String(), camera.StateReading.String():
		return statusOK
	case camera.StateFailed.String(), camera.StateClosed.String():
		return statusError
	default:
		return statusWarn
	}
}

func cameraDetail(cam api.CameraStatus) string {
	if cameraKind(cam.State) != statusOK {
		return fmt.Sprintf("%s (%d discovered)", cam.State, len(cam.Cameras))
	}
	detail := fmt.Sprintf("#%d", cam.ActiveID)
	if cam.Backend != "" {
		detail += " via " + cam.Backend
	}
	return fmt.Sprintf("%s (%d discovered)", detail, len(cam.Cameras))
}

func checkLines(checks []api.CheckResult, colorize bool) []string {
	lines := make([]string, 0, len(checks))
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(statuses)+1)
	var missing []string
	for _, dep := range statuses {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		} else {
			missing = append(missing, dep.Name)
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusError, strings.Join(missing, ", "), colorize))
	}
	return lines
}
