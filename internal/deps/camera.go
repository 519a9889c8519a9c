package deps

import (
	"slices"
	"strings"
)

// gstreamerBackend is the capture backend served by the GStreamer runtime
// rather than an ffmpeg subprocess.
const gstreamerBackend = "gstreamer"

// CameraRequirements lists the binaries needed by the configured capture
// backends. ffmpeg is required when any ffmpeg profile is configured; the
// GStreamer tools are optional because that backend is only present in
// builds with the gstreamer tag.
func CameraRequirements(ffmpegBinary string, backends ...[]string) []Requirement {
	var names []string
	for _, list := range backends {
		for _, name := range list {
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" && !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}

	var reqs []Requirement
	needsFFmpeg := false
	for _, name := range names {
		if name != gstreamerBackend {
			needsFFmpeg = true
		}
	}
	if needsFFmpeg {
		if strings.TrimSpace(ffmpegBinary) == "" {
			ffmpegBinary = "ffmpeg"
		}
		reqs = append(reqs, Requirement{
			Name:        "FFmpeg",
			Command:     ffmpegBinary,
			Description: "Required for v4l2 and avfoundation capture",
		})
	}
	if slices.Contains(names, gstreamerBackend) {
		reqs = append(reqs, Requirement{
			Name:        "GStreamer",
			Command:     "gst-inspect-1.0",
			Description: "Runtime for the gstreamer capture backend",
			Optional:    true,
		})
	}
	return reqs
}
