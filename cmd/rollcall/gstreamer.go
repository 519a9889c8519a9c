//go:build gstreamer

package main

// Registers the GStreamer capture backend.
import _ "rollcall/internal/camera/gstreamer"
