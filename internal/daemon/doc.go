// Package daemon coordinates the long-running rollcall process.
//
// It wires configuration, the attendance store, the camera manager, the
// template roster and the capture loop into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon owns the
// control API, the udev hotplug monitor and the roster photo watcher, and
// shuts them down in order: loop first, then pending attendance writes, then
// the camera and finally the store.
//
// Keep orchestration logic here: recognition, matching and attendance rules
// live in their respective packages while the daemon focuses on startup,
// shutdown, and high level coordination.
package daemon
