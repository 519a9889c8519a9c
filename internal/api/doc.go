// Package api defines wire-format types and converters for the control API.
// It translates internal camera, scheduler, template and attendance models
// into transport-friendly DTOs shared by the daemon and the CLI client.
//
// # Key Types
//
// DaemonStatus: daemon runtime state, loop counters and health, active camera,
// roster summary, attendance statistics and preflight results.
//
// CameraList: discovered devices and the active one.
//
// CommandResponse: the reply to an operator command (quit, capture, switch,
// rescan, info).
//
// AttendanceList and LogStreamResponse: recent marks and structured log
// payloads for tailing.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds and
// are omitted when zero. Identity ids are pointers so an unidentified match
// (a template without a numeric id) round-trips as null.
package api
