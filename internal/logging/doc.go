// Package logging assembles structured slog loggers and formatting helpers used
// across rollcall.
//
// It owns the console and JSON handlers, the per-run daemon log file, the
// in-memory StreamHub behind the control API's log endpoint, and helpers that
// keep warnings shaped as cause, impact and next step. Component loggers tag
// records with camera and identity ids so console lines read as
// "camera [cam 0]: ...". A no-op logger is provided for tests and for wiring
// code that cannot fail.
package logging
