// Package scheduler runs the capture loop: it reads frames from the camera
// manager, matches every Kth frame against the template roster, hands fresh
// identifications to the attendance recorder and services operator commands.
//
// The loop is a single goroutine. Commands arrive on a channel and are
// consumed at most one per iteration, including while the loop is paused
// waiting for a camera to come back.
package scheduler
