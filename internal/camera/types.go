package camera

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	// ErrCameraUnavailable reports that no backend could open a device that
	// produces stable frames.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrReinitDeferred is returned by Recover when the previous attempt was
	// inside the reinit interval.
	ErrReinitDeferred = errors.New("camera reinit deferred")
	// ErrNoDevice reports a read while no device is open.
	ErrNoDevice = errors.New("no camera open")
	// ErrEmptyFrame reports a read that returned no pixel data.
	ErrEmptyFrame = errors.New("empty frame")
)

// FrameReadError wraps a failed read from the active device.
type FrameReadError struct {
	DeviceID int
	Err      error
}

func (e *FrameReadError) Error() string {
	return fmt.Sprintf("read frame from camera %d: %v", e.DeviceID, e.Err)
}

func (e *FrameReadError) Unwrap() error { return e.Err }

// State is the lifecycle position of the Manager.
type State int

const (
	StateUninitialized State = iota
	StateScanning
	StateOpen
	StateReading
	StateFailed
	StateSwitching
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateScanning:
		return "scanning"
	case StateOpen:
		return "open"
	case StateReading:
		return "reading"
	case StateFailed:
		return "failed"
	case StateSwitching:
		return "switching"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Descriptor describes one device accepted by discovery.
type Descriptor struct {
	ID      int     `json:"id"`
	Backend string  `json:"backend"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps"`
	Name    string  `json:"name"`
	Path    string  `json:"path,omitempty"`
}

// Params are the capture settings requested from a backend.
type Params struct {
	Width  int
	Height int
	FPS    float64
}

// Frame is one RGB24 image read from the active device. Handle identifies
// the device handle generation that produced it; it changes on every open.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Channels  int
	Data      []byte
	DeviceID  int
	Handle    uint64
}

// Empty reports whether the frame carries no pixel data.
func (f Frame) Empty() bool {
	return len(f.Data) == 0 || f.Width <= 0 || f.Height <= 0
}

// Image converts the frame into an RGBA image. It returns nil when the
// buffer is shorter than the declared geometry.
func (f Frame) Image() *image.RGBA {
	channels := f.Channels
	if channels == 0 {
		channels = 3
	}
	if f.Empty() || len(f.Data) < f.Width*f.Height*channels {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, o := 0, 0; i+channels <= f.Width*f.Height*channels; i, o = i+channels, o+4 {
		img.Pix[o] = f.Data[i]
		if channels >= 3 {
			img.Pix[o+1] = f.Data[i+1]
			img.Pix[o+2] = f.Data[i+2]
		} else {
			img.Pix[o+1] = f.Data[i]
			img.Pix[o+2] = f.Data[i]
		}
		img.Pix[o+3] = 0xff
	}
	return img
}

// Info is a point-in-time view of the Manager for status output.
type Info struct {
	State          string       `json:"state"`
	ActiveID       int          `json:"active_id"`
	Backend        string       `json:"backend,omitempty"`
	Handle         uint64       `json:"handle"`
	Descriptors    []Descriptor `json:"descriptors"`
	FramesRead     uint64       `json:"frames_read"`
	ReadFailures   uint64       `json:"read_failures"`
	ReinitFailures int          `json:"reinit_failures"`
	LastScan       time.Time    `json:"last_scan,omitempty"`
}
