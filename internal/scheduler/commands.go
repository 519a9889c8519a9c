package scheduler

import (
	"context"
	"errors"
	"fmt"

	"rollcall/internal/camera"
	"rollcall/internal/match"
)

// ErrNotRunning is returned when a command is submitted to a stopped loop.
var ErrNotRunning = errors.New("scheduler not running")

// CommandKind identifies an operator command.
type CommandKind int

const (
	// Quit stops the loop.
	Quit CommandKind = iota
	// ManualCapture forces a full match on the next frame.
	ManualCapture
	// SwitchCamera opens the next camera, or CameraID when set.
	SwitchCamera
	// Rescan re-runs device discovery.
	Rescan
	// ShowInfo reports loop and camera state.
	ShowInfo
)

func (k CommandKind) String() string {
	switch k {
	case Quit:
		return "quit"
	case ManualCapture:
		return "capture"
	case SwitchCamera:
		return "switch"
	case Rescan:
		return "rescan"
	case ShowInfo:
		return "info"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Command is one operator request. Reply receives exactly one value; it
// must be buffered or drained by the submitter.
type Command struct {
	Kind     CommandKind
	CameraID *int
	Reply    chan Reply
}

// Reply is the loop's answer to a Command.
type Reply struct {
	OK          bool           `json:"ok"`
	Message     string         `json:"message,omitempty"`
	Results     []match.Result `json:"results,omitempty"`
	CapturePath string         `json:"capture_path,omitempty"`
	Camera      *camera.Info   `json:"camera,omitempty"`
	Status      *Status        `json:"status,omitempty"`
	Err         string         `json:"error,omitempty"`
}

// Submit queues cmd and waits for the reply.
func (l *Loop) Submit(ctx context.Context, kind CommandKind, cameraID *int) (Reply, error) {
	if !l.running.Load() {
		return Reply{}, ErrNotRunning
	}
	cmd := Command{Kind: kind, CameraID: cameraID, Reply: make(chan Reply, 1)}
	select {
	case l.commands <- cmd:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-l.done:
		return Reply{}, ErrNotRunning
	}
	select {
	case reply := <-cmd.Reply:
		return reply, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-l.done:
		return Reply{}, ErrNotRunning
	}
}

// Commands exposes the command channel for callers that manage replies
// themselves, such as the hotplug monitor.
func (l *Loop) Commands() chan<- Command {
	return l.commands
}

func (c Command) reply(r Reply) {
	if c.Reply == nil {
		return
	}
	select {
	case c.Reply <- r:
	default:
	}
}
