//go:build gstreamer

// Package gstreamer adds a GStreamer capture backend. It is compiled only
// with the gstreamer build tag and registers itself on import.
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"rollcall/internal/camera"
)

// BackendName is the name used in camera.discovery_backends and
// camera.open_backends.
const BackendName = "gstreamer"

const pullTimeout = 2 * time.Second

var initOnce sync.Once

func init() {
	camera.RegisterBackend(Backend{})
}

// Backend opens V4L2 devices through v4l2src and an appsink producing RGB.
type Backend struct{}

func (Backend) Name() string { return BackendName }

// PipelineString returns the launch description for index.
func PipelineString(index int, want camera.Params) string {
	return fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! videoscale ! video/x-raw,format=RGB,width=%d,height=%d ! appsink name=sink",
		camera.DevicePath(index), want.Width, want.Height,
	)
}

func (Backend) Open(ctx context.Context, index int, want camera.Params) (camera.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	initOnce.Do(func() { gst.Init(nil) })

	if want.Width <= 0 || want.Height <= 0 {
		want.Width, want.Height = 640, 480
	}
	pipeline, err := gst.NewPipelineFromString(PipelineString(index, want))
	if err != nil {
		return nil, fmt.Errorf("create pipeline for camera %d: %w", index, err)
	}
	element, err := pipeline.GetElementByName("sink")
	if err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("find appsink: %w", err)
	}
	sink := app.SinkFromElement(element)
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("start pipeline for camera %d: %w", index, err)
	}
	return &device{pipeline: pipeline, sink: sink, params: want}, nil
}

type device struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	params   camera.Params

	closeOnce sync.Once
}

var errNoSample = errors.New("appsink returned no sample")

func (d *device) Read() (camera.Frame, error) {
	sample := d.sink.TryPullSample(gst.ClockTime(pullTimeout.Nanoseconds()))
	if sample == nil {
		return camera.Frame{}, errNoSample
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return camera.Frame{}, errNoSample
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	return camera.Frame{
		Timestamp: time.Now(),
		Width:     d.params.Width,
		Height:    d.params.Height,
		Channels:  3,
		Data:      frameData,
	}, nil
}

func (d *device) Info() (int, int, float64) {
	return d.params.Width, d.params.Height, d.params.FPS
}

func (d *device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.pipeline.SetState(gst.StateNull)
	})
	return err
}
