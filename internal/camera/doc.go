// Package camera discovers capture devices, keeps exactly one of them open,
// and serialises frame reads against device switches.
//
// Devices are reached through named backends. The built-in backends run
// ffmpeg as a subprocess and read raw RGB24 frames from its stdout; their
// input settings come from an embedded profile table. Other backends (for
// example GStreamer) register themselves with RegisterBackend when compiled
// in.
//
// A device is only accepted when it returns frames reliably: discovery
// requires two good reads out of three, opening requires three out of five.
// When reads fail, Recover reinitialises the device at a bounded rate and
// reports ErrCameraUnavailable once its failure budget is spent.
package camera
