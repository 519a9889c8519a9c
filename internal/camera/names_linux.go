//go:build linux

package camera

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// vidiocQueryCap is _IOR('V', 0, struct v4l2_capability).
const vidiocQueryCap = 0x80685600

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

// DevicePath returns the V4L2 node for index.
func DevicePath(index int) string {
	return fmt.Sprintf("/dev/video%d", index)
}

// DisplayName returns the card name reported by the driver, falling back
// to "Camera <index>".
func DisplayName(index int) string {
	if name, err := queryCardName(DevicePath(index)); err == nil && name != "" {
		return name
	}
	return fallbackName(index)
}

func queryCardName(path string) (string, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd) //nolint:errcheck

	var capability v4l2Capability
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(vidiocQueryCap), uintptr(unsafe.Pointer(&capability))); errno != 0 {
		return "", fmt.Errorf("ioctl VIDIOC_QUERYCAP on %s: %w", path, errno)
	}
	return strings.TrimSpace(unix.ByteSliceToString(capability.Card[:])), nil
}
