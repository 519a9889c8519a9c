//go:build !linux

package camera

import "strconv"

// DevicePath returns the device reference for index.
func DevicePath(index int) string {
	return strconv.Itoa(index)
}

// DisplayName returns "Camera <index>".
func DisplayName(index int) string {
	return fallbackName(index)
}
