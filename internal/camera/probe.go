package camera

import (
	"context"
	"strconv"
	"time"
)

const (
	discoveryAttempts = 3
	discoveryRequired = 2
	openAttempts      = 5
	openRequired      = 3
)

// probe reads attempts frames from dev and reports whether at least
// required of them carried pixel data.
func probe(ctx context.Context, dev Device, attempts, required int, interval time.Duration, sleep sleepFunc) bool {
	good := 0
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return false
		}
		if frame, err := dev.Read(); err == nil && !frame.Empty() {
			good++
			if good >= required {
				return true
			}
		}
		// Not enough attempts left to reach the bar.
		if good+(attempts-i-1) < required {
			return false
		}
		if i < attempts-1 && interval > 0 {
			if err := sleep(ctx, interval); err != nil {
				return false
			}
		}
	}
	return good >= required
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fallbackName(index int) string {
	return "Camera " + strconv.Itoa(index)
}
