package camera

import "time"

// PauseWindow returns the pause before the attempt'th retry while no camera
// is available: base doubled per attempt, capped at limit.
func PauseWindow(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return limit
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}
