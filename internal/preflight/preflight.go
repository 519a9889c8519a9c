package preflight

import (
	"context"
	"time"

	"rollcall/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Pinger is satisfied by every attendance store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes the applicable checks. store may be nil, in which case the
// store check is reported as skipped when attendance is enabled.
func RunAll(ctx context.Context, cfg *config.Config, store Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Photo directory", cfg.Paths.PhotoDir),
	}
	if cfg.Paths.CaptureDir != "" {
		results = append(results, CheckDirectoryAccess("Capture directory", cfg.Paths.CaptureDir))
	}
	for _, dep := range CheckSystemDeps(cfg) {
		if dep.Optional && !dep.Available {
			continue
		}
		detail := dep.Command
		if !dep.Available {
			detail = dep.Detail
		}
		results = append(results, Result{Name: dep.Name, Passed: dep.Available, Detail: detail})
	}
	results = append(results, CheckFaceService(ctx, cfg.Recognition.FaceServiceURL, 5*time.Second))

	if cfg.Attendance.Enabled {
		if store == nil {
			results = append(results, Result{Name: "Attendance store", Detail: "not opened"})
		} else {
			results = append(results, CheckStore(ctx, cfg.Attendance.Store, store))
		}
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
