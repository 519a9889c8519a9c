package faces

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"rollcall/internal/logging"
)

const defaultWatchDebounce = 2 * time.Second

// Watcher reloads the roster when photos in a directory change.
type Watcher struct {
	dir      string
	reload   func(ctx context.Context) error
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher returns a watcher for dir. reload runs once per settled burst
// of changes.
func NewWatcher(dir string, reload func(ctx context.Context) error, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		reload:   reload,
		debounce: defaultWatchDebounce,
		logger:   logging.NewComponentLogger(logger, "photo-watch"),
	}
}

// Run watches until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create photo watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching roster photos", logging.String("dir", w.dir))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(event) {
				continue
			}
			w.logger.Debug("roster photo changed",
				logging.String("path", event.Name),
				logging.String("op", event.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Stop()
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "photo watcher error", "photo_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "roster changes may need a restart to apply"),
			)
		case <-fire:
			fire = nil
			if err := w.reload(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(w.logger, "roster reload failed", "roster_reload_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "previous roster stays active"),
				)
			}
		}
	}
}

func relevantEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	return base != "" && base[0] != '.' && SupportedImage(base)
}
