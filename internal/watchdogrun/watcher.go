package watchdogrun

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"tokenwatch/internal/logging"
)

// watchTarget wakes the watchdog whenever the watch file is written,
// created, renamed or removed. The parent directory is watched so atomic
// replacements are seen.
func watchTarget(ctx context.Context, path string, wake func(), logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
					logger.Debug("watch target event", logging.String("op", ev.Op.String()))
					wake()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.WarnWithContext(logger, "file watcher error", "watcher_error",
					logging.Error(err),
					logging.String(logging.FieldImpact, "changes detected on the next poll instead"),
				)
			}
		}
	}()
	return nil
}
