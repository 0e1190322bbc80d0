package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sydlexius/cadence/internal/logging"
)

// debounce interval for editors that write config files in multiple events.
const reloadDebounce = 500 * time.Millisecond

// WatchLogging watches the config file and applies logging section changes to
// the manager. Only the logging section is hot-reloadable; everything else
// requires a restart. Blocks until ctx is canceled.
func WatchLogging(ctx context.Context, path string, mgr *logging.Manager, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close() //nolint:errcheck

	// Watch the directory: editors replace files on save, which drops the
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	log := logger.With(slog.String("component", "config-watcher"))
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watch error", "error", err)
		case <-reload:
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload failed, keeping current settings", "error", err)
				continue
			}
			if !logging.ValidLevel(cfg.Logging.Level) || !logging.ValidFormat(cfg.Logging.Format) {
				log.Warn("config reload has invalid logging settings, ignoring",
					"level", cfg.Logging.Level, "format", cfg.Logging.Format)
				continue
			}
			mgr.Reconfigure(cfg.Logging)
			log.Info("applied logging config reload", "config", cfg.Logging.String())
		}
	}
}
