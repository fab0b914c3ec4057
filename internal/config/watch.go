package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and invokes apply with a freshly loaded and
// validated Config after each change. Reloads are debounced because editors
// commonly emit several write events per save. A file that fails to load or
// validate is ignored and the previous configuration stays in effect.
//
// Only limit-style settings are expected to take effect at runtime; the
// applier decides which fields it honors.
func Watch(ctx context.Context, path string, logger *slog.Logger, apply func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace the file on save,
	// which drops a watch registered on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	log := logger.With(slog.String("component", "config_watch"))
	base := filepath.Base(path)

	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Warn("config reload failed", slog.String("error", err.Error()))
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Warn("reloaded config invalid, keeping previous", slog.String("error", err.Error()))
			return
		}
		log.Info("config reloaded", slog.String("path", path))
		apply(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}
