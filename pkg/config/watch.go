package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/vdevq/internal/logger"
)

// watchDebounce coalesces the burst of events editors produce on save.
const watchDebounce = 100 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes each valid
// configuration to onChange. Invalid edits are logged and skipped. Watch
// blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file so that atomic
// replace-by-rename saves are seen.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", logger.KeyError, err)

		case <-timer.C:
			// A missing file would load as defaults.
			if _, err := os.Stat(abs); err != nil {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("Ignoring invalid config change", logger.KeyPath, abs, logger.KeyError, err)
				continue
			}
			logger.Info("Configuration reloaded", logger.KeyPath, abs)
			onChange(cfg)
		}
	}
}
