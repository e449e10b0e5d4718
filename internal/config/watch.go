package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"parley/internal/logging"
)

const settingsDebounce = 250 * time.Millisecond

// WatchSettings watches the saved settings file and invokes onChange with
// each successfully reloaded snapshot. Editors and SaveSettings both replace
// the file, so events are debounced and watched on the parent directory.
// Blocks until ctx is canceled.
func WatchSettings(ctx context.Context, logger *logging.Logger, onChange func(Settings)) error {
	if logger == nil {
		panic("config.WatchSettings: logger must not be nil")
	}
	if onChange == nil {
		panic("config.WatchSettings: onChange must not be nil")
	}

	path, err := SettingsPath()
	if err != nil {
		return err
	}
	return watchSettingsFile(ctx, logger, path, onChange)
}

func watchSettingsFile(ctx context.Context, logger *logging.Logger, path string, onChange func(Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	logger.Debug("watching settings file", logging.Field("path", path))

	var pending *time.Timer
	reloads := make(chan struct{}, 1)
	scheduleReload := func() {
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(settingsDebounce, func() {
			select {
			case reloads <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("stopping settings watcher: context canceled", logging.Field("error", ctx.Err()))
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			scheduleReload()
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", logging.Field("error", watchErr))
		case <-reloads:
			settings, loadErr := loadSettingsFile(path)
			if loadErr != nil {
				logger.Debug("settings reload skipped", logging.Field("error", loadErr))
				continue
			}
			logger.Info("settings file reloaded", logging.Field("path", path))
			onChange(settings)
		}
	}
}
