// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for further writes before reloading.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes each
// valid result to onChange.
//
// Description:
//
//	The parent directory is watched rather than the file so editors that
//	replace the file by rename are still seen. Bursts of events within
//	debounce collapse into one reload. A reload that fails to parse or
//	validate is logged and skipped; the previous config stays in effect.
//
// Inputs:
//
//	ctx - Stops the watcher when cancelled.
//	path - Config file. Must be non-empty.
//	debounce - Quiet period before reloading. Zero means DefaultDebounce.
//	onChange - Called from the watcher goroutine only.
//
// Outputs:
//
//	error - Non-nil if the watcher could not start. Otherwise Watch blocks
//	until ctx is done and returns nil.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, onChange func(Config)) error {
	if path == "" {
		return fmt.Errorf("%w: watch needs a config file", ErrInvalidConfig)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "config"), slog.String("path", path))

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(debounce)
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
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload rejected", slog.String("error", err.Error()))
				continue
			}
			logger.Info("config reloaded")
			onChange(cfg)
		}
	}
}
