package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce groups bursts of file events into one reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watch reloads the registry whenever a .wasm file in dir changes. It blocks
// until ctx is cancelled. Failed reloads are logged and leave the current
// generation in place, the same as an explicit reload.
func (r *Registry) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create plugin watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch plugin directory %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	r.log.Info("Watching %s for plugin changes", dir)

	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".wasm" || event.Op == fsnotify.Chmod {
				continue
			}
			r.log.Debug("Plugin change: %s", event)
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("Plugin watcher error: %v", err)

		case <-timer.C:
			if _, err := r.Reload(ctx); err != nil {
				r.log.Warn("Automatic reload after plugin change failed: %v", err)
			}
		}
	}
}
