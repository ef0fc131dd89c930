package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/confwell/confwell/pkg/telemetry"
)

// Watch monitors the settings file and invokes onReload with the freshly
// loaded settings whenever it changes. Reload failures are logged and the
// previous settings stay in effect. The watcher stops when ctx is canceled.
//
// The watch is on the parent directory, not the file itself: editors and
// configmap mounts replace the file, which would silently detach a direct
// file watch.
func Watch(ctx context.Context, path string, log *telemetry.Logger, onReload func(*Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	log = log.NewComponentLogger("settings-watcher")
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				settings, err := Load(path)
				if err != nil {
					log.WithError(err).Warn("settings reload failed, keeping previous settings")
					continue
				}
				log.Info("settings reloaded")
				onReload(settings)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("settings watch error")
			}
		}
	}()

	return nil
}
