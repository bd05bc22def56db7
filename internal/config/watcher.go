package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch monitors the configuration file for changes and invokes onReload with
// the freshly parsed configuration. Reload failures keep the previous
// configuration and are logged, never fatal. The returned stop function
// terminates the watcher.
func Watch(path string, onReload func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors and config managers often replace the file
	// atomically, which would orphan a watch on the file itself.
	dir := filepath.Dir(path)
	if err = watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	target := filepath.Clean(path)
	done := make(chan struct{})
	go func() {
		var lastReload time.Time
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// Debounce bursts of events from a single save.
				if time.Since(lastReload) < 200*time.Millisecond {
					continue
				}
				lastReload = time.Now()
				cfg, errLoad := Load(path)
				if errLoad != nil {
					log.Warnf("config watcher: reload failed, keeping previous config: %v", errLoad)
					continue
				}
				log.Infof("config watcher: reloaded %s", path)
				onReload(cfg)
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher: %v", errWatch)
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
