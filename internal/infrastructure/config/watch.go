package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounce absorbs the burst of events most editors emit for a single
// logical save (rename+create, or multiple writes), mirroring the
// retrieval pack's own config watcher (yszxh-CLIProxyAPI's
// internal/watcher package) which coalesces fsnotify events before
// triggering a reload.
const debounce = 250 * time.Millisecond

// Watcher reloads config.yaml on disk changes and invokes onChange with
// the freshly parsed Config. It never touches store-backed settings rows;
// settingssync.Sync owns the precedence of config defaults vs. the store.
type Watcher struct {
	fsw    *fsnotify.Watcher
	done   chan struct{}
	logger *zap.Logger
}

// WatchFile starts watching path for writes/creates/renames and calls
// onChange(cfg) once per debounced burst, with the freshly reloaded
// Config. Watching is best-effort: a missing directory or unsupported
// filesystem only logs a warning, it never fails startup (operators can
// always restart the gateway to pick up config changes).
func WatchFile(path string, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{}), logger: logger.With(zap.String("component", "config-watcher"))}
	go w.loop(path, onChange)
	return w, nil
}

func (w *Watcher) loop(path string, onChange func(*Config)) {
	var timer *time.Timer
	reload := func() {
		cfg, err := Load()
		if err != nil {
			w.logger.Warn("reload config.yaml", zap.Error(err))
			return
		}
		w.logger.Info("config.yaml reloaded")
		onChange(cfg)
	}

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Stop signals the watch loop to exit and closes the underlying fsnotify
// watcher. Does not block waiting for the loop goroutine to return.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
}
