package service

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before a reload.
const DefaultDebounce = 500 * time.Millisecond

// FileWatcher calls Reload after a watched file changes. It watches the
// parent directory so editors that write-and-rename and mounted ConfigMaps
// that swap symlinks are both noticed. Bursts of events collapse into one
// reload.
type FileWatcher struct {
	Path     string
	Reload   func() error
	Logger   *slog.Logger
	Debounce time.Duration

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// Start begins watching. It returns once the watch is registered.
func (w *FileWatcher) Start() error {
	if w.Debounce <= 0 {
		w.Debounce = DefaultDebounce
	}
	if w.Logger == nil {
		w.Logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.Path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("file watcher: watch %s: %w", w.Path, err)
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(watcher.Events, watcher.Errors)

	w.Logger.Info("watching file for changes", "path", w.Path)
	return nil
}

// Stop ends the watch and waits for any pending reload to be dropped.
func (w *FileWatcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *FileWatcher) run(events <-chan fsnotify.Event, errs <-chan error) {
	defer close(w.doneCh)

	target := filepath.Clean(w.Path)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			// ConfigMap updates touch a ..data symlink rather than the file.
			if filepath.Clean(ev.Name) != target && filepath.Base(ev.Name) != "..data" {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.Logger.Warn("file watcher error", "path", w.Path, "error", err)
		}
	}
}

func (w *FileWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.Debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if err := w.Reload(); err != nil {
			w.Logger.Error("reload failed, keeping previous state", "path", w.Path, "error", err)
			return
		}
		w.Logger.Info("reloaded file", "path", w.Path)
	})
}
