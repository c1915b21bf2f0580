package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to a config file. It watches the parent
// directory so editors that replace the file by rename are still seen.
// Bursts of events are collapsed into one callback after the debounce delay.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func()

	fsw  *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewWatcher creates a config file watcher.
func NewWatcher(path string, debounce time.Duration, logger *slog.Logger, onChange func()) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logger,
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins watching in a goroutine.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	w.fsw = fsw

	go w.run()
	w.logger.Info("config watcher started", "path", w.path)
	return nil
}

// Stop stops the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		if w.fsw != nil {
			<-w.done
		}
		w.logger.Info("config watcher stopped")
	})
}

func (w *Watcher) run() {
	defer close(w.done)
	defer w.fsw.Close()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.logger.Info("config file changed", "path", w.path)
			if w.onChange != nil {
				w.onChange()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
