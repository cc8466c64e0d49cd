package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
// Editors tend to fire several events per save; one reload is enough.
const DebounceDelay = 100 * time.Millisecond

// PromptsWatcher monitors the saved-prompts file for changes and invokes a
// callback after debouncing. The chat command uses it to pick up prompt edits
// without restarting the session.
//
// Thread-safety: all public methods are safe for concurrent use.
type PromptsWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func()
	logger   *slog.Logger

	debounceDelay time.Duration
	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	done    chan struct{}
	stopped chan struct{}

	started   bool
	closeOnce sync.Once
}

// NewPromptsWatcher creates a watcher for the given prompts file. The parent
// directory is watched rather than the file itself so atomic saves
// (rename-over) keep working. Call Start() to begin watching and Close()
// when done.
func NewPromptsWatcher(path string, onChange func(), logger *slog.Logger) (*PromptsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &PromptsWatcher{
		watcher:       watcher,
		path:          path,
		onChange:      onChange,
		logger:        logger,
		debounceDelay: DebounceDelay,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}, nil
}

// Start begins watching. It returns an error if the parent directory cannot
// be watched (e.g. it does not exist yet).
func (w *PromptsWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.started = true
	go w.loop()
	return nil
}

func (w *PromptsWatcher) loop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if w.logger != nil {
				w.logger.Debug("prompts file changed", "path", w.path, "op", event.Op.String())
			}
			w.scheduleChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("prompts watcher error", "error", err)
			}
		}
	}
}

// scheduleChange arms (or re-arms) the debounce timer.
func (w *PromptsWatcher) scheduleChange() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if w.onChange != nil {
			w.onChange()
		}
	})
}

// Close stops watching and releases resources. Safe to call more than once.
func (w *PromptsWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		if w.started {
			<-w.stopped
		}

		w.debounceMu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.debounceMu.Unlock()
	})
	return err
}
