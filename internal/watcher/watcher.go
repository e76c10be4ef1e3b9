package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/janhq/jan-core/internal/events"
	"github.com/janhq/jan-core/internal/logging"
)

// Watcher monitors configuration files on disk and publishes a bus event
// when one changes. Files are watched through their parent directory so
// atomic temp-then-rename saves are still observed.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	bus       *events.Bus
	debounce  time.Duration

	files    map[string]string // absolute file path -> bus topic
	pending  map[string]time.Time
	mu       sync.Mutex
	done     chan struct{}
	running  bool
	stopOnce sync.Once
}

// NewWatcher creates a watcher publishing to bus. debounce <= 0 selects the
// 500ms default.
func NewWatcher(bus *events.Bus, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		bus:       bus,
		debounce:  debounce,
		files:     make(map[string]string),
		pending:   make(map[string]time.Time),
		done:      make(chan struct{}),
	}, nil
}

// WatchFile registers a file; changes to it publish topic with the file path
// as payload. Call before Start.
func (w *Watcher) WatchFile(path, topic string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.files[abs] = topic
	w.mu.Unlock()

	return w.fsWatcher.Add(filepath.Dir(abs))
}

// Start begins watching for file changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	go w.processEvents()
	go w.processDebounce()
	return nil
}

// Stop stops watching for file changes.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.stopOnce.Do(func() {
		close(w.done)
	})
	return w.fsWatcher.Close()
}

// processEvents processes raw fsnotify events.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("file watcher error", "error", err)
		}
	}
}

// handleEvent records a change to a registered file for debouncing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	if _, watched := w.files[abs]; watched {
		w.pending[abs] = time.Now()
	}
	w.mu.Unlock()
}

// processDebounce flushes changes that have been stable for the debounce
// window.
func (w *Watcher) processDebounce() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) flushPending() {
	w.mu.Lock()
	now := time.Now()
	var toSend []string
	for path, eventTime := range w.pending {
		if now.Sub(eventTime) >= w.debounce {
			toSend = append(toSend, path)
			delete(w.pending, path)
		}
	}
	topics := make(map[string]string, len(toSend))
	for _, path := range toSend {
		topics[path] = w.files[path]
	}
	w.mu.Unlock()

	for _, path := range toSend {
		logging.Debug("configuration file changed", "path", path)
		w.bus.Publish(topics[path], path)
	}
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
