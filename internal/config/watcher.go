package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a definitions file and calls a callback when it changes
// to new, valid content. It uses polling (not fsnotify) to keep dependencies
// minimal. Invalid content is logged and the previous definitions stay
// current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Definitions)

	mu       sync.Mutex
	current  *Definitions
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	lastMtime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a definitions file watcher. It loads the file
// immediately and starts polling in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Definitions), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	defs, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = defs
	w.lastMtime = mtime

	w.wg.Add(1)
	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid definitions.
func (w *Watcher) Current() *Definitions {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

func (w *Watcher) poll() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file if its mtime moved and its hash differs from the
// current definitions.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()
	if info.ModTime().Equal(mtime) {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if sha256.Sum256(data) == w.current.Hash {
		// Touched, content unchanged.
		w.lastMtime = info.ModTime()
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	defs, err := ParseDefinitions(data)
	if err != nil {
		slog.Warn("config watcher: invalid definitions, keeping previous", "path", w.path, "err", err)
		w.mu.Lock()
		w.lastMtime = info.ModTime()
		w.mu.Unlock()
		return
	}
	defs.Source = w.path

	w.mu.Lock()
	old := w.current
	w.current = defs
	w.lastMtime = info.ModTime()
	w.mu.Unlock()

	slog.Info("config watcher: definitions reloaded", "path", w.path)

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, defs)
	}
}

func (w *Watcher) load() (*Definitions, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defs, err := LoadDefinitions(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return defs, info.ModTime(), nil
}
