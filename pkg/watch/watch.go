// Package watch reports changes to script files on disk, debounced so that
// an editor's save burst triggers one callback.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/migadu/sieveedit/logger"
)

// DefaultExtensions are the file extensions watched in directories.
var DefaultExtensions = []string{".sieve", ".siv"}

// Config controls a Watcher.
type Config struct {
	// Path is a script file or a directory of scripts.
	Path string
	// Debounce is the quiet period before the callback runs (default 100ms).
	Debounce time.Duration
	// Extensions filters events in watched directories. A single watched
	// file is always reported regardless of its extension.
	Extensions []string
}

// Watcher watches script files for changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	config  Config
	single  string // set when Path is a file

	mu       sync.Mutex
	pending  map[string]*time.Timer
	stopped  bool
	inflight sync.WaitGroup
}

// New creates a watcher for cfg.Path.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}

	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", cfg.Path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{watcher: fsw, config: cfg, pending: make(map[string]*time.Timer)}

	// Editors often replace files on save, which drops a watch on the file
	// itself; watching the parent directory survives that.
	dir := cfg.Path
	if !info.IsDir() {
		w.single = filepath.Clean(cfg.Path)
		dir = filepath.Dir(cfg.Path)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return w, nil
}

// Watch blocks until ctx is cancelled, calling onChange with the path of
// every changed script after the debounce interval.
func (w *Watcher) Watch(ctx context.Context, onChange func(path string)) error {
	defer w.close()

	logger.Info("Watch: started", "path", w.config.Path, "debounce", w.config.Debounce)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Watch: stopped", "path", w.config.Path)
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			logger.Debug("Watch: event", "path", event.Name, "op", event.Op.String())
			w.trigger(filepath.Clean(event.Name), onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logger.Error("Watch: watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	if w.single != "" {
		return name == w.single
	}
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, valid := range w.config.Extensions {
		if ext == strings.ToLower(valid) {
			return true
		}
	}
	return false
}

// trigger restarts the debounce timer of path.
func (w *Watcher) trigger(path string, onChange func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(w.config.Debounce, func() { w.fire(path, timer, onChange) })
	w.pending[path] = timer
}

// fire runs onChange for path unless the watcher stopped or a newer event
// replaced timer in the pending set.
func (w *Watcher) fire(path string, timer *time.Timer, onChange func(string)) {
	w.mu.Lock()
	if w.stopped || w.pending[path] != timer {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.inflight.Add(1)
	w.mu.Unlock()

	defer w.inflight.Done()
	onChange(path)
}

func (w *Watcher) close() {
	w.mu.Lock()
	w.stopped = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.inflight.Wait()

	if err := w.watcher.Close(); err != nil {
		logger.Warn("Watch: failed to close watcher", "error", err)
	}
}
