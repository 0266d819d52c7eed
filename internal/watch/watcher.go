// Package watch reloads dynamic modules when their source artifacts are
// rebuilt on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long an artifact must stay quiet before reload.
const DefaultDebounce = 250 * time.Millisecond

// Host is the part of the module host the watcher drives.
type Host interface {
	Sources() []string
	ReloadSource(path string) (string, error)
}

// Watcher watches the directories holding loaded artifacts. A write or
// create on a loaded artifact schedules a reload once writes settle.
type Watcher struct {
	mu       sync.Mutex
	host     Host
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	dirs     map[string]bool
	pending  map[string]time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a changed artifact is reloaded.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger reload outcomes are written to.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// New creates a watcher for h. It does nothing until Start.
func New(h Host, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		host:     h,
		watcher:  fw,
		logger:   slog.New(slog.DiscardHandler),
		debounce: DefaultDebounce,
		dirs:     make(map[string]bool),
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching in a goroutine. Calling it twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.sync()
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("failed to close artifact watcher", "error", err)
	}
}

// Dirs returns the directories currently watched, sorted.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Sorted(maps.Keys(w.dirs))
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := max(w.debounce/2, 10*time.Millisecond)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("artifact watcher error", "error", err)
		case now := <-ticker.C:
			w.sync()
			w.flush(now)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	path := filepath.Clean(ev.Name)
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// sync adds watches for the directories of newly loaded artifacts.
func (w *Watcher) sync() {
	for _, src := range w.host.Sources() {
		dir := filepath.Dir(src)
		w.mu.Lock()
		known := w.dirs[dir]
		w.mu.Unlock()
		if known {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("failed to watch artifact directory", "dir", dir, "error", err)
			continue
		}
		w.mu.Lock()
		w.dirs[dir] = true
		w.mu.Unlock()
		w.logger.Debug("watching artifact directory", "dir", dir)
	}
}

// flush reloads every pending artifact that has been quiet for the
// debounce period and is still the source of a loaded module.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
	if len(ready) == 0 {
		return
	}

	sources := make(map[string]bool)
	for _, src := range w.host.Sources() {
		sources[filepath.Clean(src)] = true
	}
	for _, path := range ready {
		if !sources[path] {
			continue
		}
		name, err := w.host.ReloadSource(path)
		if err != nil {
			w.logger.Error("hot reload failed, previous module kept", "path", path, "error", err)
			continue
		}
		w.logger.Info("hot reloaded module", "module", name, "path", path)
	}
}
