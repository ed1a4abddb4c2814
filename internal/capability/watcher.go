package capability

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Source hands out the capability map snapshot for a run.
type Source interface {
	Current() *Map
}

// Static is a Source that always returns the same map.
type Static struct {
	m *Map
}

// NewStatic wraps m as a Source. A nil map is served as an empty one.
func NewStatic(m *Map) *Static {
	if m == nil {
		m = Empty()
	}
	return &Static{m: m}
}

// Current returns the wrapped map.
func (s *Static) Current() *Map {
	return s.m
}

// Watcher serves the capability map from a file and reloads it when the file changes.
// A reload that fails to parse keeps the previous snapshot.
type Watcher struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Map]

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	onReload    func(*Map)
}

// NewWatcher loads path once. A missing or invalid file yields an empty map.
func NewWatcher(path string, logger *zap.Logger) *Watcher {
	w := &Watcher{
		path:        path,
		logger:      logger,
		debounceDur: 250 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	w.current.Store(Empty())
	if path != "" {
		w.reload()
	}
	return w
}

// Current returns the latest successfully loaded map.
func (w *Watcher) Current() *Map {
	return w.current.Load()
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn func(*Map)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

func (w *Watcher) reload() bool {
	m, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("capability map not loaded", zap.String("path", w.path), zap.Error(err))
		return false
	}
	w.current.Store(m)
	summary := Summarize(m)
	w.logger.Info("capability map loaded",
		zap.String("path", w.path),
		zap.String("project", m.ProjectName),
		zap.Int("queries", summary.Queries),
		zap.Int("actions", summary.Actions),
	)

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()
	if fn != nil {
		fn(m)
	}
	return true
}

// Start watches the map's directory. Editors often replace files on save, so
// the directory is watched rather than the file itself.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.path == "" {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	w.running = true

	go w.run(ctx)
	return nil
}

// Stop ends watching and waits for the loop to exit.
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
		w.logger.Error("capability watcher close failed", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	target := filepath.Clean(w.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(w.debounceDur)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("capability watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}
