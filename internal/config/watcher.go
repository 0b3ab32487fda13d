package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the orgfile: on a settled change it re-parses,
// re-applies to the store, and invokes the reload hook (the engine's
// agent refresh).
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	path        string
	store       Store
	onReload    func(*Orgfile)
	pendingAt   time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates an orgfile watcher. onReload may be nil.
func NewWatcher(path string, st Store, onReload func(*Orgfile)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		path:        path,
		store:       st,
		onReload:    onReload,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the orgfile's directory. Watching the directory
// rather than the file survives editors that replace on save.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	logging.Boot("orgfile watcher: watching %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its loop to exit.
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
		logging.BootError("orgfile watcher close: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

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
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pendingAt = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.BootError("orgfile watcher: %v", err)

		case <-ticker.C:
			w.mu.Lock()
			settled := !w.pendingAt.IsZero() && time.Since(w.pendingAt) >= w.debounceDur
			if settled {
				w.pendingAt = time.Time{}
			}
			w.mu.Unlock()
			if settled {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	org, err := Load(w.path, w.store)
	if err != nil {
		logging.BootError("orgfile reload failed: %v", err)
		return
	}
	if org == nil {
		return
	}
	logging.Boot("orgfile reloaded")
	if w.onReload != nil {
		w.onReload(org)
	}
}
