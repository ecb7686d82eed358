package extension

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounceDelay = 200 * time.Millisecond

// Watcher watches extension directories and hot-reloads extensions when
// their manifests or wasm files change on disk.
type Watcher struct {
	manager *Manager
	paths   []string
	fsw     *fsnotify.Watcher
	logger  *zap.Logger

	debounceDelay time.Duration
	onEvent       func(target string, op string)

	mu            sync.Mutex
	running       bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	pendingEvents map[string]fsnotify.Op
	debounceTimer *time.Timer
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets how long the watcher coalesces bursts of file
// events before acting on them.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = delay
	}
}

// WithOnEvent sets a callback invoked after each processed change, with
// the reload target and the action taken.
func WithOnEvent(fn func(target string, op string)) WatcherOption {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// NewWatcher creates a watcher over the given extension paths.
func NewWatcher(manager *Manager, paths []string, logger *zap.Logger, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		manager:       manager,
		paths:         paths,
		fsw:           fsw,
		logger:        logger.With(zap.String("component", "extension-watcher")),
		debounceDelay: defaultDebounceDelay,
		pendingEvents: make(map[string]fsnotify.Op),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching. It is an error to start a running watcher.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	for _, path := range w.paths {
		if err := w.addWatchesRecursive(path); err != nil {
			w.logger.Warn("Failed to watch path",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.watchLoop(ctx)

	w.logger.Info("Extension watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("debounce", w.debounceDelay),
	)

	return nil
}

// Stop stops the watcher and waits for the watch loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh

	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}

	w.logger.Info("Extension watcher stopped")
	return nil
}

// IsRunning reports whether the watch loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return
	}

	w.logger.Debug("File event",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		// The path is gone, so it cannot be inspected; processing
		// re-checks the reload target on disk and unloads if needed.
		w.recordEvent(event.Name, event.Op)
		return
	}

	if event.Op.Has(fsnotify.Create) {
		// New subdirectories need watches so manifests created inside
		// them are seen.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addWatchesRecursive(event.Name)
			w.recordEvent(event.Name, event.Op)
			return
		}
	}

	if base == manifestFileName || strings.HasSuffix(base, ".wasm") {
		w.recordEvent(event.Name, event.Op)
	}
}

func (w *Watcher) recordEvent(name string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.pendingEvents[name] |= op

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.processPending)
}

func (w *Watcher) processPending() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	pending := w.pendingEvents
	w.pendingEvents = make(map[string]fsnotify.Op)
	w.mu.Unlock()

	// Coalesce file events to one action per extension root.
	targets := make(map[string]bool)
	for name, op := range pending {
		target, ok := w.reloadTarget(name)
		if !ok {
			continue
		}
		removed := targets[target]
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			// Removal of the target itself unloads; removal of a file
			// inside a directory extension is just a change.
			if filepath.Clean(name) == target {
				removed = true
			}
		}
		targets[target] = removed
	}

	ctx := context.Background()
	for target, removed := range targets {
		if removed {
			if err := w.manager.RemovePath(ctx, target); err != nil {
				w.logger.Error("Failed to unload removed extension",
					zap.String("path", target),
					zap.Error(err),
				)
				continue
			}
			w.notify(target, "remove")
			continue
		}

		if _, err := os.Stat(target); err != nil {
			// Raced with deletion.
			if err := w.manager.RemovePath(ctx, target); err == nil {
				w.notify(target, "remove")
			}
			continue
		}

		if err := w.manager.Reload(ctx, target); err != nil {
			w.logger.Error("Failed to reload extension",
				zap.String("path", target),
				zap.Error(err),
			)
			w.notify(target, "error")
			continue
		}
		w.notify(target, "reload")
	}
}

func (w *Watcher) notify(target, op string) {
	if w.onEvent != nil {
		w.onEvent(target, op)
	}
}

// reloadTarget maps a changed file to the extension root it belongs to:
// the containing top-level directory for manifest extensions, or the
// wasm file itself when it sits directly in a watched path.
func (w *Watcher) reloadTarget(name string) (string, bool) {
	for _, base := range w.paths {
		absBase, err := filepath.Abs(base)
		if err != nil {
			continue
		}
		absName, err := filepath.Abs(name)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absBase, absName)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}

		// The first path component under the watched dir is the
		// extension root: a bare wasm file or a manifest directory.
		parts := strings.Split(rel, string(filepath.Separator))
		return filepath.Join(base, parts[0]), true
	}
	return "", false
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if name := filepath.Base(path); strings.HasPrefix(name, ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("Failed to add watch",
				zap.String("path", path),
				zap.Error(err),
			)
		}
		return nil
	})
}
