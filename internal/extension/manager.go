package extension

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rpesk/limbo/internal/config"
	"github.com/rpesk/limbo/internal/wasm"
)

// Manager manages extension lifecycle: discovery, loading, dispatch,
// hot reload and shutdown.
type Manager struct {
	cfg      *config.HostConfig
	runtime  *wasm.Runtime
	loader   *Loader
	registry *Registry
	broker   *sessionBroker
	metrics  *Metrics
	logger   *zap.Logger

	mu      sync.RWMutex
	loaded  bool
	watcher *Watcher
}

// NewManager creates a new extension manager. metrics may be nil when
// metrics are disabled.
func NewManager(
	cfg *config.HostConfig,
	runtime *wasm.Runtime,
	metrics *Metrics,
	logger *zap.Logger,
) *Manager {
	broker := newSessionBroker(metrics, logger)
	return &Manager{
		cfg:      cfg,
		runtime:  runtime,
		loader:   NewLoader(runtime, broker, logger),
		registry: NewRegistry(logger),
		broker:   broker,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "extension-manager")),
	}
}

// LoadAll discovers and loads all extensions from configured paths.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("extensions already loaded")
	}

	m.logger.Info("Loading extensions",
		zap.Strings("paths", m.cfg.ExtensionPaths),
	)

	// Discover extensions
	extensions, err := m.loader.DiscoverExtensions(ctx, m.cfg.ExtensionPaths)
	if err != nil {
		// Check if it's a NoExtensionsFoundError - log warning but don't fail
		if _, ok := err.(*NoExtensionsFoundError); ok {
			m.logger.Warn("No extensions found in configured paths",
				zap.Strings("paths", m.cfg.ExtensionPaths),
			)
			m.loaded = true
			return nil
		}
		return err
	}

	// Register all extensions
	for _, ext := range extensions {
		if err := m.registry.Register(ext); err != nil {
			m.logger.Error("Failed to register extension",
				zap.String("name", ext.Name()),
				zap.Error(err),
			)
			m.countLoad("error")
			ext.Close(ctx)
			continue
		}
		m.countLoad("ok")
	}

	m.loaded = true
	m.updateGauges()

	m.logger.Info("Extensions loaded successfully",
		zap.Int("count", m.registry.Count()),
		zap.Int("functions", m.registry.FunctionCount()),
	)

	return nil
}

// LoadPath loads a single extension from a directory with a manifest or
// from a bare .wasm file.
func (m *Manager) LoadPath(ctx context.Context, path string) (*Extension, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load extension from '%s': %w", path, err)
	}

	var ext *Extension
	if info.IsDir() {
		ext, err = m.loader.LoadExtension(ctx, path)
	} else {
		ext, err = m.loader.LoadWasmFile(ctx, path)
	}
	if err != nil {
		m.countLoad("error")
		return nil, err
	}

	if err := m.registry.Register(ext); err != nil {
		m.countLoad("error")
		ext.Close(ctx)
		return nil, err
	}

	m.countLoad("ok")
	m.updateGauges()
	return ext, nil
}

// Call dispatches a scalar function by name to whichever extension
// provides it. The configured call timeout applies.
func (m *Manager) Call(ctx context.Context, function string, args []Datum) (Datum, error) {
	ext, ok := m.registry.Resolve(function)
	if !ok {
		m.countCall(function, "error")
		return NullDatum(), &FunctionNotFoundError{Function: function}
	}

	callCtx := ctx
	timeout := m.cfg.CallTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := ext.Call(callCtx, function, args)
	if m.metrics != nil {
		m.metrics.CallDuration.WithLabelValues(function).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			// The runtime closes the instance when the deadline fires,
			// so the extension is unusable until reloaded.
			m.logger.Warn("Scalar call timed out, extension instance closed",
				zap.String("function", function),
				zap.String("extension", ext.Name()),
				zap.Duration("timeout", timeout),
			)
			err = &wasm.TimeoutError{Duration: timeout}
		} else {
			m.logger.Warn("Scalar call failed",
				zap.String("function", function),
				zap.String("extension", ext.Name()),
				zap.Error(err),
			)
		}
		m.countCall(function, "error")
		return NullDatum(), err
	}

	m.countCall(function, "ok")
	return result, nil
}

// GetExtension retrieves an extension by name.
func (m *Manager) GetExtension(name string) (*Extension, error) {
	ext, ok := m.registry.Get(name)
	if !ok {
		return nil, &ExtensionNotFoundError{ExtensionName: name}
	}
	return ext, nil
}

// Reload replaces the extension loaded from path with a fresh load. The
// old instance keeps serving until the new one is ready; on failure the
// old one stays.
func (m *Manager) Reload(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.findByPath(path)

	// Evict stale compiled code so changed bytes are picked up.
	if old != nil {
		m.runtime.DropCompiledModule(old.Compiled.Name)
	} else if strings.HasSuffix(path, ".wasm") {
		m.runtime.DropCompiledModule(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot reload extension from '%s': %w", path, err)
	}

	var fresh *Extension
	if info.IsDir() {
		fresh, err = m.loader.LoadExtension(ctx, path)
	} else {
		fresh, err = m.loader.LoadWasmFile(ctx, path)
	}
	if err != nil {
		m.countLoad("error")
		return err
	}

	if old != nil {
		m.registry.Unregister(old.Name())
		old.Close(ctx)
	}

	if err := m.registry.Register(fresh); err != nil {
		fresh.Close(ctx)
		return err
	}

	if m.metrics != nil {
		m.metrics.ReloadsTotal.Inc()
	}
	m.countLoad("ok")
	m.updateGauges()

	m.logger.Info("Extension reloaded",
		zap.String("name", fresh.Name()),
		zap.String("path", path),
	)

	return nil
}

// Remove unloads an extension by name.
func (m *Manager) Remove(ctx context.Context, name string) error {
	ext, ok := m.registry.Get(name)
	if !ok {
		return &ExtensionNotFoundError{ExtensionName: name}
	}

	m.registry.Unregister(name)
	m.runtime.DropCompiledModule(ext.Compiled.Name)
	err := ext.Close(ctx)
	m.updateGauges()

	m.logger.Info("Extension removed", zap.String("name", name))
	return err
}

// RemovePath unloads whichever extension was loaded from path.
func (m *Manager) RemovePath(ctx context.Context, path string) error {
	ext := m.findByPath(path)
	if ext == nil {
		return nil
	}
	return m.Remove(ctx, ext.Name())
}

// StartWatcher begins watching the configured extension paths for
// changes and hot-reloads extensions as they change on disk.
func (m *Manager) StartWatcher(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watcher != nil {
		return nil
	}

	w, err := NewWatcher(m, m.cfg.ExtensionPaths, m.logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	m.watcher = w
	return nil
}

// Registry returns the extension registry (for testing/inspection).
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded returns whether extensions have been loaded.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Shutdown gracefully shuts down all extensions.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down extension manager")

	m.mu.Lock()
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Warn("Failed to stop watcher", zap.Error(err))
		}
		m.watcher = nil
	}
	m.mu.Unlock()

	// Runtime close handles instance cleanup
	if err := m.runtime.Close(ctx); err != nil {
		m.logger.Error("Failed to shutdown runtime", zap.Error(err))
		return err
	}

	m.logger.Info("Extension manager shutdown complete")
	return nil
}

// findByPath locates a loaded extension by its source directory or its
// wasm file path.
func (m *Manager) findByPath(path string) *Extension {
	for _, ext := range m.registry.List() {
		if ext.Manifest.Dir() == path || ext.Manifest.WasmPath() == path {
			return ext
		}
	}
	return nil
}

func (m *Manager) countLoad(status string) {
	if m.metrics != nil {
		m.metrics.LoadsTotal.WithLabelValues(status).Inc()
	}
}

func (m *Manager) countCall(function, status string) {
	if m.metrics != nil {
		m.metrics.CallsTotal.WithLabelValues(function, status).Inc()
	}
}

func (m *Manager) updateGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.ExtensionsLoaded.Set(float64(m.registry.Count()))
	m.metrics.FunctionsRegistered.Set(float64(m.registry.FunctionCount()))
}
