package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// Runtime manages the wazero runtime lifecycle.
// It's a singleton that creates a single wazero.Runtime for the entire host
// process; every extension module is compiled and instantiated inside it.
type Runtime struct {
	// wazero runtime (singleton)
	runtime wazero.Runtime

	// Compiled module cache (key: module name/path -> *CompiledModule).
	// Avoids recompiling the same wasm binary multiple times.
	modules sync.Map

	// Active module instances (for cleanup on shutdown).
	// key: instance ID -> *Instance
	instances sync.Map

	instanceCount int64
	countMu       sync.Mutex

	config *RuntimeConfig
	logger *zap.Logger

	// Shutdown management
	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limit for wasm modules, in 64KB pages.
	// Default: 256 pages = 16MB per module.
	MemoryPages uint32

	// Keep DWARF debug info for stack traces from extension code.
	DebugEnabled bool

	// Compilation cache directory for persistent caching.
	// If empty, compiled code is cached in memory only.
	CacheDir string

	// Maximum number of concurrently live instances.
	MaxInstances int
}

// NewRuntime creates and initializes a new wazero runtime with WASI
// available, since extension modules are compiled for wasip1. Call once
// during host startup.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	if config == nil {
		config = DefaultRuntimeConfig()
	}

	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithDebugInfoEnabled(config.DebugEnabled)
	if config.MemoryPages > 0 {
		rc = rc.WithMemoryLimitPages(config.MemoryPages)
	}
	if config.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache %s: %w", config.CacheDir, err)
		}
		rc = rc.WithCompilationCache(cache)
	}

	r := wazero.NewRuntimeWithConfig(ctx, rc)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	runtime := &Runtime{
		runtime: r,
		config:  config,
		logger:  logger.With(zap.String("component", "wasm-runtime")),
		closed:  make(chan struct{}),
	}

	runtime.logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.Bool("debug_enabled", config.DebugEnabled),
		zap.String("cache_dir", config.CacheDir),
		zap.Int("max_instances", config.MaxInstances),
	)

	return runtime, nil
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:  256, // 16MB
		DebugEnabled: false,
		CacheDir:     "",
		MaxInstances: 100,
	}
}

// Close gracefully shuts down the runtime.
// Safe to call multiple times (idempotent).
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		// Close all active instances first.
		r.instances.Range(func(key, value interface{}) bool {
			if inst, ok := value.(interface{ Close(context.Context) error }); ok {
				if closeErr := inst.Close(ctx); closeErr != nil {
					r.logger.Warn("Failed to close instance",
						zap.String("instance_id", key.(string)),
						zap.Error(closeErr),
					)
				}
			}
			return true
		})

		// Close the runtime (closes compiled modules).
		err = r.runtime.Close(ctx)

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// DropCompiledModule evicts a compiled module, so the next load recompiles.
// Used when an extension file changes on disk.
func (r *Runtime) DropCompiledModule(name string) {
	r.modules.Delete(name)
}

// GetInstance retrieves an active instance.
func (r *Runtime) GetInstance(instanceID string) (interface{}, bool) {
	return r.instances.Load(instanceID)
}

// StoreInstance stores an active instance. It fails when the configured
// instance limit is reached.
func (r *Runtime) StoreInstance(instanceID string, instance interface{}) error {
	r.countMu.Lock()
	defer r.countMu.Unlock()

	if r.config.MaxInstances > 0 && r.instanceCount >= int64(r.config.MaxInstances) {
		return &InstanceLimitError{Limit: r.config.MaxInstances}
	}
	r.instances.Store(instanceID, instance)
	r.instanceCount++
	return nil
}

// DeleteInstance removes an instance from tracking.
func (r *Runtime) DeleteInstance(instanceID string) {
	r.countMu.Lock()
	defer r.countMu.Unlock()

	if _, ok := r.instances.LoadAndDelete(instanceID); ok {
		r.instanceCount--
	}
}

// InstanceCount returns the number of live instances.
func (r *Runtime) InstanceCount() int {
	r.countMu.Lock()
	defer r.countMu.Unlock()
	return int(r.instanceCount)
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
