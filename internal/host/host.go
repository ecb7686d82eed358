package host

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rpesk/limbo/internal/config"
	"github.com/rpesk/limbo/internal/extension"
	"github.com/rpesk/limbo/internal/wasm"
)

// Host assembles the extension subsystem: the Wasm runtime, the
// extension manager and, when enabled, the metrics endpoint.
type Host struct {
	cfg     *config.HostConfig
	logger  *zap.Logger
	manager *extension.Manager

	registry   *prometheus.Registry
	metricsSrv *http.Server
}

func New(ctx context.Context, cfg *config.HostConfig, logger *zap.Logger) (*Host, error) {
	// Initialize Wasm runtime.
	wasmConfig := &wasm.RuntimeConfig{
		MemoryPages:  cfg.Wasm.MemoryPages,
		DebugEnabled: cfg.Wasm.Debug,
		CacheDir:     cfg.Wasm.CacheDir,
		MaxInstances: cfg.Wasm.MaxInstances,
	}

	runtime, err := wasm.NewRuntime(ctx, logger, wasmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	var metrics *extension.Metrics
	var registry *prometheus.Registry
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = extension.NewMetrics(registry)
	}

	logger.Info("Extension host initialized",
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
		zap.Bool("metrics_enabled", cfg.MetricsEnabled),
	)

	return &Host{
		cfg:      cfg,
		logger:   logger,
		manager:  extension.NewManager(cfg, runtime, metrics, logger),
		registry: registry,
	}, nil
}

// Manager returns the extension manager.
func (h *Host) Manager() *extension.Manager {
	return h.manager
}

// Start loads all configured extensions and brings up the optional
// watcher and metrics endpoint.
func (h *Host) Start(ctx context.Context) error {
	if err := h.manager.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load extensions: %w", err)
	}

	if h.cfg.WatchEnabled {
		if err := h.manager.StartWatcher(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}

	if h.cfg.MetricsEnabled {
		mux := http.NewServeMux()
		extension.RegisterMetricsEndpoint(mux, h.registry)
		h.metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", h.cfg.MetricsPort),
			Handler: mux,
		}
		go func() {
			h.logger.Info("Metrics endpoint listening", zap.Int("port", h.cfg.MetricsPort))
			if err := h.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				h.logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	return nil
}

// Close gracefully shuts down the host.
func (h *Host) Close(ctx context.Context) error {
	h.logger.Info("Shutting down extension host")

	if h.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := h.metricsSrv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("Failed to stop metrics server", zap.Error(err))
		}
		cancel()
		h.metricsSrv = nil
	}

	// Manager shutdown stops the watcher and closes the runtime.
	if err := h.manager.Shutdown(ctx); err != nil {
		h.logger.Error("Failed to shutdown extension manager", zap.Error(err))
		return err
	}

	h.logger.Info("Extension host shutdown complete")
	return nil
}
