package extension

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/rpesk/limbo/internal/config"
	"github.com/rpesk/limbo/internal/wasm"
)

func TestMetricsTrackManagerActivity(t *testing.T) {
	base := t.TempDir()
	writeTestExtension(t, base, "calc", extensionModuleBytes(registeringEntryBody()), "")

	logger := zaptest.NewLogger(t)
	runtime, err := wasm.NewRuntime(context.Background(), logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}
	t.Cleanup(func() {
		runtime.Close(context.Background())
	})

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	cfg := &config.HostConfig{
		ExtensionPaths: []string{base},
		Wasm:           config.WasmConfig{MemoryPages: 64, MaxInstances: 10},
	}
	m := NewManager(cfg, runtime, metrics, logger)
	defer m.Shutdown(context.Background())

	if err := m.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	if got := testutil.ToFloat64(metrics.ExtensionsLoaded); got != 1 {
		t.Errorf("expected 1 loaded extension, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.FunctionsRegistered); got != 3 {
		t.Errorf("expected 3 registered functions, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 ok load, got %v", got)
	}

	if _, err := m.Call(context.Background(), "answer", nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if _, err := m.Call(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unknown function")
	}

	if got := testutil.ToFloat64(metrics.CallsTotal.WithLabelValues("answer", "ok")); got != 1 {
		t.Errorf("expected 1 ok call, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CallsTotal.WithLabelValues("missing", "error")); got != 1 {
		t.Errorf("expected 1 failed call, got %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.ExtensionsLoaded.Set(2)

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read scrape output: %v", err)
	}
	if !strings.Contains(string(body), "limbo_extensions_loaded 2") {
		t.Errorf("expected gauge in scrape output, got:\n%s", body)
	}
}
