package extension

import (
	"context"
	"sync"
	"time"

	"github.com/rpesk/limbo/internal/wasm"
)

// Extension represents a loaded extension: its manifest, compiled module,
// live instance and the scalar functions it registered during its entry
// point.
type Extension struct {
	// Manifest is the parsed extension metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the extension was loaded
	LoadedAt time.Time

	instance *wasm.Instance

	// Scalar functions in announcement order. Handles are the opaque
	// identifiers the extension minted; they mean nothing to the host
	// beyond routing dispatches back.
	functions map[string]uint32
	order     []string

	// Dispatches into one instance are serialized. The trampoline
	// recycles call-scoped guest state when the next dispatch begins,
	// so overlapping calls would alias payloads.
	callMu sync.Mutex
}

// Name returns the extension name.
func (e *Extension) Name() string {
	return e.Manifest.Name
}

// Version returns the extension version.
func (e *Extension) Version() string {
	return e.Manifest.Version
}

// Functions returns the registered scalar function names in announcement
// order.
func (e *Extension) Functions() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Handle returns the extension's handle for a registered function name.
func (e *Extension) Handle(name string) (uint32, bool) {
	h, ok := e.functions[name]
	return h, ok
}

// Provides reports whether the extension registered the named function.
func (e *Extension) Provides(name string) bool {
	_, ok := e.functions[name]
	return ok
}

// Instance returns the live module instance.
func (e *Extension) Instance() *wasm.Instance {
	return e.instance
}

// Close tears down the extension's instance.
func (e *Extension) Close(ctx context.Context) error {
	if e.instance == nil {
		return nil
	}
	return e.instance.Close(ctx)
}
