package wasm

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/rpesk/limbo/pkg/abi"
)

// RegisterScalarFunc handles one register_scalar_function call arriving
// from a guest module. It receives the raw boundary arguments: the token
// the host passed to the entry point, a pointer to a NUL-terminated
// function name in guest memory, and the guest's function handle. The
// returned status goes back to the guest unchanged.
type RegisterScalarFunc func(ctx context.Context, mod api.Module, token uint32, namePtr uint32, fn uint32) int32

// HostAPI implements the capability functions importable by extension
// modules under the "limbo_host" module name.
type HostAPI struct {
	register RegisterScalarFunc
	logger   *zap.Logger
}

// NewHostAPI creates the host capability implementation. The register
// callback receives every registration announcement; a nil callback
// rejects all registrations.
func NewHostAPI(register RegisterScalarFunc, logger *zap.Logger) *HostAPI {
	return &HostAPI{
		register: register,
		logger:   logger.With(zap.String("component", "wasm-host")),
	}
}

// registerScalarFunction is called by guest modules during their entry
// point to announce one scalar function.
// Signature: register_scalar_function(ctx, name_ptr, fn) -> status
func (h *HostAPI) registerScalarFunction(ctx context.Context, mod api.Module, token uint32, namePtr uint32, fn uint32) int32 {
	if h.register == nil {
		h.logger.Error("Registration received with no handler bound",
			zap.String("module", mod.Name()),
			zap.Uint32("fn", fn),
		)
		return abi.ResultError
	}
	return h.register(ctx, mod, token, namePtr, fn)
}

// instantiate publishes the capability module into the runtime under the
// ABI's import module name. Must be called exactly once per runtime,
// before any guest module is instantiated.
func (h *HostAPI) instantiate(ctx context.Context, r *Runtime) error {
	_, err := r.runtime.NewHostModuleBuilder(abi.HostModuleName).
		NewFunctionBuilder().
		WithFunc(h.registerScalarFunction).
		WithParameterNames("ctx", "name_ptr", "fn").
		Export(abi.HostRegisterScalarFunction).
		Instantiate(ctx)
	return err
}
