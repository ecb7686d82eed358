//go:build !wasip1

package sdk

import "github.com/rpesk/limbo/pkg/abi"

// hostRegister stands in for the limbo_host import on native builds.
var hostRegister func(api, namePtr, fn uint32) int32

func hostRegisterScalar(api, namePtr, fn uint32) int32 {
	if hostRegister == nil {
		return abi.ResultError
	}
	return hostRegister(api, namePtr, fn)
}

// Boundary exposes the module's boundary entry points to native code so
// extension logic can be exercised under plain go test, without a wasm
// build. The wasip1 build binds the same functions to real module exports
// instead. The sdktest package wraps this in a friendlier harness.
type Boundary struct{}

// RegisterExtension runs the module entry point with the given capability
// token.
func (Boundary) RegisterExtension(api uint32) int32 {
	return registerExtension(api)
}

// CallScalarFunction dispatches a call exactly as the wasm export does.
func (Boundary) CallScalarFunction(fn uint32, argc int32, argv uint32) uint32 {
	return dispatch(fn, argc, argv)
}

// Allocate reserves guest memory, as the allocate export does.
func (Boundary) Allocate(size uint32) uint32 {
	return mem.Alloc(size)
}

// Deallocate releases guest memory, as the deallocate export does.
func (Boundary) Deallocate(ptr, size uint32) {
	mem.Free(ptr)
}

// ReadMemory reads simulated linear memory.
func (Boundary) ReadMemory(ptr, n uint32) ([]byte, bool) {
	return mem.Read(ptr, n)
}

// WriteMemory writes into a region reserved with Allocate.
func (Boundary) WriteMemory(ptr uint32, data []byte) bool {
	return mem.Write(ptr, data)
}

// BindHost installs the function standing in for the host's
// register_scalar_function import.
func (Boundary) BindHost(register func(api, namePtr, fn uint32) int32) {
	hostRegister = register
}

// Reset clears declarations, simulated memory, and the bound host between
// tests.
func (Boundary) Reset() {
	resetTable()
	mem.Reset()
	hostRegister = nil
}
