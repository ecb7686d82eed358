//go:build wasip1

package sdk

// The directives below bind the SDK to the boundary names documented in
// pkg/abi. Directive arguments must be literals, so the names appear here
// verbatim; keep them in sync with the abi constants.

//go:wasmimport limbo_host register_scalar_function
func hostRegisterScalarFunction(api, namePtr, fn uint32) int32

func hostRegisterScalar(api, namePtr, fn uint32) int32 {
	return hostRegisterScalarFunction(api, namePtr, fn)
}

//go:wasmexport register_extension
func registerExtensionExport(api uint32) int32 {
	return registerExtension(api)
}

//go:wasmexport call_scalar_function
func callScalarFunctionExport(fn uint32, argc int32, argv uint32) uint32 {
	return dispatch(fn, argc, argv)
}

//go:wasmexport allocate
func allocateExport(size uint32) uint32 {
	return mem.Alloc(size)
}

//go:wasmexport deallocate
func deallocateExport(ptr uint32, size uint32) {
	mem.Free(ptr)
}

// The marker carries no behavior; its presence in the export section tells
// the host which contract revision this module speaks.
//
//go:wasmexport limbo_extension_abi_v1
func abiVersionMarker() {}
