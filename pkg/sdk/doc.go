// Package sdk is the authoring kit for limbo extension modules.
//
// An extension declares its scalar functions once at startup and compiles to
// a WebAssembly module the engine host loads:
//
//	package main
//
//	import (
//		"github.com/rpesk/limbo/pkg/abi"
//		"github.com/rpesk/limbo/pkg/sdk"
//	)
//
//	func main() {
//		sdk.Register(
//			sdk.Scalar{Name: "double", MinArgs: 1, MaxArgs: 1, Func: double},
//		)
//	}
//
//	func double(args []abi.Value) abi.Value {
//		return abi.NewInteger(args[0].Integer * 2)
//	}
//
// Build with:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o ext.wasm .
//
// The package provides the module's boundary exports (register_extension,
// call_scalar_function, allocate, deallocate and the version marker) and the
// trampoline between the host's raw calls and declared Go functions. Scalar
// bodies receive their arguments as abi.Value records copied for the duration
// of the call; the trampoline enforces each declaration's argument count
// before any argument memory is touched, so a body never observes an arity
// it did not declare.
//
// Bodies must not retain the argument slice, the values, or any payload they
// reference past the call. Payloads returned to the host follow the contract
// ownership rules: Text transfers ownership of a fresh allocation, Blob lends
// the bytes until the next boundary call. The host may invoke scalars from
// concurrent queries, so bodies must be safe for concurrent use.
//
// When built for any target other than wasip1 the package swaps its linear
// memory and host imports for in-process equivalents, which lets extension
// logic run under plain go test. The sdktest subpackage wraps that mode in a
// harness that plays the host side of the boundary.
package sdk
