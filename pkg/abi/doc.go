// Package abi defines the binary contract between the limbo engine host and
// its WebAssembly extension modules.
//
// Extensions are independently compiled wasm modules. Host and extension share
// no Go types at build time; everything crossing the boundary is expressed in
// terms of this package: a fixed-layout Value record in guest linear memory,
// u32 guest-memory pointers, u32 function handles, and i32 status codes.
//
// An extension module must export:
//
//	register_extension(api u32) -> i32
//	call_scalar_function(fn u32, argc i32, argv u32) -> u32
//	allocate(size u32) -> u32
//	deallocate(ptr u32, size u32)
//
// plus the no-op version marker export named by VersionMarkerV1. The host
// publishes its capability functions under the import module HostModuleName:
//
//	register_scalar_function(ctx u32, name_ptr u32, fn u32) -> i32
//
// During register_extension the host passes an opaque, call-scoped context
// token as api. The extension hands that token back on every capability call.
// A token of zero means no capability table is available and the extension
// must fail fast. Tokens are invalid once register_extension returns.
//
// Function handles are opaque non-zero u32 values minted by the extension.
// The host never interprets a handle; it only passes it back through
// call_scalar_function. Handle zero is reserved as the null function.
//
// Payload memory crossing the boundary follows one of two disciplines.
// Owned payloads (text) are allocated by the producer and belong to the
// receiver, who releases them through the module's deallocate export.
// Borrowed payloads (blobs) remain valid only for the duration of the current
// boundary call; receivers must copy the bytes out before returning control.
package abi
