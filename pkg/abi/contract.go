package abi

// Status codes returned by register_extension and by the host registration
// capability. Finer-grained failure codes are reserved for future contract
// revisions; hosts must treat any nonzero status as failure.
const (
	ResultOK    int32 = 0
	ResultError int32 = 1
)

// Names of the exports every extension module must provide.
const (
	// ExportRegisterExtension is the entry point:
	// register_extension(api u32) -> i32.
	ExportRegisterExtension = "register_extension"

	// ExportCallScalarFunction dispatches a scalar call to the handle a
	// registration minted:
	// call_scalar_function(fn u32, argc i32, argv u32) -> u32.
	// The returned u32 points at an owned Value record the caller releases
	// through ExportDeallocate.
	ExportCallScalarFunction = "call_scalar_function"

	// ExportAllocate reserves size bytes of guest memory:
	// allocate(size u32) -> u32.
	ExportAllocate = "allocate"

	// ExportDeallocate releases an allocation made by ExportAllocate or
	// handed over as an owned payload: deallocate(ptr u32, size u32).
	// Releasing a pointer the module does not track is a no-op, so callers
	// may release payload references without knowing their ownership mode.
	ExportDeallocate = "deallocate"
)

// HostModuleName is the import module under which the host publishes its
// capability functions. Scalar registration is the only capability in v1;
// register_aggregate_function and register_virtual_table are reserved names
// for later revisions.
const HostModuleName = "limbo_host"

// HostRegisterScalarFunction registers one scalar function:
// register_scalar_function(ctx u32, name_ptr u32, fn u32) -> i32.
// name_ptr addresses a null-terminated name in guest memory and fn is the
// extension's opaque handle for the function. ctx must be the token passed to
// register_extension; a stale or zero token yields ResultError.
const HostRegisterScalarFunction = "register_scalar_function"

// NullFunctionHandle is the reserved null function handle. Registrations
// must mint handles greater than it.
const NullFunctionHandle uint32 = 0

// MaxFunctionNameLen bounds host-side reads of registration names.
const MaxFunctionNameLen = 512

// VersionMarkerV1 names the no-op export that marks a module as built
// against version 1 of this contract. Hosts probe marker exports to detect
// the contract revision before running the entry point.
const VersionMarkerV1 = "limbo_extension_abi_v1"

// ABIVersion identifies the contract revision a module was built against.
type ABIVersion int

const (
	ABIVersionUnknown ABIVersion = iota
	ABIVersionV1
)

func (v ABIVersion) String() string {
	switch v {
	case ABIVersionV1:
		return "v1"
	default:
		return "unknown"
	}
}

// DetectABIVersion maps the marker exports present in a module to the
// contract revision. exports lists the module's export names.
func DetectABIVersion(exports []string) ABIVersion {
	for _, name := range exports {
		if name == VersionMarkerV1 {
			return ABIVersionV1
		}
	}
	return ABIVersionUnknown
}
