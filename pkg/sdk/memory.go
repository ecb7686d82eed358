package sdk

// maxTotalAllocations caps the memory the SDK will hold tracked at once.
const maxTotalAllocations = 100 * 1024 * 1024

// linearMemory is the SDK's view of the module's linear memory. The wasip1
// build works on real linear memory through a pin map; every other build
// substitutes an in-process arena with the same semantics so the package is
// testable under plain go test.
type linearMemory interface {
	// Read returns n bytes at ptr, or false if the range cannot be served.
	Read(ptr, n uint32) ([]byte, bool)

	// Alloc reserves a zeroed region and tracks it until Free. Returns 0
	// when size is 0 or the allocation limit would be exceeded.
	Alloc(size uint32) uint32

	// Write copies data into a previously reserved region.
	Write(ptr uint32, data []byte) bool

	// Free releases a tracked region. Untracked pointers are ignored, so
	// releasing twice or releasing a borrowed pointer is a no-op.
	Free(ptr uint32)

	// Borrow exposes data at a readable address until the current call
	// scope ends. The bytes stay owned by the caller.
	Borrow(data []byte) uint32

	// EndCallScope drops every borrow taken since the previous call to it.
	EndCallScope()

	// Reset drops all tracked regions and borrows. Test support.
	Reset()
}

var mem linearMemory = newLinearMemory()

// allocBytes reserves a tracked region holding a copy of data. Ownership of
// the region passes to whoever the resulting pointer is handed to.
func allocBytes(data []byte) uint32 {
	ptr := mem.Alloc(uint32(len(data)))
	if ptr == 0 {
		return 0
	}
	mem.Write(ptr, data)
	return ptr
}
