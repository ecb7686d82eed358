//go:build wasip1

package sdk

import (
	"sync"
	"unsafe"
)

// wasmMemory manages allocations in real linear memory. Tracked regions are
// Go slices held in the pin map so the GC keeps them alive at a stable
// address until Free; borrows are held in a separate list that the dispatch
// path clears when the next boundary call begins.
type wasmMemory struct {
	mu      sync.Mutex
	ptrs    map[uint32][]byte
	total   int
	borrows [][]byte
}

func newLinearMemory() linearMemory {
	return &wasmMemory{ptrs: make(map[uint32][]byte)}
}

func (m *wasmMemory) Read(ptr, n uint32) ([]byte, bool) {
	if ptr == 0 {
		return nil, false
	}
	if n == 0 {
		return nil, true
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), n)
	out := make([]byte, n)
	copy(out, src)
	return out, true
}

func (m *wasmMemory) Alloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.total+int(size) > maxTotalAllocations {
		return 0
	}
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	m.ptrs[ptr] = buf
	m.total += int(size)
	return ptr
}

func (m *wasmMemory) Write(ptr uint32, data []byte) bool {
	if ptr == 0 {
		return len(data) == 0
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), len(data))
	copy(dst, data)
	return true
}

func (m *wasmMemory) Free(ptr uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, ok := m.ptrs[ptr]
	if !ok {
		return
	}
	delete(m.ptrs, ptr)
	m.total -= len(buf)
	if m.total < 0 {
		m.total = 0
	}
}

func (m *wasmMemory) Borrow(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Pin the slice so the address stays valid until the scope ends.
	m.borrows = append(m.borrows, data)
	return uint32(uintptr(unsafe.Pointer(&data[0])))
}

func (m *wasmMemory) EndCallScope() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.borrows = nil
}

func (m *wasmMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ptrs = make(map[uint32][]byte)
	m.total = 0
	m.borrows = nil
}
