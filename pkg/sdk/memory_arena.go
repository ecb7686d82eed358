//go:build !wasip1

package sdk

import "sync"

// arenaBase keeps pointer 0 unused so it stays the null pointer, matching
// real linear memory where the allocator never hands out offset 0.
const arenaBase = 16

// arenaMemory simulates linear memory for native builds. Pointers are
// offsets into a flat byte slice; allocation is a bump pointer with the same
// tracking and scope rules as the wasip1 pin map.
type arenaMemory struct {
	mu      sync.Mutex
	data    []byte
	next    uint32
	ptrs    map[uint32]uint32
	total   int
	borrows []uint32
}

func newLinearMemory() linearMemory {
	return &arenaMemory{
		data: make([]byte, arenaBase),
		next: arenaBase,
		ptrs: make(map[uint32]uint32),
	}
}

func (m *arenaMemory) Read(ptr, n uint32) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := uint64(ptr) + uint64(n)
	if ptr == 0 || end > uint64(len(m.data)) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, m.data[ptr:end])
	return out, true
}

// grow extends the arena by size bytes and returns the region's offset.
func (m *arenaMemory) grow(size uint32) uint32 {
	ptr := m.next
	m.next += size
	m.data = append(m.data, make([]byte, size)...)
	return ptr
}

func (m *arenaMemory) Alloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.total+int(size) > maxTotalAllocations {
		return 0
	}
	ptr := m.grow(size)
	m.ptrs[ptr] = size
	m.total += int(size)
	return ptr
}

func (m *arenaMemory) Write(ptr uint32, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := uint64(ptr) + uint64(len(data))
	if ptr == 0 || end > uint64(len(m.data)) {
		return len(data) == 0
	}
	copy(m.data[ptr:end], data)
	return true
}

func (m *arenaMemory) Free(ptr uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size, ok := m.ptrs[ptr]
	if !ok {
		return
	}
	delete(m.ptrs, ptr)
	m.total -= int(size)
	if m.total < 0 {
		m.total = 0
	}
}

func (m *arenaMemory) Borrow(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ptr := m.grow(uint32(len(data)))
	copy(m.data[ptr:], data)
	m.borrows = append(m.borrows, ptr)
	return ptr
}

func (m *arenaMemory) EndCallScope() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.borrows = nil
}

func (m *arenaMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make([]byte, arenaBase)
	m.next = arenaBase
	m.ptrs = make(map[uint32]uint32)
	m.total = 0
	m.borrows = nil
}
