package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/rpesk/limbo/pkg/abi"
)

// Memory provides safe memory operations for Wasm module interaction.
//
// Wasm modules have their own isolated memory space that is separate from Go's memory.
// Direct memory access can lead to:
// - Out-of-bounds reads/writes (security vulnerabilities)
// - Type confusion (reading bytes as strings without null termination)
// - Use-after-free on guest allocations the host forgot it released
//
// This Memory helper wraps wazero's api.Memory interface to provide:
// 1. Safe string operations with automatic null-termination handling
// 2. Bounds checking on all read operations
// 3. Write operations backed by the guest's exported allocator
// 4. Consistent error handling across all memory operations
type Memory struct {
	inst *Instance
	mem  api.Memory
}

// NewMemory creates a memory helper for an instance.
func NewMemory(inst *Instance) *Memory {
	return &Memory{inst: inst, mem: inst.module.Memory()}
}

// Raw exposes the underlying wazero memory.
func (m *Memory) Raw() api.Memory {
	return m.mem
}

// Read implements abi.Memory so value records can be decoded directly
// out of guest memory.
func (m *Memory) Read(ptr uint32, n uint32) ([]byte, bool) {
	return m.mem.Read(ptr, n)
}

// ReadString reads a null-terminated string from Wasm memory.
func (m *Memory) ReadString(ptr uint32, maxLen uint32) (string, bool) {
	return abi.ReadCString(m, ptr, maxLen)
}

// ReadBytes reads raw bytes from Wasm memory.
func (m *Memory) ReadBytes(ptr uint32, length uint32) ([]byte, bool) {
	return m.mem.Read(ptr, length)
}

// ReadValue decodes a value record at ptr. Returns nil for a null pointer.
func (m *Memory) ReadValue(ptr uint32) (*abi.Value, bool) {
	return abi.ReadValue(m, ptr)
}

// WriteBytes copies data into guest memory allocated from the module's
// own allocator. Returns the guest pointer; the caller owns the
// allocation and must Deallocate it with the same size.
func (m *Memory) WriteBytes(ctx context.Context, data []byte) (uint32, error) {
	size := uint32(len(data))
	if size == 0 {
		return 0, nil
	}

	ptr, err := m.inst.Allocate(ctx, size)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, &MemoryAccessError{
			Operation: "allocate",
			Length:    size,
			Err:       fmt.Errorf("guest allocator returned null"),
		}
	}

	if !m.mem.Write(ptr, data) {
		m.inst.Deallocate(ctx, ptr, size)
		return 0, &MemoryAccessError{
			Operation: "write",
			Address:   ptr,
			Length:    size,
			Err:       fmt.Errorf("write out of bounds"),
		}
	}

	return ptr, nil
}

// WriteString writes a NUL-terminated string into guest memory.
// Returns the guest pointer and the string length excluding the
// terminator; the allocation size to Deallocate is length+1. Strings
// with embedded NUL bytes are not representable.
func (m *Memory) WriteString(ctx context.Context, s string) (uint32, uint32, error) {
	buf, err := abi.CStringBytes(s)
	if err != nil {
		return 0, 0, err
	}
	ptr, werr := m.WriteBytes(ctx, buf)
	if werr != nil {
		return 0, 0, werr
	}
	return ptr, uint32(len(s)), nil
}

// WriteValue encodes a value record into a fresh guest allocation.
// Payload pointers inside the record must already point at guest memory.
func (m *Memory) WriteValue(ctx context.Context, v abi.Value) (uint32, error) {
	return m.WriteBytes(ctx, abi.EncodeValue(v))
}
