//go:build !wasip1

// Package sdktest provides an in-process host for exercising extension
// declarations without building a wasm module.
//
// The harness plays the engine side of the boundary against the sdk package
// in its native mode: it mints capability tokens, collects registrations,
// writes argument records into the simulated linear memory, and copies
// results back out, releasing guest allocations the way the real host does.
//
//	func TestDouble(t *testing.T) {
//		h := sdktest.NewHost(t)
//		sdk.Register(sdk.Scalar{Name: "double", MinArgs: 1, MaxArgs: 1, Func: double})
//		if status := h.RunEntry(); status != abi.ResultOK {
//			t.Fatalf("entry failed with status %d", status)
//		}
//		sdktest.AssertInteger(t, h.Call(t, "double", abi.NewInteger(21)), 42)
//	}
package sdktest

import (
	"encoding/binary"
	"sync/atomic"
	"testing"

	"github.com/rpesk/limbo/pkg/abi"
	"github.com/rpesk/limbo/pkg/sdk"
)

// Registration records one announcement the extension made during RunEntry.
type Registration struct {
	Name   string
	Handle uint32
}

// Result is a scalar call's outcome with payloads copied out of guest
// memory before their backing allocations were released. Value keeps the
// raw record for layout-level assertions.
type Result struct {
	Value   abi.Value
	Kind    abi.ValueKind
	Integer int64
	Float   float64
	Text    string
	Blob    []byte
}

type allocation struct {
	ptr  uint32
	size uint32
}

// Host is the in-process engine host. Create one per test with NewHost; it
// resets the sdk package state and registers cleanup.
type Host struct {
	t     *testing.T
	b     sdk.Boundary
	token uint32
	open  bool

	regs     []Registration
	rejected map[string]int32
	stale    int

	allocs []allocation
}

var tokenSeq atomic.Uint32

// NewHost resets the sdk package and returns a fresh host.
func NewHost(t *testing.T) *Host {
	t.Helper()
	h := &Host{t: t, rejected: make(map[string]int32)}
	h.b.Reset()
	t.Cleanup(h.b.Reset)
	return h
}

// Reject makes the host answer registrations of name with status, for
// exercising how an extension handles a rejected announcement.
func (h *Host) Reject(name string, status int32) {
	h.rejected[name] = status
}

// RunEntry runs the module entry point with a fresh capability token and
// returns its status. Registrations arriving through the capability are
// collected in order.
func (h *Host) RunEntry() int32 {
	h.t.Helper()
	h.token = 0x6C70_0000 + tokenSeq.Add(1)
	h.b.BindHost(h.register)
	h.open = true
	status := h.b.RegisterExtension(h.token)
	h.open = false
	return status
}

// RunEntryWithoutTable runs the entry point with the null capability table.
func (h *Host) RunEntryWithoutTable() int32 {
	h.t.Helper()
	return h.b.RegisterExtension(0)
}

// register is the harness's stand-in for the host registration capability.
func (h *Host) register(api, namePtr, fn uint32) int32 {
	if !h.open || api != h.token {
		h.stale++
		return abi.ResultError
	}
	name, ok := abi.ReadCString(h.memory(), namePtr, abi.MaxFunctionNameLen)
	if !ok || name == "" {
		return abi.ResultError
	}
	if fn == abi.NullFunctionHandle {
		return abi.ResultError
	}
	if status, bad := h.rejected[name]; bad {
		return status
	}
	h.regs = append(h.regs, Registration{Name: name, Handle: fn})
	return abi.ResultOK
}

// Registrations returns the announcements collected so far, in order.
func (h *Host) Registrations() []Registration {
	return append([]Registration(nil), h.regs...)
}

// StaleCapabilityCalls counts capability calls made outside a live entry
// call or with a token the host did not mint.
func (h *Host) StaleCapabilityCalls() int {
	return h.stale
}

// Handle resolves a registered function name to its handle.
func (h *Host) Handle(name string) (uint32, bool) {
	for _, r := range h.regs {
		if r.Name == name {
			return r.Handle, true
		}
	}
	return 0, false
}

// Text writes s into guest memory as a call argument payload and returns
// the text value referencing it. The allocation is released when the next
// Call completes.
func (h *Host) Text(s string) abi.Value {
	h.t.Helper()
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	ptr := h.alloc(uint32(len(buf)))
	h.write(ptr, buf)
	return abi.NewTextRef(ptr, uint32(len(s)))
}

// Blob writes b into guest memory as a call argument payload and returns
// the blob value referencing it. An empty b yields the null blob sentinel.
func (h *Host) Blob(b []byte) abi.Value {
	h.t.Helper()
	if len(b) == 0 {
		return abi.NewBlobRef(0, 0)
	}
	ptr := h.alloc(uint32(len(b)))
	h.write(ptr, b)
	return abi.NewBlobRef(ptr, uint32(len(b)))
}

// Call invokes a registered function by name. Arguments built with Text and
// Blob must be created after the previous Call, since calls release all
// argument allocations when they finish.
func (h *Host) Call(t *testing.T, name string, args ...abi.Value) Result {
	t.Helper()
	handle, ok := h.Handle(name)
	if !ok {
		t.Fatalf("function %q not registered", name)
	}
	return h.CallHandle(t, handle, args...)
}

// CallHandle invokes a function by handle, registered or not.
func (h *Host) CallHandle(t *testing.T, fn uint32, args ...abi.Value) Result {
	t.Helper()

	var argv uint32
	if len(args) > 0 {
		ptrs := make([]byte, 0, len(args)*abi.PtrSize)
		for _, a := range args {
			rec := h.alloc(abi.ValueSize)
			h.write(rec, abi.AppendValue(nil, a))
			ptrs = binary.LittleEndian.AppendUint32(ptrs, rec)
		}
		argv = h.alloc(uint32(len(ptrs)))
		h.write(argv, ptrs)
	}

	resPtr := h.b.CallScalarFunction(fn, int32(len(args)), argv)
	res := h.copyResult(t, resPtr)
	h.releaseAll()
	return res
}

// copyResult decodes the returned record, copies payload bytes out, and
// releases the record and its payload.
func (h *Host) copyResult(t *testing.T, ptr uint32) Result {
	t.Helper()
	if ptr == 0 {
		t.Fatal("scalar returned a null result pointer")
	}
	v, ok := abi.ReadValue(h.memory(), ptr)
	if !ok {
		t.Fatal("result record is unreadable")
	}

	res := Result{Value: v, Kind: v.Kind, Integer: v.Integer, Float: v.Float}
	switch v.Kind {
	case abi.KindText:
		if v.Text.Ptr != 0 {
			buf, ok := h.b.ReadMemory(v.Text.Ptr, v.Text.Len)
			if !ok {
				t.Fatal("text payload is unreadable")
			}
			res.Text = string(buf)
			h.b.Deallocate(v.Text.Ptr, v.Text.Len+1)
		}
	case abi.KindBlob:
		if v.Blob.Ptr != 0 {
			buf, ok := h.b.ReadMemory(v.Blob.Ptr, v.Blob.Size)
			if !ok {
				t.Fatal("blob payload is unreadable")
			}
			res.Blob = buf
			h.b.Deallocate(v.Blob.Ptr, v.Blob.Size)
		}
	}
	h.b.Deallocate(ptr, abi.ValueSize)
	return res
}

func (h *Host) alloc(size uint32) uint32 {
	h.t.Helper()
	ptr := h.b.Allocate(size)
	if ptr == 0 && size > 0 {
		h.t.Fatalf("guest allocation of %d bytes failed", size)
	}
	h.allocs = append(h.allocs, allocation{ptr: ptr, size: size})
	return ptr
}

func (h *Host) write(ptr uint32, data []byte) {
	h.t.Helper()
	if !h.b.WriteMemory(ptr, data) {
		h.t.Fatalf("guest memory write at %d failed", ptr)
	}
}

func (h *Host) releaseAll() {
	for _, a := range h.allocs {
		h.b.Deallocate(a.ptr, a.size)
	}
	h.allocs = nil
}

func (h *Host) memory() abi.Memory {
	return boundaryMemory{b: h.b}
}

type boundaryMemory struct {
	b sdk.Boundary
}

func (m boundaryMemory) Read(ptr, n uint32) ([]byte, bool) {
	return m.b.ReadMemory(ptr, n)
}

// AssertNull asserts the result is the null value.
func AssertNull(t *testing.T, r Result) {
	t.Helper()
	if r.Kind != abi.KindNull {
		t.Errorf("expected null, got %s", r.Kind)
	}
}

// AssertInteger asserts the result is the given integer.
func AssertInteger(t *testing.T, r Result, want int64) {
	t.Helper()
	if r.Kind != abi.KindInteger {
		t.Errorf("expected integer, got %s", r.Kind)
		return
	}
	if r.Integer != want {
		t.Errorf("expected %d, got %d", want, r.Integer)
	}
}

// AssertFloat asserts the result is the given float.
func AssertFloat(t *testing.T, r Result, want float64) {
	t.Helper()
	if r.Kind != abi.KindFloat {
		t.Errorf("expected float, got %s", r.Kind)
		return
	}
	if r.Float != want {
		t.Errorf("expected %v, got %v", want, r.Float)
	}
}

// AssertText asserts the result is the given text.
func AssertText(t *testing.T, r Result, want string) {
	t.Helper()
	if r.Kind != abi.KindText {
		t.Errorf("expected text, got %s", r.Kind)
		return
	}
	if r.Text != want {
		t.Errorf("expected %q, got %q", want, r.Text)
	}
}

// AssertBlob asserts the result is the given blob.
func AssertBlob(t *testing.T, r Result, want []byte) {
	t.Helper()
	if r.Kind != abi.KindBlob {
		t.Errorf("expected blob, got %s", r.Kind)
		return
	}
	if string(r.Blob) != string(want) {
		t.Errorf("expected %v, got %v", want, r.Blob)
	}
}
