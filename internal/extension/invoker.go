package extension

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rpesk/limbo/internal/wasm"
	"github.com/rpesk/limbo/pkg/abi"
)

// allocation tracks one guest allocation made while marshalling a call.
type allocation struct {
	ptr  uint32
	size uint32
}

// Call dispatches a scalar function by name. Arguments are marshalled
// into guest memory, the result is copied back out, and every allocation
// made on either side of the boundary is released before Call returns.
func (e *Extension) Call(ctx context.Context, name string, args []Datum) (Datum, error) {
	fn, ok := e.functions[name]
	if !ok {
		return NullDatum(), &FunctionNotFoundError{Function: name}
	}
	return e.CallHandle(ctx, fn, args)
}

// CallHandle dispatches by raw function handle. Unknown handles are the
// extension's business: its trampoline answers them with null.
func (e *Extension) CallHandle(ctx context.Context, fn uint32, args []Datum) (Datum, error) {
	e.callMu.Lock()
	defer e.callMu.Unlock()

	mem := e.instance.Memory()

	// Releases run on a context that survives call timeouts, so argument
	// memory is returned even when the call itself was cut short.
	releaseCtx := context.WithoutCancel(ctx)

	var held []allocation
	defer func() {
		for _, a := range held {
			e.instance.Deallocate(releaseCtx, a.ptr, a.size)
		}
	}()

	argv := uint32(0)
	if len(args) > 0 {
		recordPtrs := make([]byte, 0, len(args)*abi.PtrSize)

		for i, arg := range args {
			value, allocs, err := e.writeDatum(ctx, mem, arg)
			held = append(held, allocs...)
			if err != nil {
				return NullDatum(), fmt.Errorf("failed to marshal argument %d: %w", i, err)
			}

			recordPtr, err := mem.WriteValue(ctx, value)
			if err != nil {
				return NullDatum(), fmt.Errorf("failed to write argument record %d: %w", i, err)
			}
			held = append(held, allocation{ptr: recordPtr, size: abi.ValueSize})
			recordPtrs = binary.LittleEndian.AppendUint32(recordPtrs, recordPtr)
		}

		ptr, err := mem.WriteBytes(ctx, recordPtrs)
		if err != nil {
			return NullDatum(), fmt.Errorf("failed to write argument vector: %w", err)
		}
		held = append(held, allocation{ptr: ptr, size: uint32(len(recordPtrs))})
		argv = ptr
	}

	resultPtr, err := e.instance.CallScalar(ctx, fn, int32(len(args)), argv)
	if err != nil {
		return NullDatum(), err
	}

	// The result is copied out before argument memory is released; its
	// payloads may alias the arguments.
	return e.copyResult(releaseCtx, mem, resultPtr)
}

// writeDatum lowers one datum into guest memory. Text payloads get a
// trailing NUL the declared length does not count; blob payloads are
// written verbatim. The returned allocations are the caller's to release.
func (e *Extension) writeDatum(ctx context.Context, mem *wasm.Memory, d Datum) (abi.Value, []allocation, error) {
	switch d.kind {
	case abi.KindNull:
		return abi.NewNull(), nil, nil
	case abi.KindInteger:
		return abi.NewInteger(d.i), nil, nil
	case abi.KindFloat:
		return abi.NewFloat(d.f), nil, nil
	case abi.KindText:
		buf := make([]byte, 0, len(d.s)+1)
		buf = append(buf, d.s...)
		buf = append(buf, 0)
		ptr, err := mem.WriteBytes(ctx, buf)
		if err != nil {
			return abi.NewNull(), nil, err
		}
		return abi.NewTextRef(ptr, uint32(len(d.s))), []allocation{{ptr: ptr, size: uint32(len(buf))}}, nil
	case abi.KindBlob:
		if len(d.b) == 0 {
			return abi.NewBlobRef(0, 0), nil, nil
		}
		ptr, err := mem.WriteBytes(ctx, d.b)
		if err != nil {
			return abi.NewNull(), nil, err
		}
		return abi.NewBlobRef(ptr, uint32(len(d.b))), []allocation{{ptr: ptr, size: uint32(len(d.b))}}, nil
	default:
		return abi.NewNull(), nil, fmt.Errorf("datum has unknown kind %d", d.kind)
	}
}

// copyResult lifts the result record at resultPtr into a host-owned
// Datum, then hands every owned piece back to the guest allocator.
// Payload reads honor the declared lengths and never chase further.
func (e *Extension) copyResult(ctx context.Context, mem *wasm.Memory, resultPtr uint32) (Datum, error) {
	if resultPtr == 0 {
		return NullDatum(), nil
	}
	defer e.instance.Deallocate(ctx, resultPtr, abi.ValueSize)

	record, ok := mem.ReadValue(resultPtr)
	if !ok {
		return NullDatum(), &wasm.MemoryAccessError{
			Operation: "read",
			Address:   resultPtr,
			Length:    abi.ValueSize,
			Err:       fmt.Errorf("result record out of bounds"),
		}
	}

	switch record.Kind {
	case abi.KindNull:
		return NullDatum(), nil
	case abi.KindInteger:
		return IntegerDatum(record.Integer), nil
	case abi.KindFloat:
		return FloatDatum(record.Float), nil
	case abi.KindText:
		if record.Text.Ptr == 0 {
			return TextDatum(""), nil
		}
		defer e.instance.Deallocate(ctx, record.Text.Ptr, record.Text.Len+1)
		buf, ok := mem.ReadBytes(record.Text.Ptr, record.Text.Len)
		if !ok {
			return NullDatum(), &wasm.MemoryAccessError{
				Operation: "read",
				Address:   record.Text.Ptr,
				Length:    record.Text.Len,
				Err:       fmt.Errorf("text payload out of bounds"),
			}
		}
		return TextDatum(string(buf)), nil
	case abi.KindBlob:
		if record.Blob.Ptr == 0 {
			return BlobDatum(nil), nil
		}
		defer e.instance.Deallocate(ctx, record.Blob.Ptr, record.Blob.Size)
		buf, ok := mem.ReadBytes(record.Blob.Ptr, record.Blob.Size)
		if !ok {
			return NullDatum(), &wasm.MemoryAccessError{
				Operation: "read",
				Address:   record.Blob.Ptr,
				Length:    record.Blob.Size,
				Err:       fmt.Errorf("blob payload out of bounds"),
			}
		}
		out := make([]byte, len(buf))
		copy(out, buf)
		return BlobDatum(out), nil
	default:
		return NullDatum(), fmt.Errorf("result record has unknown kind %d", uint32(record.Kind))
	}
}
