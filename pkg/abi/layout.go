package abi

import (
	"encoding/binary"
	"math"
)

// Wire layout of a Value in guest linear memory. The layout is frozen:
// changing any offset, the record size, or the byte order is a breaking
// contract change and requires a new version marker. All multi-byte fields
// are little-endian. Bytes 4..8 are reserved and must be zero.
const (
	// ValueSize is the size of one encoded Value record.
	ValueSize = 40

	OffsetKind     = 0
	OffsetInteger  = 8
	OffsetFloat    = 16
	OffsetTextPtr  = 24
	OffsetTextLen  = 28
	OffsetBlobPtr  = 32
	OffsetBlobSize = 36

	// PtrSize is the width of a guest memory pointer. Entries of the argv
	// array passed to call_scalar_function are this wide.
	PtrSize = 4
)

// EncodeValue writes the wire form of v into dst, which must hold at least
// ValueSize bytes. Payload references are written as-is; no payload bytes
// move.
func EncodeValue(dst []byte, v Value) {
	_ = dst[ValueSize-1]
	binary.LittleEndian.PutUint32(dst[OffsetKind:], uint32(v.Kind))
	binary.LittleEndian.PutUint32(dst[OffsetKind+4:], 0)
	binary.LittleEndian.PutUint64(dst[OffsetInteger:], uint64(v.Integer))
	binary.LittleEndian.PutUint64(dst[OffsetFloat:], math.Float64bits(v.Float))
	binary.LittleEndian.PutUint32(dst[OffsetTextPtr:], v.Text.Ptr)
	binary.LittleEndian.PutUint32(dst[OffsetTextLen:], v.Text.Len)
	binary.LittleEndian.PutUint32(dst[OffsetBlobPtr:], v.Blob.Ptr)
	binary.LittleEndian.PutUint32(dst[OffsetBlobSize:], v.Blob.Size)
}

// AppendValue appends the wire form of v to dst.
func AppendValue(dst []byte, v Value) []byte {
	var buf [ValueSize]byte
	EncodeValue(buf[:], v)
	return append(dst, buf[:]...)
}

// DecodeValue reads a Value from the wire form in src. It reports false when
// src is shorter than ValueSize. The reserved bytes are ignored.
func DecodeValue(src []byte) (Value, bool) {
	if len(src) < ValueSize {
		return Value{}, false
	}
	return Value{
		Kind:    ValueKind(binary.LittleEndian.Uint32(src[OffsetKind:])),
		Integer: int64(binary.LittleEndian.Uint64(src[OffsetInteger:])),
		Float:   math.Float64frombits(binary.LittleEndian.Uint64(src[OffsetFloat:])),
		Text: TextRef{
			Ptr: binary.LittleEndian.Uint32(src[OffsetTextPtr:]),
			Len: binary.LittleEndian.Uint32(src[OffsetTextLen:]),
		},
		Blob: BlobRef{
			Ptr:  binary.LittleEndian.Uint32(src[OffsetBlobPtr:]),
			Size: binary.LittleEndian.Uint32(src[OffsetBlobSize:]),
		},
	}, true
}

// Memory is a read-only view of a module's linear memory. wazero's api.Memory
// satisfies it directly.
type Memory interface {
	// Read returns n bytes at ptr, or false if the range is out of bounds.
	Read(ptr, n uint32) ([]byte, bool)
}

// ReadValue decodes the Value record at ptr. It reports false when ptr is the
// null pointer or the record is not fully readable.
func ReadValue(mem Memory, ptr uint32) (Value, bool) {
	if ptr == 0 {
		return Value{}, false
	}
	buf, ok := mem.Read(ptr, ValueSize)
	if !ok {
		return Value{}, false
	}
	return DecodeValue(buf)
}

// ReadPtr reads the u32 guest pointer at ptr, such as one entry of an argv
// array.
func ReadPtr(mem Memory, ptr uint32) (uint32, bool) {
	buf, ok := mem.Read(ptr, PtrSize)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf), true
}
