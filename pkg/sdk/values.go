package sdk

import "github.com/rpesk/limbo/pkg/abi"

// Null returns the null result value.
func Null() abi.Value {
	return abi.NewNull()
}

// Integer returns an integer result value.
func Integer(i int64) abi.Value {
	return abi.NewInteger(i)
}

// Float returns a float result value.
func Float(f float64) abi.Value {
	return abi.NewFloat(f)
}

// Text returns a text value backed by a fresh allocation holding s plus a
// trailing null terminator. Ownership of the allocation transfers with the
// value: the receiver releases it through the module's deallocate export and
// the producer must not touch it again. Length-counted, so s may contain any
// bytes; the terminator is a courtesy for null-scanning readers.
func Text(s string) abi.Value {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	ptr := allocBytes(buf)
	if ptr == 0 {
		// Allocation limit hit. Degrade to the null text sentinel rather
		// than hand out a dangling reference.
		return abi.NewTextRef(0, 0)
	}
	return abi.NewTextRef(ptr, uint32(len(s)))
}

// Blob returns a blob value lending b to the receiver. The reference is only
// valid until the next boundary call begins, and the receiver must copy the
// bytes out before then. The bytes stay owned by the caller and are never
// released by the receiver. An empty b yields the null blob sentinel.
func Blob(b []byte) abi.Value {
	if len(b) == 0 {
		return abi.NewBlobRef(0, 0)
	}
	return abi.NewBlobRef(mem.Borrow(b), uint32(len(b)))
}

// String copies the text payload of v out of linear memory. It reports false
// when v is not a text value or its payload cannot be read; a null text
// reference yields ("", true).
func String(v abi.Value) (string, bool) {
	if v.Kind != abi.KindText {
		return "", false
	}
	if v.Text.Ptr == 0 {
		return "", true
	}
	buf, ok := mem.Read(v.Text.Ptr, v.Text.Len)
	if !ok {
		return "", false
	}
	return string(buf), true
}

// Bytes copies the blob payload of v out of linear memory. It reports false
// when v is not a blob value or its payload cannot be read; a null blob
// reference yields (nil, true).
func Bytes(v abi.Value) ([]byte, bool) {
	if v.Kind != abi.KindBlob {
		return nil, false
	}
	if v.Blob.Ptr == 0 {
		return nil, true
	}
	buf, ok := mem.Read(v.Blob.Ptr, v.Blob.Size)
	if !ok {
		return nil, false
	}
	return buf, true
}
