package abi

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// ValueKind discriminates the payload of a Value. It is carried as a u32 in
// the wire layout.
type ValueKind uint32

const (
	KindNull ValueKind = iota
	KindInteger
	KindFloat
	KindText
	KindBlob
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// TextRef locates a text payload in guest linear memory. Len counts payload
// bytes and excludes the trailing null terminator the producer writes after
// them. A zero Ptr is the null text sentinel.
type TextRef struct {
	Ptr uint32
	Len uint32
}

// BlobRef locates a blob payload in guest linear memory. A zero Ptr is the
// null blob sentinel.
type BlobRef struct {
	Ptr  uint32
	Size uint32
}

// Value is the single data record exchanged across the extension boundary.
// All fields are always present; only the field selected by Kind is
// meaningful, and constructors zero the rest. Nullness is decided by Kind
// alone, never by probing payload pointers: a text value with Ptr == 0 still
// has Kind == KindText.
//
// Values are copied across the boundary byte for byte. Copying a Value copies
// payload references, not payload bytes; see the package comment for who owns
// the bytes.
type Value struct {
	Kind    ValueKind
	Integer int64
	Float   float64
	Text    TextRef
	Blob    BlobRef
}

// NewNull returns the null value.
func NewNull() Value {
	return Value{Kind: KindNull}
}

// NewInteger returns an integer value.
func NewInteger(i int64) Value {
	return Value{Kind: KindInteger, Integer: i}
}

// NewFloat returns a float value.
func NewFloat(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

// NewTextRef returns a text value referencing len bytes at ptr. It does not
// validate the reference; allocation and ownership are the caller's concern.
func NewTextRef(ptr, length uint32) Value {
	return Value{Kind: KindText, Text: TextRef{Ptr: ptr, Len: length}}
}

// NewBlobRef returns a blob value referencing size bytes at ptr.
func NewBlobRef(ptr, size uint32) Value {
	return Value{Kind: KindBlob, Blob: BlobRef{Ptr: ptr, Size: size}}
}

// IsNull reports whether the value is the null value.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// renderPreviewBytes bounds the blob preview in Render.
const renderPreviewBytes = 16

// Render returns a human-readable form of the value, resolving payload
// references through mem. It never fails: a null text pointer renders as
// "<null>", payload bytes that are not valid UTF-8 render as an explicit
// marker with the raw bytes, and references the memory cannot serve render
// as "<unreadable>". Blobs render as a size plus a short hex preview.
func (v Value) Render(mem Memory) string {
	switch v.Kind {
	case KindNull:
		return "<null>"
	case KindInteger:
		return strconv.FormatInt(v.Integer, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindText:
		if v.Text.Ptr == 0 {
			return "<null>"
		}
		buf, ok := mem.Read(v.Text.Ptr, v.Text.Len)
		if !ok {
			return "<unreadable>"
		}
		if !utf8.Valid(buf) {
			return fmt.Sprintf("<invalid UTF-8: %v>", buf)
		}
		return string(buf)
	case KindBlob:
		if v.Blob.Ptr == 0 {
			return "<null>"
		}
		preview := v.Blob.Size
		if preview > renderPreviewBytes {
			preview = renderPreviewBytes
		}
		buf, ok := mem.Read(v.Blob.Ptr, preview)
		if !ok {
			return "<unreadable>"
		}
		s := fmt.Sprintf("blob(%d bytes: %s", v.Blob.Size, hex.EncodeToString(buf))
		if v.Blob.Size > preview {
			s += "..."
		}
		return s + ")"
	default:
		return fmt.Sprintf("<%s>", v.Kind)
	}
}
