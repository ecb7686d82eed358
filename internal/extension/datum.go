package extension

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/rpesk/limbo/pkg/abi"
)

// Datum is the host-side representation of a boundary value. Unlike
// abi.Value it owns its payload outright, so it stays valid after the
// guest memory that produced it is released or reused.
type Datum struct {
	kind abi.ValueKind
	i    int64
	f    float64
	s    string
	b    []byte
}

// NullDatum returns the null datum.
func NullDatum() Datum {
	return Datum{kind: abi.KindNull}
}

// IntegerDatum returns an integer datum.
func IntegerDatum(v int64) Datum {
	return Datum{kind: abi.KindInteger, i: v}
}

// FloatDatum returns a float datum.
func FloatDatum(v float64) Datum {
	return Datum{kind: abi.KindFloat, f: v}
}

// TextDatum returns a text datum.
func TextDatum(s string) Datum {
	return Datum{kind: abi.KindText, s: s}
}

// BlobDatum returns a blob datum. The slice is retained, not copied.
func BlobDatum(b []byte) Datum {
	return Datum{kind: abi.KindBlob, b: b}
}

// Kind returns the datum's kind tag.
func (d Datum) Kind() abi.ValueKind {
	return d.kind
}

// IsNull reports whether the datum is null. Only the kind decides.
func (d Datum) IsNull() bool {
	return d.kind == abi.KindNull
}

// Int64 returns the integer payload.
func (d Datum) Int64() (int64, bool) {
	if d.kind != abi.KindInteger {
		return 0, false
	}
	return d.i, true
}

// Float64 returns the float payload.
func (d Datum) Float64() (float64, bool) {
	if d.kind != abi.KindFloat {
		return 0, false
	}
	return d.f, true
}

// Text returns the text payload.
func (d Datum) Text() (string, bool) {
	if d.kind != abi.KindText {
		return "", false
	}
	return d.s, true
}

// Blob returns the blob payload.
func (d Datum) Blob() ([]byte, bool) {
	if d.kind != abi.KindBlob {
		return nil, false
	}
	return d.b, true
}

const blobPreviewBytes = 16

// String renders the datum for diagnostics, using the same display
// conventions as boundary-value rendering.
func (d Datum) String() string {
	switch d.kind {
	case abi.KindNull:
		return "<null>"
	case abi.KindInteger:
		return strconv.FormatInt(d.i, 10)
	case abi.KindFloat:
		return strconv.FormatFloat(d.f, 'g', -1, 64)
	case abi.KindText:
		return d.s
	case abi.KindBlob:
		preview := d.b
		suffix := ""
		if len(preview) > blobPreviewBytes {
			preview = preview[:blobPreviewBytes]
			suffix = "..."
		}
		return "blob(" + strconv.Itoa(len(d.b)) + " bytes: " + hex.EncodeToString(preview) + suffix + ")"
	default:
		return fmt.Sprintf("<%s>", d.kind)
	}
}
