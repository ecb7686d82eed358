package sdk

import (
	"testing"

	"github.com/rpesk/limbo/pkg/abi"
)

func TestTextAllocatesOwnedPayload(t *testing.T) {
	resetSDK(t)

	v := Text("hello")
	if v.Kind != abi.KindText {
		t.Fatalf("Kind mismatch: got %v, want %v", v.Kind, abi.KindText)
	}
	if v.Text.Ptr == 0 {
		t.Fatal("text payload has a null pointer")
	}
	if v.Text.Len != 5 {
		t.Errorf("Len mismatch: got %d, want 5", v.Text.Len)
	}

	// Payload bytes plus the terminator courtesy byte.
	buf, ok := mem.Read(v.Text.Ptr, v.Text.Len+1)
	if !ok {
		t.Fatal("payload is unreadable")
	}
	if string(buf) != "hello\x00" {
		t.Errorf("payload mismatch: got %q", buf)
	}

	// Ownership transfers: the receiver releases through the allocator.
	mem.Free(v.Text.Ptr)
	mem.Free(v.Text.Ptr)
}

func TestTextEmptyStillAllocates(t *testing.T) {
	resetSDK(t)

	v := Text("")
	if v.Text.Ptr == 0 {
		t.Fatal("empty text should still carry a terminator allocation")
	}
	if v.Text.Len != 0 {
		t.Errorf("Len mismatch: got %d, want 0", v.Text.Len)
	}
}

func TestTextLengthCountsInteriorNUL(t *testing.T) {
	resetSDK(t)

	v := Text("a\x00b")
	if v.Text.Len != 3 {
		t.Errorf("Len mismatch: got %d, want 3", v.Text.Len)
	}
	s, ok := String(v)
	if !ok || s != "a\x00b" {
		t.Errorf("String mismatch: got (%q, %v)", s, ok)
	}
}

func TestBlobLendsBytes(t *testing.T) {
	resetSDK(t)

	data := []byte{1, 2, 3, 4}
	v := Blob(data)
	if v.Kind != abi.KindBlob {
		t.Fatalf("Kind mismatch: got %v, want %v", v.Kind, abi.KindBlob)
	}
	if v.Blob.Ptr == 0 || v.Blob.Size != 4 {
		t.Fatalf("reference mismatch: got %+v", v.Blob)
	}

	got, ok := Bytes(v)
	if !ok || string(got) != string(data) {
		t.Errorf("Bytes mismatch: got (%v, %v)", got, ok)
	}

	// A lent reference is not a tracked allocation; releasing it is a no-op.
	mem.Free(v.Blob.Ptr)
	if _, ok := mem.Read(v.Blob.Ptr, v.Blob.Size); !ok {
		t.Error("lent bytes should survive a stray release")
	}
}

func TestBlobEmptyIsNullSentinel(t *testing.T) {
	resetSDK(t)

	v := Blob(nil)
	if v.Kind != abi.KindBlob || v.Blob.Ptr != 0 || v.Blob.Size != 0 {
		t.Errorf("sentinel mismatch: got %+v", v)
	}
}

func TestStringAndBytesKindChecks(t *testing.T) {
	resetSDK(t)

	if _, ok := String(abi.NewInteger(1)); ok {
		t.Error("String should reject a non-text value")
	}
	if _, ok := Bytes(abi.NewInteger(1)); ok {
		t.Error("Bytes should reject a non-blob value")
	}

	if s, ok := String(abi.NewTextRef(0, 0)); !ok || s != "" {
		t.Errorf("null text mismatch: got (%q, %v)", s, ok)
	}
	if b, ok := Bytes(abi.NewBlobRef(0, 0)); !ok || b != nil {
		t.Errorf("null blob mismatch: got (%v, %v)", b, ok)
	}
}

func TestScalarHelpersMatchABIConstructors(t *testing.T) {
	if Null() != abi.NewNull() {
		t.Error("Null mismatch")
	}
	if Integer(7) != abi.NewInteger(7) {
		t.Error("Integer mismatch")
	}
	if Float(1.25) != abi.NewFloat(1.25) {
		t.Error("Float mismatch")
	}
}
