package sdktest_test

import (
	"strings"
	"testing"

	"github.com/rpesk/limbo/pkg/abi"
	"github.com/rpesk/limbo/pkg/sdk"
	"github.com/rpesk/limbo/pkg/sdk/sdktest"
)

func registerSampleExtension() {
	sdk.Register(
		sdk.Scalar{Name: "double", MinArgs: 1, MaxArgs: 1, Func: func(args []abi.Value) abi.Value {
			return sdk.Integer(args[0].Integer * 2)
		}},
		sdk.Scalar{Name: "upper", MinArgs: 1, MaxArgs: 1, Func: func(args []abi.Value) abi.Value {
			s, ok := sdk.String(args[0])
			if !ok {
				return sdk.Null()
			}
			return sdk.Text(strings.ToUpper(s))
		}},
		sdk.Scalar{Name: "xor", MinArgs: 2, MaxArgs: 2, Func: func(args []abi.Value) abi.Value {
			a, okA := sdk.Bytes(args[0])
			b, okB := sdk.Bytes(args[1])
			if !okA || !okB || len(a) != len(b) {
				return sdk.Null()
			}
			out := make([]byte, len(a))
			for i := range a {
				out[i] = a[i] ^ b[i]
			}
			return sdk.Blob(out)
		}},
	)
}

func TestHarnessRunsEntryAndCalls(t *testing.T) {
	h := sdktest.NewHost(t)
	registerSampleExtension()

	if status := h.RunEntry(); status != abi.ResultOK {
		t.Fatalf("entry status mismatch: got %d, want %d", status, abi.ResultOK)
	}

	regs := h.Registrations()
	if len(regs) != 3 {
		t.Fatalf("registration count mismatch: got %d, want 3", len(regs))
	}
	if regs[0].Name != "double" || regs[1].Name != "upper" || regs[2].Name != "xor" {
		t.Errorf("registration order mismatch: got %v", regs)
	}

	sdktest.AssertInteger(t, h.Call(t, "double", abi.NewInteger(21)), 42)
	sdktest.AssertText(t, h.Call(t, "upper", h.Text("limbo")), "LIMBO")
	sdktest.AssertBlob(t,
		h.Call(t, "xor", h.Blob([]byte{0xF0, 0x0F}), h.Blob([]byte{0xFF, 0xFF})),
		[]byte{0x0F, 0xF0})
}

func TestHarnessNullTableEntry(t *testing.T) {
	h := sdktest.NewHost(t)
	registerSampleExtension()

	if status := h.RunEntryWithoutTable(); status != abi.ResultError {
		t.Fatalf("entry status mismatch: got %d, want %d", status, abi.ResultError)
	}
	if len(h.Registrations()) != 0 {
		t.Errorf("registrations with a null table: %v", h.Registrations())
	}
}

func TestHarnessRejectedRegistration(t *testing.T) {
	h := sdktest.NewHost(t)
	registerSampleExtension()
	h.Reject("upper", abi.ResultError)

	if status := h.RunEntry(); status != abi.ResultOK {
		t.Fatalf("entry status mismatch: got %d, want %d", status, abi.ResultOK)
	}

	if _, ok := h.Handle("upper"); ok {
		t.Error("rejected function should not be registered")
	}
	if _, ok := h.Handle("double"); !ok {
		t.Error("function before the rejection should be registered")
	}
	if _, ok := h.Handle("xor"); !ok {
		t.Error("function after the rejection should be registered")
	}
}

func TestHarnessArityViolationYieldsNull(t *testing.T) {
	h := sdktest.NewHost(t)
	registerSampleExtension()
	if status := h.RunEntry(); status != abi.ResultOK {
		t.Fatalf("entry status mismatch: got %d", status)
	}

	sdktest.AssertNull(t, h.Call(t, "double"))
	sdktest.AssertNull(t, h.Call(t, "double", abi.NewInteger(1), abi.NewInteger(2)))
}

func TestHarnessUnknownHandleYieldsNull(t *testing.T) {
	h := sdktest.NewHost(t)
	registerSampleExtension()
	if status := h.RunEntry(); status != abi.ResultOK {
		t.Fatalf("entry status mismatch: got %d", status)
	}

	sdktest.AssertNull(t, h.CallHandle(t, 999))
}
