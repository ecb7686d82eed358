package sdk

import (
	"testing"

	"github.com/rpesk/limbo/pkg/abi"
)

func TestRegisterPanicsOnBadDeclarations(t *testing.T) {
	tests := []struct {
		name   string
		scalar Scalar
	}{
		{"empty name", Scalar{MinArgs: 0, MaxArgs: 0, Func: noopScalar}},
		{"nil func", Scalar{Name: "f", MinArgs: 0, MaxArgs: 0}},
		{"negative min", Scalar{Name: "f", MinArgs: -1, MaxArgs: 0, Func: noopScalar}},
		{"max below min", Scalar{Name: "f", MinArgs: 2, MaxArgs: 1, Func: noopScalar}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetSDK(t)
			defer func() {
				if recover() == nil {
					t.Error("Register should panic")
				}
			}()
			Register(tt.scalar)
		})
	}
}

func TestHandleMinting(t *testing.T) {
	resetSDK(t)
	Register(
		Scalar{Name: "a", MinArgs: 0, MaxArgs: 0, Func: noopScalar},
		Scalar{Name: "b", MinArgs: 0, MaxArgs: 0, Func: noopScalar},
	)

	if h := handleFor(0); h == abi.NullFunctionHandle {
		t.Error("first handle collides with the null function handle")
	}

	s, ok := table.byHandle(1)
	if !ok || s.Name != "a" {
		t.Errorf("byHandle(1) mismatch: got (%q, %v)", s.Name, ok)
	}
	s, ok = table.byHandle(2)
	if !ok || s.Name != "b" {
		t.Errorf("byHandle(2) mismatch: got (%q, %v)", s.Name, ok)
	}
	if _, ok := table.byHandle(0); ok {
		t.Error("null handle should not resolve")
	}
	if _, ok := table.byHandle(3); ok {
		t.Error("out-of-range handle should not resolve")
	}
}
