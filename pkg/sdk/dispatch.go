package sdk

import (
	"fmt"
	"os"

	"github.com/rpesk/limbo/pkg/abi"
)

// registerExtension implements the module entry point. The host hands it an
// opaque capability token; a zero token means no registration capability is
// available and nothing may be announced. Declarations are announced in
// order. A name that cannot cross the boundary aborts the remaining
// announcements but does not withdraw the ones already made; a non-OK status
// from the host is reported and skipped. The token is dead once this
// returns.
func registerExtension(api uint32) int32 {
	if api == 0 {
		return abi.ResultError
	}

	for i, s := range table.snapshot() {
		name, err := abi.CStringBytes(s.Name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", s.Name, err)
			return abi.ResultError
		}
		namePtr := allocBytes(name)
		if namePtr == 0 {
			fmt.Fprintf(os.Stderr, "%s: name allocation failed\n", s.Name)
			return abi.ResultError
		}
		status := hostRegisterScalar(api, namePtr, handleFor(i))
		mem.Free(namePtr)
		if status != abi.ResultOK {
			fmt.Fprintf(os.Stderr, "%s: registration rejected (status %d)\n", s.Name, status)
		}
	}
	return abi.ResultOK
}

// dispatch implements call_scalar_function. It routes a host call to the
// declared body, guarding the declared argument bounds before any argument
// memory is dereferenced: outside the bounds the argument array cannot be
// trusted, so the call degrades to the null value. The result, null
// included, is encoded into a fresh owned allocation whose pointer is
// returned; the caller releases it through deallocate.
func dispatch(fn uint32, argc int32, argv uint32) uint32 {
	// A new boundary call starts: references lent during the previous call
	// expire now.
	mem.EndCallScope()

	s, ok := table.byHandle(fn)
	if !ok {
		return resultPtr(abi.NewNull())
	}

	if argc < s.MinArgs || argc > s.MaxArgs {
		fmt.Fprintf(os.Stderr, "%s: invalid argument count\n", s.Name)
		return resultPtr(abi.NewNull())
	}

	var args []abi.Value
	if argc > 0 && argv != 0 {
		args = make([]abi.Value, argc)
		for i := range args {
			ptr, ok := abi.ReadPtr(mem, argv+uint32(i)*abi.PtrSize)
			if !ok || ptr == 0 {
				args[i] = abi.NewNull()
				continue
			}
			v, ok := abi.ReadValue(mem, ptr)
			if !ok {
				args[i] = abi.NewNull()
				continue
			}
			args[i] = v
		}
	}

	return resultPtr(s.Func(args))
}

// resultPtr encodes v into an owned allocation and returns its pointer.
func resultPtr(v abi.Value) uint32 {
	return allocBytes(abi.AppendValue(nil, v))
}
