package sdk

import (
	"fmt"
	"sync"

	"github.com/rpesk/limbo/pkg/abi"
)

// ScalarFunc is the body of a scalar function. It receives the call's
// arguments and returns the result value. The slice and its values are only
// valid until the body returns.
type ScalarFunc func(args []abi.Value) abi.Value

// Scalar declares one scalar function. MinArgs and MaxArgs bound the accepted
// argument count inclusively; a call outside the bounds never reaches Func.
type Scalar struct {
	Name    string
	MinArgs int32
	MaxArgs int32
	Func    ScalarFunc
}

// extensionTable holds the module's declarations in registration order. The
// position of a declaration mints its handle, so entries are never removed
// or reordered.
type extensionTable struct {
	mu      sync.Mutex
	scalars []Scalar
}

var table extensionTable

// Register declares scalar functions. Call it from main before the host runs
// the entry point; declaration order is the order functions are announced to
// the host. Register panics on an unusable declaration since that is an
// authoring bug no status code can reach.
func Register(scalars ...Scalar) {
	table.mu.Lock()
	defer table.mu.Unlock()

	for _, s := range scalars {
		if s.Name == "" {
			panic("sdk: scalar declared without a name")
		}
		if s.Func == nil {
			panic(fmt.Sprintf("sdk: scalar %q declared without a function", s.Name))
		}
		if s.MinArgs < 0 || s.MaxArgs < s.MinArgs {
			panic(fmt.Sprintf("sdk: scalar %q has invalid argument bounds [%d, %d]",
				s.Name, s.MinArgs, s.MaxArgs))
		}
		table.scalars = append(table.scalars, s)
	}
}

// snapshot returns the declarations in order.
func (t *extensionTable) snapshot() []Scalar {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Scalar(nil), t.scalars...)
}

// handleFor mints the handle for the declaration at index i. Handles start
// above abi.NullFunctionHandle so a valid function is never confused with
// the null function.
func handleFor(i int) uint32 {
	return uint32(i) + 1
}

// byHandle resolves a handle to its declaration.
func (t *extensionTable) byHandle(h uint32) (Scalar, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h == abi.NullFunctionHandle || int(h) > len(t.scalars) {
		return Scalar{}, false
	}
	return t.scalars[h-1], true
}

// resetTable drops all declarations. Test support.
func resetTable() {
	table.mu.Lock()
	defer table.mu.Unlock()
	table.scalars = nil
}
