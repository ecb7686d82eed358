package wasm

import (
	"fmt"
	"time"

	"github.com/rpesk/limbo/pkg/abi"
)

// CompilationError occurs when Wasm module compilation fails
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile Wasm module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// InstantiationError occurs when module instantiation fails
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate module '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// ModuleNotFoundError occurs when a module is not in cache
type ModuleNotFoundError struct {
	ModuleName string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module '%s' not found in cache", e.ModuleName)
}

// MissingExportError occurs when a required boundary export is absent
type MissingExportError struct {
	ModuleName string
	Export     string
}

func (e *MissingExportError) Error() string {
	return fmt.Sprintf("export '%s' not found in module '%s'",
		e.Export, e.ModuleName)
}

// ABIVersionError occurs when a module carries no recognized version marker
type ABIVersionError struct {
	ModuleName string
	Detected   abi.ABIVersion
}

func (e *ABIVersionError) Error() string {
	return fmt.Sprintf("module '%s' has unsupported ABI version %s (want %s)",
		e.ModuleName, e.Detected, abi.ABIVersionV1)
}

// MemoryAccessError occurs when memory operations fail
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
	Err       error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access failed (op=%s, addr=%d, len=%d): %v",
		e.Operation, e.Address, e.Length, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// CallError occurs when a guest function call traps or fails
type CallError struct {
	ModuleName string
	Function   string
	Err        error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call to '%s' in module '%s' failed: %v",
		e.Function, e.ModuleName, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// InstanceLimitError occurs when the live instance limit is reached
type InstanceLimitError struct {
	Limit int
}

func (e *InstanceLimitError) Error() string {
	return fmt.Sprintf("instance limit reached (%d live instances)", e.Limit)
}

// TimeoutError occurs when Wasm execution times out
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Wasm execution timed out after %v", e.Duration)
}
