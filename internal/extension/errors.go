package extension

import (
	"fmt"
)

// ManifestNotFoundError occurs when manifest.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when manifest.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when manifest.yaml fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// WasmNotFoundError occurs when the Wasm file referenced in manifest doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("Wasm file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}

// ChecksumMismatchError occurs when the compiled binary does not match the
// checksum pinned in the manifest.
type ChecksumMismatchError struct {
	ExtensionName string
	Want          string
	Got           string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("extension '%s' checksum mismatch: manifest pins %s, binary is %s",
		e.ExtensionName, e.Want, e.Got)
}

// EntryFailedError occurs when an extension's entry point reports failure.
type EntryFailedError struct {
	ExtensionName string
	Status        int32
}

func (e *EntryFailedError) Error() string {
	return fmt.Sprintf("extension '%s' entry point returned status %d",
		e.ExtensionName, e.Status)
}

// ExtensionLoadError occurs when extension loading fails.
type ExtensionLoadError struct {
	ExtensionName string
	Err           error
}

func (e *ExtensionLoadError) Error() string {
	return fmt.Sprintf("failed to load extension '%s': %v", e.ExtensionName, e.Err)
}

func (e *ExtensionLoadError) Unwrap() error {
	return e.Err
}

// ExtensionNotFoundError occurs when an extension is not found in the registry.
type ExtensionNotFoundError struct {
	ExtensionName string
}

func (e *ExtensionNotFoundError) Error() string {
	return fmt.Sprintf("extension '%s' not found", e.ExtensionName)
}

// ExtensionAlreadyRegisteredError occurs when attempting to register a
// duplicate extension.
type ExtensionAlreadyRegisteredError struct {
	ExtensionName string
}

func (e *ExtensionAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("extension '%s' is already registered", e.ExtensionName)
}

// FunctionNotFoundError occurs when no loaded extension provides a scalar
// function with the requested name.
type FunctionNotFoundError struct {
	Function string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("scalar function '%s' not found", e.Function)
}

// NoExtensionsFoundError occurs when no extensions are found in the
// configured paths.
type NoExtensionsFoundError struct {
	Paths []string
}

func (e *NoExtensionsFoundError) Error() string {
	return fmt.Sprintf("no extensions found in paths: %v", e.Paths)
}
